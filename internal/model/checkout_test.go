package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckoutPayloadEncodeFitsLimit(t *testing.T) {
	p := CheckoutPayload{
		PlanID:       "monthly",
		BusinessName: strings.Repeat("Café Luna ", 20),
		Email:        "owner@cafeluna.cl",
		ReferralCode: "SOL-4521",
	}

	encoded, err := p.Encode(127)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(encoded), 127)

	decoded, err := DecodeCheckoutPayload(encoded)
	require.NoError(t, err)
	assert.Equal(t, "monthly", decoded.PlanID)
	assert.Equal(t, "SOL-4521", decoded.ReferralCode)
	assert.Equal(t, "owner@cafeluna.cl", decoded.Email)
	assert.True(t, strings.HasPrefix(p.BusinessName, decoded.BusinessName))
}

func TestCheckoutPayloadEncodeNoLimit(t *testing.T) {
	p := CheckoutPayload{PlanID: "annual", BusinessName: "Tienda Sur"}

	encoded, err := p.Encode(0)
	require.NoError(t, err)
	assert.Equal(t, `{"p":"annual","n":"Tienda Sur"}`, encoded)
}

func TestDecodeCheckoutPayloadErrors(t *testing.T) {
	_, err := DecodeCheckoutPayload("  ")
	assert.ErrorIs(t, err, ErrEmptyCheckoutPayload)

	_, err = DecodeCheckoutPayload("not-json")
	assert.Error(t, err)
}
