package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsReferralCodeFormat(t *testing.T) {
	tests := []struct {
		name  string
		code  string
		valid bool
	}{
		{
			name:  "word and digits",
			code:  "SOL-4521",
			valid: true,
		},
		{
			name:  "fallback alphanumeric",
			code:  "K7M2QX9P",
			valid: true,
		},
		{
			name:  "lowercase",
			code:  "sol-4521",
			valid: false,
		},
		{
			name:  "leading dash",
			code:  "-SOL",
			valid: false,
		},
		{
			name:  "non ascii",
			code:  "ÑANDU-1234",
			valid: false,
		},
		{
			name:  "empty string",
			code:  "",
			valid: false,
		},
		{
			name:  "too long",
			code:  "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsReferralCodeFormat(tt.code)
			if got != tt.valid {
				t.Fatalf("IsReferralCodeFormat(%q) = %v, want %v", tt.code, got, tt.valid)
			}
		})
	}
}

func TestNormalizeReferralCode(t *testing.T) {
	assert.Equal(t, "SOL-4521", NormalizeReferralCode("  sol-4521 "))
	assert.Equal(t, "", NormalizeReferralCode("   "))
}

type checkoutRequest struct {
	PlanID       string `validate:"required,oneof=monthly annual"`
	Email        string `validate:"required,email"`
	ReferralCode string `validate:"omitempty,max=12"`
}

func TestStruct(t *testing.T) {
	err := Struct(checkoutRequest{PlanID: "monthly", Email: "hola@cafeluna.cl", ReferralCode: " sol-4521"})
	require.NoError(t, err)

	err = Struct(checkoutRequest{PlanID: "weekly", Email: "not-an-email", ReferralCode: "SOL-4521-EXTRA"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PlanID: oneof=monthly annual")
	assert.Contains(t, err.Error(), "Email: email")
	assert.Contains(t, err.Error(), "ReferralCode: max=12")
}
