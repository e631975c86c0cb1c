package paypal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valoralocal/reconciler/internal/model"
)

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    Event
		wantErr error
	}{
		{
			name: "sale completed",
			body: `{"id":"WH-1","event_type":"PAYMENT.SALE.COMPLETED","resource":{"id":"SALE-1",` +
				`"billing_agreement_id":"I-SUB","amount":{"total":"12.00","currency":"USD"}}}`,
			want: Event{ID: "WH-1", Kind: KindSaleCompleted, SubscriptionID: "I-SUB", SaleID: "SALE-1", Amount: "12.00", Currency: "USD"},
		},
		{
			name: "subscription suspended",
			body: `{"id":"WH-2","event_type":"BILLING.SUBSCRIPTION.SUSPENDED","resource":{"id":"I-SUB"}}`,
			want: Event{ID: "WH-2", Kind: KindSubscriptionSuspended, SubscriptionID: "I-SUB"},
		},
		{
			name: "subscription re-activated",
			body: `{"id":"WH-3","event_type":"BILLING.SUBSCRIPTION.RE-ACTIVATED","resource":{"id":"I-SUB"}}`,
			want: Event{ID: "WH-3", Kind: KindSubscriptionReactivated, SubscriptionID: "I-SUB"},
		},
		{
			name: "payment failed",
			body: `{"id":"WH-4","event_type":"BILLING.SUBSCRIPTION.PAYMENT.FAILED","resource":{"id":"I-SUB"}}`,
			want: Event{ID: "WH-4", Kind: KindSubscriptionPaymentFailed, SubscriptionID: "I-SUB"},
		},
		{
			name:    "unknown type",
			body:    `{"id":"WH-5","event_type":"CHECKOUT.ORDER.APPROVED","resource":{}}`,
			wantErr: ErrUnknownEventType,
		},
		{
			name:    "missing event type",
			body:    `{"id":"WH-6"}`,
			wantErr: ErrMalformedEvent,
		},
		{
			name:    "not json",
			body:    `event`,
			wantErr: ErrMalformedEvent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEvent([]byte(tt.body))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "error = %v, want %v", err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			got.Raw = nil
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestEncodeCustomIDFitsLimit(t *testing.T) {
	p := model.CheckoutPayload{
		PlanID:       "annual",
		BusinessName: "Panadería y Pastelería La Esquina del Barrio Bellavista de Santiago Centro",
		Email:        "administracion.general@panaderialaesquinadelbarrio.cl",
		ReferralCode: "ARAUCARIA-0042",
	}

	s, err := EncodeCustomID(p)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(s), CustomIDMaxLen)

	decoded, err := model.DecodeCheckoutPayload(s)
	require.NoError(t, err)
	assert.Equal(t, "annual", decoded.PlanID)
	assert.Equal(t, "ARAUCARIA-0042", decoded.ReferralCode)
}
