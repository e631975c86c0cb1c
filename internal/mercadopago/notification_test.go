package mercadopago

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNotification(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		query   url.Values
		want    Notification
		wantErr error
	}{
		{
			name: "preapproval body",
			body: `{"id":12345,"type":"subscription_preapproval","action":"updated","data":{"id":"pre-1"}}`,
			want: Notification{ID: "12345", Kind: KindPreapproval, Action: "updated", DataID: "pre-1"},
		},
		{
			name: "authorized payment body",
			body: `{"id":"abc","type":"subscription_authorized_payment","action":"created","data":{"id":7001}}`,
			want: Notification{ID: "abc", Kind: KindAuthorizedPayment, Action: "created", DataID: "7001"},
		},
		{
			name: "payment body",
			body: `{"type":"payment","action":"payment.created","data":{"id":"1234567"}}`,
			want: Notification{Kind: KindPayment, Action: "payment.created", DataID: "1234567"},
		},
		{
			name:  "legacy query topic",
			query: url.Values{"topic": {"preapproval"}, "id": {"pre-9"}},
			want:  Notification{Kind: KindPreapproval, DataID: "pre-9"},
		},
		{
			name:  "query data.id",
			query: url.Values{"type": {"payment"}, "data.id": {"55"}},
			want:  Notification{Kind: KindPayment, DataID: "55"},
		},
		{
			name:    "unknown type",
			body:    `{"type":"merchant_order","data":{"id":"1"}}`,
			wantErr: ErrUnknownEventType,
		},
		{
			name:    "invalid json",
			body:    `{"type":`,
			wantErr: ErrMalformedNotification,
		},
		{
			name:    "missing data id",
			body:    `{"type":"payment"}`,
			wantErr: ErrMalformedNotification,
		},
		{
			name:    "empty request",
			wantErr: ErrMalformedNotification,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNotification([]byte(tt.body), tt.query)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "error = %v, want %v", err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
