package paypal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/valoralocal/reconciler/internal/model"
)

var (
	// ErrMalformedEvent возвращается, если тело вебхука не удалось разобрать.
	ErrMalformedEvent = errors.New("malformed paypal event")
	// ErrUnknownEventType возвращается для неподдерживаемых типов событий.
	ErrUnknownEventType = errors.New("unknown paypal event type")
)

// Kind — тип события вебхука PayPal.
type Kind string

const (
	KindSaleCompleted             Kind = "PAYMENT.SALE.COMPLETED"
	KindSubscriptionActivated     Kind = "BILLING.SUBSCRIPTION.ACTIVATED"
	KindSubscriptionReactivated   Kind = "BILLING.SUBSCRIPTION.RE-ACTIVATED"
	KindSubscriptionSuspended     Kind = "BILLING.SUBSCRIPTION.SUSPENDED"
	KindSubscriptionCancelled     Kind = "BILLING.SUBSCRIPTION.CANCELLED"
	KindSubscriptionPaymentFailed Kind = "BILLING.SUBSCRIPTION.PAYMENT.FAILED"
)

// Event — разобранное событие вебхука.
type Event struct {
	ID             string
	Kind           Kind
	SubscriptionID string
	SaleID         string
	Amount         string
	Currency       string
	Raw            json.RawMessage
}

type rawEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

type saleResource struct {
	ID                 string `json:"id"`
	BillingAgreementID string `json:"billing_agreement_id"`
	Amount             struct {
		Total    string `json:"total"`
		Currency string `json:"currency"`
	} `json:"amount"`
}

type subscriptionResource struct {
	ID string `json:"id"`
}

// ParseEvent разбирает тело вебхука. Для неизвестного типа события возвращается
// ErrUnknownEventType вместе с идентификатором и типом события.
func ParseEvent(body []byte) (*Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if strings.TrimSpace(raw.EventType) == "" {
		return nil, fmt.Errorf("%w: missing event_type", ErrMalformedEvent)
	}

	ev := &Event{
		ID:   raw.ID,
		Kind: Kind(raw.EventType),
		Raw:  json.RawMessage(body),
	}

	switch ev.Kind {
	case KindSaleCompleted:
		var sale saleResource
		if err := json.Unmarshal(raw.Resource, &sale); err != nil {
			return nil, fmt.Errorf("%w: sale resource: %v", ErrMalformedEvent, err)
		}
		ev.SaleID = sale.ID
		ev.SubscriptionID = sale.BillingAgreementID
		ev.Amount = sale.Amount.Total
		ev.Currency = sale.Amount.Currency
	case KindSubscriptionActivated, KindSubscriptionReactivated, KindSubscriptionSuspended,
		KindSubscriptionCancelled, KindSubscriptionPaymentFailed:
		var sub subscriptionResource
		if err := json.Unmarshal(raw.Resource, &sub); err != nil {
			return nil, fmt.Errorf("%w: subscription resource: %v", ErrMalformedEvent, err)
		}
		ev.SubscriptionID = sub.ID
	default:
		return ev, fmt.Errorf("%w: %s", ErrUnknownEventType, raw.EventType)
	}

	return ev, nil
}

// EncodeCustomID упаковывает данные checkout в custom_id с учётом ограничения длины.
func EncodeCustomID(p model.CheckoutPayload) (string, error) {
	return p.Encode(CustomIDMaxLen)
}
