package mercadopago

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrMalformedNotification возвращается, если уведомление не удалось разобрать.
	ErrMalformedNotification = errors.New("malformed mercadopago notification")
	// ErrUnknownEventType возвращается для уведомлений неподдерживаемого типа.
	ErrUnknownEventType = errors.New("unknown mercadopago event type")
)

// Kind — тип уведомления MercadoPago.
type Kind string

const (
	KindPreapproval       Kind = "subscription_preapproval"
	KindAuthorizedPayment Kind = "subscription_authorized_payment"
	KindPayment           Kind = "payment"
)

// Notification — разобранное уведомление вебхука.
type Notification struct {
	ID     string
	Kind   Kind
	Action string
	DataID string
}

type envelope struct {
	ID     json.RawMessage `json:"id"`
	Type   string          `json:"type"`
	Topic  string          `json:"topic"`
	Action string          `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// ParseNotification разбирает уведомление из тела запроса и параметров строки запроса.
// Поддерживаются как JSON-уведомления, так и устаревший формат ?topic=&id=.
func ParseNotification(body []byte, query url.Values) (Notification, error) {
	var env envelope
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &env); err != nil {
			return Notification{}, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
		}
	}

	n := Notification{
		ID:     rawID(env.ID),
		Action: env.Action,
		DataID: rawID(env.Data.ID),
	}

	tag := firstNonEmpty(env.Type, env.Topic, query.Get("type"), query.Get("topic"))
	if n.DataID == "" {
		n.DataID = firstNonEmpty(query.Get("data.id"), query.Get("id"))
	}

	if tag == "" || n.DataID == "" {
		return Notification{}, ErrMalformedNotification
	}

	kind, ok := kindFromTag(tag)
	if !ok {
		return Notification{Action: n.Action, DataID: n.DataID, ID: n.ID, Kind: Kind(tag)},
			fmt.Errorf("%w: %s", ErrUnknownEventType, tag)
	}
	n.Kind = kind

	return n, nil
}

func kindFromTag(tag string) (Kind, bool) {
	switch tag {
	case string(KindPreapproval), "preapproval":
		return KindPreapproval, true
	case string(KindAuthorizedPayment), "authorized_payment":
		return KindAuthorizedPayment, true
	case string(KindPayment):
		return KindPayment, true
	default:
		return "", false
	}
}

func rawID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	return strings.Trim(s, `"`)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
