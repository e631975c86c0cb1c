package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrEmptyCheckoutPayload возвращается при декодировании пустой строки.
var ErrEmptyCheckoutPayload = errors.New("empty checkout payload")

// CheckoutPayload — данные checkout, которые передаются провайдеру
// (custom_id у PayPal, external_reference у MercadoPago) и возвращаются в событиях.
type CheckoutPayload struct {
	PlanID       string `json:"p"`
	BusinessName string `json:"n,omitempty"`
	Email        string `json:"e,omitempty"`
	ReferralCode string `json:"r,omitempty"`
}

// Encode сериализует данные в компактный JSON не длиннее maxLen байт.
// При превышении лимита укорачивается название бизнеса, затем отбрасывается email.
func (c CheckoutPayload) Encode(maxLen int) (string, error) {
	p := c
	for {
		raw, err := json.Marshal(p)
		if err != nil {
			return "", fmt.Errorf("marshal checkout payload: %w", err)
		}
		if maxLen <= 0 || len(raw) <= maxLen {
			return string(raw), nil
		}

		switch {
		case p.BusinessName != "":
			p.BusinessName = trimLastRune(p.BusinessName)
		case p.Email != "":
			p.Email = ""
		default:
			return "", fmt.Errorf("checkout payload exceeds %d bytes", maxLen)
		}
	}
}

// DecodeCheckoutPayload разбирает строку, созданную Encode.
func DecodeCheckoutPayload(s string) (CheckoutPayload, error) {
	var p CheckoutPayload
	s = strings.TrimSpace(s)
	if s == "" {
		return p, ErrEmptyCheckoutPayload
	}
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return p, fmt.Errorf("decode checkout payload: %w", err)
	}
	return p, nil
}

func trimLastRune(s string) string {
	_, size := utf8.DecodeLastRuneInString(s)
	return strings.TrimSpace(s[:len(s)-size])
}
