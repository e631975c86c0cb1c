// Package mercadopago предоставляет клиент API MercadoPago и разбор уведомлений вебхуков.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Статусы подписки (preapproval).
const (
	PreapprovalPending    = "pending"
	PreapprovalAuthorized = "authorized"
	PreapprovalActive     = "active"
	PreapprovalPaused     = "paused"
	PreapprovalCancelled  = "cancelled"
)

// PaymentApproved — статус успешно проведённого платежа.
const PaymentApproved = "approved"

// ExternalReferenceMaxLen — ограничение длины external_reference.
const ExternalReferenceMaxLen = 256

// Client инкапсулирует HTTP-взаимодействие с API MercadoPago.
// Чтения повторяются при сетевых ошибках и ответах 429/5xx, запросы на запись не повторяются.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	readClient  *http.Client
}

// APIError описывает ответ API с неуспешным HTTP-статусом.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mercadopago api: unexpected status %d: %s", e.StatusCode, e.Body)
}

// AutoRecurring описывает параметры периодического списания.
type AutoRecurring struct {
	Frequency         int     `json:"frequency"`
	FrequencyType     string  `json:"frequency_type"`
	TransactionAmount float64 `json:"transaction_amount"`
	CurrencyID        string  `json:"currency_id"`
}

// PreapprovalRequest — запрос на создание подписки.
type PreapprovalRequest struct {
	Reason            string        `json:"reason"`
	ExternalReference string        `json:"external_reference,omitempty"`
	PayerEmail        string        `json:"payer_email"`
	BackURL           string        `json:"back_url"`
	AutoRecurring     AutoRecurring `json:"auto_recurring"`
	Status            string        `json:"status,omitempty"`
}

// Preapproval — подписка MercadoPago.
type Preapproval struct {
	ID                string        `json:"id"`
	Status            string        `json:"status"`
	Reason            string        `json:"reason"`
	PayerEmail        string        `json:"payer_email"`
	ExternalReference string        `json:"external_reference"`
	InitPoint         string        `json:"init_point"`
	NextPaymentDate   string        `json:"next_payment_date"`
	AutoRecurring     AutoRecurring `json:"auto_recurring"`
}

// IsAuthorized сообщает, подтверждена ли подписка плательщиком.
func (p *Preapproval) IsAuthorized() bool {
	return p.Status == PreapprovalAuthorized || p.Status == PreapprovalActive
}

// AuthorizedPayment — списание по подписке.
type AuthorizedPayment struct {
	ID                int64   `json:"id"`
	PreapprovalID     string  `json:"preapproval_id"`
	Status            string  `json:"status"`
	TransactionAmount float64 `json:"transaction_amount"`
	CurrencyID        string  `json:"currency_id"`
	Payment           struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	} `json:"payment"`
}

// Payment — платёж MercadoPago.
type Payment struct {
	ID                int64          `json:"id"`
	Status            string         `json:"status"`
	StatusDetail      string         `json:"status_detail"`
	TransactionAmount float64        `json:"transaction_amount"`
	CurrencyID        string         `json:"currency_id"`
	ExternalReference string         `json:"external_reference"`
	Metadata          map[string]any `json:"metadata"`
	Payer             struct {
		Email string `json:"email"`
	} `json:"payer"`
	PointOfInteraction struct {
		TransactionData struct {
			SubscriptionID string `json:"subscription_id"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`

	Raw json.RawMessage `json:"-"`
}

// SubscriptionID возвращает идентификатор подписки, к которой относится платёж, если он известен.
func (p *Payment) SubscriptionID() string {
	if id := p.PointOfInteraction.TransactionData.SubscriptionID; id != "" {
		return id
	}
	if v, ok := p.Metadata["preapproval_id"].(string); ok {
		return v
	}
	return ""
}

// IsApproved сообщает, проведён ли платёж.
func (p *Payment) IsApproved() bool {
	return p.Status == PaymentApproved
}

// NewClient создаёт клиент API MercadoPago.
func NewClient(baseURL, accessToken string) *Client {
	retrying := retryablehttp.NewClient()
	retrying.RetryMax = 3
	retrying.RetryWaitMin = 200 * time.Millisecond
	retrying.RetryWaitMax = 2 * time.Second
	retrying.Logger = nil
	retrying.HTTPClient.Timeout = 10 * time.Second

	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		readClient: retrying.StandardClient(),
	}
}

// CreatePreapproval создаёт подписку и возвращает её вместе со ссылкой на оплату.
func (c *Client) CreatePreapproval(ctx context.Context, req PreapprovalRequest) (*Preapproval, error) {
	var res Preapproval
	if err := c.do(ctx, http.MethodPost, "/preapproval", req, &res); err != nil {
		return nil, fmt.Errorf("create preapproval: %w", err)
	}
	return &res, nil
}

// GetPreapproval возвращает подписку по идентификатору.
func (c *Client) GetPreapproval(ctx context.Context, id string) (*Preapproval, error) {
	var res Preapproval
	if err := c.do(ctx, http.MethodGet, "/preapproval/"+url.PathEscape(id), nil, &res); err != nil {
		return nil, fmt.Errorf("get preapproval %s: %w", id, err)
	}
	return &res, nil
}

// GetAuthorizedPayment возвращает списание по подписке.
func (c *Client) GetAuthorizedPayment(ctx context.Context, id string) (*AuthorizedPayment, error) {
	var res AuthorizedPayment
	if err := c.do(ctx, http.MethodGet, "/authorized_payments/"+url.PathEscape(id), nil, &res); err != nil {
		return nil, fmt.Errorf("get authorized payment %s: %w", id, err)
	}
	return &res, nil
}

// GetPayment возвращает платёж вместе с исходным JSON ответа.
func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(id), nil, &raw); err != nil {
		return nil, fmt.Errorf("get payment %s: %w", id, err)
	}

	var res Payment
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode payment %s: %w", id, err)
	}
	res.Raw = raw
	return &res, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c == nil || c.accessToken == "" {
		return fmt.Errorf("mercadopago client not configured")
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := c.httpClient
	if method == http.MethodGet {
		client = c.readClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// FormatID приводит числовой идентификатор API к строке.
func FormatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
