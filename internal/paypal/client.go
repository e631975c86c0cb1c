// Package paypal предоставляет клиент REST API PayPal: заказы, подписки, каталог планов
// и проверку подписи вебхуков.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Статусы заказов и подписок PayPal.
const (
	OrderStatusCompleted = "COMPLETED"

	SubscriptionStatusActive   = "ACTIVE"
	SubscriptionStatusApproved = "APPROVED"
)

// CustomIDMaxLen — ограничение длины custom_id у заказов и подписок.
const CustomIDMaxLen = 127

const (
	issueOrderAlreadyCaptured = "ORDER_ALREADY_CAPTURED"
	verificationSuccess       = "SUCCESS"
)

// Заголовки, которыми PayPal подписывает доставку вебхука.
const (
	HeaderAuthAlgo         = "Paypal-Auth-Algo"
	HeaderCertURL          = "Paypal-Cert-Url"
	HeaderTransmissionID   = "Paypal-Transmission-Id"
	HeaderTransmissionSig  = "Paypal-Transmission-Sig"
	HeaderTransmissionTime = "Paypal-Transmission-Time"
)

// Client инкапсулирует HTTP-взаимодействие с API PayPal.
// Токен доступа получается по client credentials и переиспользуется до истечения.
type Client struct {
	baseURL    string
	webhookID  string
	configured bool
	httpClient *http.Client
}

// APIError описывает ответ API с неуспешным HTTP-статусом.
type APIError struct {
	StatusCode int
	Name       string
	Issue      string
	Body       string
}

func (e *APIError) Error() string {
	if e.Issue != "" {
		return fmt.Sprintf("paypal api: status %d: %s (%s)", e.StatusCode, e.Name, e.Issue)
	}
	return fmt.Sprintf("paypal api: status %d: %s", e.StatusCode, e.Body)
}

// Link — HATEOAS-ссылка из ответа API.
type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

// Money — денежная сумма в формате PayPal.
type Money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

// ApplicationContext задаёт адреса возврата покупателя.
type ApplicationContext struct {
	BrandName  string `json:"brand_name,omitempty"`
	UserAction string `json:"user_action,omitempty"`
	ReturnURL  string `json:"return_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
}

// PurchaseUnit — позиция заказа.
type PurchaseUnit struct {
	CustomID    string    `json:"custom_id,omitempty"`
	Description string    `json:"description,omitempty"`
	Amount      *Money    `json:"amount,omitempty"`
	Payments    *Payments `json:"payments,omitempty"`
}

// Payments — списания по позиции заказа.
type Payments struct {
	Captures []Capture `json:"captures"`
}

// Capture — одно списание по заказу.
type Capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount Money  `json:"amount"`
}

// OrderRequest — запрос на создание заказа.
type OrderRequest struct {
	Intent             string              `json:"intent"`
	PurchaseUnits      []PurchaseUnit      `json:"purchase_units"`
	ApplicationContext *ApplicationContext `json:"application_context,omitempty"`
}

// Order — заказ PayPal.
type Order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units"`
	Payer         struct {
		EmailAddress string `json:"email_address"`
	} `json:"payer"`
	Links []Link `json:"links"`
}

// IsCompleted сообщает, оплачен ли заказ.
func (o *Order) IsCompleted() bool { return o.Status == OrderStatusCompleted }

// CustomID возвращает custom_id первой позиции заказа.
func (o *Order) CustomID() string {
	for _, pu := range o.PurchaseUnits {
		if pu.CustomID != "" {
			return pu.CustomID
		}
	}
	return ""
}

// FirstCapture возвращает первое списание по заказу.
func (o *Order) FirstCapture() (Capture, bool) {
	for _, pu := range o.PurchaseUnits {
		if pu.Payments == nil {
			continue
		}
		for _, c := range pu.Payments.Captures {
			return c, true
		}
	}
	return Capture{}, false
}

// ApproveURL возвращает ссылку для подтверждения оплаты покупателем.
func (o *Order) ApproveURL() string { return findLink(o.Links, "approve", "payer-action") }

// Subscriber — данные подписчика.
type Subscriber struct {
	EmailAddress string `json:"email_address,omitempty"`
}

// SubscriptionRequest — запрос на создание подписки.
type SubscriptionRequest struct {
	PlanID             string              `json:"plan_id"`
	CustomID           string              `json:"custom_id,omitempty"`
	Subscriber         *Subscriber         `json:"subscriber,omitempty"`
	ApplicationContext *ApplicationContext `json:"application_context,omitempty"`
}

// Subscription — подписка PayPal.
type Subscription struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	PlanID      string     `json:"plan_id"`
	CustomID    string     `json:"custom_id"`
	Subscriber  Subscriber `json:"subscriber"`
	BillingInfo struct {
		NextBillingTime *time.Time `json:"next_billing_time"`
		LastPayment     *struct {
			Amount Money     `json:"amount"`
			Time   time.Time `json:"time"`
		} `json:"last_payment"`
	} `json:"billing_info"`
	Links []Link `json:"links"`
}

// IsActive сообщает, подтверждена ли подписка.
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusApproved
}

// ApproveURL возвращает ссылку для подтверждения подписки покупателем.
func (s *Subscription) ApproveURL() string { return findLink(s.Links, "approve") }

// Product — продукт каталога.
type Product struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	Category    string `json:"category,omitempty"`
}

// BillingCycle описывает цикл списаний плана.
type BillingCycle struct {
	Frequency struct {
		IntervalUnit  string `json:"interval_unit"`
		IntervalCount int    `json:"interval_count"`
	} `json:"frequency"`
	TenureType    string `json:"tenure_type"`
	Sequence      int    `json:"sequence"`
	TotalCycles   int    `json:"total_cycles"`
	PricingScheme struct {
		FixedPrice Money `json:"fixed_price"`
	} `json:"pricing_scheme"`
}

// PlanRequest — запрос на создание плана подписки.
type PlanRequest struct {
	ProductID          string         `json:"product_id"`
	Name               string         `json:"name"`
	Description        string         `json:"description,omitempty"`
	Status             string         `json:"status"`
	BillingCycles      []BillingCycle `json:"billing_cycles"`
	PaymentPreferences struct {
		AutoBillOutstanding     bool `json:"auto_bill_outstanding"`
		PaymentFailureThreshold int  `json:"payment_failure_threshold"`
	} `json:"payment_preferences"`
}

// MonthlyPlanRequest собирает запрос на план с оплатой раз в months месяцев.
func MonthlyPlanRequest(productID, name string, months int, price Money) PlanRequest {
	cycle := BillingCycle{TenureType: "REGULAR", Sequence: 1}
	cycle.Frequency.IntervalUnit = "MONTH"
	cycle.Frequency.IntervalCount = months
	cycle.PricingScheme.FixedPrice = price

	req := PlanRequest{
		ProductID:     productID,
		Name:          name,
		Status:        "ACTIVE",
		BillingCycles: []BillingCycle{cycle},
	}
	req.PaymentPreferences.AutoBillOutstanding = true
	req.PaymentPreferences.PaymentFailureThreshold = 3
	return req
}

// Plan — созданный план подписки.
type Plan struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// NewClient создаёт клиент API PayPal для baseURL (sandbox или live).
func NewClient(baseURL, clientID, clientSecret, webhookID string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")

	cc := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     baseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	transport := &http.Client{Timeout: 15 * time.Second}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, transport)
	httpClient := cc.Client(ctx)
	httpClient.Timeout = 15 * time.Second

	return &Client{
		baseURL:    baseURL,
		webhookID:  webhookID,
		configured: clientID != "" && clientSecret != "",
		httpClient: httpClient,
	}
}

// CreateOrder создаёт заказ с немедленным списанием.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.Intent == "" {
		req.Intent = "CAPTURE"
	}
	var res Order
	if err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", req, &res); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return &res, nil
}

// GetOrder возвращает заказ по идентификатору.
func (c *Client) GetOrder(ctx context.Context, id string) (*Order, error) {
	var res Order
	if err := c.do(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(id), nil, &res); err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return &res, nil
}

// CaptureOrder списывает оплату по подтверждённому заказу.
// Повторный захват уже оплаченного заказа возвращает текущее состояние заказа.
func (c *Client) CaptureOrder(ctx context.Context, id string) (*Order, error) {
	var res Order
	err := c.do(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(id)+"/capture", struct{}{}, &res)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Issue == issueOrderAlreadyCaptured {
			return c.GetOrder(ctx, id)
		}
		return nil, fmt.Errorf("capture order %s: %w", id, err)
	}
	return &res, nil
}

// CreateSubscription создаёт подписку на план.
func (c *Client) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*Subscription, error) {
	var res Subscription
	if err := c.do(ctx, http.MethodPost, "/v1/billing/subscriptions", req, &res); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return &res, nil
}

// GetSubscription возвращает подписку по идентификатору.
func (c *Client) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	var res Subscription
	if err := c.do(ctx, http.MethodGet, "/v1/billing/subscriptions/"+url.PathEscape(id), nil, &res); err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", id, err)
	}
	return &res, nil
}

// CreateProduct создаёт продукт каталога.
func (c *Client) CreateProduct(ctx context.Context, p Product) (*Product, error) {
	var res Product
	if err := c.do(ctx, http.MethodPost, "/v1/catalogs/products", p, &res); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	return &res, nil
}

// CreatePlan создаёт план подписки.
func (c *Client) CreatePlan(ctx context.Context, req PlanRequest) (*Plan, error) {
	var res Plan
	if err := c.do(ctx, http.MethodPost, "/v1/billing/plans", req, &res); err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}
	return &res, nil
}

type verifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

// VerifyWebhookSignature проверяет подпись доставки вебхука через API PayPal.
// Отсутствие любого из заголовков подписи означает неуспешную проверку.
func (c *Client) VerifyWebhookSignature(ctx context.Context, header http.Header, body []byte) (bool, error) {
	req := verifyRequest{
		AuthAlgo:         header.Get(HeaderAuthAlgo),
		CertURL:          header.Get(HeaderCertURL),
		TransmissionID:   header.Get(HeaderTransmissionID),
		TransmissionSig:  header.Get(HeaderTransmissionSig),
		TransmissionTime: header.Get(HeaderTransmissionTime),
		WebhookID:        c.webhookID,
		WebhookEvent:     json.RawMessage(body),
	}
	if req.AuthAlgo == "" || req.CertURL == "" || req.TransmissionID == "" ||
		req.TransmissionSig == "" || req.TransmissionTime == "" || req.WebhookID == "" {
		return false, nil
	}
	if !json.Valid(body) {
		return false, nil
	}

	var res struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", req, &res); err != nil {
		return false, fmt.Errorf("verify webhook signature: %w", err)
	}
	return res.VerificationStatus == verificationSuccess, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c == nil || !c.configured {
		return fmt.Errorf("paypal client not configured")
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
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func newAPIError(resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}

	var payload struct {
		Name    string `json:"name"`
		Details []struct {
			Issue string `json:"issue"`
		} `json:"details"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		apiErr.Name = payload.Name
		if len(payload.Details) > 0 {
			apiErr.Issue = payload.Details[0].Issue
		}
	}
	return apiErr
}

func findLink(links []Link, rels ...string) string {
	for _, rel := range rels {
		for _, l := range links {
			if l.Rel == rel {
				return l.Href
			}
		}
	}
	return ""
}
