// Package model содержит доменные сущности сервиса сверки платежей ValoraLocal.
package model

import "time"

// Provider обозначает платёжного провайдера.
type Provider string

const (
	ProviderMercadoPago Provider = "mercadopago"
	ProviderPayPal      Provider = "paypal"
)

// PaymentMethod описывает способ оформления подписки на этапе checkout.
type PaymentMethod string

const (
	PaymentMethodMercadoPagoSubscription PaymentMethod = "mercadopago_subscription"
	PaymentMethodPayPalSubscription      PaymentMethod = "paypal_subscription"
	PaymentMethodPayPalOrder             PaymentMethod = "paypal_order"
)

// PendingStatus описывает стадию обработки ожидающей подписки.
type PendingStatus string

const (
	PendingStatusPending    PendingStatus = "pending"
	PendingStatusProcessing PendingStatus = "processing"
	PendingStatusCompleted  PendingStatus = "completed"
)

// PendingSubscription — предварительная запись, созданная при инициализации оплаты.
// Ключ записи — идентификатор подписки или заказа у провайдера.
type PendingSubscription struct {
	ID                  string
	Provider            Provider
	PlanID              string
	Email               string
	BusinessName        string
	ReferralCode        string
	PaymentMethod       PaymentMethod
	Status              PendingStatus
	CreatedAt           time.Time
	ProcessingStartedAt *time.Time
	CompletedAt         *time.Time
	BusinessID          string
}

// BusinessStatus описывает состояние подписки бизнеса.
type BusinessStatus string

const (
	BusinessStatusActive    BusinessStatus = "active"
	BusinessStatusSuspended BusinessStatus = "suspended"
	BusinessStatusCancelled BusinessStatus = "cancelled"
	BusinessStatusPaused    BusinessStatus = "paused"
	BusinessStatusExpired   BusinessStatus = "expired"
)

// Business — арендатор сервиса: единица биллинга, доступа к панели и реферального учёта.
type Business struct {
	ID                     string
	Name                   string
	Slug                   string
	PrivateToken           string
	AdminToken             string
	Email                  string
	PlanID                 string
	Provider               Provider
	ProviderSubscriptionID string
	Status                 BusinessStatus
	Amount                 int64
	Currency               string
	ExpiresAt              *time.Time
	NextBillingDate        *time.Time
	LastPaymentAt          *time.Time
	LastPaymentFailedAt    *time.Time
	SuspendedAt            *time.Time
	CancelledAt            *time.Time
	ReferralCode           string
	ReferredBy             string
	ReferralCount          int
	ReferralBalance        int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// ReferralTransaction — запись журнала начислений реферального вознаграждения.
type ReferralTransaction struct {
	ID           string
	ReferrerID   string
	ReferredID   string
	ReferredName string
	Amount       int64
	Status       string
	CreatedAt    time.Time
}

// ReferralStatusCredited — статус успешного начисления.
const ReferralStatusCredited = "credited"

// Payment — аудиторская запись о платеже, полученном от провайдера.
type Payment struct {
	ID             string
	Provider       Provider
	SubscriptionID string
	Status         string
	Amount         float64
	Currency       string
	PayerEmail     string
	Raw            []byte
	CreatedAt      time.Time
}

// EventKey идентифицирует событие провайдера для журнала идемпотентности.
// Пустой ID означает, что событие не дедуплицируется.
type EventKey struct {
	Provider Provider
	ID       string
	Type     string
}

// Plan описывает тарифный план.
type Plan struct {
	ID              string
	Name            string
	PriceCLP        int64
	PriceUSD        string
	FrequencyMonths int
	DurationDays    int
	PayPalPlanID    string
}

// Duration возвращает продолжительность оплаченного периода плана.
func (p Plan) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}

// ReferralOutcome описывает результат попытки начисления реферального вознаграждения.
type ReferralOutcome string

const (
	ReferralCredited         ReferralOutcome = "credited"
	ReferralReferrerNotFound ReferralOutcome = "referrer_not_found"
	ReferralAtCap            ReferralOutcome = "at_cap"
	ReferralAlreadyCredited  ReferralOutcome = "already_credited"
	ReferralSelfReferral     ReferralOutcome = "self_referral"
)
