// Package service реализует сверку платежей: оформление подписок у провайдеров,
// обработку вебхуков MercadoPago и PayPal и однократное создание бизнеса.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/valoralocal/reconciler/internal/mercadopago"
	"github.com/valoralocal/reconciler/internal/model"
	"github.com/valoralocal/reconciler/internal/paypal"
)

var (
	// ErrFinalizeInProgress возвращается, если подписку уже обрабатывает другой запрос.
	ErrFinalizeInProgress = errors.New("subscription finalization already in progress")
	// ErrUnknownPlan возвращается для неизвестного идентификатора плана.
	ErrUnknownPlan = errors.New("unknown plan")
	// ErrPlanNotConfigured возвращается, если для плана не задан план PayPal.
	ErrPlanNotConfigured = errors.New("paypal plan is not configured")
	// ErrPaymentNotCompleted возвращается, если провайдер не подтвердил оплату.
	ErrPaymentNotCompleted = errors.New("payment not completed")
	// ErrPendingNotFound возвращается, если ожидающая подписка не найдена и восстановить её не из чего.
	ErrPendingNotFound = errors.New("pending subscription not found")
	// ErrInvalidRequest возвращается при невалидных входных данных checkout.
	ErrInvalidRequest = errors.New("invalid request")
)

// Store описывает контракт хранилища, используемый сервисом.
type Store interface {
	Ping(ctx context.Context) error

	CreatePending(ctx context.Context, p *model.PendingSubscription) (bool, error)
	GetPending(ctx context.Context, id string) (*model.PendingSubscription, error)
	ClaimPending(ctx context.Context, id string, now, staleBefore time.Time) (bool, error)
	ReleasePending(ctx context.Context, id string) error
	CompletePending(ctx context.Context, id, businessID string, now time.Time) error
	ResetStalePending(ctx context.Context, staleBefore time.Time) (int64, error)

	CreateBusiness(ctx context.Context, b *model.Business) (*model.Business, bool, error)
	GetBusiness(ctx context.Context, id string) (*model.Business, error)
	GetBusinessBySubscription(ctx context.Context, provider model.Provider, subscriptionID string) (*model.Business, error)
	MutateBusinessBySubscription(ctx context.Context, key model.EventKey, provider model.Provider, subscriptionID string, fn func(b *model.Business) error) (bool, error)
	ExpireBusinesses(ctx context.Context, before time.Time) (int64, error)

	SavePayment(ctx context.Context, p *model.Payment) error
}

// MercadoPagoAPI описывает используемые методы API MercadoPago.
type MercadoPagoAPI interface {
	CreatePreapproval(ctx context.Context, req mercadopago.PreapprovalRequest) (*mercadopago.Preapproval, error)
	GetPreapproval(ctx context.Context, id string) (*mercadopago.Preapproval, error)
	GetAuthorizedPayment(ctx context.Context, id string) (*mercadopago.AuthorizedPayment, error)
	GetPayment(ctx context.Context, id string) (*mercadopago.Payment, error)
}

// PayPalAPI описывает используемые методы API PayPal.
type PayPalAPI interface {
	CreateOrder(ctx context.Context, req paypal.OrderRequest) (*paypal.Order, error)
	CaptureOrder(ctx context.Context, id string) (*paypal.Order, error)
	CreateSubscription(ctx context.Context, req paypal.SubscriptionRequest) (*paypal.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*paypal.Subscription, error)
	CreateProduct(ctx context.Context, p paypal.Product) (*paypal.Product, error)
	CreatePlan(ctx context.Context, req paypal.PlanRequest) (*paypal.Plan, error)
	VerifyWebhookSignature(ctx context.Context, header http.Header, body []byte) (bool, error)
}

// ReferralLedger проверяет реферальные коды и начисляет вознаграждения.
type ReferralLedger interface {
	ValidateCode(ctx context.Context, code string) (string, bool)
	Credit(ctx context.Context, code string, referred *model.Business, now time.Time) (model.ReferralOutcome, *model.ReferralTransaction, error)
}

// Notifier рассылает уведомления. Реализация не должна возвращать ошибки доставки.
type Notifier interface {
	BusinessCreated(ctx context.Context, b *model.Business, plan model.Plan)
	ReferralCredited(ctx context.Context, referrer *model.Business, txn *model.ReferralTransaction)
}

// Options задаёт параметры сервиса.
type Options struct {
	BaseURL             string
	Plans               map[string]model.Plan
	ProcessingTimeout   time.Duration
	ExpiryGrace         time.Duration
	MercadoPagoCurrency string
	PayPalCurrency      string
	PayPalLive          bool
}

// Service содержит логику сверки платежей.
type Service struct {
	store     Store
	mp        MercadoPagoAPI
	pp        PayPalAPI
	referrals ReferralLedger
	notifier  Notifier
	logger    *zap.Logger
	opts      Options
	now       func() time.Time
}

// NewService создаёт сервис сверки платежей.
func NewService(store Store, mp MercadoPagoAPI, pp PayPalAPI, referrals ReferralLedger, notifier Notifier, logger *zap.Logger, opts Options) *Service {
	if opts.ProcessingTimeout <= 0 {
		opts.ProcessingTimeout = 15 * time.Minute
	}
	return &Service{
		store:     store,
		mp:        mp,
		pp:        pp,
		referrals: referrals,
		notifier:  notifier,
		logger:    logger,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) plan(id string) (model.Plan, error) {
	p, ok := s.opts.Plans[id]
	if !ok {
		return model.Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, id)
	}
	return p, nil
}
