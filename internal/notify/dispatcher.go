package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/valoralocal/reconciler/internal/model"
)

const dispatchTimeout = 15 * time.Second

// BusinessCreatedEvent публикуется после создания бизнеса.
type BusinessCreatedEvent struct {
	BusinessID     string    `json:"business_id"`
	Name           string    `json:"name"`
	Slug           string    `json:"slug"`
	PlanID         string    `json:"plan_id"`
	Provider       string    `json:"provider"`
	SubscriptionID string    `json:"subscription_id"`
	ReferredBy     string    `json:"referred_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ReferralCreditedEvent публикуется после начисления реферального вознаграждения.
type ReferralCreditedEvent struct {
	TransactionID string    `json:"transaction_id"`
	ReferrerID    string    `json:"referrer_id"`
	ReferredID    string    `json:"referred_id"`
	Amount        int64     `json:"amount"`
	CreatedAt     time.Time `json:"created_at"`
}

// Dispatcher рассылает уведомления о новых бизнесах.
type Dispatcher struct {
	sender       Sender
	publisher    Publisher
	logger       *zap.Logger
	from         string
	salesEmail   string
	baseURL      string
	rewardAmount int64
}

// DispatcherConfig задаёт параметры рассылки.
type DispatcherConfig struct {
	From         string
	SalesEmail   string
	BaseURL      string
	RewardAmount int64
}

// NewDispatcher создаёт диспетчер уведомлений. publisher может быть nil.
func NewDispatcher(sender Sender, publisher Publisher, logger *zap.Logger, cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		sender:       sender,
		publisher:    publisher,
		logger:       logger,
		from:         cfg.From,
		salesEmail:   cfg.SalesEmail,
		baseURL:      cfg.BaseURL,
		rewardAmount: cfg.RewardAmount,
	}
}

// BusinessCreated отправляет приветственное письмо, уведомление продажам и событие business.created.
func (d *Dispatcher) BusinessCreated(ctx context.Context, b *model.Business, plan model.Plan) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
	defer cancel()

	log := d.logger.With(zap.String("business_id", b.ID), zap.String("slug", b.Slug))

	if b.Email != "" {
		html, text, err := RenderWelcomeEmail(WelcomeData{
			BusinessName: b.Name,
			PlanName:     plan.Name,
			DashboardURL: d.baseURL + "/dashboard?token=" + b.PrivateToken,
			SurveyURL:    d.baseURL + "/encuesta/" + b.Slug,
			ReferralCode: b.ReferralCode,
			RewardAmount: d.rewardAmount,
		})
		if err == nil {
			err = d.sender.Send(ctx, Message{
				From:    d.from,
				To:      b.Email,
				Subject: "Bienvenido a ValoraLocal: " + b.Name,
				HTML:    html,
				Text:    text,
			})
		}
		if err != nil {
			log.Error("failed to send welcome email", zap.Error(err))
		}
	}

	if d.salesEmail != "" {
		html, text, err := RenderSalesEmail(SalesData{
			BusinessName:   b.Name,
			PlanName:       plan.Name,
			Provider:       string(b.Provider),
			SubscriptionID: b.ProviderSubscriptionID,
			Email:          b.Email,
			Slug:           b.Slug,
			ReferredBy:     b.ReferredBy,
		})
		if err == nil {
			err = d.sender.Send(ctx, Message{
				From:    d.from,
				To:      d.salesEmail,
				Subject: "Nueva suscripción: " + b.Name,
				HTML:    html,
				Text:    text,
			})
		}
		if err != nil {
			log.Error("failed to send sales notification", zap.Error(err))
		}
	}

	d.publish(ctx, RoutingBusinessCreated, BusinessCreatedEvent{
		BusinessID:     b.ID,
		Name:           b.Name,
		Slug:           b.Slug,
		PlanID:         b.PlanID,
		Provider:       string(b.Provider),
		SubscriptionID: b.ProviderSubscriptionID,
		ReferredBy:     b.ReferredBy,
		CreatedAt:      b.CreatedAt,
	})
}

// ReferralCredited сообщает рефереру о начислении вознаграждения и публикует событие referral.credited.
// referrer может быть nil: тогда отправляется только событие.
func (d *Dispatcher) ReferralCredited(ctx context.Context, referrer *model.Business, txn *model.ReferralTransaction) {
	if txn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
	defer cancel()

	if referrer != nil && referrer.Email != "" {
		html, text, err := RenderReferralEmail(ReferralData{
			BusinessName:  referrer.Name,
			ReferredName:  txn.ReferredName,
			Amount:        txn.Amount,
			ReferralCount: referrer.ReferralCount,
			Balance:       referrer.ReferralBalance,
			DashboardURL:  d.baseURL + "/dashboard?token=" + referrer.PrivateToken,
		})
		if err == nil {
			err = d.sender.Send(ctx, Message{
				From:    d.from,
				To:      referrer.Email,
				Subject: "Ganaste una recompensa por referido",
				HTML:    html,
				Text:    text,
			})
		}
		if err != nil {
			d.logger.Error("failed to send referral email", zap.String("referrer_id", referrer.ID), zap.Error(err))
		}
	}

	d.publish(ctx, RoutingReferralCredited, ReferralCreditedEvent{
		TransactionID: txn.ID,
		ReferrerID:    txn.ReferrerID,
		ReferredID:    txn.ReferredID,
		Amount:        txn.Amount,
		CreatedAt:     txn.CreatedAt,
	})
}

func (d *Dispatcher) publish(ctx context.Context, routingKey string, body any) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.Publish(ctx, routingKey, body); err != nil {
		d.logger.Error("failed to publish event", zap.String("routing_key", routingKey), zap.Error(err))
	}
}
