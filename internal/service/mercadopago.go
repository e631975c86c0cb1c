package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/valoralocal/reconciler/internal/mercadopago"
	"github.com/valoralocal/reconciler/internal/model"
	"github.com/valoralocal/reconciler/internal/repository"
	"github.com/valoralocal/reconciler/internal/validation"
)

// CheckoutRequest — данные, которые покупатель вводит при оформлении подписки.
type CheckoutRequest struct {
	PlanID       string `json:"plan_id" validate:"required"`
	BusinessName string `json:"business_name" validate:"required,max=120"`
	Email        string `json:"email" validate:"required,email,max=200"`
	ReferralCode string `json:"referral_code,omitempty" validate:"omitempty,max=64"`
}

// CheckoutResult — созданный у провайдера объект и ссылка, по которой покупатель подтверждает оплату.
type CheckoutResult struct {
	ID          string `json:"id"`
	RedirectURL string `json:"redirect_url"`
}

// prepareCheckout проверяет запрос, определяет план и оставляет реферальный код,
// только если он действителен. Недействительный код молча отбрасывается.
func (s *Service) prepareCheckout(ctx context.Context, req CheckoutRequest) (model.Plan, model.CheckoutPayload, error) {
	if err := validation.Struct(req); err != nil {
		return model.Plan{}, model.CheckoutPayload{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	plan, err := s.plan(req.PlanID)
	if err != nil {
		return model.Plan{}, model.CheckoutPayload{}, err
	}

	payload := model.CheckoutPayload{
		PlanID:       plan.ID,
		BusinessName: req.BusinessName,
		Email:        req.Email,
	}
	if req.ReferralCode != "" {
		if code, ok := s.referrals.ValidateCode(ctx, req.ReferralCode); ok {
			payload.ReferralCode = code
		} else {
			s.logger.Info("referral code ignored at checkout", zap.String("code", req.ReferralCode))
		}
	}
	return plan, payload, nil
}

func pendingFromPayload(p model.CheckoutPayload, method model.PaymentMethod) *model.PendingSubscription {
	return &model.PendingSubscription{
		PlanID:        p.PlanID,
		Email:         p.Email,
		BusinessName:  p.BusinessName,
		ReferralCode:  p.ReferralCode,
		PaymentMethod: method,
	}
}

// CreateMercadoPagoSubscription создаёт подписку MercadoPago и сохраняет ожидающую запись.
func (s *Service) CreateMercadoPagoSubscription(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	plan, payload, err := s.prepareCheckout(ctx, req)
	if err != nil {
		return nil, err
	}

	ref, err := payload.Encode(mercadopago.ExternalReferenceMaxLen)
	if err != nil {
		return nil, err
	}

	pre, err := s.mp.CreatePreapproval(ctx, mercadopago.PreapprovalRequest{
		Reason:            plan.Name,
		ExternalReference: ref,
		PayerEmail:        payload.Email,
		BackURL:           s.opts.BaseURL + "/registro-exitoso",
		AutoRecurring: mercadopago.AutoRecurring{
			Frequency:         plan.FrequencyMonths,
			FrequencyType:     "months",
			TransactionAmount: float64(plan.PriceCLP),
			CurrencyID:        s.opts.MercadoPagoCurrency,
		},
	})
	if err != nil {
		return nil, err
	}

	pending := pendingFromPayload(payload, model.PaymentMethodMercadoPagoSubscription)
	pending.ID = pre.ID
	pending.Provider = model.ProviderMercadoPago
	pending.CreatedAt = s.now()
	if _, err := s.store.CreatePending(ctx, pending); err != nil {
		return nil, err
	}

	s.logger.Info("mercadopago subscription created",
		zap.String("subscription_id", pre.ID),
		zap.String("plan_id", plan.ID),
	)

	return &CheckoutResult{ID: pre.ID, RedirectURL: pre.InitPoint}, nil
}

// HandleMercadoPagoNotification применяет уведомление MercadoPago.
func (s *Service) HandleMercadoPagoNotification(ctx context.Context, n mercadopago.Notification) error {
	switch n.Kind {
	case mercadopago.KindPreapproval:
		return s.handlePreapproval(ctx, n.DataID)
	case mercadopago.KindAuthorizedPayment:
		return s.handleAuthorizedPayment(ctx, n.DataID)
	case mercadopago.KindPayment:
		return s.handlePayment(ctx, n.DataID, "")
	default:
		return fmt.Errorf("%w: %s", mercadopago.ErrUnknownEventType, n.Kind)
	}
}

func (s *Service) handlePreapproval(ctx context.Context, id string) error {
	pre, err := s.mp.GetPreapproval(ctx, id)
	if err != nil {
		return err
	}

	switch {
	case pre.IsAuthorized():
		var fallback *model.PendingSubscription
		if payload, err := model.DecodeCheckoutPayload(pre.ExternalReference); err == nil {
			fallback = pendingFromPayload(payload, model.PaymentMethodMercadoPagoSubscription)
			if fallback.Email == "" {
				fallback.Email = pre.PayerEmail
			}
		}
		_, err := s.FinalizeSubscription(ctx, model.ProviderMercadoPago, pre.ID, fallback)
		return err

	case pre.Status == mercadopago.PreapprovalPaused || pre.Status == mercadopago.PreapprovalCancelled:
		return s.cancelMercadoPagoSubscription(ctx, pre.ID, pre.Status)

	default:
		s.logger.Info("mercadopago preapproval status ignored",
			zap.String("subscription_id", pre.ID),
			zap.String("status", pre.Status),
		)
		return nil
	}
}

// cancelMercadoPagoSubscription переносит текущий статус подписки на бизнес.
// Событие не дедуплицируется: повторная пауза после возобновления должна примениться.
func (s *Service) cancelMercadoPagoSubscription(ctx context.Context, id, status string) error {
	now := s.now()

	newStatus := model.BusinessStatusCancelled
	if status == mercadopago.PreapprovalPaused {
		newStatus = model.BusinessStatusPaused
	}

	applied, err := s.store.MutateBusinessBySubscription(ctx, model.EventKey{}, model.ProviderMercadoPago, id, func(b *model.Business) error {
		b.Status = newStatus
		b.CancelledAt = &now
		return nil
	})
	return s.logMutation(err, applied, model.ProviderMercadoPago, id, "preapproval:"+id+":"+status)
}

func (s *Service) handleAuthorizedPayment(ctx context.Context, id string) error {
	ap, err := s.mp.GetAuthorizedPayment(ctx, id)
	if err != nil {
		return err
	}

	if ap.Payment.ID == 0 || ap.Payment.Status != mercadopago.PaymentApproved {
		s.logger.Info("mercadopago authorized payment not approved yet",
			zap.String("authorized_payment_id", id),
			zap.String("status", ap.Status),
		)
		return nil
	}
	return s.handlePayment(ctx, mercadopago.FormatID(ap.Payment.ID), ap.PreapprovalID)
}

// handlePayment сохраняет платёж и для одобренного платежа по подписке продлевает её
// на период плана. subscriptionHint используется, если в платеже нет ссылки на подписку.
func (s *Service) handlePayment(ctx context.Context, id, subscriptionHint string) error {
	p, err := s.mp.GetPayment(ctx, id)
	if err != nil {
		return err
	}

	subID := p.SubscriptionID()
	if subID == "" {
		subID = subscriptionHint
	}

	if err := s.store.SavePayment(ctx, &model.Payment{
		ID:             mercadopago.FormatID(p.ID),
		Provider:       model.ProviderMercadoPago,
		SubscriptionID: subID,
		Status:         p.Status,
		Amount:         p.TransactionAmount,
		Currency:       p.CurrencyID,
		PayerEmail:     p.Payer.Email,
		Raw:            p.Raw,
		CreatedAt:      s.now(),
	}); err != nil {
		return err
	}

	if !p.IsApproved() || subID == "" {
		return nil
	}

	now := s.now()
	key := model.EventKey{
		Provider: model.ProviderMercadoPago,
		ID:       "payment:" + mercadopago.FormatID(p.ID),
		Type:     string(mercadopago.KindPayment),
	}

	applied, err := s.store.MutateBusinessBySubscription(ctx, key, model.ProviderMercadoPago, subID, func(b *model.Business) error {
		plan, err := s.plan(b.PlanID)
		if err != nil {
			return err
		}
		next := now.AddDate(0, plan.FrequencyMonths, 0)
		b.NextBillingDate = &next
		b.ExpiresAt = &next
		b.Status = model.BusinessStatusActive
		b.LastPaymentAt = &now
		return nil
	})
	return s.logMutation(err, applied, model.ProviderMercadoPago, subID, key.ID)
}

// logMutation сводит результат изменения бизнеса по событию к ошибке для вызывающего.
// Отсутствие бизнеса не считается ошибкой: событие не записано и может быть применено при повторной доставке.
func (s *Service) logMutation(err error, applied bool, provider model.Provider, subscriptionID, eventID string) error {
	log := s.logger.With(
		zap.String("provider", string(provider)),
		zap.String("subscription_id", subscriptionID),
		zap.String("event_id", eventID),
	)

	switch {
	case errors.Is(err, repository.ErrNotFound):
		log.Warn("business not found for event")
		return nil
	case err != nil:
		return err
	case !applied:
		log.Info("duplicate event ignored")
		return nil
	default:
		log.Info("event applied")
		return nil
	}
}
