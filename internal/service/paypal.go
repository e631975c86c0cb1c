package service

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/valoralocal/reconciler/internal/model"
	"github.com/valoralocal/reconciler/internal/paypal"
)

const brandName = "ValoraLocal"

func (s *Service) payPalContext(returnPath, userAction string) *paypal.ApplicationContext {
	return &paypal.ApplicationContext{
		BrandName:  brandName,
		UserAction: userAction,
		ReturnURL:  s.opts.BaseURL + returnPath,
		CancelURL:  s.opts.BaseURL + "/?error=cancelled",
	}
}

// CreatePayPalOrder создаёт разовый заказ PayPal на период плана и сохраняет ожидающую запись.
func (s *Service) CreatePayPalOrder(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	plan, payload, err := s.prepareCheckout(ctx, req)
	if err != nil {
		return nil, err
	}

	customID, err := paypal.EncodeCustomID(payload)
	if err != nil {
		return nil, err
	}

	order, err := s.pp.CreateOrder(ctx, paypal.OrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []paypal.PurchaseUnit{{
			CustomID:    customID,
			Description: plan.Name,
			Amount:      &paypal.Money{CurrencyCode: s.opts.PayPalCurrency, Value: plan.PriceUSD},
		}},
		ApplicationContext: s.payPalContext("/api/paypal/capture", "PAY_NOW"),
	})
	if err != nil {
		return nil, err
	}

	if err := s.savePayPalPending(ctx, order.ID, payload, model.PaymentMethodPayPalOrder); err != nil {
		return nil, err
	}

	s.logger.Info("paypal order created", zap.String("order_id", order.ID), zap.String("plan_id", plan.ID))

	return &CheckoutResult{ID: order.ID, RedirectURL: order.ApproveURL()}, nil
}

// CreatePayPalSubscription создаёт подписку PayPal на план и сохраняет ожидающую запись.
func (s *Service) CreatePayPalSubscription(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	plan, payload, err := s.prepareCheckout(ctx, req)
	if err != nil {
		return nil, err
	}
	if plan.PayPalPlanID == "" {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotConfigured, plan.ID)
	}

	customID, err := paypal.EncodeCustomID(payload)
	if err != nil {
		return nil, err
	}

	sub, err := s.pp.CreateSubscription(ctx, paypal.SubscriptionRequest{
		PlanID:             plan.PayPalPlanID,
		CustomID:           customID,
		Subscriber:         &paypal.Subscriber{EmailAddress: payload.Email},
		ApplicationContext: s.payPalContext("/api/paypal/subscription-success", "SUBSCRIBE_NOW"),
	})
	if err != nil {
		return nil, err
	}

	if err := s.savePayPalPending(ctx, sub.ID, payload, model.PaymentMethodPayPalSubscription); err != nil {
		return nil, err
	}

	s.logger.Info("paypal subscription created", zap.String("subscription_id", sub.ID), zap.String("plan_id", plan.ID))

	return &CheckoutResult{ID: sub.ID, RedirectURL: sub.ApproveURL()}, nil
}

func (s *Service) savePayPalPending(ctx context.Context, id string, payload model.CheckoutPayload, method model.PaymentMethod) error {
	pending := pendingFromPayload(payload, method)
	pending.ID = id
	pending.Provider = model.ProviderPayPal
	pending.CreatedAt = s.now()
	_, err := s.store.CreatePending(ctx, pending)
	return err
}

// SetupPayPalPlans создаёт продукт каталога и по одному плану подписки на каждый тариф.
// Возвращает соответствие идентификатора тарифа идентификатору плана PayPal.
func (s *Service) SetupPayPalPlans(ctx context.Context) (map[string]string, error) {
	product, err := s.pp.CreateProduct(ctx, paypal.Product{
		Name:        brandName,
		Description: "Encuestas de satisfacción para negocios locales",
		Type:        "SERVICE",
		Category:    "SOFTWARE",
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(s.opts.Plans))
	for id := range s.opts.Plans {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	res := make(map[string]string, len(ids))
	for _, id := range ids {
		plan := s.opts.Plans[id]
		created, err := s.pp.CreatePlan(ctx, paypal.MonthlyPlanRequest(
			product.ID,
			plan.Name,
			plan.FrequencyMonths,
			paypal.Money{CurrencyCode: s.opts.PayPalCurrency, Value: plan.PriceUSD},
		))
		if err != nil {
			return nil, err
		}
		res[id] = created.ID
		s.logger.Info("paypal plan created", zap.String("plan_id", id), zap.String("paypal_plan_id", created.ID))
	}
	return res, nil
}

// CapturePayPalOrder списывает оплату по заказу, к которому вернулся покупатель, и финализирует бизнес.
func (s *Service) CapturePayPalOrder(ctx context.Context, orderID string) (*model.Business, error) {
	order, err := s.pp.CaptureOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsCompleted() {
		return nil, fmt.Errorf("%w: order %s is %s", ErrPaymentNotCompleted, orderID, order.Status)
	}

	if err := s.savePayPalCapture(ctx, order); err != nil {
		s.logger.Error("failed to save paypal capture", zap.String("order_id", orderID), zap.Error(err))
	}

	fallback := payPalFallback(order.CustomID(), order.Payer.EmailAddress, model.PaymentMethodPayPalOrder)
	return s.FinalizeSubscription(ctx, model.ProviderPayPal, orderID, fallback)
}

// savePayPalCapture сохраняет списание по заказу в журнал платежей.
func (s *Service) savePayPalCapture(ctx context.Context, order *paypal.Order) error {
	capture, ok := order.FirstCapture()
	if !ok {
		return nil
	}
	amount, _ := strconv.ParseFloat(capture.Amount.Value, 64)
	return s.store.SavePayment(ctx, &model.Payment{
		ID:             capture.ID,
		Provider:       model.ProviderPayPal,
		SubscriptionID: order.ID,
		Status:         capture.Status,
		Amount:         amount,
		Currency:       capture.Amount.CurrencyCode,
		PayerEmail:     order.Payer.EmailAddress,
		CreatedAt:      s.now(),
	})
}

// CompletePayPalSubscription проверяет подписку, к которой вернулся покупатель, и финализирует бизнес.
func (s *Service) CompletePayPalSubscription(ctx context.Context, subscriptionID string) (*model.Business, error) {
	sub, err := s.pp.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if !sub.IsActive() {
		return nil, fmt.Errorf("%w: subscription %s is %s", ErrPaymentNotCompleted, subscriptionID, sub.Status)
	}

	fallback := payPalFallback(sub.CustomID, sub.Subscriber.EmailAddress, model.PaymentMethodPayPalSubscription)
	return s.FinalizeSubscription(ctx, model.ProviderPayPal, subscriptionID, fallback)
}

func payPalFallback(customID, payerEmail string, method model.PaymentMethod) *model.PendingSubscription {
	payload, err := model.DecodeCheckoutPayload(customID)
	if err != nil {
		return nil
	}
	fallback := pendingFromPayload(payload, method)
	if fallback.Email == "" {
		fallback.Email = payerEmail
	}
	return fallback
}

// VerifyPayPalWebhook проверяет подпись вебхука. Вне боевого режима проверка пропускается.
func (s *Service) VerifyPayPalWebhook(ctx context.Context, header http.Header, body []byte) (bool, error) {
	if !s.opts.PayPalLive {
		return true, nil
	}
	return s.pp.VerifyWebhookSignature(ctx, header, body)
}

// HandlePayPalEvent применяет событие вебхука PayPal к бизнесу подписки.
// Каждое событие применяется не более одного раза: идентификатор события записывается
// в журнал в той же транзакции, что и изменение бизнеса.
func (s *Service) HandlePayPalEvent(ctx context.Context, ev *paypal.Event) error {
	if ev.SubscriptionID == "" {
		s.logger.Info("paypal event without subscription ignored",
			zap.String("event_id", ev.ID),
			zap.String("event_type", string(ev.Kind)),
		)
		return nil
	}

	now := s.now()
	var mutate func(b *model.Business) error

	switch ev.Kind {
	case paypal.KindSaleCompleted:
		if err := s.savePayPalSale(ctx, ev); err != nil {
			return err
		}
		mutate = func(b *model.Business) error {
			plan, err := s.plan(b.PlanID)
			if err != nil {
				return err
			}
			expires := expiryFrom(b.ExpiresAt, now, plan.Duration())
			b.ExpiresAt = &expires
			b.Status = model.BusinessStatusActive
			b.LastPaymentAt = &now
			return nil
		}

	case paypal.KindSubscriptionSuspended:
		mutate = func(b *model.Business) error {
			b.Status = model.BusinessStatusSuspended
			b.SuspendedAt = &now
			return nil
		}

	case paypal.KindSubscriptionCancelled:
		mutate = func(b *model.Business) error {
			b.Status = model.BusinessStatusCancelled
			b.CancelledAt = &now
			return nil
		}

	case paypal.KindSubscriptionActivated, paypal.KindSubscriptionReactivated:
		mutate = func(b *model.Business) error {
			b.Status = model.BusinessStatusActive
			if b.ExpiresAt == nil || b.ExpiresAt.Before(now) {
				plan, err := s.plan(b.PlanID)
				if err != nil {
					return err
				}
				expires := now.Add(plan.Duration())
				b.ExpiresAt = &expires
			}
			return nil
		}

	case paypal.KindSubscriptionPaymentFailed:
		mutate = func(b *model.Business) error {
			b.LastPaymentFailedAt = &now
			return nil
		}

	default:
		return fmt.Errorf("%w: %s", paypal.ErrUnknownEventType, ev.Kind)
	}

	key := model.EventKey{Provider: model.ProviderPayPal, ID: ev.ID, Type: string(ev.Kind)}
	applied, err := s.store.MutateBusinessBySubscription(ctx, key, model.ProviderPayPal, ev.SubscriptionID, mutate)
	return s.logMutation(err, applied, model.ProviderPayPal, ev.SubscriptionID, ev.ID)
}

func (s *Service) savePayPalSale(ctx context.Context, ev *paypal.Event) error {
	if ev.SaleID == "" {
		return nil
	}
	amount, _ := strconv.ParseFloat(ev.Amount, 64)
	return s.store.SavePayment(ctx, &model.Payment{
		ID:             ev.SaleID,
		Provider:       model.ProviderPayPal,
		SubscriptionID: ev.SubscriptionID,
		Status:         "completed",
		Amount:         amount,
		Currency:       ev.Currency,
		Raw:            ev.Raw,
		CreatedAt:      s.now(),
	})
}

// expiryFrom продлевает срок действия на d от более поздней из дат: текущего срока или now.
func expiryFrom(current *time.Time, now time.Time, d time.Duration) time.Time {
	base := now
	if current != nil && current.After(now) {
		base = *current
	}
	return base.Add(d)
}
