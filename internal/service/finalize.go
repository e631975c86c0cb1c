package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/valoralocal/reconciler/internal/metrics"
	"github.com/valoralocal/reconciler/internal/model"
	"github.com/valoralocal/reconciler/internal/repository"
	"github.com/valoralocal/reconciler/internal/tokens"
)

const (
	maxSlugAttempts     = 50
	maxReferralAttempts = 10
	maxCreateAttempts   = 100
)

// FinalizeSubscription превращает оплаченную ожидающую подписку в бизнес ровно один раз.
// Если записи ожидающей подписки нет, она восстанавливается из fallback (данных checkout,
// вернувшихся от провайдера). Повторный вызов для уже обработанной подписки возвращает
// существующий бизнес.
func (s *Service) FinalizeSubscription(ctx context.Context, provider model.Provider, providerID string, fallback *model.PendingSubscription) (*model.Business, error) {
	log := s.logger.With(zap.String("provider", string(provider)), zap.String("subscription_id", providerID))

	pending, err := s.loadPending(ctx, provider, providerID, fallback)
	if err != nil {
		return nil, err
	}

	if pending.Status == model.PendingStatusCompleted && pending.BusinessID != "" {
		b, err := s.store.GetBusiness(ctx, pending.BusinessID)
		if err == nil {
			metrics.FinalizeTotal.WithLabelValues(string(provider), metrics.OutcomeExisting).Inc()
			return b, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("load completed business: %w", err)
		}
	}

	existing, err := s.store.GetBusinessBySubscription(ctx, provider, providerID)
	switch {
	case err == nil:
		return s.resumeExisting(ctx, pending, existing, log)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("lookup business: %w", err)
	}

	now := s.now()
	claimed, err := s.store.ClaimPending(ctx, providerID, now, now.Add(-s.opts.ProcessingTimeout))
	if err != nil {
		return nil, err
	}
	if !claimed {
		metrics.FinalizeTotal.WithLabelValues(string(provider), metrics.OutcomeInProgress).Inc()
		return nil, ErrFinalizeInProgress
	}

	b, err := s.createClaimed(ctx, pending, now)
	if err != nil {
		if relErr := s.store.ReleasePending(context.WithoutCancel(ctx), providerID); relErr != nil {
			log.Error("failed to release pending subscription", zap.Error(relErr))
		}
		metrics.FinalizeTotal.WithLabelValues(string(provider), metrics.OutcomeError).Inc()
		return nil, err
	}
	return b, nil
}

// resumeExisting завершает ожидающую запись, если бизнес уже вставлен, а запись нет
// (предыдущая попытка упала после вставки). Приветственное письмо в этом случае ещё не
// отправлено, поэтому его отправляет тот, кто захватил и завершил запись.
func (s *Service) resumeExisting(ctx context.Context, pending *model.PendingSubscription, existing *model.Business, log *zap.Logger) (*model.Business, error) {
	provider := pending.Provider
	if pending.Status == model.PendingStatusCompleted {
		if err := s.complete(ctx, pending, existing); err != nil {
			return nil, err
		}
		metrics.FinalizeTotal.WithLabelValues(string(provider), metrics.OutcomeExisting).Inc()
		return existing, nil
	}

	now := s.now()
	claimed, err := s.store.ClaimPending(ctx, pending.ID, now, now.Add(-s.opts.ProcessingTimeout))
	if err != nil {
		return nil, err
	}
	if !claimed {
		if current, err := s.store.GetPending(ctx, pending.ID); err == nil && current.Status == model.PendingStatusCompleted {
			metrics.FinalizeTotal.WithLabelValues(string(provider), metrics.OutcomeExisting).Inc()
			return existing, nil
		}
		metrics.FinalizeTotal.WithLabelValues(string(provider), metrics.OutcomeInProgress).Inc()
		return nil, ErrFinalizeInProgress
	}

	log.Info("business already exists, completing pending subscription", zap.String("business_id", existing.ID))
	if err := s.complete(ctx, pending, existing); err != nil {
		if relErr := s.store.ReleasePending(context.WithoutCancel(ctx), pending.ID); relErr != nil {
			log.Error("failed to release pending subscription", zap.Error(relErr))
		}
		metrics.FinalizeTotal.WithLabelValues(string(provider), metrics.OutcomeError).Inc()
		return nil, err
	}

	metrics.FinalizeTotal.WithLabelValues(string(provider), metrics.OutcomeExisting).Inc()
	plan, err := s.plan(existing.PlanID)
	if err != nil {
		log.Warn("welcome notification skipped", zap.String("plan_id", existing.PlanID), zap.Error(err))
		return existing, nil
	}
	s.notifier.BusinessCreated(ctx, existing, plan)
	return existing, nil
}

func (s *Service) loadPending(ctx context.Context, provider model.Provider, providerID string, fallback *model.PendingSubscription) (*model.PendingSubscription, error) {
	pending, err := s.store.GetPending(ctx, providerID)
	if err == nil {
		return pending, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load pending subscription: %w", err)
	}
	if fallback == nil || fallback.PlanID == "" {
		return nil, fmt.Errorf("%w: %s", ErrPendingNotFound, providerID)
	}

	restored := *fallback
	restored.ID = providerID
	restored.Provider = provider
	restored.Status = model.PendingStatusPending
	restored.CreatedAt = s.now()
	if _, err := s.store.CreatePending(ctx, &restored); err != nil {
		return nil, fmt.Errorf("restore pending subscription: %w", err)
	}

	s.logger.Info("pending subscription restored from provider payload",
		zap.String("provider", string(provider)),
		zap.String("subscription_id", providerID),
	)

	return s.store.GetPending(ctx, providerID)
}

func (s *Service) createClaimed(ctx context.Context, pending *model.PendingSubscription, now time.Time) (*model.Business, error) {
	plan, err := s.plan(pending.PlanID)
	if err != nil {
		return nil, err
	}

	b, err := s.newBusiness(pending, plan, now)
	if err != nil {
		return nil, err
	}

	created, isNew, err := s.insertBusiness(ctx, b, now)
	if err != nil {
		return nil, err
	}

	if err := s.complete(ctx, pending, created); err != nil {
		return nil, err
	}

	if isNew {
		metrics.FinalizeTotal.WithLabelValues(string(pending.Provider), metrics.OutcomeCreated).Inc()
		s.logger.Info("business created",
			zap.String("business_id", created.ID),
			zap.String("slug", created.Slug),
			zap.String("provider", string(created.Provider)),
			zap.String("subscription_id", created.ProviderSubscriptionID),
		)
		s.notifier.BusinessCreated(ctx, created, plan)
	} else {
		metrics.FinalizeTotal.WithLabelValues(string(pending.Provider), metrics.OutcomeExisting).Inc()
	}
	return created, nil
}

// complete начисляет реферальное вознаграждение (идемпотентно) и помечает ожидающую подписку завершённой.
func (s *Service) complete(ctx context.Context, pending *model.PendingSubscription, b *model.Business) error {
	now := s.now()

	if pending.ReferralCode != "" && pending.Status != model.PendingStatusCompleted {
		outcome, txn, err := s.referrals.Credit(ctx, pending.ReferralCode, b, now)
		if err != nil {
			return err
		}
		metrics.ReferralCreditsTotal.WithLabelValues(string(outcome)).Inc()
		if outcome == model.ReferralCredited && txn != nil {
			referrer, err := s.store.GetBusiness(ctx, txn.ReferrerID)
			if err != nil {
				s.logger.Warn("referrer lookup for notification failed", zap.String("referrer_id", txn.ReferrerID), zap.Error(err))
				referrer = nil
			}
			s.notifier.ReferralCredited(ctx, referrer, txn)
		}
	}

	if pending.Status != model.PendingStatusCompleted || pending.BusinessID != b.ID {
		if err := s.store.CompletePending(ctx, pending.ID, b.ID, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) newBusiness(pending *model.PendingSubscription, plan model.Plan, now time.Time) (*model.Business, error) {
	privateToken, err := tokens.PrivateToken()
	if err != nil {
		return nil, err
	}
	adminToken, err := tokens.AdminToken()
	if err != nil {
		return nil, err
	}
	code, err := tokens.ReferralCode()
	if err != nil {
		return nil, err
	}

	amount, currency := s.planPrice(pending.Provider, plan)
	expires := now.Add(plan.Duration())
	nextBilling := now.AddDate(0, plan.FrequencyMonths, 0)
	lastPayment := now

	return &model.Business{
		ID:                     uuid.NewString(),
		Name:                   pending.BusinessName,
		Slug:                   tokens.Slugify(pending.BusinessName),
		PrivateToken:           privateToken,
		AdminToken:             adminToken,
		Email:                  pending.Email,
		PlanID:                 plan.ID,
		Provider:               pending.Provider,
		ProviderSubscriptionID: pending.ID,
		Status:                 model.BusinessStatusActive,
		Amount:                 amount,
		Currency:               currency,
		ExpiresAt:              &expires,
		NextBillingDate:        &nextBilling,
		LastPaymentAt:          &lastPayment,
		ReferralCode:           code,
		ReferredBy:             pending.ReferralCode,
		CreatedAt:              now,
	}, nil
}

// insertBusiness вставляет бизнес, подбирая свободный slug и реферальный код при конфликтах
// уникальности. Slug перебирается как base, base-2, base-3 и так далее.
func (s *Service) insertBusiness(ctx context.Context, b *model.Business, now time.Time) (*model.Business, bool, error) {
	base := b.Slug
	slugAttempt := 0
	codeAttempt := 0

	for i := 0; i < maxCreateAttempts; i++ {
		created, isNew, err := s.store.CreateBusiness(ctx, b)
		switch {
		case err == nil:
			return created, isNew, nil

		case errors.Is(err, repository.ErrSlugTaken):
			slugAttempt++
			if slugAttempt < maxSlugAttempts {
				b.Slug = tokens.SlugCandidate(base, slugAttempt)
			} else {
				b.Slug = fmt.Sprintf("%s-%d", base, now.UnixNano()+int64(slugAttempt))
			}

		case errors.Is(err, repository.ErrReferralCodeTaken):
			codeAttempt++
			var code string
			if codeAttempt < maxReferralAttempts {
				code, err = tokens.ReferralCode()
			} else {
				code, err = tokens.FallbackReferralCode()
			}
			if err != nil {
				return nil, false, err
			}
			b.ReferralCode = code

		case errors.Is(err, repository.ErrTokenTaken):
			token, err := tokens.PrivateToken()
			if err != nil {
				return nil, false, err
			}
			b.PrivateToken = token

		default:
			return nil, false, fmt.Errorf("create business: %w", err)
		}
	}

	return nil, false, fmt.Errorf("create business: no free slug or referral code after %d attempts", maxCreateAttempts)
}

func (s *Service) planPrice(provider model.Provider, plan model.Plan) (int64, string) {
	if provider == model.ProviderPayPal {
		return minorUnits(plan.PriceUSD), s.opts.PayPalCurrency
	}
	return plan.PriceCLP, s.opts.MercadoPagoCurrency
}

// minorUnits переводит десятичную сумму вида "12.00" в центы.
func minorUnits(value string) int64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(f * 100))
}
