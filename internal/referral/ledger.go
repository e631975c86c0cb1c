// Package referral реализует реферальную программу: проверку кодов и начисление
// вознаграждения владельцу кода с ограничением на число приглашённых.
package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/valoralocal/reconciler/internal/model"
	"github.com/valoralocal/reconciler/internal/repository"
	"github.com/valoralocal/reconciler/internal/validation"
)

// Store описывает операции хранилища, нужные реферальной программе.
type Store interface {
	GetBusinessByReferralCode(ctx context.Context, code string) (*model.Business, error)
	CreditReferral(ctx context.Context, code string, referred *model.Business, amount int64, maxReferrals int, now time.Time) (model.ReferralOutcome, *model.ReferralTransaction, error)
}

// Ledger проверяет реферальные коды и начисляет вознаграждения.
type Ledger struct {
	store        Store
	logger       *zap.Logger
	maxReferrals int
	reward       int64
}

// NewLedger создаёт реферальный журнал с лимитом приглашений и размером вознаграждения.
func NewLedger(store Store, logger *zap.Logger, maxReferrals int, reward int64) *Ledger {
	return &Ledger{
		store:        store,
		logger:       logger,
		maxReferrals: maxReferrals,
		reward:       reward,
	}
}

// MaxReferrals возвращает лимит приглашений на одного реферера.
func (l *Ledger) MaxReferrals() int { return l.maxReferrals }

// Reward возвращает размер вознаграждения за одно приглашение.
func (l *Ledger) Reward() int64 { return l.reward }

// ValidateCode нормализует код и возвращает его, если владелец кода существует
// и ещё не исчерпал лимит. Неизвестный или исчерпанный код считается отсутствующим.
func (l *Ledger) ValidateCode(ctx context.Context, code string) (string, bool) {
	code = validation.NormalizeReferralCode(code)
	if !validation.IsReferralCodeFormat(code) {
		return "", false
	}

	referrer, err := l.store.GetBusinessByReferralCode(ctx, code)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			l.logger.Warn("referral code lookup failed", zap.String("code", code), zap.Error(err))
		}
		return "", false
	}

	if referrer.ReferralCount >= l.maxReferrals {
		return "", false
	}
	return code, true
}

// Credit начисляет вознаграждение владельцу кода за бизнес referred.
// Отсутствие реферера и достижение лимита не считаются ошибкой и отражаются в результате.
func (l *Ledger) Credit(ctx context.Context, code string, referred *model.Business, now time.Time) (model.ReferralOutcome, *model.ReferralTransaction, error) {
	code = validation.NormalizeReferralCode(code)
	if code == "" {
		return model.ReferralReferrerNotFound, nil, nil
	}

	outcome, txn, err := l.store.CreditReferral(ctx, code, referred, l.reward, l.maxReferrals, now)
	if err != nil {
		return "", nil, fmt.Errorf("credit referral %s: %w", code, err)
	}

	l.logger.Info("referral credit processed",
		zap.String("code", code),
		zap.String("referred_id", referred.ID),
		zap.String("outcome", string(outcome)),
	)
	return outcome, txn, nil
}
