package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/valoralocal/reconciler/internal/model"
)

// CreditReferral начисляет вознаграждение владельцу кода за привлечённый бизнес.
// Строка реферера блокируется на время проверки лимита, поэтому параллельные начисления
// не теряют обновлений; журнал начислений уникален по привлечённому бизнесу.
func (r *PostgresRepository) CreditReferral(
	ctx context.Context,
	code string,
	referred *model.Business,
	amount int64,
	maxReferrals int,
	now time.Time,
) (model.ReferralOutcome, *model.ReferralTransaction, error) {
	var (
		outcome model.ReferralOutcome
		txn     *model.ReferralTransaction
	)

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		txn = nil

		var (
			referrerID string
			count      int
		)
		err := tx.QueryRow(ctx,
			`SELECT id, referral_count FROM businesses WHERE referral_code = $1 FOR UPDATE`,
			code,
		).Scan(&referrerID, &count)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				outcome = model.ReferralReferrerNotFound
				return nil
			}
			return fmt.Errorf("lock referrer: %w", err)
		}

		if referrerID == referred.ID {
			outcome = model.ReferralSelfReferral
			return nil
		}
		if count >= maxReferrals {
			outcome = model.ReferralAtCap
			return nil
		}

		candidate := &model.ReferralTransaction{
			ID:           uuid.NewString(),
			ReferrerID:   referrerID,
			ReferredID:   referred.ID,
			ReferredName: referred.Name,
			Amount:       amount,
			Status:       model.ReferralStatusCredited,
			CreatedAt:    now,
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO referral_transactions (id, referrer_id, referred_id, referred_name, amount, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (referred_id) DO NOTHING`,
			candidate.ID, candidate.ReferrerID, candidate.ReferredID, candidate.ReferredName,
			candidate.Amount, candidate.Status, candidate.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert referral transaction: %w", err)
		}
		if tag.RowsAffected() == 0 {
			outcome = model.ReferralAlreadyCredited
			return nil
		}

		_, err = tx.Exec(ctx,
			`UPDATE businesses
			 SET referral_count = referral_count + 1,
			     referral_balance = referral_balance + $2,
			     updated_at = NOW()
			 WHERE id = $1`,
			referrerID, amount,
		)
		if err != nil {
			return fmt.Errorf("update referrer balance: %w", err)
		}

		outcome = model.ReferralCredited
		txn = candidate
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return outcome, txn, nil
}
