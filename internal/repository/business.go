package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/valoralocal/reconciler/internal/model"
)

const businessColumns = `id, name, slug, private_token, admin_token, email, plan_id, provider,
	provider_subscription_id, status, amount, currency, expires_at, next_billing_date,
	last_payment_at, last_payment_failed_at, suspended_at, cancelled_at, referral_code,
	referred_by, referral_count, referral_balance, created_at, updated_at`

// CreateBusiness создаёт бизнес. Если бизнес для той же подписки провайдера уже существует,
// возвращает существующую запись и created=false.
func (r *PostgresRepository) CreateBusiness(ctx context.Context, b *model.Business) (*model.Business, bool, error) {
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	tag, err := r.pool.Exec(ctx,
		`INSERT INTO businesses (`+businessColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24)
		ON CONFLICT (provider, provider_subscription_id) DO NOTHING`,
		b.ID, b.Name, b.Slug, b.PrivateToken, b.AdminToken, b.Email, b.PlanID, string(b.Provider),
		b.ProviderSubscriptionID, string(b.Status), b.Amount, b.Currency, b.ExpiresAt, b.NextBillingDate,
		b.LastPaymentAt, b.LastPaymentFailedAt, b.SuspendedAt, b.CancelledAt, b.ReferralCode,
		b.ReferredBy, b.ReferralCount, b.ReferralBalance, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			switch constraint {
			case constraintSlug:
				return nil, false, fmt.Errorf("%w: %s", ErrSlugTaken, b.Slug)
			case constraintReferralCode:
				return nil, false, fmt.Errorf("%w: %s", ErrReferralCodeTaken, b.ReferralCode)
			case constraintPrivateToken:
				return nil, false, ErrTokenTaken
			}
		}
		return nil, false, fmt.Errorf("insert business: %w", err)
	}

	if tag.RowsAffected() == 1 {
		return b, true, nil
	}

	existing, err := r.GetBusinessBySubscription(ctx, b.Provider, b.ProviderSubscriptionID)
	if err != nil {
		return nil, false, fmt.Errorf("load existing business: %w", err)
	}
	return existing, false, nil
}

// GetBusiness возвращает бизнес по идентификатору.
func (r *PostgresRepository) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+businessColumns+` FROM businesses WHERE id = $1`, id)
	return scanBusiness(row)
}

// GetBusinessBySubscription возвращает бизнес по идентификатору подписки у провайдера.
func (r *PostgresRepository) GetBusinessBySubscription(ctx context.Context, provider model.Provider, subscriptionID string) (*model.Business, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE provider = $1 AND provider_subscription_id = $2`,
		string(provider), subscriptionID,
	)
	return scanBusiness(row)
}

// GetBusinessByReferralCode возвращает бизнес, владеющий реферальным кодом.
func (r *PostgresRepository) GetBusinessByReferralCode(ctx context.Context, code string) (*model.Business, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+businessColumns+` FROM businesses WHERE referral_code = $1`, code)
	return scanBusiness(row)
}

// MutateBusinessBySubscription применяет fn к бизнесу подписки внутри транзакции с блокировкой строки.
// Если key.ID задан, событие записывается в журнал в той же транзакции; повторное событие
// не применяется и возвращает applied=false. Если бизнес не найден, событие не записывается.
func (r *PostgresRepository) MutateBusinessBySubscription(
	ctx context.Context,
	key model.EventKey,
	provider model.Provider,
	subscriptionID string,
	fn func(b *model.Business) error,
) (bool, error) {
	var applied bool

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		applied = false

		if key.ID != "" {
			tag, err := tx.Exec(ctx,
				`INSERT INTO webhook_events (provider, event_id, event_type) VALUES ($1, $2, $3)
				 ON CONFLICT (provider, event_id) DO NOTHING`,
				string(key.Provider), key.ID, key.Type,
			)
			if err != nil {
				return fmt.Errorf("record webhook event: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
		}

		row := tx.QueryRow(ctx,
			`SELECT `+businessColumns+` FROM businesses
			 WHERE provider = $1 AND provider_subscription_id = $2
			 FOR UPDATE`,
			string(provider), subscriptionID,
		)
		b, err := scanBusiness(row)
		if err != nil {
			return err
		}

		if err := fn(b); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE businesses SET
				plan_id = $2, status = $3, amount = $4, currency = $5, expires_at = $6,
				next_billing_date = $7, last_payment_at = $8, last_payment_failed_at = $9,
				suspended_at = $10, cancelled_at = $11, updated_at = NOW()
			 WHERE id = $1`,
			b.ID, b.PlanID, string(b.Status), b.Amount, b.Currency, b.ExpiresAt,
			b.NextBillingDate, b.LastPaymentAt, b.LastPaymentFailedAt,
			b.SuspendedAt, b.CancelledAt,
		)
		if err != nil {
			return fmt.Errorf("update business: %w", err)
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// ExpireBusinesses переводит в expired активные бизнесы, срок действия которых истёк до before.
func (r *PostgresRepository) ExpireBusinesses(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE businesses SET status = $1, updated_at = NOW()
		 WHERE status = $2 AND expires_at IS NOT NULL AND expires_at < $3`,
		string(model.BusinessStatusExpired), string(model.BusinessStatusActive), before,
	)
	if err != nil {
		return 0, fmt.Errorf("expire businesses: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanBusiness(row pgx.Row) (*model.Business, error) {
	var (
		b        model.Business
		provider string
		status   string
	)

	err := row.Scan(
		&b.ID, &b.Name, &b.Slug, &b.PrivateToken, &b.AdminToken, &b.Email, &b.PlanID, &provider,
		&b.ProviderSubscriptionID, &status, &b.Amount, &b.Currency, &b.ExpiresAt, &b.NextBillingDate,
		&b.LastPaymentAt, &b.LastPaymentFailedAt, &b.SuspendedAt, &b.CancelledAt, &b.ReferralCode,
		&b.ReferredBy, &b.ReferralCount, &b.ReferralBalance, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan business: %w", err)
	}

	b.Provider = model.Provider(provider)
	b.Status = model.BusinessStatus(status)
	return &b, nil
}
