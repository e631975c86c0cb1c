package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/valoralocal/reconciler/internal/model"
)

const pendingColumns = `id, provider, plan_id, email, business_name, referral_code, payment_method,
	status, created_at, processing_started_at, completed_at, business_id`

// CreatePending сохраняет ожидающую подписку. Возвращает false, если запись с таким ключом уже есть.
func (r *PostgresRepository) CreatePending(ctx context.Context, p *model.PendingSubscription) (bool, error) {
	if p.Status == "" {
		p.Status = model.PendingStatusPending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	tag, err := r.pool.Exec(ctx,
		`INSERT INTO pending_subscriptions (
			id, provider, plan_id, email, business_name, referral_code, payment_method, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, string(p.Provider), p.PlanID, p.Email, p.BusinessName, p.ReferralCode,
		string(p.PaymentMethod), string(p.Status), p.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert pending subscription: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetPending возвращает ожидающую подписку по идентификатору провайдера.
func (r *PostgresRepository) GetPending(ctx context.Context, id string) (*model.PendingSubscription, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+pendingColumns+` FROM pending_subscriptions WHERE id = $1`,
		id,
	)
	return scanPending(row)
}

// ClaimPending атомарно переводит запись в статус processing.
// Захват удаётся, если запись в статусе pending или её обработка началась раньше staleBefore.
func (r *PostgresRepository) ClaimPending(ctx context.Context, id string, now, staleBefore time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE pending_subscriptions
		 SET status = $2, processing_started_at = $3
		 WHERE id = $1
		   AND (status = $4 OR (status = $2 AND processing_started_at < $5))`,
		id, string(model.PendingStatusProcessing), now,
		string(model.PendingStatusPending), staleBefore,
	)
	if err != nil {
		return false, fmt.Errorf("claim pending subscription: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleasePending возвращает захваченную запись в статус pending.
func (r *PostgresRepository) ReleasePending(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE pending_subscriptions
		 SET status = $2, processing_started_at = NULL
		 WHERE id = $1 AND status = $3`,
		id, string(model.PendingStatusPending), string(model.PendingStatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("release pending subscription: %w", err)
	}
	return nil
}

// CompletePending помечает запись завершённой и связывает её с бизнесом.
func (r *PostgresRepository) CompletePending(ctx context.Context, id, businessID string, now time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE pending_subscriptions
		 SET status = $2, completed_at = $3, business_id = $4
		 WHERE id = $1`,
		id, string(model.PendingStatusCompleted), now, businessID,
	)
	if err != nil {
		return fmt.Errorf("complete pending subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: pending subscription %s", ErrNotFound, id)
	}
	return nil
}

// ResetStalePending возвращает в pending записи, зависшие в processing дольше допустимого.
func (r *PostgresRepository) ResetStalePending(ctx context.Context, staleBefore time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE pending_subscriptions
		 SET status = $1, processing_started_at = NULL
		 WHERE status = $2 AND processing_started_at < $3`,
		string(model.PendingStatusPending), string(model.PendingStatusProcessing), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stale pending subscriptions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanPending(row pgx.Row) (*model.PendingSubscription, error) {
	var (
		p             model.PendingSubscription
		provider      string
		paymentMethod string
		status        string
	)

	err := row.Scan(
		&p.ID, &provider, &p.PlanID, &p.Email, &p.BusinessName, &p.ReferralCode, &paymentMethod,
		&status, &p.CreatedAt, &p.ProcessingStartedAt, &p.CompletedAt, &p.BusinessID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan pending subscription: %w", err)
	}

	p.Provider = model.Provider(provider)
	p.PaymentMethod = model.PaymentMethod(paymentMethod)
	p.Status = model.PendingStatus(status)
	return &p, nil
}
