package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/valoralocal/reconciler/internal/model"
)

// SavePayment сохраняет аудиторскую запись о платеже. Повторная доставка обновляет статус.
func (r *PostgresRepository) SavePayment(ctx context.Context, p *model.Payment) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	var raw any
	if len(p.Raw) > 0 {
		raw = p.Raw
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO payments (id, provider, subscription_id, status, amount, currency, payer_email, raw, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (provider, id) DO UPDATE SET
			status = EXCLUDED.status,
			amount = EXCLUDED.amount,
			raw = EXCLUDED.raw,
			updated_at = NOW()`,
		p.ID, string(p.Provider), p.SubscriptionID, p.Status, p.Amount, p.Currency, p.PayerEmail, raw, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save payment: %w", err)
	}
	return nil
}
