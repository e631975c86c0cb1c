package repository

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valoralocal/reconciler/internal/model"
)

func newTestRepository(t *testing.T) *PostgresRepository {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URI")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URI is not set")
	}

	repo, err := NewPostgresRepository(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return repo
}

func newBusiness(subID string) *model.Business {
	suffix := uuid.NewString()[:8]
	return &model.Business{
		ID:                     uuid.NewString(),
		Name:                   "Café Luna " + suffix,
		Slug:                   "cafe-luna-" + suffix,
		PrivateToken:           uuid.NewString(),
		AdminToken:             uuid.NewString(),
		PlanID:                 "monthly",
		Provider:               model.ProviderMercadoPago,
		ProviderSubscriptionID: subID,
		Status:                 model.BusinessStatusActive,
		ReferralCode:           "LUNA-" + suffix,
	}
}

func TestPostgresRepository_ClaimPendingIsExclusive(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	id := "pre-" + uuid.NewString()
	created, err := repo.CreatePending(ctx, &model.PendingSubscription{
		ID:            id,
		Provider:      model.ProviderMercadoPago,
		PlanID:        "monthly",
		PaymentMethod: model.PaymentMethodMercadoPagoSubscription,
	})
	require.NoError(t, err)
	require.True(t, created)

	now := time.Now().UTC()
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.ClaimPending(ctx, id, now, now.Add(-time.Minute))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won)
}

func TestPostgresRepository_CreateBusinessIsIdempotentPerSubscription(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	subID := "pre-" + uuid.NewString()
	first, created, err := repo.CreateBusiness(ctx, newBusiness(subID))
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := repo.CreateBusiness(ctx, newBusiness(subID))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestPostgresRepository_CreateBusinessSlugTaken(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	b := newBusiness("pre-" + uuid.NewString())
	_, _, err := repo.CreateBusiness(ctx, b)
	require.NoError(t, err)

	dup := newBusiness("pre-" + uuid.NewString())
	dup.Slug = b.Slug
	_, _, err = repo.CreateBusiness(ctx, dup)
	assert.True(t, errors.Is(err, ErrSlugTaken))
}

func TestPostgresRepository_MutateBusinessDeduplicatesEvents(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	subID := "I-" + uuid.NewString()
	b := newBusiness(subID)
	b.Provider = model.ProviderPayPal
	_, _, err := repo.CreateBusiness(ctx, b)
	require.NoError(t, err)

	key := model.EventKey{Provider: model.ProviderPayPal, ID: "WH-" + uuid.NewString(), Type: "PAYMENT.SALE.COMPLETED"}
	calls := 0
	extend := func(b *model.Business) error {
		calls++
		b.Amount += 10
		return nil
	}

	applied, err := repo.MutateBusinessBySubscription(ctx, key, model.ProviderPayPal, subID, extend)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.MutateBusinessBySubscription(ctx, key, model.ProviderPayPal, subID, extend)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 1, calls)

	got, err := repo.GetBusinessBySubscription(ctx, model.ProviderPayPal, subID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Amount)
}

func TestPostgresRepository_MutateMissingBusinessDoesNotRecordEvent(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	subID := "I-" + uuid.NewString()
	key := model.EventKey{Provider: model.ProviderPayPal, ID: "WH-" + uuid.NewString()}
	noop := func(*model.Business) error { return nil }

	_, err := repo.MutateBusinessBySubscription(ctx, key, model.ProviderPayPal, subID, noop)
	require.ErrorIs(t, err, ErrNotFound)

	b := newBusiness(subID)
	b.Provider = model.ProviderPayPal
	_, _, err = repo.CreateBusiness(ctx, b)
	require.NoError(t, err)

	applied, err := repo.MutateBusinessBySubscription(ctx, key, model.ProviderPayPal, subID, noop)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestPostgresRepository_CreditReferralRespectsCap(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	referrer := newBusiness("pre-" + uuid.NewString())
	_, _, err := repo.CreateBusiness(ctx, referrer)
	require.NoError(t, err)

	now := time.Now().UTC()
	for i := 0; i < 2; i++ {
		referred := newBusiness("pre-" + uuid.NewString())
		_, _, err := repo.CreateBusiness(ctx, referred)
		require.NoError(t, err)

		outcome, _, err := repo.CreditReferral(ctx, referrer.ReferralCode, referred, 2000, 1, now)
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, model.ReferralCredited, outcome)
		} else {
			assert.Equal(t, model.ReferralAtCap, outcome)
		}
	}

	got, err := repo.GetBusiness(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReferralCount)
	assert.Equal(t, int64(2000), got.ReferralBalance)

	var txns int
	err = repo.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM referral_transactions WHERE referrer_id = $1`, referrer.ID,
	).Scan(&txns)
	require.NoError(t, err)
	assert.Equal(t, 1, txns)
}
