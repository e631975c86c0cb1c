package referral

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/valoralocal/reconciler/internal/model"
	"github.com/valoralocal/reconciler/internal/repository"
)

type stubStore struct {
	businesses map[string]*model.Business
	lookupErr  error

	creditCalls  int
	lastCode     string
	lastAmount   int64
	lastMax      int
	creditResult model.ReferralOutcome
}

func (s *stubStore) GetBusinessByReferralCode(_ context.Context, code string) (*model.Business, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	b, ok := s.businesses[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return b, nil
}

func (s *stubStore) CreditReferral(_ context.Context, code string, referred *model.Business, amount int64, maxReferrals int, now time.Time) (model.ReferralOutcome, *model.ReferralTransaction, error) {
	s.creditCalls++
	s.lastCode = code
	s.lastAmount = amount
	s.lastMax = maxReferrals
	return s.creditResult, &model.ReferralTransaction{ReferredID: referred.ID, Amount: amount, CreatedAt: now}, nil
}

func TestLedger_ValidateCode(t *testing.T) {
	store := &stubStore{businesses: map[string]*model.Business{
		"SOL-4521":  {ID: "tienda-sur", ReferralCount: 3},
		"LUNA-0001": {ID: "full", ReferralCount: 10},
	}}
	l := NewLedger(store, zap.NewNop(), 10, 2000)

	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{name: "known code is normalized", input: " sol-4521 ", want: "SOL-4521", ok: true},
		{name: "unknown code is absent", input: "MAR-9999", ok: false},
		{name: "referrer at cap", input: "LUNA-0001", ok: false},
		{name: "malformed code", input: "sol 4521", ok: false},
		{name: "empty", input: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := l.ValidateCode(context.Background(), tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLedger_ValidateCodeStoreError(t *testing.T) {
	store := &stubStore{lookupErr: errors.New("connection reset by peer")}
	l := NewLedger(store, zap.NewNop(), 10, 2000)

	_, ok := l.ValidateCode(context.Background(), "SOL-4521")
	assert.False(t, ok)
}

func TestLedger_CreditUsesConfiguredValues(t *testing.T) {
	store := &stubStore{creditResult: model.ReferralCredited}
	l := NewLedger(store, zap.NewNop(), 20, 3000)

	outcome, txn, err := l.Credit(context.Background(), "sol-4521", &model.Business{ID: "cafe-luna"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.ReferralCredited, outcome)
	require.NotNil(t, txn)
	assert.Equal(t, "SOL-4521", store.lastCode)
	assert.Equal(t, int64(3000), store.lastAmount)
	assert.Equal(t, 20, store.lastMax)
}

func TestLedger_CreditEmptyCode(t *testing.T) {
	store := &stubStore{}
	l := NewLedger(store, zap.NewNop(), 10, 2000)

	outcome, txn, err := l.Credit(context.Background(), "  ", &model.Business{ID: "cafe-luna"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.ReferralReferrerNotFound, outcome)
	assert.Nil(t, txn)
	assert.Zero(t, store.creditCalls)
}
