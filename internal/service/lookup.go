package service

import (
	"context"
	"errors"

	"github.com/valoralocal/reconciler/internal/model"
	"github.com/valoralocal/reconciler/internal/repository"
)

// BusinessLookup — ответ на опрос фронтенда о готовности бизнеса.
type BusinessLookup struct {
	Found        bool   `json:"found"`
	PrivateToken string `json:"private_token,omitempty"`
	BusinessName string `json:"business_name,omitempty"`
}

// CheckBusiness сообщает, создан ли бизнес для подписки или заказа провайдера.
func (s *Service) CheckBusiness(ctx context.Context, subscriptionID string) (*BusinessLookup, error) {
	b, err := s.findBusiness(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &BusinessLookup{Found: false}, nil
		}
		return nil, err
	}
	return &BusinessLookup{
		Found:        true,
		PrivateToken: b.PrivateToken,
		BusinessName: b.Name,
	}, nil
}

func (s *Service) findBusiness(ctx context.Context, subscriptionID string) (*model.Business, error) {
	pending, err := s.store.GetPending(ctx, subscriptionID)
	switch {
	case err == nil && pending.BusinessID != "":
		return s.store.GetBusiness(ctx, pending.BusinessID)
	case err == nil:
		return s.store.GetBusinessBySubscription(ctx, pending.Provider, subscriptionID)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	for _, provider := range []model.Provider{model.ProviderMercadoPago, model.ProviderPayPal} {
		b, err := s.store.GetBusinessBySubscription(ctx, provider, subscriptionID)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	return nil, repository.ErrNotFound
}
