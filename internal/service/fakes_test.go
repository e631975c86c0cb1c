package service

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/valoralocal/reconciler/internal/mercadopago"
	"github.com/valoralocal/reconciler/internal/model"
	"github.com/valoralocal/reconciler/internal/paypal"
	"github.com/valoralocal/reconciler/internal/referral"
	"github.com/valoralocal/reconciler/internal/repository"
)

// fakeStore хранит данные в памяти и соблюдает те же ограничения уникальности,
// что и схема PostgreSQL.
type fakeStore struct {
	mu sync.Mutex

	pending    map[string]*model.PendingSubscription
	businesses map[string]*model.Business
	events     map[[2]string]bool
	txns       []*model.ReferralTransaction
	payments   map[string]*model.Payment

	createBusinessErr error
	creditReferralErr error
	createCalls       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pending:    make(map[string]*model.PendingSubscription),
		businesses: make(map[string]*model.Business),
		events:     make(map[[2]string]bool),
		payments:   make(map[string]*model.Payment),
	}
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) CreatePending(_ context.Context, p *model.PendingSubscription) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.pending[p.ID]; ok {
		return false, nil
	}
	cp := *p
	if cp.Status == "" {
		cp.Status = model.PendingStatusPending
	}
	f.pending[p.ID] = &cp
	return true, nil
}

func (f *fakeStore) GetPending(_ context.Context, id string) (*model.PendingSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.pending[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) ClaimPending(_ context.Context, id string, now, staleBefore time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.pending[id]
	if !ok {
		return false, nil
	}
	stale := p.Status == model.PendingStatusProcessing &&
		p.ProcessingStartedAt != nil && p.ProcessingStartedAt.Before(staleBefore)
	if p.Status != model.PendingStatusPending && !stale {
		return false, nil
	}
	p.Status = model.PendingStatusProcessing
	p.ProcessingStartedAt = &now
	return true, nil
}

func (f *fakeStore) ReleasePending(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.pending[id]; ok && p.Status == model.PendingStatusProcessing {
		p.Status = model.PendingStatusPending
		p.ProcessingStartedAt = nil
	}
	return nil
}

func (f *fakeStore) CompletePending(_ context.Context, id, businessID string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.pending[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Status = model.PendingStatusCompleted
	p.BusinessID = businessID
	p.CompletedAt = &now
	return nil
}

func (f *fakeStore) ResetStalePending(_ context.Context, staleBefore time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for _, p := range f.pending {
		if p.Status == model.PendingStatusProcessing && p.ProcessingStartedAt != nil && p.ProcessingStartedAt.Before(staleBefore) {
			p.Status = model.PendingStatusPending
			p.ProcessingStartedAt = nil
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CreateBusiness(_ context.Context, b *model.Business) (*model.Business, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createCalls++
	if f.createBusinessErr != nil {
		return nil, false, f.createBusinessErr
	}

	for _, existing := range f.businesses {
		if existing.Provider == b.Provider && existing.ProviderSubscriptionID == b.ProviderSubscriptionID {
			cp := *existing
			return &cp, false, nil
		}
	}
	for _, existing := range f.businesses {
		switch {
		case existing.Slug == b.Slug:
			return nil, false, repository.ErrSlugTaken
		case existing.ReferralCode == b.ReferralCode:
			return nil, false, repository.ErrReferralCodeTaken
		case existing.PrivateToken == b.PrivateToken:
			return nil, false, repository.ErrTokenTaken
		}
	}

	cp := *b
	f.businesses[b.ID] = &cp
	out := cp
	return &out, true, nil
}

func (f *fakeStore) GetBusiness(_ context.Context, id string) (*model.Business, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.businesses[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeStore) GetBusinessBySubscription(_ context.Context, provider model.Provider, subscriptionID string) (*model.Business, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if b := f.bySubscription(provider, subscriptionID); b != nil {
		cp := *b
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) bySubscription(provider model.Provider, subscriptionID string) *model.Business {
	for _, b := range f.businesses {
		if b.Provider == provider && b.ProviderSubscriptionID == subscriptionID {
			return b
		}
	}
	return nil
}

func (f *fakeStore) GetBusinessByReferralCode(_ context.Context, code string) (*model.Business, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, b := range f.businesses {
		if b.ReferralCode == code {
			cp := *b
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) MutateBusinessBySubscription(_ context.Context, key model.EventKey, provider model.Provider, subscriptionID string, fn func(b *model.Business) error) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	eventKey := [2]string{string(key.Provider), key.ID}
	if key.ID != "" && f.events[eventKey] {
		return false, nil
	}

	b := f.bySubscription(provider, subscriptionID)
	if b == nil {
		return false, repository.ErrNotFound
	}

	cp := *b
	if err := fn(&cp); err != nil {
		return false, err
	}
	*b = cp

	if key.ID != "" {
		f.events[eventKey] = true
	}
	return true, nil
}

func (f *fakeStore) ExpireBusinesses(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for _, b := range f.businesses {
		if b.Status == model.BusinessStatusActive && b.ExpiresAt != nil && b.ExpiresAt.Before(before) {
			b.Status = model.BusinessStatusExpired
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CreditReferral(_ context.Context, code string, referred *model.Business, amount int64, maxReferrals int, now time.Time) (model.ReferralOutcome, *model.ReferralTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.creditReferralErr != nil {
		return "", nil, f.creditReferralErr
	}

	var referrer *model.Business
	for _, b := range f.businesses {
		if b.ReferralCode == code {
			referrer = b
			break
		}
	}
	switch {
	case referrer == nil:
		return model.ReferralReferrerNotFound, nil, nil
	case referrer.ID == referred.ID:
		return model.ReferralSelfReferral, nil, nil
	case referrer.ReferralCount >= maxReferrals:
		return model.ReferralAtCap, nil, nil
	}
	for _, t := range f.txns {
		if t.ReferredID == referred.ID {
			return model.ReferralAlreadyCredited, nil, nil
		}
	}

	txn := &model.ReferralTransaction{
		ID:           uuid.NewString(),
		ReferrerID:   referrer.ID,
		ReferredID:   referred.ID,
		ReferredName: referred.Name,
		Amount:       amount,
		Status:       model.ReferralStatusCredited,
		CreatedAt:    now,
	}
	f.txns = append(f.txns, txn)
	referrer.ReferralCount++
	referrer.ReferralBalance += amount
	return model.ReferralCredited, txn, nil
}

func (f *fakeStore) SavePayment(_ context.Context, p *model.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := *p
	f.payments[string(p.Provider)+":"+p.ID] = &cp
	return nil
}

func (f *fakeStore) addBusiness(b *model.Business) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *b
	f.businesses[b.ID] = &cp
}

func (f *fakeStore) businessCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.businesses)
}

type fakeMercadoPago struct {
	mu           sync.Mutex
	created      []mercadopago.PreapprovalRequest
	preapprovals map[string]*mercadopago.Preapproval
	authorized   map[string]*mercadopago.AuthorizedPayment
	payments     map[string]*mercadopago.Payment
}

func newFakeMercadoPago() *fakeMercadoPago {
	return &fakeMercadoPago{
		preapprovals: make(map[string]*mercadopago.Preapproval),
		authorized:   make(map[string]*mercadopago.AuthorizedPayment),
		payments:     make(map[string]*mercadopago.Payment),
	}
}

func (f *fakeMercadoPago) CreatePreapproval(_ context.Context, req mercadopago.PreapprovalRequest) (*mercadopago.Preapproval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.created = append(f.created, req)
	pre := &mercadopago.Preapproval{
		ID:                "pre-" + uuid.NewString()[:8],
		Status:            mercadopago.PreapprovalPending,
		PayerEmail:        req.PayerEmail,
		ExternalReference: req.ExternalReference,
		InitPoint:         "https://mp.example/checkout",
	}
	f.preapprovals[pre.ID] = pre
	return pre, nil
}

func (f *fakeMercadoPago) GetPreapproval(_ context.Context, id string) (*mercadopago.Preapproval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pre, ok := f.preapprovals[id]
	if !ok {
		return nil, &mercadopago.APIError{StatusCode: http.StatusNotFound}
	}
	cp := *pre
	return &cp, nil
}

func (f *fakeMercadoPago) GetAuthorizedPayment(_ context.Context, id string) (*mercadopago.AuthorizedPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ap, ok := f.authorized[id]
	if !ok {
		return nil, &mercadopago.APIError{StatusCode: http.StatusNotFound}
	}
	return ap, nil
}

func (f *fakeMercadoPago) GetPayment(_ context.Context, id string) (*mercadopago.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.payments[id]
	if !ok {
		return nil, &mercadopago.APIError{StatusCode: http.StatusNotFound}
	}
	return p, nil
}

func (f *fakeMercadoPago) setStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preapprovals[id].Status = status
}

type fakePayPal struct {
	mu            sync.Mutex
	orders        map[string]*paypal.Order
	subscriptions map[string]*paypal.Subscription
	plans         []paypal.PlanRequest
	verifyCalls   int
}

func newFakePayPal() *fakePayPal {
	return &fakePayPal{
		orders:        make(map[string]*paypal.Order),
		subscriptions: make(map[string]*paypal.Subscription),
	}
}

func (f *fakePayPal) CreateOrder(_ context.Context, req paypal.OrderRequest) (*paypal.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	o := &paypal.Order{
		ID:            "ORDER-" + uuid.NewString()[:8],
		Status:        "CREATED",
		PurchaseUnits: req.PurchaseUnits,
		Links:         []paypal.Link{{Rel: "approve", Href: "https://paypal.example/approve"}},
	}
	f.orders[o.ID] = o
	return o, nil
}

func (f *fakePayPal) CaptureOrder(_ context.Context, id string) (*paypal.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, ok := f.orders[id]
	if !ok {
		return nil, &paypal.APIError{StatusCode: http.StatusNotFound, Name: "RESOURCE_NOT_FOUND"}
	}
	o.Status = paypal.OrderStatusCompleted
	if len(o.PurchaseUnits) > 0 && o.PurchaseUnits[0].Payments == nil {
		o.PurchaseUnits[0].Payments = &paypal.Payments{Captures: []paypal.Capture{{
			ID:     "CAP-" + id,
			Status: "COMPLETED",
			Amount: paypal.Money{CurrencyCode: "USD", Value: "120.00"},
		}}}
	}
	cp := *o
	return &cp, nil
}

func (f *fakePayPal) CreateSubscription(_ context.Context, req paypal.SubscriptionRequest) (*paypal.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := &paypal.Subscription{
		ID:       "I-" + uuid.NewString()[:8],
		Status:   "APPROVAL_PENDING",
		PlanID:   req.PlanID,
		CustomID: req.CustomID,
		Links:    []paypal.Link{{Rel: "approve", Href: "https://paypal.example/subscribe"}},
	}
	if req.Subscriber != nil {
		s.Subscriber = *req.Subscriber
	}
	f.subscriptions[s.ID] = s
	return s, nil
}

func (f *fakePayPal) GetSubscription(_ context.Context, id string) (*paypal.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.subscriptions[id]
	if !ok {
		return nil, &paypal.APIError{StatusCode: http.StatusNotFound, Name: "RESOURCE_NOT_FOUND"}
	}
	cp := *s
	return &cp, nil
}

func (f *fakePayPal) CreateProduct(_ context.Context, p paypal.Product) (*paypal.Product, error) {
	p.ID = "PROD-1"
	return &p, nil
}

func (f *fakePayPal) CreatePlan(_ context.Context, req paypal.PlanRequest) (*paypal.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.plans = append(f.plans, req)
	return &paypal.Plan{ID: "P-" + req.Name, Name: req.Name, Status: "ACTIVE"}, nil
}

func (f *fakePayPal) VerifyWebhookSignature(context.Context, http.Header, []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	return false, nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	created   []string
	credited  []*model.ReferralTransaction
	referrers []model.Business
}

func (f *fakeNotifier) BusinessCreated(_ context.Context, b *model.Business, _ model.Plan) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, b.ID)
}

func (f *fakeNotifier) ReferralCredited(_ context.Context, referrer *model.Business, txn *model.ReferralTransaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credited = append(f.credited, txn)
	if referrer != nil {
		f.referrers = append(f.referrers, *referrer)
	}
}

func (f *fakeNotifier) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

var testPlans = map[string]model.Plan{
	"monthly": {ID: "monthly", Name: "Plan Mensual", PriceCLP: 9990, PriceUSD: "12.00", FrequencyMonths: 1, DurationDays: 30, PayPalPlanID: "P-MONTHLY"},
	"annual":  {ID: "annual", Name: "Plan Anual", PriceCLP: 99900, PriceUSD: "120.00", FrequencyMonths: 12, DurationDays: 365},
}

type testEnv struct {
	svc      *Service
	store    *fakeStore
	mp       *fakeMercadoPago
	pp       *fakePayPal
	notifier *fakeNotifier
	clock    time.Time
}

func newTestEnv(maxReferrals int) *testEnv {
	env := &testEnv{
		store:    newFakeStore(),
		mp:       newFakeMercadoPago(),
		pp:       newFakePayPal(),
		notifier: &fakeNotifier{},
		clock:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	logger := zap.NewNop()
	ledger := referral.NewLedger(env.store, logger, maxReferrals, 2000)
	env.svc = NewService(env.store, env.mp, env.pp, ledger, env.notifier, logger, Options{
		BaseURL:             "https://valoralocal.example",
		Plans:               testPlans,
		ProcessingTimeout:   15 * time.Minute,
		ExpiryGrace:         24 * time.Hour,
		MercadoPagoCurrency: "CLP",
		PayPalCurrency:      "USD",
	})
	env.svc.now = func() time.Time { return env.clock }
	return env
}

func (e *testEnv) advance(d time.Duration) {
	e.clock = e.clock.Add(d)
}
