// Package handler содержит HTTP-обработчики API сервиса сверки платежей.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/valoralocal/reconciler/internal/mercadopago"
	"github.com/valoralocal/reconciler/internal/middleware"
	"github.com/valoralocal/reconciler/internal/model"
	"github.com/valoralocal/reconciler/internal/paypal"
	"github.com/valoralocal/reconciler/internal/service"
)

const (
	maxCheckoutBody = 16 * 1024
	maxWebhookBody  = 1024 * 1024
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Ping(ctx context.Context) error

	CreateMercadoPagoSubscription(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error)
	HandleMercadoPagoNotification(ctx context.Context, n mercadopago.Notification) error

	CreatePayPalOrder(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error)
	CreatePayPalSubscription(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error)
	SetupPayPalPlans(ctx context.Context) (map[string]string, error)
	CapturePayPalOrder(ctx context.Context, orderID string) (*model.Business, error)
	CompletePayPalSubscription(ctx context.Context, subscriptionID string) (*model.Business, error)
	VerifyPayPalWebhook(ctx context.Context, header http.Header, body []byte) (bool, error)
	HandlePayPalEvent(ctx context.Context, ev *paypal.Event) error

	CheckBusiness(ctx context.Context, subscriptionID string) (*service.BusinessLookup, error)
}

// Config задаёт параметры HTTP-слоя.
type Config struct {
	BaseURL                  string
	MercadoPagoWebhookSecret string
	AllowedOrigins           []string
	RateLimitPerMin          int
	Limiter                  middleware.Limiter
	Admin                    *middleware.AdminAuth
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	service Service
	logger  *zap.Logger
	cfg     Config
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, cfg Config) *Handler {
	if cfg.Admin == nil {
		cfg.Admin = middleware.NewAdminAuth("")
	}
	return &Handler{
		service: s,
		logger:  logger,
		cfg:     cfg,
	}
}

// Ping проверяет доступность хранилища.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Error("ping error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor сопоставляет ошибку сервиса HTTP-статусу и коду для клиента.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, service.ErrUnknownPlan):
		return http.StatusBadRequest, "unknown_plan"
	case errors.Is(err, service.ErrPlanNotConfigured):
		return http.StatusServiceUnavailable, "plan_not_configured"
	case errors.Is(err, service.ErrPaymentNotCompleted):
		return http.StatusPaymentRequired, "payment_not_completed"
	case errors.Is(err, service.ErrPendingNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrFinalizeInProgress):
		return http.StatusAccepted, "processing"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
