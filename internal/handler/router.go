package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/valoralocal/reconciler/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(h.corsHandler())

	r.Get("/ping", h.Ping)
	r.Handle("/metrics", promhttp.Handler())

	limit := custommiddleware.RateLimit(h.cfg.Limiter, "public", h.cfg.RateLimitPerMin, h.logger)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(limit)

			r.Post("/mercadopago/create-subscription", h.CreateMercadoPagoSubscription)
			r.Post("/paypal/create-order", h.CreatePayPalOrder)
			r.Post("/paypal/create-subscription", h.CreatePayPalSubscription)
			r.Post("/paypal/capture-order", h.CapturePayPalOrder)
			r.Get("/check-business", h.CheckBusiness)
		})

		r.Get("/paypal/capture", h.CapturePayPalRedirect)
		r.Get("/paypal/subscription-success", h.PayPalSubscriptionSuccess)

		r.Get("/mercadopago/webhook", h.MercadoPagoWebhookHealth)
		r.Post("/mercadopago/webhook", h.MercadoPagoWebhook)
		r.Post("/paypal/webhook", h.PayPalWebhook)

		r.With(h.cfg.Admin.Middleware).Post("/paypal/setup-plans", h.SetupPayPalPlans)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}

func (h *Handler) corsHandler() func(http.Handler) http.Handler {
	origins := h.cfg.AllowedOrigins
	if len(origins) == 0 && h.cfg.BaseURL != "" {
		origins = []string{h.cfg.BaseURL}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}
