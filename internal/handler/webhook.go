package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/valoralocal/reconciler/internal/mercadopago"
	"github.com/valoralocal/reconciler/internal/metrics"
	"github.com/valoralocal/reconciler/internal/model"
	"github.com/valoralocal/reconciler/internal/paypal"
)

const (
	webhookOutcomeProcessed = "processed"
	webhookOutcomeIgnored   = "ignored"
	webhookOutcomeMalformed = "malformed"
	webhookOutcomeRejected  = "rejected"
	webhookOutcomeFailed    = "failed"
)

type receivedResponse struct {
	Received bool `json:"received"`
}

func observeWebhook(provider model.Provider, eventType, outcome string, start time.Time) {
	metrics.WebhookRequestsTotal.WithLabelValues(string(provider), eventType, outcome).Inc()
	metrics.WebhookDuration.WithLabelValues(string(provider)).Observe(time.Since(start).Seconds())
}

// MercadoPagoWebhookHealth отвечает на проверочный GET-запрос MercadoPago.
func (h *Handler) MercadoPagoWebhookHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// MercadoPagoWebhook принимает уведомления MercadoPago.
// Ошибки обработки журналируются, а уведомление подтверждается, чтобы провайдер не повторял его бесконечно.
func (h *Handler) MercadoPagoWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		observeWebhook(model.ProviderMercadoPago, "", webhookOutcomeMalformed, start)
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	n, err := mercadopago.ParseNotification(body, r.URL.Query())
	unknown := errors.Is(err, mercadopago.ErrUnknownEventType)
	if err != nil && !unknown {
		h.logger.Warn("malformed mercadopago notification", zap.Error(err))
		observeWebhook(model.ProviderMercadoPago, "", webhookOutcomeMalformed, start)
		writeError(w, http.StatusBadRequest, "invalid_notification")
		return
	}

	log := h.logger.With(
		zap.String("provider", string(model.ProviderMercadoPago)),
		zap.String("event_type", string(n.Kind)),
		zap.String("data_id", n.DataID),
	)

	if secret := h.cfg.MercadoPagoWebhookSecret; secret != "" {
		if !mercadopago.VerifySignature(r.Header.Get("x-signature"), r.Header.Get("x-request-id"), n.DataID, secret) {
			log.Warn("mercadopago signature mismatch")
			observeWebhook(model.ProviderMercadoPago, string(n.Kind), webhookOutcomeRejected, start)
			writeError(w, http.StatusUnauthorized, "invalid_signature")
			return
		}
	}

	if unknown {
		log.Info("mercadopago notification type ignored")
		observeWebhook(model.ProviderMercadoPago, string(n.Kind), webhookOutcomeIgnored, start)
		writeJSON(w, http.StatusOK, receivedResponse{Received: true})
		return
	}

	outcome := webhookOutcomeProcessed
	if err := h.service.HandleMercadoPagoNotification(r.Context(), n); err != nil {
		log.Error("mercadopago notification processing error", zap.Error(err))
		outcome = webhookOutcomeFailed
	}

	observeWebhook(model.ProviderMercadoPago, string(n.Kind), outcome, start)
	writeJSON(w, http.StatusOK, receivedResponse{Received: true})
}

// PayPalWebhook принимает события вебхука PayPal.
func (h *Handler) PayPalWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		observeWebhook(model.ProviderPayPal, "", webhookOutcomeMalformed, start)
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	ok, err := h.service.VerifyPayPalWebhook(r.Context(), r.Header, body)
	if err != nil {
		h.logger.Error("paypal webhook verification error", zap.Error(err))
	}
	if !ok {
		observeWebhook(model.ProviderPayPal, "", webhookOutcomeRejected, start)
		writeError(w, http.StatusUnauthorized, "invalid_signature")
		return
	}

	ev, err := paypal.ParseEvent(body)
	if err != nil && !errors.Is(err, paypal.ErrUnknownEventType) {
		h.logger.Warn("malformed paypal event", zap.Error(err))
		observeWebhook(model.ProviderPayPal, "", webhookOutcomeMalformed, start)
		writeError(w, http.StatusBadRequest, "invalid_event")
		return
	}

	log := h.logger.With(
		zap.String("provider", string(model.ProviderPayPal)),
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.Kind)),
	)

	if err != nil {
		log.Info("paypal event type ignored")
		observeWebhook(model.ProviderPayPal, string(ev.Kind), webhookOutcomeIgnored, start)
		writeJSON(w, http.StatusOK, receivedResponse{Received: true})
		return
	}

	outcome := webhookOutcomeProcessed
	if err := h.service.HandlePayPalEvent(r.Context(), ev); err != nil {
		log.Error("paypal event processing error", zap.Error(err))
		outcome = webhookOutcomeFailed
	}

	observeWebhook(model.ProviderPayPal, string(ev.Kind), outcome, start)
	writeJSON(w, http.StatusOK, receivedResponse{Received: true})
}
