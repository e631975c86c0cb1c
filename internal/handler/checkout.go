package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/valoralocal/reconciler/internal/model"
	"github.com/valoralocal/reconciler/internal/service"
)

type mercadoPagoCheckoutResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

type payPalCheckoutResponse struct {
	ID         string `json:"id"`
	ApproveURL string `json:"approve_url"`
}

func (h *Handler) decodeCheckout(w http.ResponseWriter, r *http.Request) (service.CheckoutRequest, bool) {
	var req service.CheckoutRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxCheckoutBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return req, false
	}
	return req, true
}

func (h *Handler) checkoutFailed(w http.ResponseWriter, op string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" error", zap.Error(err))
	} else {
		h.logger.Info(op+" rejected", zap.Error(err))
	}
	writeError(w, status, code)
}

// CreateMercadoPagoSubscription оформляет подписку MercadoPago.
func (h *Handler) CreateMercadoPagoSubscription(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCheckout(w, r)
	if !ok {
		return
	}

	res, err := h.service.CreateMercadoPagoSubscription(r.Context(), req)
	if err != nil {
		h.checkoutFailed(w, "create mercadopago subscription", err)
		return
	}
	writeJSON(w, http.StatusOK, mercadoPagoCheckoutResponse{ID: res.ID, InitPoint: res.RedirectURL})
}

// CreatePayPalOrder оформляет разовый заказ PayPal.
func (h *Handler) CreatePayPalOrder(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCheckout(w, r)
	if !ok {
		return
	}

	res, err := h.service.CreatePayPalOrder(r.Context(), req)
	if err != nil {
		h.checkoutFailed(w, "create paypal order", err)
		return
	}
	writeJSON(w, http.StatusOK, payPalCheckoutResponse{ID: res.ID, ApproveURL: res.RedirectURL})
}

// CreatePayPalSubscription оформляет подписку PayPal.
func (h *Handler) CreatePayPalSubscription(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCheckout(w, r)
	if !ok {
		return
	}

	res, err := h.service.CreatePayPalSubscription(r.Context(), req)
	if err != nil {
		h.checkoutFailed(w, "create paypal subscription", err)
		return
	}
	writeJSON(w, http.StatusOK, payPalCheckoutResponse{ID: res.ID, ApproveURL: res.RedirectURL})
}

// SetupPayPalPlans создаёт планы подписки PayPal. Доступно только администратору.
func (h *Handler) SetupPayPalPlans(w http.ResponseWriter, r *http.Request) {
	ids, err := h.service.SetupPayPalPlans(r.Context())
	if err != nil {
		h.logger.Error("setup paypal plans error", zap.Error(err))
		writeError(w, http.StatusBadGateway, "paypal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": ids})
}

// CapturePayPalRedirect обрабатывает возврат покупателя после одобрения заказа PayPal.
func (h *Handler) CapturePayPalRedirect(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimSpace(r.URL.Query().Get("token"))
	if orderID == "" {
		h.redirectError(w, r, "missing_token")
		return
	}
	h.finishRedirect(w, r, orderID, h.service.CapturePayPalOrder)
}

// PayPalSubscriptionSuccess обрабатывает возврат покупателя после одобрения подписки PayPal.
func (h *Handler) PayPalSubscriptionSuccess(w http.ResponseWriter, r *http.Request) {
	subID := strings.TrimSpace(r.URL.Query().Get("subscription_id"))
	if subID == "" {
		h.redirectError(w, r, "missing_subscription")
		return
	}
	h.finishRedirect(w, r, subID, h.service.CompletePayPalSubscription)
}

func (h *Handler) finishRedirect(w http.ResponseWriter, r *http.Request, id string, finish func(context.Context, string) (*model.Business, error)) {
	b, err := finish(r.Context(), id)
	switch {
	case err == nil:
		http.Redirect(w, r, h.cfg.BaseURL+"/registro-exitoso?token="+url.QueryEscape(b.PrivateToken), http.StatusFound)
	case errors.Is(err, service.ErrFinalizeInProgress):
		http.Redirect(w, r, h.cfg.BaseURL+"/registro-exitoso?subscription_id="+url.QueryEscape(id), http.StatusFound)
	default:
		_, code := statusFor(err)
		h.logger.Error("paypal return error", zap.String("id", id), zap.Error(err))
		h.redirectError(w, r, code)
	}
}

func (h *Handler) redirectError(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, h.cfg.BaseURL+"/?error="+url.QueryEscape(code), http.StatusFound)
}

type captureOrderRequest struct {
	OrderID string `json:"orderID"`
}

type captureOrderResponse struct {
	Success      bool   `json:"success"`
	PrivateToken string `json:"private_token,omitempty"`
	Slug         string `json:"slug,omitempty"`
	BusinessName string `json:"business_name,omitempty"`
	Error        string `json:"error,omitempty"`
}

// CapturePayPalOrder списывает оплату по заказу из клиентского SDK PayPal.
func (h *Handler) CapturePayPalOrder(w http.ResponseWriter, r *http.Request) {
	var req captureOrderRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxCheckoutBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.OrderID) == "" {
		writeJSON(w, http.StatusBadRequest, captureOrderResponse{Error: "invalid_request"})
		return
	}

	b, err := h.service.CapturePayPalOrder(r.Context(), strings.TrimSpace(req.OrderID))
	if err != nil {
		status, code := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("capture paypal order error", zap.String("order_id", req.OrderID), zap.Error(err))
		}
		writeJSON(w, status, captureOrderResponse{Error: code})
		return
	}

	writeJSON(w, http.StatusOK, captureOrderResponse{
		Success:      true,
		PrivateToken: b.PrivateToken,
		Slug:         b.Slug,
		BusinessName: b.Name,
	})
}

// CheckBusiness сообщает фронтенду, создан ли бизнес для подписки.
func (h *Handler) CheckBusiness(w http.ResponseWriter, r *http.Request) {
	subID := strings.TrimSpace(r.URL.Query().Get("subscription_id"))
	if subID == "" {
		writeError(w, http.StatusBadRequest, "missing_subscription_id")
		return
	}

	res, err := h.service.CheckBusiness(r.Context(), subID)
	if err != nil {
		h.logger.Error("check business error", zap.String("subscription_id", subID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
