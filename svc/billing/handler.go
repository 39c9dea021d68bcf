package billing

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lumeapp/billingd/pkg/billing"
	"github.com/lumeapp/billingd/pkg/catalog"
	"github.com/lumeapp/billingd/pkg/logger"
)

// maxWebhookBody bounds webhook payload reads. Both providers send payloads
// far below this.
const maxWebhookBody = 1 << 20

// Handler exposes the billing HTTP surface: authenticated subscription
// commands and the two provider webhook endpoints.
type Handler struct {
	svc    *billing.Service
	router *billing.Router
	log    *slog.Logger
}

// NewHandler creates the HTTP handler. Panics if a dependency is nil.
func NewHandler(svc *billing.Service, router *billing.Router, log *slog.Logger) *Handler {
	if svc == nil {
		panic("billing: Service is required")
	}
	if router == nil {
		panic("billing: Router is required")
	}
	if log == nil {
		panic("billing: logger is required")
	}
	return &Handler{svc: svc, router: router, log: log}
}

// Routes mounts the billing endpoints on a chi router. The auth middleware
// must populate the user ID context for everything under /billing; webhook
// endpoints authenticate themselves through provider signatures.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Post("/webhooks/stripe", h.handleStripeWebhook)
	r.Post("/webhooks/revenuecat", h.handleRevenueCatWebhook)

	r.Group(func(r chi.Router) {
		if authMiddleware != nil {
			r.Use(authMiddleware)
		}
		r.Post("/billing/subscribe", h.handleSubscribe)
		r.Post("/billing/cancel", h.handleCancel)
		r.Post("/billing/resume", h.handleResume)
		r.Get("/billing/subscription", h.handleGetSubscription)
	})

	return r
}

type subscribeRequest struct {
	Plan            string `json:"plan"`
	Period          string `json:"period"`
	PaymentMethodID string `json:"payment_method_id,omitempty"`
	Email           string `json:"email,omitempty"`
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		h.respondError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.svc.Subscribe(r.Context(), userID, billing.SubscribeParams{
		Plan:            catalog.Plan(req.Plan),
		Period:          catalog.Period(req.Period),
		Email:           req.Email,
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		h.respondError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	res, err := h.svc.Cancel(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		h.respondError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := h.svc.Resume(r.Context(), userID); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		h.respondError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	sub, err := h.svc.GetSubscription(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "unreadable payload")
		return
	}

	err = h.router.HandleStripe(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if errors.Is(err, billing.ErrSignatureInvalid) {
		h.respondError(w, r, http.StatusBadRequest, "invalid signature")
		return
	}
	if err != nil {
		h.log.ErrorContext(r.Context(), "stripe webhook failed", logger.Error(err))
		h.respondError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleRevenueCatWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "unreadable payload")
		return
	}

	err = h.router.HandleRevenueCat(r.Context(), payload, r.Header.Get("Authorization"))
	if errors.Is(err, billing.ErrSignatureInvalid) {
		h.respondError(w, r, http.StatusUnauthorized, "invalid authorization")
		return
	}
	if err != nil {
		h.log.ErrorContext(r.Context(), "revenuecat webhook failed", logger.Error(err))
		h.respondError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusOK)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("failed to encode response", logger.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	h.respondJSON(w, status, errorResponse{Error: msg})
}

// respondServiceError maps domain sentinels onto HTTP status codes.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, billing.ErrUnsupportedPlan):
		h.respondError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, billing.ErrSnapshotNotFound),
		errors.Is(err, billing.ErrNoBillingCustomer):
		h.respondError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, billing.ErrNoActiveSubscription),
		errors.Is(err, billing.ErrAlreadyCancelled),
		errors.Is(err, billing.ErrNotCancelled),
		errors.Is(err, billing.ErrPeriodAlreadyEnded),
		errors.Is(err, billing.ErrUnsupportedOperation):
		h.respondError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, billing.ErrProviderUnavailable):
		h.respondError(w, r, http.StatusBadGateway, "payment provider unavailable")
	default:
		h.log.ErrorContext(r.Context(), "billing command failed", logger.Error(err))
		h.respondError(w, r, http.StatusInternalServerError, "internal error")
	}
}
