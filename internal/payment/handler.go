package payment

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	errors "github.com/frahmantamala/payment-gateway-shim/internal"
	"github.com/frahmantamala/payment-gateway-shim/internal/transport"
)

const maxSessionBody = 64 << 10

type Handler struct {
	*transport.BaseHandler
	PaymentService ServiceAPI
	Logger         *slog.Logger
}

func NewHandler(baseHandler *transport.BaseHandler, paymentService ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler:    baseHandler,
		PaymentService: paymentService,
		Logger:         logger,
	}
}

// CreateSession handles POST /api/payments/session
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSessionBody)).Decode(&req); err != nil {
		h.Logger.Warn("CreateSession: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewInvalidRequestError("invalid request body", errors.ErrCodeInvalidRequest))
		return
	}

	result, err := h.PaymentService.CreateSession(r.Context(), &req)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, result)
}

// GetStatus handles GET /api/payments/status/{transactionId}
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionId")

	result, err := h.PaymentService.PollStatus(r.Context(), transactionID)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}

// ListPayments handles GET /api/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.PaymentService.ListRecent(r.Context())
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, payments)
}
