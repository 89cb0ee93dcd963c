package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strings"

	errors "github.com/frahmantamala/payment-gateway-shim/internal"
	"github.com/frahmantamala/payment-gateway-shim/internal/transport"
)

const (
	SignatureHeader = "X-SFPY-Signature"

	maxWebhookBody = 1 << 20
)

type WebhookHandler struct {
	*transport.BaseHandler
	paymentService ServiceAPI
	secret         string
	logger         *slog.Logger
}

// NewWebhookHandler verifies signatures only when secret is non-empty.
func NewWebhookHandler(baseHandler *transport.BaseHandler, paymentService ServiceAPI, secret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler:    baseHandler,
		paymentService: paymentService,
		secret:         secret,
		logger:         logger,
	}
}

// HandlePaymentWebhook handles POST /api/payments/webhook. The gateway gets
// {received:true} for every delivery it does not need to resend, including
// ones that match no payment.
func (h *WebhookHandler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("webhook: failed to read body", "error", err)
		h.HandleError(w, errors.NewInvalidRequestError("invalid request body", errors.ErrCodeInvalidRequest))
		return
	}

	if h.secret != "" && !VerifySignature(h.secret, body, r.Header.Get(SignatureHeader)) {
		h.logger.Warn("webhook: signature mismatch", "remote_addr", r.RemoteAddr)
		h.HandleError(w, errors.ErrInvalidSignature)
		return
	}

	outcome, err := h.paymentService.HandleWebhook(r.Context(), body)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.logger.Info("webhook processed",
		"transaction_id", outcome.TransactionID,
		"status", outcome.Status,
		"applied", outcome.Applied,
		"reason", outcome.Reason)

	h.WriteJSON(w, http.StatusOK, WebhookAck{Received: true})
}

// VerifySignature checks a hex HMAC-SHA256 of body, with or without a "sha256=" prefix.
func VerifySignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return false
	}

	given, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(given, mac.Sum(nil))
}

// Sign returns the hex signature VerifySignature expects.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
