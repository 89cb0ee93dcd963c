package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/newrelic/go-agent/v3/newrelic"

	"github.com/frahmantamala/payment-gateway-shim/internal/core/events"
)

// EventHandler turns payment events into audit log lines and, when an APM
// application is configured, custom events.
type EventHandler struct {
	app    *newrelic.Application
	logger *slog.Logger
}

func NewEventHandler(app *newrelic.Application, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		app:    app,
		logger: logger,
	}
}

func (h *EventHandler) HandleSessionCreated(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.SessionCreatedEvent)
	if !ok {
		return fmt.Errorf("expected SessionCreatedEvent, got %T", event)
	}

	h.logger.Info("audit: payment session created",
		"event_id", e.EventID(),
		"payment_id", e.PaymentID,
		"transaction_id", e.TransactionID,
		"amount", e.Amount,
		"currency", e.Currency)
	h.record("PaymentSessionCreated", e.Payload())
	return nil
}

func (h *EventHandler) HandlePaymentReconciled(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.PaymentReconciledEvent)
	if !ok {
		return fmt.Errorf("expected PaymentReconciledEvent, got %T", event)
	}

	h.logger.Info("audit: payment reconciled",
		"event_id", e.EventID(),
		"transaction_id", e.TransactionID,
		"status", e.Status,
		"source", e.Source)
	h.record("PaymentReconciled", e.Payload())
	return nil
}

func (h *EventHandler) HandleWebhookUnmatched(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.WebhookUnmatchedEvent)
	if !ok {
		return fmt.Errorf("expected WebhookUnmatchedEvent, got %T", event)
	}

	h.logger.Warn("audit: webhook stored for replay",
		"event_id", e.EventID(),
		"webhook_event_id", e.WebhookEventID,
		"transaction_id", e.TransactionID,
		"reason", e.Reason)
	h.record("PaymentWebhookUnmatched", e.Payload())
	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypeSessionCreated, h.HandleSessionCreated)
	eventBus.Subscribe(events.EventTypePaymentReconciled, h.HandlePaymentReconciled)
	eventBus.Subscribe(events.EventTypeWebhookUnmatched, h.HandleWebhookUnmatched)

	h.logger.Info("payment event handlers registered",
		"handlers", []string{
			events.EventTypeSessionCreated,
			events.EventTypePaymentReconciled,
			events.EventTypeWebhookUnmatched,
		})
}

func (h *EventHandler) record(eventType string, data interface{}) {
	if h.app == nil {
		return
	}
	if params, ok := data.(map[string]interface{}); ok {
		h.app.RecordCustomEvent(eventType, params)
	}
}
