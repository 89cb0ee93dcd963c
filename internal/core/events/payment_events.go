package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeSessionCreated    = "payment.session_created"
	EventTypePaymentReconciled = "payment.reconciled"
	EventTypeWebhookUnmatched  = "webhook.unmatched"
)

type SessionCreatedEvent struct {
	BaseEvent
	PaymentID     int64  `json:"payment_id"`
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

func NewSessionCreatedEvent(paymentID int64, transactionID, amount, currency string) *SessionCreatedEvent {
	return &SessionCreatedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeSessionCreated,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":     paymentID,
				"transaction_id": transactionID,
				"amount":         amount,
				"currency":       currency,
			},
		},
		PaymentID:     paymentID,
		TransactionID: transactionID,
		Amount:        amount,
		Currency:      currency,
	}
}

// PaymentReconciledEvent fires after a webhook, poll or replay wrote to a payment row.
type PaymentReconciledEvent struct {
	BaseEvent
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Source        string `json:"source"`
}

func NewPaymentReconciledEvent(transactionID, status, source string) *PaymentReconciledEvent {
	return &PaymentReconciledEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentReconciled,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"transaction_id": transactionID,
				"status":         status,
				"source":         source,
			},
		},
		TransactionID: transactionID,
		Status:        status,
		Source:        source,
	}
}

type WebhookUnmatchedEvent struct {
	BaseEvent
	WebhookEventID int64  `json:"webhook_event_id"`
	TransactionID  string `json:"transaction_id,omitempty"`
	Reason         string `json:"reason"`
}

func NewWebhookUnmatchedEvent(webhookEventID int64, transactionID, reason string) *WebhookUnmatchedEvent {
	return &WebhookUnmatchedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeWebhookUnmatched,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"webhook_event_id": webhookEventID,
				"transaction_id":   transactionID,
				"reason":           reason,
			},
		},
		WebhookEventID: webhookEventID,
		TransactionID:  transactionID,
		Reason:         reason,
	}
}
