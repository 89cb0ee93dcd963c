package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

const StatusPending = "pending"

// MaxAmount is the largest value the numeric(14,2) amount column holds.
var MaxAmount = decimal.RequireFromString("999999999999.99")

// Payment is one row per checkout attempt, keyed end-to-end by the gateway tracker.
type Payment struct {
	ID             int64           `gorm:"primaryKey"`
	Amount         decimal.Decimal `gorm:"column:amount;type:numeric(14,2);not null"`
	Currency       string          `gorm:"column:currency;size:3;not null"`
	TransactionID  string          `gorm:"column:transaction_id;not null;uniqueIndex"`
	Status         string          `gorm:"column:status;not null;default:pending"`
	CardType       *string         `gorm:"column:card_type"`
	CardNumber     *string         `gorm:"column:card_number"`
	CardholderName *string         `gorm:"column:cardholder_name"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

const (
	WebhookReasonNoTracker         = "no_tracker"
	WebhookReasonNoMatchingPayment = "no_matching_payment"
)

// WebhookEvent keeps gateway deliveries that could not be applied to a payment row.
type WebhookEvent struct {
	ID            int64      `gorm:"primaryKey"`
	TransactionID *string    `gorm:"column:transaction_id;index"`
	EventType     *string    `gorm:"column:event_type"`
	Reason        string     `gorm:"column:reason;not null"`
	Payload       string     `gorm:"column:payload;type:jsonb;not null"`
	Resolved      bool       `gorm:"column:resolved;not null;default:false"`
	ResolvedAt    *time.Time `gorm:"column:resolved_at"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
}

func (WebhookEvent) TableName() string {
	return "payment_webhook_events"
}
