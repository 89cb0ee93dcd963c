package payment

import (
	"encoding/json"
	"time"

	"github.com/frahmantamala/payment-gateway-shim/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-gateway-shim/internal/core/payload"
)

// Sources of a reconciliation write, reported on events and in logs.
const (
	SourceSession   = "session"
	SourceWebhook   = "webhook"
	SourcePoll      = "poll"
	SourceReplay    = "replay"
	SourceReconcile = "reconcile"
)

// Payment is the API view of a payments row.
type Payment struct {
	ID             int64       `json:"id"`
	Amount         json.Number `json:"amount"`
	Currency       string      `json:"currency"`
	TransactionID  string      `json:"transactionId"`
	Status         string      `json:"status"`
	CardType       *string     `json:"cardType"`
	CardNumber     *string     `json:"cardNumber"`
	CardholderName *string     `json:"cardholderName"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

func ToView(p *payment.Payment) *Payment {
	if p == nil {
		return nil
	}
	return &Payment{
		ID:             p.ID,
		Amount:         json.Number(p.Amount.StringFixed(2)),
		Currency:       p.Currency,
		TransactionID:  p.TransactionID,
		Status:         p.Status,
		CardType:       p.CardType,
		CardNumber:     p.CardNumber,
		CardholderName: p.CardholderName,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func ToViews(rows []*payment.Payment) []*Payment {
	views := make([]*Payment, 0, len(rows))
	for _, p := range rows {
		views = append(views, ToView(p))
	}
	return views
}

// Reconciliation is the set of columns a webhook, poll or replay writes.
// Nil card fields are left untouched in storage.
type Reconciliation struct {
	Status         string
	CardType       *string
	CardNumber     *string
	CardholderName *string
}

func ReconciliationFrom(fields payload.Fields) Reconciliation {
	return Reconciliation{
		Status:         fields.Status,
		CardType:       fields.CardType,
		CardNumber:     fields.CardNumber,
		CardholderName: fields.CardholderName,
	}
}

// Columns returns the column/value map for a partial update.
func (r Reconciliation) Columns(now time.Time) map[string]interface{} {
	cols := map[string]interface{}{
		"status":     r.Status,
		"updated_at": now,
	}
	if r.CardType != nil {
		cols["card_type"] = *r.CardType
	}
	if r.CardNumber != nil {
		cols["card_number"] = *r.CardNumber
	}
	if r.CardholderName != nil {
		cols["cardholder_name"] = *r.CardholderName
	}
	return cols
}
