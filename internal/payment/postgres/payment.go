package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/frahmantamala/payment-gateway-shim/internal"
	"github.com/frahmantamala/payment-gateway-shim/internal/core/datamodel/payment"
	paymentpkg "github.com/frahmantamala/payment-gateway-shim/internal/payment"
)

type PaymentRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{
		db:  db,
		now: time.Now,
	}
}

var _ paymentpkg.RepositoryAPI = (*PaymentRepository)(nil)

func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PaymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*payment.Payment, error) {
	var p payment.Payment
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateByTransactionID is a single UPDATE; concurrent writers to the same
// row resolve last-write-wins.
func (r *PaymentRepository) UpdateByTransactionID(ctx context.Context, transactionID string, update paymentpkg.Reconciliation) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&payment.Payment{}).
		Where("transaction_id = ?", transactionID).
		Updates(update.Columns(r.now().UTC()))
	return result.RowsAffected, result.Error
}

func (r *PaymentRepository) ListRecent(ctx context.Context, limit int) ([]*payment.Payment, error) {
	payments := make([]*payment.Payment, 0)
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) ListByStatus(ctx context.Context, status string, limit int) ([]*payment.Payment, error) {
	payments := make([]*payment.Payment, 0)
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

type WebhookEventRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewWebhookEventRepository(db *gorm.DB) *WebhookEventRepository {
	return &WebhookEventRepository{
		db:  db,
		now: time.Now,
	}
}

var _ paymentpkg.WebhookEventRepositoryAPI = (*WebhookEventRepository)(nil)

func (r *WebhookEventRepository) Record(ctx context.Context, e *payment.WebhookEvent) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *WebhookEventRepository) ListUnresolved(ctx context.Context, limit int) ([]*payment.WebhookEvent, error) {
	evs := make([]*payment.WebhookEvent, 0)
	err := r.db.WithContext(ctx).
		Where("resolved = ?", false).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&evs).Error
	return evs, err
}

func (r *WebhookEventRepository) MarkResolved(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&payment.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"resolved":    true,
			"resolved_at": r.now().UTC(),
		}).Error
}
