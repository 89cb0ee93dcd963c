package payment

import (
	"context"
	"log/slog"
	"strings"

	errors "github.com/frahmantamala/payment-gateway-shim/internal"
	"github.com/frahmantamala/payment-gateway-shim/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-gateway-shim/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/payment-gateway-shim/internal/core/events"
	"github.com/frahmantamala/payment-gateway-shim/internal/core/payload"
)

const (
	// ListLimit caps GET /api/payments.
	ListLimit = 100
	// DefaultReplayLimit caps one webhook replay run.
	DefaultReplayLimit = 500
)

type RepositoryAPI interface {
	Create(ctx context.Context, p *payment.Payment) error
	GetByTransactionID(ctx context.Context, transactionID string) (*payment.Payment, error)
	// UpdateByTransactionID returns the number of rows written; zero is not an error.
	UpdateByTransactionID(ctx context.Context, transactionID string, update Reconciliation) (int64, error)
	ListRecent(ctx context.Context, limit int) ([]*payment.Payment, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]*payment.Payment, error)
}

type WebhookEventRepositoryAPI interface {
	Record(ctx context.Context, e *payment.WebhookEvent) error
	ListUnresolved(ctx context.Context, limit int) ([]*payment.WebhookEvent, error)
	MarkResolved(ctx context.Context, id int64) error
}

type GatewayAPI interface {
	CheckConfigured() error
	CreateSession(ctx context.Context, req *paymentgateway.SessionRequest) (*paymentgateway.SessionResponse, error)
	FetchStatus(ctx context.Context, transactionID string) (*paymentgateway.StatusResponse, error)
	CheckoutURL(token string) string
}

type ServiceAPI interface {
	CreateSession(ctx context.Context, req *CreateSessionRequest) (*SessionResult, error)
	HandleWebhook(ctx context.Context, body []byte) (*WebhookOutcome, error)
	PollStatus(ctx context.Context, transactionID string) (*StatusResult, error)
	ListRecent(ctx context.Context) ([]*Payment, error)
}

type Service struct {
	repo             RepositoryAPI
	webhookEvents    WebhookEventRepositoryAPI
	gateway          GatewayAPI
	eventBus         *events.EventBus
	defaultReturnURL string
	logger           *slog.Logger
}

func NewService(repo RepositoryAPI, webhookEvents WebhookEventRepositoryAPI, gateway GatewayAPI, eventBus *events.EventBus, defaultReturnURL string, logger *slog.Logger) *Service {
	return &Service{
		repo:             repo,
		webhookEvents:    webhookEvents,
		gateway:          gateway,
		eventBus:         eventBus,
		defaultReturnURL: defaultReturnURL,
		logger:           logger,
	}
}

// CreateSession opens a checkout with the gateway and inserts the pending row.
// Nothing is written when the gateway call fails.
func (s *Service) CreateSession(ctx context.Context, req *CreateSessionRequest) (*SessionResult, error) {
	gatewayReq, err := req.ToGatewayRequest(s.defaultReturnURL)
	if err != nil {
		return nil, err
	}

	if err := s.gateway.CheckConfigured(); err != nil {
		s.logger.Error("payment session rejected: gateway not configured", "error", err)
		return nil, err
	}

	session, err := s.gateway.CreateSession(ctx, gatewayReq)
	if err != nil {
		s.logger.Error("failed to create gateway session", "error", err, "currency", gatewayReq.Currency)
		return nil, err
	}

	record := &payment.Payment{
		Amount:        gatewayReq.Amount,
		Currency:      gatewayReq.Currency,
		TransactionID: session.Token,
		Status:        payment.StatusPending,
	}
	// Card details are rarely present at init, but merge them when they are.
	if doc, decodeErr := payload.Decode(session.Raw); decodeErr == nil {
		fields := payload.Extract(doc)
		record.CardType = fields.CardType
		record.CardNumber = fields.CardNumber
		record.CardholderName = fields.CardholderName
	}

	if err := s.repo.Create(ctx, record); err != nil {
		s.logger.Error("failed to insert payment", "error", err, "transaction_id", session.Token)
		return nil, errors.NewDatabaseError("failed to save payment", err)
	}

	s.logger.Info("payment session created",
		"payment_id", record.ID,
		"transaction_id", record.TransactionID,
		"amount", record.Amount.String(),
		"currency", record.Currency,
		"idempotency_key", errors.IdempotencyKeyFromContext(ctx))

	s.publish(ctx, events.NewSessionCreatedEvent(record.ID, record.TransactionID, record.Amount.String(), record.Currency))

	return &SessionResult{
		Success:       true,
		CheckoutURL:   s.gateway.CheckoutURL(session.Token),
		PaymentID:     record.ID,
		TransactionID: session.Token,
		GatewayRaw:    session.Raw,
	}, nil
}

// HandleWebhook applies one gateway delivery. Deliveries without a tracker,
// or whose tracker matches no row, are kept in the webhook event table and
// acknowledged. Only a failed payments write is returned as an error.
func (s *Service) HandleWebhook(ctx context.Context, body []byte) (*WebhookOutcome, error) {
	doc, err := payload.Decode(body)
	if err != nil {
		return nil, errors.NewInvalidRequestError("webhook body must be valid JSON", errors.ErrCodeInvalidRequest)
	}

	fields := payload.Extract(doc)
	outcome := &WebhookOutcome{Status: fields.Status}

	if !fields.HasTracker() {
		s.logger.Warn("webhook has no tracker, not applied", "event_type", deref(fields.EventType))
		outcome.Reason = payment.WebhookReasonNoTracker
		s.recordUnmatched(ctx, body, fields, outcome.Reason)
		return outcome, nil
	}

	outcome.TransactionID = *fields.Tracker
	rows, err := s.apply(ctx, outcome.TransactionID, fields, SourceWebhook)
	if err != nil {
		return nil, err
	}

	if rows == 0 {
		s.logger.Warn("webhook matched no payment", "transaction_id", outcome.TransactionID, "status", fields.Status)
		outcome.Reason = payment.WebhookReasonNoMatchingPayment
		s.recordUnmatched(ctx, body, fields, outcome.Reason)
		return outcome, nil
	}

	outcome.Applied = true
	return outcome, nil
}

// PollStatus asks the gateway for the current state and writes it against the
// requested transaction id. A poll for an unknown id updates nothing and still succeeds.
func (s *Service) PollStatus(ctx context.Context, transactionID string) (*StatusResult, error) {
	result, _, err := s.poll(ctx, transactionID, SourcePoll)
	return result, err
}

func (s *Service) poll(ctx context.Context, transactionID, source string) (*StatusResult, int64, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, 0, errors.NewInvalidRequestError("transactionId is required", errors.ErrCodeInvalidRequest)
	}

	resp, err := s.gateway.FetchStatus(ctx, transactionID)
	if err != nil {
		s.logger.Error("failed to fetch payment status", "error", err, "transaction_id", transactionID)
		return nil, 0, err
	}

	fields := payload.Fields{Status: resp.State}
	if doc, decodeErr := payload.Decode(resp.Raw); decodeErr == nil {
		fields = payload.Extract(doc)
	}

	rows, err := s.apply(ctx, transactionID, fields, source)
	if err != nil {
		return nil, 0, err
	}
	if rows == 0 {
		s.logger.Info("status poll matched no payment", "transaction_id", transactionID, "status", fields.Status)
	}

	return &StatusResult{
		Status: fields.Status,
		Data:   resp.Raw,
	}, rows, nil
}

func (s *Service) ListRecent(ctx context.Context) ([]*Payment, error) {
	rows, err := s.repo.ListRecent(ctx, ListLimit)
	if err != nil {
		s.logger.Error("failed to list payments", "error", err)
		return nil, errors.NewDatabaseError("failed to list payments", err)
	}
	return ToViews(rows), nil
}

func (s *Service) GetByTransactionID(ctx context.Context, transactionID string) (*Payment, error) {
	p, err := s.repo.GetByTransactionID(ctx, transactionID)
	if err != nil {
		if _, ok := errors.IsAppError(err); ok {
			return nil, err
		}
		return nil, errors.NewDatabaseError("failed to load payment", err)
	}
	return ToView(p), nil
}

// ReplayWebhookEvents re-applies stored deliveries; an event is resolved once
// its tracker matches a row.
func (s *Service) ReplayWebhookEvents(ctx context.Context, limit int) (*ReplaySummary, error) {
	if limit <= 0 {
		limit = DefaultReplayLimit
	}

	stored, err := s.webhookEvents.ListUnresolved(ctx, limit)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to list webhook events", err)
	}

	summary := &ReplaySummary{Scanned: len(stored)}
	for _, ev := range stored {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		doc, err := payload.Decode([]byte(ev.Payload))
		if err != nil {
			s.logger.Warn("stored webhook is not valid JSON", "webhook_event_id", ev.ID, "error", err)
			summary.Pending++
			continue
		}

		fields := payload.Extract(doc)
		if !fields.HasTracker() {
			summary.Pending++
			continue
		}

		rows, err := s.apply(ctx, *fields.Tracker, fields, SourceReplay)
		if err != nil {
			return summary, err
		}
		if rows == 0 {
			summary.Pending++
			continue
		}

		if err := s.webhookEvents.MarkResolved(ctx, ev.ID); err != nil {
			return summary, errors.NewDatabaseError("failed to resolve webhook event", err)
		}
		summary.Resolved++
	}

	s.logger.Info("webhook replay finished",
		"scanned", summary.Scanned,
		"resolved", summary.Resolved,
		"pending", summary.Pending)

	return summary, nil
}

// apply writes status and any present card fields to the row keyed by transactionID.
func (s *Service) apply(ctx context.Context, transactionID string, fields payload.Fields, source string) (int64, error) {
	update := ReconciliationFrom(fields)

	rows, err := s.repo.UpdateByTransactionID(ctx, transactionID, update)
	if err != nil {
		s.logger.Error("failed to update payment",
			"error", err,
			"transaction_id", transactionID,
			"status", update.Status,
			"source", source)
		return 0, errors.NewDatabaseError("failed to update payment", err)
	}

	if rows > 0 {
		s.logger.Info("payment reconciled",
			"transaction_id", transactionID,
			"status", update.Status,
			"card_type", deref(update.CardType),
			"source", source)
		s.publish(ctx, events.NewPaymentReconciledEvent(transactionID, update.Status, source))
	}
	return rows, nil
}

func (s *Service) recordUnmatched(ctx context.Context, body []byte, fields payload.Fields, reason string) {
	if s.webhookEvents == nil {
		return
	}

	ev := &payment.WebhookEvent{
		TransactionID: fields.Tracker,
		EventType:     fields.EventType,
		Reason:        reason,
		Payload:       string(body),
	}
	if err := s.webhookEvents.Record(ctx, ev); err != nil {
		s.logger.Error("failed to record unmatched webhook", "error", err, "reason", reason)
		return
	}

	s.publish(ctx, events.NewWebhookUnmatchedEvent(ev.ID, deref(fields.Tracker), reason))
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish event", "event_type", event.EventType(), "error", err)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
