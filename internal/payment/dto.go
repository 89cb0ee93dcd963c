package payment

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/payment-gateway-shim/internal"
	"github.com/frahmantamala/payment-gateway-shim/internal/core/common/validation"
	"github.com/frahmantamala/payment-gateway-shim/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-gateway-shim/internal/core/datamodel/paymentgateway"
)

const DefaultCurrency = "PKR"

// CreateSessionRequest is the body of POST /api/payments/session. Amount is
// kept raw so a missing value, a string and a non-positive number can be told apart.
type CreateSessionRequest struct {
	Amount    json.RawMessage        `json:"amount"`
	Currency  string                 `json:"currency,omitempty"`
	ReturnURL string                 `json:"returnUrl,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ToGatewayRequest validates the body and applies defaults.
func (r *CreateSessionRequest) ToGatewayRequest(defaultReturnURL string) (*paymentgateway.SessionRequest, error) {
	amount, amountErr := parseAmount(r.Amount)
	if amountErr != nil {
		return nil, amountErr
	}
	if amount == nil {
		return nil, invalidAmount("amount is required")
	}

	currency := strings.ToUpper(strings.TrimSpace(r.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}

	returnURL := strings.TrimSpace(r.ReturnURL)
	if returnURL == "" {
		returnURL = defaultReturnURL
	}

	validator := validation.NewValidator()
	validator.Field("amount", amount).PositiveDecimal(errors.ErrCodeInvalidAmount).Custom(withinMaxAmount)
	validator.Field("currency", currency).Required().CurrencyCode()
	validator.Field("returnUrl", returnURL).AbsoluteURL().MaxLength(2048)

	if appErr := validator.Validate(); appErr != nil {
		return nil, appErr
	}

	return &paymentgateway.SessionRequest{
		Amount:    *amount,
		Currency:  currency,
		ReturnURL: returnURL,
		Metadata:  r.Metadata,
	}, nil
}

// parseAmount returns nil for a missing or null amount and rejects anything
// that is not a JSON number.
func parseAmount(raw json.RawMessage) (*decimal.Decimal, *errors.AppError) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var num json.Number
	if trimmed[0] == '"' || json.Unmarshal(trimmed, &num) != nil {
		return nil, invalidAmount("amount must be a number")
	}

	d, err := decimal.NewFromString(num.String())
	if err != nil {
		return nil, invalidAmount("amount must be a number")
	}
	return &d, nil
}

// withinMaxAmount compares at storage scale: the column rounds to cents, so
// 999999999999.995 would overflow it.
func withinMaxAmount(value interface{}) *errors.AppError {
	amount, ok := value.(*decimal.Decimal)
	if !ok || amount == nil {
		return nil
	}
	if amount.Round(2).GreaterThan(payment.MaxAmount) {
		return invalidAmount("amount must not exceed " + payment.MaxAmount.StringFixed(2))
	}
	return nil
}

func invalidAmount(message string) *errors.AppError {
	return errors.NewInvalidRequestError(message, errors.ErrCodeInvalidAmount).
		WithDetails(errors.ValidationErrors{Errors: []errors.ValidationError{
			{Field: "amount", Message: message, Code: string(errors.ErrCodeInvalidAmount)},
		}})
}

// SessionResult is returned to the merchant frontend after a checkout opens.
type SessionResult struct {
	Success       bool            `json:"success"`
	CheckoutURL   string          `json:"checkoutUrl"`
	PaymentID     int64           `json:"paymentId"`
	TransactionID string          `json:"transactionId"`
	GatewayRaw    json.RawMessage `json:"gatewayRaw"`
}

type StatusResult struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type WebhookAck struct {
	Received bool `json:"received"`
}

// WebhookOutcome records what a single delivery did; it is not sent to the gateway.
type WebhookOutcome struct {
	TransactionID string
	Status        string
	Applied       bool
	Reason        string
}

type ReplaySummary struct {
	Scanned  int `json:"scanned"`
	Resolved int `json:"resolved"`
	Pending  int `json:"pending"`
}

type ReconcileSummary struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}
