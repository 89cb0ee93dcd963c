package paymentgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/payment-gateway-shim/internal"
	"github.com/frahmantamala/payment-gateway-shim/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/payment-gateway-shim/internal/core/payload"
)

const (
	DefaultTimeout = 15 * time.Second

	initPath   = "/order/v1/init"
	statusPath = "/order/v1/"

	// cap on how much of an upstream error body is echoed back to callers
	maxErrorBody = 4 << 10
)

var hundred = decimal.NewFromInt(100)

type Config struct {
	PublicKey          string
	SecretKey          string
	BaseURL            string
	Mode               string
	SandboxCheckoutURL string
	CheckoutURL        string
	Timeout            time.Duration
}

type Client struct {
	config     Config
	httpClient *http.Client
	validate   *validator.Validate
	logger     *slog.Logger
}

func NewClient(config Config, logger *slog.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Mode == "" {
		config.Mode = errors.GatewayModeSandbox
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: newrelic.NewRoundTripper(http.DefaultTransport),
		},
		validate: validator.New(),
		logger:   logger,
	}
}

// MinorUnits converts a major-unit amount to the gateway's integer
// representation, rounding to the nearest unit. Amounts outside int64 fail
// instead of wrapping.
func MinorUnits(amount decimal.Decimal) (int64, error) {
	minor := amount.Mul(hundred).Round(0).BigInt()
	if !minor.IsInt64() {
		return 0, errors.NewInvalidRequestError("amount is too large for the payment gateway", errors.ErrCodeInvalidAmount)
	}
	return minor.Int64(), nil
}

// CheckConfigured fails with a configuration error when credentials or the
// API base URL are missing. It never touches the network.
func (c *Client) CheckConfigured() error {
	var missing []string
	if c.config.PublicKey == "" {
		missing = append(missing, "public_key")
	}
	if c.config.SecretKey == "" {
		missing = append(missing, "secret_key")
	}
	if c.config.BaseURL == "" {
		missing = append(missing, "base_url")
	}
	if len(missing) > 0 {
		return errors.NewConfigurationError("payment gateway is not configured").
			WithDetails(map[string]interface{}{"missing": missing})
	}
	return nil
}

// CheckoutURL is where the customer is redirected to complete payment.
func (c *Client) CheckoutURL(token string) string {
	host := c.config.CheckoutURL
	if c.config.Mode == errors.GatewayModeSandbox {
		host = c.config.SandboxCheckoutURL
	}
	return fmt.Sprintf("%s/checkout/%s", strings.TrimRight(host, "/"), url.PathEscape(token))
}

func (c *Client) CreateSession(ctx context.Context, req *paymentgateway.SessionRequest) (*paymentgateway.SessionResponse, error) {
	if err := c.CheckConfigured(); err != nil {
		return nil, err
	}

	minor, err := MinorUnits(req.Amount)
	if err != nil {
		return nil, err
	}

	body := paymentgateway.InitPayload{
		Amount:      minor,
		Currency:    req.Currency,
		Client:      c.config.PublicKey,
		Environment: c.config.Mode,
		RedirectURL: req.ReturnURL,
		Metadata:    req.Metadata,
	}
	if err := c.validate.Struct(body); err != nil {
		return nil, errors.NewInvalidRequestError("invalid session request: "+err.Error(), errors.ErrCodeInvalidRequest)
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, errors.NewInternalError("failed to marshal session request", err)
	}

	c.logger.Info("gateway: creating checkout session",
		"amount", req.Amount.String(),
		"amount_minor", body.Amount,
		"currency", body.Currency,
		"environment", body.Environment)

	raw, err := c.do(ctx, http.MethodPost, c.config.BaseURL+initPath, jsonData)
	if err != nil {
		return nil, err
	}

	doc, err := payload.Decode(raw)
	if err != nil {
		c.logger.Error("gateway: session response is not JSON", "error", err)
		return nil, errors.NewMissingTokenError("payment gateway response did not contain a token").
			WithDetails(map[string]interface{}{"body": truncate(raw)})
	}

	token := payload.FirstString(doc, payload.TokenPaths...)
	if token == nil {
		c.logger.Error("gateway: session response missing token", "response", truncate(raw))
		return nil, errors.NewMissingTokenError("payment gateway response did not contain a token").
			WithDetails(map[string]interface{}{"response": json.RawMessage(raw)})
	}

	c.logger.Info("gateway: checkout session created", "transaction_id", *token)

	return &paymentgateway.SessionResponse{
		Token: *token,
		Raw:   json.RawMessage(raw),
	}, nil
}

func (c *Client) FetchStatus(ctx context.Context, transactionID string) (*paymentgateway.StatusResponse, error) {
	if err := c.CheckConfigured(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(transactionID) == "" {
		return nil, errors.NewInvalidRequestError("transactionId is required", errors.ErrCodeInvalidRequest)
	}

	c.logger.Info("gateway: fetching payment status", "transaction_id", transactionID)

	raw, err := c.do(ctx, http.MethodGet, c.config.BaseURL+statusPath+url.PathEscape(transactionID), nil)
	if err != nil {
		return nil, err
	}

	doc, err := payload.Decode(raw)
	if err != nil {
		c.logger.Error("gateway: status response is not JSON", "error", err, "transaction_id", transactionID)
		return nil, errors.NewUpstreamError("payment gateway returned an unreadable status response", err).
			WithDetails(map[string]interface{}{"body": truncate(raw)})
	}

	return &paymentgateway.StatusResponse{
		State: payload.Extract(doc).Status,
		Raw:   json.RawMessage(raw),
	}, nil
}

// do sends one authenticated request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, errors.NewInternalError("failed to create gateway request", err)
	}
	httpReq.SetBasicAuth(c.config.PublicKey, c.config.SecretKey)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("gateway: request failed", "error", err, "method", method, "url", endpoint)
		return nil, errors.NewUpstreamError("payment gateway request failed", err).
			WithDetails(map[string]interface{}{"reason": err.Error()})
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("gateway: failed to read response body", "error", err)
		return nil, errors.NewUpstreamError("failed to read payment gateway response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("gateway: returned error status",
			"status", resp.StatusCode,
			"method", method,
			"url", endpoint,
			"response", truncate(respBody))
		return nil, errors.NewUpstreamError(fmt.Sprintf("payment gateway returned status %d", resp.StatusCode), nil).
			WithDetails(map[string]interface{}{
				"status": resp.StatusCode,
				"body":   upstreamBody(respBody),
			})
	}

	return respBody, nil
}

// upstreamBody keeps JSON error bodies structured so callers see the gateway's own fields.
func upstreamBody(b []byte) interface{} {
	if len(b) <= maxErrorBody && json.Valid(b) {
		return json.RawMessage(b)
	}
	return truncate(b)
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
