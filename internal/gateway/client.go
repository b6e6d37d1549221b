// Package gateway wraps the external payment gateway: order submission for
// the payment-initiation flow and the authoritative status query used by
// reconciliation. Only the fields the billing core needs are modeled.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/reyhq/rentledger/internal/db"
	"github.com/reyhq/rentledger/internal/metrics"
)

// Client is the payment gateway boundary the rest of the core depends on.
type Client interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	GetStatus(ctx context.Context, trackingID string) (*StatusResponse, error)
}

// OrderRequest carries the fields the gateway needs to open a payment.
type OrderRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	CallbackURL string          `json:"callback_url"`
	MerchantRef string          `json:"merchant_reference"`
	PayerName   string          `json:"payer_name"`
	PayerEmail  string          `json:"payer_email"`
	PayerPhone  string          `json:"payer_phone"`
}

// OrderResponse is the gateway's answer to a submitted order.
type OrderResponse struct {
	TrackingID  string `json:"tracking_id"`
	RedirectURL string `json:"redirect_url"`
}

// StatusResponse is the authoritative payment status for a tracking id.
type StatusResponse struct {
	Code             int    `json:"status_code"`
	Description      string `json:"status_description"`
	PaymentMethod    string `json:"payment_method"`
	ConfirmationCode string `json:"confirmation_code"`
}

// Gateway status codes this core interprets. Anything unmapped stays
// pending: a webhook must never promote an unknown code to success or
// failure.
const (
	codeCompleted        = 100
	codeFailed           = 2
	codeCancelledByPayer = 17
	codeReversed         = 54
)

// MapStatus translates the gateway's status vocabulary into the internal
// payment outcome.
func MapStatus(code int) string {
	switch code {
	case codeCompleted:
		return db.PaymentCompleted
	case codeFailed, codeCancelledByPayer, codeReversed:
		return db.PaymentFailed
	default:
		return db.PaymentPending
	}
}

// Config holds gateway connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPClient talks JSON to the gateway over HTTP.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
	logger  *zap.Logger
}

// NewHTTPClient creates a gateway client with a bounded request timeout.
func NewHTTPClient(cfg Config, logger *zap.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

// SubmitOrder opens a payment with the gateway and returns the tracking id
// and the payer redirect URL.
func (c *HTTPClient) SubmitOrder(ctx context.Context, order OrderRequest) (*OrderResponse, error) {
	start := time.Now()
	defer func() { metrics.ObserveGatewayRequest("submit_order", time.Since(start)) }()

	body, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit order: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gateway returned %d on order submit: %s", resp.StatusCode, string(preview))
	}

	var out OrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	if out.TrackingID == "" {
		return nil, fmt.Errorf("gateway order response missing tracking id")
	}

	c.logger.Info("gateway order submitted",
		zap.String("tracking_id", out.TrackingID),
		zap.String("merchant_ref", order.MerchantRef),
		zap.String("amount", order.Amount.String()),
	)

	return &out, nil
}

// GetStatus fetches the authoritative status for a tracking id. Webhook body
// fields are never trusted for the final decision: this call is.
func (c *HTTPClient) GetStatus(ctx context.Context, trackingID string) (*StatusResponse, error) {
	start := time.Now()
	defer func() { metrics.ObserveGatewayRequest("get_status", time.Since(start)) }()

	u := fmt.Sprintf("%s/status?tracking_id=%s", c.baseURL, url.QueryEscape(trackingID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query gateway status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gateway returned %d on status query: %s", resp.StatusCode, string(preview))
	}

	var out StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}

	c.logger.Debug("gateway status fetched",
		zap.String("tracking_id", trackingID),
		zap.Int("status_code", out.Code),
		zap.String("description", out.Description),
	)

	return &out, nil
}
