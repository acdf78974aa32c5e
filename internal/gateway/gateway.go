package gateway

// Package gateway contains the read-only client for the payment gateway's
// query API. It is used by the polling reconciliation path to find payments
// the gateway confirmed but whose webhook never arrived (or arrived out of
// order).

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stampd/internal/config"
)

// PaymentInfo is the gateway's view of a payment.
type PaymentInfo struct {
	ID                string  `json:"id"`
	Customer          string  `json:"customer"`
	Value             float64 `json:"value"`
	Status            string  `json:"status"`
	ExternalReference string  `json:"externalReference"`
	Subscription      string  `json:"subscription,omitempty"`
}

// Confirmed reports whether the gateway considers the payment settled.
func (p *PaymentInfo) Confirmed() bool {
	switch strings.ToUpper(p.Status) {
	case "CONFIRMED", "RECEIVED", "RECEIVED_IN_CASH":
		return true
	}
	return false
}

// Client queries payment state from the gateway.
type Client interface {
	// GetPayment fetches a payment by its gateway id.
	GetPayment(ctx context.Context, externalID string) (*PaymentInfo, error)
}

// HTTPClient is the HTTP implementation of Client.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a gateway client with a bounded per-call timeout and
// an instrumented transport.
func NewHTTPClient(cfg config.GatewayConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("gateway base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

var _ Client = (*HTTPClient)(nil)

// GetPayment fetches a payment by its gateway id.
func (c *HTTPClient) GetPayment(ctx context.Context, externalID string) (*PaymentInfo, error) {
	if externalID == "" {
		return nil, fmt.Errorf("payment id is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/payments/"+externalID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("access_token", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var info PaymentInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode gateway response: %w", err)
	}
	return &info, nil
}
