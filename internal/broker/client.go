package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/qtmspin/alpaca-api-service-sub001/internal/infra"
)

const (
	defaultLiveURL  = "https://api.alpaca.markets"
	defaultPaperURL = "https://paper-api.alpaca.markets"

	requestTimeout = 10 * time.Second
)

// Client submits orders to the brokerage REST API. Requests pass through
// a token-bucket rate limiter sized to the vendor's published limit.
type Client struct {
	baseURL    string
	keyID      string
	secretKey  string
	httpClient *http.Client
	limiter    *infra.RateLimiter
}

// ClientConfig configures the REST client.
type ClientConfig struct {
	BaseURL   string
	Paper     bool
	KeyID     string
	SecretKey string
	// RequestsPerMinute caps the submission rate; 0 uses the vendor
	// default of 200/min.
	RequestsPerMinute int
}

// NewClient builds a REST client for the live or paper endpoint.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultLiveURL
		if cfg.Paper {
			baseURL = defaultPaperURL
		}
	}
	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = 200
	}
	return &Client{
		baseURL:    baseURL,
		keyID:      cfg.KeyID,
		secretKey:  cfg.SecretKey,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    infra.NewRateLimiter(10, float64(perMinute)/60.0),
	}
}

// apiError is the brokerage's error response body.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SubmitOrder places an order via POST /v2/orders.
func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (Order, error) {
	c.limiter.Wait()

	body, err := json.Marshal(req)
	if err != nil {
		return Order{}, fmt.Errorf("broker: marshal order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/orders", bytes.NewReader(body))
	if err != nil {
		return Order{}, fmt.Errorf("broker: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("APCA-API-KEY-ID", c.keyID)
	httpReq.Header.Set("APCA-API-SECRET-KEY", c.secretKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Order{}, fmt.Errorf("broker: submit order: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Order{}, fmt.Errorf("broker: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return Order{}, fmt.Errorf("broker: order rejected (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return Order{}, fmt.Errorf("broker: order rejected with status %d", resp.StatusCode)
	}

	var order Order
	if err := json.Unmarshal(respBody, &order); err != nil {
		return Order{}, fmt.Errorf("broker: decode order response: %w", err)
	}

	slog.Info("order submitted",
		"id", order.ID,
		"symbol", req.Symbol,
		"side", req.Side,
		"type", req.Type,
		"qty", req.Qty,
	)
	return order, nil
}
