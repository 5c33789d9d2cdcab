package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"TenderScanner/internal/config"
	"TenderScanner/internal/ports"
)

// Client reads the remaining credit of the metered classification service.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ ports.BalanceProvider = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(cfg config.BillingConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: timeout},
	}
}

// Balance fetches GET {endpoint}/credits and returns its balance field.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	if c.endpoint == "" {
		return 0, fmt.Errorf("billing endpoint not configured")
	}

	var resp struct {
		Balance *float64 `json:"balance"`
	}
	if err := c.get(ctx, "/credits", &resp); err != nil {
		return 0, err
	}
	if resp.Balance == nil {
		return 0, fmt.Errorf("billing response without balance")
	}
	return *resp.Balance, nil
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return fmt.Errorf("unexpected status %s, close body: %v", resp.Status, closeErr)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		_ = resp.Body.Close()
		return fmt.Errorf("decode response: %w", err)
	}

	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}

	return nil
}
