package loadgen

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// httpClient wraps http.Client with a timeout.
type httpClient struct {
	client *http.Client
}

func newHTTPClient(timeout time.Duration) *httpClient {
	return &httpClient{client: &http.Client{Timeout: timeout}}
}

// getJSON performs a GET and decodes a 200 body into v. Other statuses are
// returned with ErrUnexpectedStatus.
func (c *httpClient) getJSON(ctx context.Context, url string, v any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("%w: GET %s returned %d", ErrUnexpectedStatus, url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s: %w", url, err)
	}
	return resp.StatusCode, nil
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

type sessionResponse struct {
	SessionID string `json:"sessionId"`
	Aggregate struct {
		Mean float64 `json:"mean"`
	} `json:"aggregate"`
	HistoryLength int `json:"historyLength"`
}

// checkHealth verifies the service answers GET /health with status ok.
func checkHealth(ctx context.Context, c *httpClient, cfg *Config) (healthResponse, error) {
	var h healthResponse
	if _, err := c.getJSON(ctx, cfg.httpURL("/health"), &h); err != nil {
		return h, fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	if h.Status != "ok" {
		return h, fmt.Errorf("%w: status %q", ErrUnhealthy, h.Status)
	}
	return h, nil
}
