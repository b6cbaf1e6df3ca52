package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Health is the part of the relay's /health document the publisher reads.
type Health struct {
	Status   string `json:"status"`
	Services struct {
		Upstream struct {
			Enabled   bool `json:"enabled"`
			Connected bool `json:"connected"`
		} `json:"upstream"`
		WebSocket struct {
			ConnectedClients int `json:"connected_clients"`
		} `json:"websocket"`
	} `json:"services"`
	MessagesProcessed uint64 `json:"messages_processed"`
}

// HTTPClient wraps http.Client with timeout
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

// newHTTPClient creates a new HTTP client with timeout
func newHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Health fetches /health. A 503 still carries a document and is not an error.
func (c *HTTPClient) Health(ctx context.Context) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return Health{}, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Health{}, fmt.Errorf("failed to reach service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Health{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return Health{}, fmt.Errorf("health check failed with status: %d", resp.StatusCode)
	}
	var h Health
	if err := json.Unmarshal(body, &h); err != nil {
		return Health{}, fmt.Errorf("failed to decode health: %w", err)
	}
	return h, nil
}
