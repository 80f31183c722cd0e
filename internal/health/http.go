package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPChecker verifies that an upstream API (the payment provider) is reachable.
// Any response below 500 counts as reachable; provider roots commonly answer 401 or 404.
type HTTPChecker struct {
	url    string
	client *http.Client
}

// NewHTTPChecker creates a checker for url with a short client timeout.
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		url: url,
		client: &http.Client{
			Timeout: 3 * time.Second,
		},
	}
}

// HealthCheck issues a HEAD request to the configured URL.
func (c *HTTPChecker) HealthCheck(ctx context.Context) error {
	if c.url == "" {
		return fmt.Errorf("url not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("upstream unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
