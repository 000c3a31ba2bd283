package eligibility

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrBillingUnavailable wraps transport and upstream failures.
var ErrBillingUnavailable = errors.New("eligibility: billing provider unavailable")

// HTTPBillingClient asks a billing provider for a subscription status with
// GET {BaseURL}/subscriptions/{id}, expecting {"status": "..."}.
type HTTPBillingClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPBillingClient builds a client with an instrumented transport.
func NewHTTPBillingClient(baseURL, apiKey string, timeout time.Duration) *HTTPBillingClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPBillingClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *HTTPBillingClient) SubscriptionStatus(ctx context.Context, subscriptionID string) (string, error) {
	endpoint := c.baseURL + "/subscriptions/" + url.PathEscape(subscriptionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBillingUnavailable, err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBillingUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%w: status %d", ErrBillingUnavailable, resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrBillingUnavailable, err)
	}
	if body.Status == "" {
		return "", fmt.Errorf("%w: empty status", ErrBillingUnavailable)
	}
	return body.Status, nil
}
