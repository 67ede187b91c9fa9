package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JawadKotaichh/AUBus-sub000/pkg/logger"
	"github.com/JawadKotaichh/AUBus-sub000/pkg/resilience"
)

// CorrelationIDHeader carries the per-frame correlation ID to upstreams.
const CorrelationIDHeader = "X-Correlation-ID"

// Client is a thin GET client for map provider APIs: a base URL, a
// hard timeout, and optional retry on transient failures.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	retryConfig *resilience.RetryConfig
}

// Option configures the HTTP client.
type Option func(*Client)

// WithDefaultRetry retries transient failures (5xx, 408, 429 and
// network errors) with the package default backoff.
func WithDefaultRetry() Option {
	config := resilience.DefaultRetryConfig()
	config.RetryableChecker = isHTTPRetryable
	return func(c *Client) {
		c.retryConfig = &config
	}
}

// NewClient creates a client rooted at baseURL. Every request inherits
// timeout through the underlying http.Client.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Get fetches baseURL+path and returns the raw body. Responses with
// status 400 and above come back as *HTTPError.
func (c *Client) Get(ctx context.Context, path string, headers map[string]string) ([]byte, error) {
	if c.retryConfig == nil {
		return c.get(ctx, path, headers)
	}

	result, err := resilience.RetryWithName(ctx, *c.retryConfig, func(ctx context.Context) (interface{}, error) {
		return c.get(ctx, path, headers)
	}, "httpclient.get")
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func (c *Client) get(ctx context.Context, path string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	injectCorrelationID(ctx, req)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach upstream: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// HTTPError is a non-2xx upstream response, body included so provider
// error payloads survive into logs.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

func isHTTPRetryable(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return resilience.IsRetryableHTTPStatus(httpErr.StatusCode)
	}
	// Anything else is a network-level failure worth another attempt.
	return true
}

func injectCorrelationID(ctx context.Context, req *http.Request) {
	if ctx == nil || req == nil {
		return
	}
	if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
		req.Header.Set(CorrelationIDHeader, correlationID)
	}
}
