package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"routecache/internal/core"
)

// RetryConfig controls backoff for throttled responses. Only throttling is
// retried locally; timeouts and provider rejections go straight to the
// pipeline's fallback check.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultRetryConfig returns the standard throttle backoff settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		BackoffFactor:  2.0,
	}
}

// HTTPAPI is the shared HTTP client for cloud provider adapters: JSON
// round trips, throttle backoff, and normalization of provider errors into
// the core taxonomy.
type HTTPAPI struct {
	provider   string
	baseURL    string
	client     *http.Client
	setHeaders func(*http.Request) error
	retry      RetryConfig
}

// NewHTTPAPI creates a client for the named provider. setHeaders is
// applied to every request (auth headers, signing); it may be nil.
func NewHTTPAPI(provider, baseURL string, client *http.Client, setHeaders func(*http.Request) error, retry RetryConfig) *HTTPAPI {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPAPI{
		provider:   provider,
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     client,
		setHeaders: setHeaders,
		retry:      retry,
	}
}

// SetBaseURL updates the base URL (used by tests and custom endpoints).
func (c *HTTPAPI) SetBaseURL(url string) {
	c.baseURL = strings.TrimRight(url, "/")
}

// Post sends a JSON body and returns the response body, retrying throttled
// responses with exponential backoff.
func (c *HTTPAPI) Post(ctx context.Context, endpoint string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	backoff := c.retry.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, c.wrapTransportError(ctx.Err())
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * c.retry.BackoffFactor)
			if backoff > c.retry.MaxBackoff {
				backoff = c.retry.MaxBackoff
			}
		}

		respBody, err := c.do(ctx, http.MethodPost, endpoint, payload)
		if err == nil {
			return respBody, nil
		}
		lastErr = err

		if core.TypeOf(err) != core.ErrorTypeThrottled {
			return nil, err
		}
	}

	return nil, lastErr
}

// Get sends a GET request (health checks, model listings).
func (c *HTTPAPI) Get(ctx context.Context, endpoint string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, endpoint, nil)
}

func (c *HTTPAPI) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.setHeaders != nil {
		if err := c.setHeaders(req); err != nil {
			return nil, fmt.Errorf("failed to prepare request headers: %w", err)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.wrapTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewInternalError(c.provider, "failed to read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ParseProviderError(c.provider, resp.StatusCode, body)
	}
	return body, nil
}

func (c *HTTPAPI) wrapTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewTimeoutError(c.provider, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.NewTimeoutError(c.provider, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return core.NewInternalError(c.provider, "provider request failed", err)
}

// ParseProviderError maps a non-2xx provider response into the shared
// taxonomy. The message is extracted leniently since providers disagree on
// error envelope shape.
func ParseProviderError(provider string, statusCode int, body []byte) *core.RouteError {
	message := strings.TrimSpace(string(body))
	for _, path := range []string{"error.message", "message", "error"} {
		if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.Str != "" {
			message = v.Str
			break
		}
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return core.NewThrottledError(provider, message)
	case statusCode >= 400 && statusCode < 500:
		return core.NewInvalidRequestError(provider, message, nil)
	default:
		return core.NewInternalError(provider, message, nil)
	}
}
