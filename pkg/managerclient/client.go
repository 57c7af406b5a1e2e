package managerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"
)

// Page is the generic paginated response envelope returned by the manager
// HTTP surface (§6).
type Page[T any] struct {
	Data       []T `json:"data"`
	PageNum    int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalCount int `json:"totalCount"`
	TotalPages int `json:"totalPages"`
}

// BreakingChangeResponse is the typed 409 body returned when a reference
// conflict is detected (§6).
type BreakingChangeResponse struct {
	BreakingChanges []string `json:"breakingChanges"`
}

// Client is a resilient typed HTTP client for the manager entity services,
// composing exponential-backoff retry with a consecutive-failure circuit
// breaker (§4.4).
type Client struct {
	http    *http.Client
	cfg     *Config
	metrics *Metrics
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// New builds a Client from cfg.
func New(cfg *Config, metrics *Metrics) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		cfg:     cfg,
		metrics: metrics,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "managerclient",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.BreakerOpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
	})
	return c, nil
}

func isRetryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

// doWithResilience executes one logical HTTP call, composing retry (on 5xx,
// 408, 429 and transport errors) with the circuit breaker. When the breaker
// is open the call fails fast with ErrCodeUnavailable.
func (c *Client) doWithResilience(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	start := time.Now()
	var statusCode int

	op := func() ([]byte, error) {
		raw, err := c.breaker.Execute(func() ([]byte, error) {
			return c.doOnce(ctx, method, path, body, &statusCode)
		})
		if err != nil {
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				c.metrics.RecordBreakerTrip(ctx, path)
				return nil, backoff.Permanent(
					NewManagerClientError("request", ErrCodeUnavailable, "manager service temporarily unavailable", 0, err))
			}
			if statusCode != 0 && !isRetryableStatus(statusCode) {
				return nil, backoff.Permanent(classifyStatus(method, path, statusCode, err))
			}
			c.metrics.RecordRetry(ctx, path)
			return nil, err
		}
		return raw, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.RetryBaseDelay
	result, err := backoff.Retry(ctx, op,
		backoff.WithMaxTries(uint(c.cfg.MaxRetryAttempts+1)), backoff.WithBackOff(bo))

	c.metrics.RecordRequest(ctx, method, path, start, statusCode)
	if err != nil {
		return nil, statusCode, err
	}
	return result, statusCode, nil
}

func classifyStatus(method, path string, status int, err error) error {
	switch status {
	case http.StatusNotFound:
		return NewManagerClientError(method, ErrCodeNotFound, "resource not found", status, err)
	case http.StatusConflict:
		return NewManagerClientError(method, ErrCodeConflict, "reference conflict", status, err)
	case http.StatusBadRequest:
		return NewManagerClientError(method, ErrCodeBadRequest, "bad request", status, err)
	case http.StatusServiceUnavailable:
		return NewManagerClientError(method, ErrCodeServiceUnavailable, "validation service unavailable", status, err)
	default:
		return NewManagerClientError(method, ErrCodeRequestFailed, fmt.Sprintf("unexpected status %d", status), status, err)
	}
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte, statusCode *int) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	*statusCode = resp.StatusCode
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return data, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return data, nil
}

// GetRaw issues a GET to path through the same retry/breaker policy as Get,
// returning the undecoded response body. Callers that don't want the
// generic Get[T] instantiation (e.g. to satisfy a narrow consumer
// interface) use this directly.
func (c *Client) GetRaw(ctx context.Context, path string) ([]byte, error) {
	data, _, err := c.doWithResilience(ctx, http.MethodGet, path, nil)
	return data, err
}

// Get issues a GET to path and decodes the JSON body into T.
func Get[T any](ctx context.Context, c *Client, path string) (T, error) {
	var zero T
	data, _, err := c.doWithResilience(ctx, http.MethodGet, path, nil)
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, NewManagerClientError("get", ErrCodeRequestFailed, "failed to decode response body", 0, err)
	}
	return out, nil
}

// Post issues a POST with the JSON-encoded payload to path and decodes the
// JSON response body into T.
func Post[T any](ctx context.Context, c *Client, path string, payload any) (T, error) {
	var zero T
	body, err := json.Marshal(payload)
	if err != nil {
		return zero, NewManagerClientError("post", ErrCodeRequestFailed, "failed to encode request body", 0, err)
	}
	data, _, err := c.doWithResilience(ctx, http.MethodPost, path, body)
	if err != nil {
		return zero, err
	}
	var out T
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, NewManagerClientError("post", ErrCodeRequestFailed, "failed to decode response body", 0, err)
	}
	return out, nil
}

// ValidatePage checks the pagination parameters per §6: page>=1 and
// pageSize in [1,100], 400 on violation with no silent correction.
func ValidatePage(page, pageSize int) error {
	if page < 1 {
		return NewManagerClientError("validate_page", ErrCodeBadRequest, "page must be >= 1", http.StatusBadRequest, nil)
	}
	if pageSize < 1 || pageSize > 100 {
		return NewManagerClientError("validate_page", ErrCodeBadRequest, "pageSize must be in [1,100]", http.StatusBadRequest, nil)
	}
	return nil
}
