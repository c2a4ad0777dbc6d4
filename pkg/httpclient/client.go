// Package httpclient provides the retrying HTTP client used by the LLM and
// embedding providers. Retries apply exponential backoff with full jitter
// and honor Retry-After hints from rate-limiting backends.
package httpclient

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// RetryStrategy classifies a response status for retry purposes.
type RetryStrategy int

const (
	// NoRetry means the failure is terminal for this call.
	NoRetry RetryStrategy = iota

	// Retry means the failure is transient and worth another attempt.
	Retry

	// RetryAfterHint means transient, and the server supplied its own delay.
	RetryAfterHint
)

// RetryStrategyFunc maps an HTTP status code to a strategy.
type RetryStrategyFunc func(statusCode int) RetryStrategy

// Client wraps http.Client with bounded retries.
type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	capDelay     time.Duration
	strategyFunc RetryStrategyFunc
	rand         *rand.Rand
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithMaxRetries(max int) Option {
	return func(c *Client) {
		c.maxRetries = max
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

func WithCapDelay(cap time.Duration) Option {
	return func(c *Client) {
		c.capDelay = cap
	}
}

func WithRetryStrategy(strategyFunc RetryStrategyFunc) Option {
	return func(c *Client) {
		c.strategyFunc = strategyFunc
	}
}

func New(opts ...Option) *Client {
	client := &Client{
		client:       &http.Client{Timeout: 120 * time.Second},
		maxRetries:   3,
		baseDelay:    100 * time.Millisecond,
		capDelay:     10 * time.Second,
		strategyFunc: DefaultRetryStrategy,
		rand:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// DefaultRetryStrategy retries timeouts, throttling and server errors.
// Client errors (auth, bad request, context overflow) are terminal.
func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusServiceUnavailable:
		return RetryAfterHint
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return Retry
	default:
		return NoRetry
	}
}

// Do executes the request, retrying transient failures. The request body is
// re-created from GetBody on each attempt. The request context bounds the
// whole sequence including backoff sleeps.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	var lastStatus int

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)
		if err != nil {
			// Connection-level failures are transient unless the context died.
			if ctxErr := req.Context().Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = err
			lastStatus = 0
			if attempt < c.maxRetries {
				if werr := c.sleep(req.Context(), c.backoff(attempt, 0)); werr != nil {
					return nil, werr
				}
				continue
			}
			break
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		strategy := c.strategyFunc(resp.StatusCode)
		if strategy == NoRetry {
			return resp, nil
		}

		var hint time.Duration
		if strategy == RetryAfterHint {
			hint = parseRetryAfter(resp.Header)
		}

		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
		lastStatus = resp.StatusCode

		if attempt >= c.maxRetries {
			return resp, nil
		}
		resp.Body.Close()

		if werr := c.sleep(req.Context(), c.backoff(attempt, hint)); werr != nil {
			return nil, werr
		}
	}

	return nil, &RetryExhaustedError{
		StatusCode: lastStatus,
		Attempts:   c.maxRetries + 1,
		Err:        lastErr,
	}
}

// backoff computes the delay before the next attempt: the server hint when
// present, otherwise exponential with full jitter, capped.
func (c *Client) backoff(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		if hint > c.capDelay {
			return c.capDelay
		}
		return hint
	}

	ceil := float64(c.baseDelay) * math.Pow(2, float64(attempt))
	if ceil > float64(c.capDelay) {
		ceil = float64(c.capDelay)
	}
	return time.Duration(c.rand.Int63n(int64(ceil) + 1))
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter reads the Retry-After header (delay-seconds form only).
func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
