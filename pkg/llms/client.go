package llms

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hivemind-ai/hivemind/pkg/config"
	"github.com/hivemind-ai/hivemind/pkg/observability"
	"github.com/hivemind-ai/hivemind/pkg/protocol"
)

// Client wraps a Provider with retries, a circuit breaker, a token-bucket
// rate limiter and a concurrency cap. All agent traffic to a backend goes
// through one shared Client so the backend sees bounded, well-behaved load.
type Client struct {
	provider Provider
	breaker  *Breaker
	limiter  *rate.Limiter
	sem      *semaphore.Weighted

	maxRetries int
	retryBase  time.Duration
	retryCap   time.Duration

	metrics *observability.Metrics
	logger  *slog.Logger

	jitterMu sync.Mutex
	jitter   *rand.Rand
}

// NewClient builds a resilient client around a provider using the backend's
// resilience configuration.
func NewClient(provider Provider, res config.ResilienceConfig, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		provider:   provider,
		maxRetries: res.MaxRetries,
		retryBase:  res.RetryBase(),
		retryCap:   res.RetryCap(),
		metrics:    metrics,
		logger:     logger.With("backend", provider.Backend(), "model", provider.ModelName()),
		jitter:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	c.breaker = NewBreaker(res.BreakerFailures, res.BreakerCooldown(), func() {
		c.logger.Warn("circuit breaker opened")
		metrics.RecordBreakerTrip(provider.Backend())
	})

	if res.RatePerSecond > 0 {
		burst := res.RateBurst
		if burst <= 0 {
			burst = int(res.RatePerSecond)
			if burst < 1 {
				burst = 1
			}
		}
		c.limiter = rate.NewLimiter(rate.Limit(res.RatePerSecond), burst)
	}

	if res.MaxConcurrent > 0 {
		c.sem = semaphore.NewWeighted(int64(res.MaxConcurrent))
	}

	return c
}

func (c *Client) ModelName() string { return c.provider.ModelName() }
func (c *Client) Backend() string   { return c.provider.Backend() }
func (c *Client) Close() error      { return c.provider.Close() }

// BreakerState exposes the breaker state for health reporting.
func (c *Client) BreakerState() BreakerState { return c.breaker.State() }

// Chat runs one completion turn with the full resilience stack applied.
func (c *Client) Chat(ctx context.Context, messages []protocol.Message, tools []ToolDefinition) (*Response, error) {
	release, err := c.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	tracer := observability.GetTracer("hivemind.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, c.provider.ModelName()),
			attribute.String(observability.AttrLLMBackend, c.provider.Backend()),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := callWithRetry(c, ctx, func(ctx context.Context) (*Response, error) {
		return c.provider.Chat(ctx, messages, tools)
	})
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		span.SetAttributes(attribute.String(observability.AttrErrorKind, string(KindOf(err))))
		c.metrics.RecordLLMCall(c.provider.ModelName(), c.provider.Backend(), duration, 0, 0, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int(observability.AttrLLMTokensInput, resp.Usage.PromptTokens),
		attribute.Int(observability.AttrLLMTokensOutput, resp.Usage.CompletionTokens),
	)
	span.SetStatus(codes.Ok, "")
	c.metrics.RecordLLMCall(c.provider.ModelName(), c.provider.Backend(), duration,
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens, nil)

	return resp, nil
}

// ChatStream opens a streaming turn. Retries apply only to establishing the
// stream; once the first chunk has been produced a failure surfaces as an
// error chunk and is not retried. The returned channel is closed when the
// stream ends or ctx is cancelled.
func (c *Client) ChatStream(ctx context.Context, messages []protocol.Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	release, err := c.admit(ctx)
	if err != nil {
		return nil, err
	}

	upstream, err := callWithRetry(c, ctx, func(ctx context.Context) (<-chan StreamChunk, error) {
		return c.provider.ChatStream(ctx, messages, tools)
	})
	if err != nil {
		release()
		return nil, err
	}

	out := make(chan StreamChunk, 64)
	go func() {
		defer close(out)
		defer release()

		start := time.Now()
		failed := false
		usage := Usage{}

		for chunk := range upstream {
			if chunk.Type == ChunkError {
				failed = true
			}
			if chunk.Type == ChunkDone && chunk.Usage != nil {
				usage = *chunk.Usage
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}

		if failed {
			c.breaker.RecordFailure()
			c.metrics.RecordLLMCall(c.provider.ModelName(), c.provider.Backend(),
				time.Since(start), 0, 0, NewError(KindConnection, c.provider.Backend(), "stream failed", nil))
			return
		}
		c.breaker.RecordSuccess()
		c.metrics.RecordLLMCall(c.provider.ModelName(), c.provider.Backend(),
			time.Since(start), usage.PromptTokens, usage.CompletionTokens, nil)
	}()

	return out, nil
}

// admit applies the concurrency cap and rate limiter in that order. A context
// expiring while queued at the limiter maps to rate_limit_timeout.
func (c *Client) admit(ctx context.Context) (func(), error) {
	release := func() {}

	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil, NewError(KindOf(err), c.provider.Backend(), "waiting for request slot", err)
		}
		var once sync.Once
		release = func() { once.Do(func() { c.sem.Release(1) }) }
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			release()
			if ctx.Err() == context.Canceled {
				return nil, NewError(KindCancelled, c.provider.Backend(), "cancelled while rate limited", err)
			}
			return nil, NewError(KindRateLimitTimeout, c.provider.Backend(), "deadline expired while rate limited", err)
		}
	}

	return release, nil
}

// callWithRetry runs fn through the breaker with bounded retries on
// transient failures. Terminal failures and open circuits return at once.
func callWithRetry[T any](c *Client, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if !c.breaker.Allow() {
			return zero, NewError(KindCircuitOpen, c.provider.Backend(), "circuit breaker open", nil)
		}

		result, err := fn(ctx)
		if err == nil {
			c.breaker.RecordSuccess()
			return result, nil
		}

		kind := KindOf(err)
		if !IsTransient(kind) {
			// Client-side errors do not trip the breaker.
			if kind != KindCancelled && kind != KindDeadlineExceeded &&
				kind != KindAuthError && kind != KindBadRequest && kind != KindContextOverflow {
				c.breaker.RecordFailure()
			}
			return zero, err
		}

		c.breaker.RecordFailure()
		lastErr = err

		if attempt == c.maxRetries {
			break
		}

		delay := c.backoff(attempt)
		c.logger.Debug("retrying after transient failure",
			"attempt", attempt+1, "kind", string(kind), "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, NewError(KindOf(ctx.Err()), c.provider.Backend(), "cancelled during retry backoff", ctx.Err())
		case <-timer.C:
		}
	}

	return zero, NewError(KindBackendUnavailable, c.provider.Backend(),
		"retries exhausted", lastErr)
}

// backoff returns a full-jitter exponential delay for the given attempt.
func (c *Client) backoff(attempt int) time.Duration {
	ceil := c.retryBase << uint(attempt)
	if ceil > c.retryCap || ceil <= 0 {
		ceil = c.retryCap
	}
	c.jitterMu.Lock()
	defer c.jitterMu.Unlock()
	return time.Duration(c.jitter.Int63n(int64(ceil) + 1))
}
