package llms

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hivemind-ai/hivemind/pkg/config"
	"github.com/hivemind-ai/hivemind/pkg/observability"
	"github.com/hivemind-ai/hivemind/pkg/protocol"
)

// fakeProvider scripts a sequence of responses and errors.
type fakeProvider struct {
	mu        sync.Mutex
	calls     int
	inFlight  int32
	maxSeen   int32
	responses []fakeResult
	delay     time.Duration
}

type fakeResult struct {
	resp *Response
	err  error
}

func (f *fakeProvider) Chat(ctx context.Context, messages []protocol.Message, tools []ToolDefinition) (*Response, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if cur <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, cur) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	r := f.responses[idx]
	return r.resp, r.err
}

func (f *fakeProvider) ChatStream(ctx context.Context, messages []protocol.Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	resp, err := f.Chat(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	out := make(chan StreamChunk, 4)
	out <- StreamChunk{Type: ChunkText, Text: resp.Text}
	out <- StreamChunk{Type: ChunkDone, Usage: &resp.Usage}
	close(out)
	return out, nil
}

func (f *fakeProvider) ModelName() string { return "fake-model" }
func (f *fakeProvider) Backend() string   { return "fake" }
func (f *fakeProvider) Close() error      { return nil }

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastResilience() config.ResilienceConfig {
	res := config.ResilienceConfig{}
	res.SetDefaults()
	res.RetryBaseMillis = 1
	res.RetryCapMillis = 2
	return res
}

func ok(text string) fakeResult {
	return fakeResult{resp: &Response{Text: text, Usage: Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}}
}

func fail(kind Kind) fakeResult {
	return fakeResult{err: NewError(kind, "fake", "scripted failure", nil)}
}

func TestClient_RetriesTransientThenSucceeds(t *testing.T) {
	p := &fakeProvider{responses: []fakeResult{fail(KindServerError), fail(KindTimeout), ok("hello")}}
	c := NewClient(p, fastResilience(), observability.NewMetrics(), nil)

	resp, err := c.Chat(context.Background(), []protocol.Message{*protocol.User("hi")}, nil)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Text != "hello" {
		t.Errorf("Text = %q, want hello", resp.Text)
	}
	if p.callCount() != 3 {
		t.Errorf("calls = %d, want 3", p.callCount())
	}
}

func TestClient_ExhaustedRetriesReturnBackendUnavailable(t *testing.T) {
	p := &fakeProvider{responses: []fakeResult{fail(KindServerError)}}
	c := NewClient(p, fastResilience(), observability.NewMetrics(), nil)

	_, err := c.Chat(context.Background(), []protocol.Message{*protocol.User("hi")}, nil)
	if got := KindOf(err); got != KindBackendUnavailable {
		t.Fatalf("KindOf(err) = %v, want backend_unavailable (err=%v)", got, err)
	}
	// 1 initial + 3 retries
	if p.callCount() != 4 {
		t.Errorf("calls = %d, want 4", p.callCount())
	}
}

func TestClient_TerminalErrorNotRetried(t *testing.T) {
	p := &fakeProvider{responses: []fakeResult{fail(KindAuthError)}}
	c := NewClient(p, fastResilience(), observability.NewMetrics(), nil)

	_, err := c.Chat(context.Background(), []protocol.Message{*protocol.User("hi")}, nil)
	if got := KindOf(err); got != KindAuthError {
		t.Fatalf("KindOf(err) = %v, want auth_error", got)
	}
	if p.callCount() != 1 {
		t.Errorf("calls = %d, want 1", p.callCount())
	}
}

func TestClient_BreakerOpensAndFailsFast(t *testing.T) {
	res := fastResilience()
	res.MaxRetries = 0
	res.BreakerFailures = 2
	p := &fakeProvider{responses: []fakeResult{fail(KindServerError)}}
	c := NewClient(p, res, observability.NewMetrics(), nil)

	for i := 0; i < 2; i++ {
		if _, err := c.Chat(context.Background(), []protocol.Message{*protocol.User("x")}, nil); err == nil {
			t.Fatal("Chat() expected error")
		}
	}

	_, err := c.Chat(context.Background(), []protocol.Message{*protocol.User("x")}, nil)
	if got := KindOf(err); got != KindCircuitOpen {
		t.Fatalf("KindOf(err) = %v, want circuit_open", got)
	}
	if p.callCount() != 2 {
		t.Errorf("calls = %d, want 2 (open circuit must not reach backend)", p.callCount())
	}
}

func TestClient_BreakerRecoversViaProbe(t *testing.T) {
	res := fastResilience()
	res.MaxRetries = 0
	res.BreakerFailures = 1
	res.BreakerCooldownSeconds = 0.01
	p := &fakeProvider{responses: []fakeResult{fail(KindServerError), ok("back")}}
	c := NewClient(p, res, observability.NewMetrics(), nil)

	if _, err := c.Chat(context.Background(), []protocol.Message{*protocol.User("x")}, nil); err == nil {
		t.Fatal("first call should fail")
	}

	time.Sleep(20 * time.Millisecond)

	resp, err := c.Chat(context.Background(), []protocol.Message{*protocol.User("x")}, nil)
	if err != nil {
		t.Fatalf("probe call error = %v", err)
	}
	if resp.Text != "back" {
		t.Errorf("Text = %q, want back", resp.Text)
	}
	if c.BreakerState() != BreakerClosed {
		t.Errorf("BreakerState() = %v, want closed after successful probe", c.BreakerState())
	}
}

func TestClient_RateLimitTimeout(t *testing.T) {
	res := fastResilience()
	res.RatePerSecond = 1
	res.RateBurst = 1
	p := &fakeProvider{responses: []fakeResult{ok("a")}}
	c := NewClient(p, res, observability.NewMetrics(), nil)

	// Drain the bucket.
	if _, err := c.Chat(context.Background(), []protocol.Message{*protocol.User("x")}, nil); err != nil {
		t.Fatalf("first call error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Chat(ctx, []protocol.Message{*protocol.User("x")}, nil)
	if got := KindOf(err); got != KindRateLimitTimeout {
		t.Fatalf("KindOf(err) = %v, want rate_limit_timeout", got)
	}
}

func TestClient_ConcurrencyCapEnforced(t *testing.T) {
	res := fastResilience()
	res.MaxConcurrent = 2
	p := &fakeProvider{responses: []fakeResult{ok("a")}, delay: 30 * time.Millisecond}
	c := NewClient(p, res, observability.NewMetrics(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Chat(context.Background(), []protocol.Message{*protocol.User("x")}, nil)
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&p.maxSeen); got > 2 {
		t.Errorf("max concurrent backend calls = %d, want <= 2", got)
	}
	if p.callCount() != 8 {
		t.Errorf("calls = %d, want 8 (queued, not rejected)", p.callCount())
	}
}

func TestClient_ChatStreamDeliversChunks(t *testing.T) {
	p := &fakeProvider{responses: []fakeResult{ok("streamed")}}
	c := NewClient(p, fastResilience(), observability.NewMetrics(), nil)

	ch, err := c.ChatStream(context.Background(), []protocol.Message{*protocol.User("x")}, nil)
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}

	var text string
	var done bool
	for chunk := range ch {
		switch chunk.Type {
		case ChunkText:
			text += chunk.Text
		case ChunkDone:
			done = true
		}
	}
	if text != "streamed" || !done {
		t.Errorf("stream text=%q done=%v, want streamed/true", text, done)
	}
}

func TestClient_CancelledContext(t *testing.T) {
	p := &fakeProvider{responses: []fakeResult{ok("a")}, delay: time.Second}
	c := NewClient(p, fastResilience(), observability.NewMetrics(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.Chat(ctx, []protocol.Message{*protocol.User("x")}, nil)
	if !errors.Is(err, context.Canceled) && KindOf(err) != KindCancelled {
		t.Errorf("err = %v, want cancellation", err)
	}
}
