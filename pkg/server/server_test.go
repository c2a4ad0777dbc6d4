package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hivemind-ai/hivemind/pkg/config"
	"github.com/hivemind-ai/hivemind/pkg/embedders"
	"github.com/hivemind-ai/hivemind/pkg/llms"
	"github.com/hivemind-ai/hivemind/pkg/observability"
	"github.com/hivemind-ai/hivemind/pkg/protocol"
	"github.com/hivemind-ai/hivemind/pkg/tools"
)

// stubProvider answers every chat turn with a fixed response and streams a
// fixed chunk sequence.
type stubProvider struct {
	text   string
	err    error
	chunks []llms.StreamChunk
}

func (p *stubProvider) Chat(ctx context.Context, messages []protocol.Message, defs []llms.ToolDefinition) (*llms.Response, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &llms.Response{Text: p.text, Usage: llms.Usage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8}}, nil
}

func (p *stubProvider) ChatStream(ctx context.Context, messages []protocol.Message, defs []llms.ToolDefinition) (<-chan llms.StreamChunk, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := make(chan llms.StreamChunk, len(p.chunks))
	for _, c := range p.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func (p *stubProvider) ModelName() string { return "stub-model" }
func (p *stubProvider) Backend() string   { return "stub" }
func (p *stubProvider) Close() error      { return nil }

type echoTool struct{}

func (echoTool) Info() tools.ToolInfo {
	return tools.ToolInfo{Name: "echo", Version: "1"}
}

func (echoTool) Execute(ctx context.Context, args map[string]interface{}) (tools.ToolResult, error) {
	text, _ := args["text"].(string)
	return tools.ToolResult{Content: text}, nil
}

func testServer(t *testing.T, provider llms.Provider) *Server {
	t.Helper()

	res := config.ResilienceConfig{}
	res.SetDefaults()
	res.RetryBaseMillis = 1
	res.RetryCapMillis = 2

	client := llms.NewClient(provider, res, nil, nil)

	registry := tools.NewRegistry(nil, nil)
	registry.Register(echoTool{})

	cfg := config.ServerConfig{}
	cfg.SetDefaults()

	return New(cfg, Deps{
		LLM:      client,
		Registry: registry,
		Metrics:  observability.NewMetrics(),
		Version:  "test",
	})
}

func TestHandleChat(t *testing.T) {
	s := testServer(t, &stubProvider{text: "hello back"})

	body := `{"messages":[{"role":"user","content":"hello"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Message.Content != "hello back" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if resp.Usage.TotalTokens != 8 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestHandleChat_Stream(t *testing.T) {
	s := testServer(t, &stubProvider{chunks: []llms.StreamChunk{
		{Type: llms.ChunkText, Text: "hel"},
		{Type: llms.ChunkText, Text: "lo"},
		{Type: llms.ChunkDone, Usage: &llms.Usage{TotalTokens: 4}},
	}})

	body := `{"messages":[{"role":"user","content":"hi"}],"stream":true}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %s", ct)
	}

	var frames []streamFrame
	scanner := bufio.NewScanner(bytes.NewReader(rec.Body.Bytes()))
	for scanner.Scan() {
		var f streamFrame
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			t.Fatalf("bad frame %q: %v", scanner.Text(), err)
		}
		frames = append(frames, f)
	}
	if len(frames) != 3 {
		t.Fatalf("len(frames) = %d, want 3", len(frames))
	}
	if frames[0].Text != "hel" || frames[1].Text != "lo" {
		t.Errorf("text frames = %+v", frames[:2])
	}
	if frames[2].Type != "done" || frames[2].Usage == nil {
		t.Errorf("final frame = %+v, want done with usage", frames[2])
	}
}

func TestHandleChat_ErrorKindMapping(t *testing.T) {
	s := testServer(t, &stubProvider{
		err: llms.NewError(llms.KindAuthError, "stub", "bad key", nil),
	})

	body := `{"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	var parsed errorBody
	json.Unmarshal(rec.Body.Bytes(), &parsed)
	if parsed.Error.Kind != string(llms.KindAuthError) {
		t.Errorf("kind = %s", parsed.Error.Kind)
	}
}

func TestHandleChat_BadRequest(t *testing.T) {
	s := testServer(t, &stubProvider{text: "x"})

	for _, body := range []string{"not json", `{"messages":[]}`} {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(body))
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestHandleInvokeTool(t *testing.T) {
	s := testServer(t, &stubProvider{text: "x"})

	req := httptest.NewRequest(http.MethodPost, "/v1/tools/echo",
		strings.NewReader(`{"arguments":{"text":"ping"}}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["content"] != "ping" {
		t.Errorf("content = %v", resp["content"])
	}
}

func TestHandleInvokeTool_Unknown(t *testing.T) {
	s := testServer(t, &stubProvider{text: "x"})

	req := httptest.NewRequest(http.MethodPost, "/v1/tools/nope", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleListTools(t *testing.T) {
	s := testServer(t, &stubProvider{text: "x"})

	req := httptest.NewRequest(http.MethodGet, "/v1/tools", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Tools []tools.ToolInfo `json:"tools"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Tools) != 1 || resp.Tools[0].Name != "echo" {
		t.Errorf("tools = %+v", resp.Tools)
	}
}

func TestHandleHealth(t *testing.T) {
	s := testServer(t, &stubProvider{text: "x"})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var health map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &health)
	if health["status"] != "ok" {
		t.Errorf("status field = %v", health["status"])
	}
	llmInfo, _ := health["llm"].(map[string]interface{})
	if llmInfo["breaker_state"] != "closed" {
		t.Errorf("breaker_state = %v", llmInfo["breaker_state"])
	}
}

func TestHandleRAGStats_NotConfigured(t *testing.T) {
	s := testServer(t, &stubProvider{text: "x"})

	req := httptest.NewRequest(http.MethodGet, "/v1/rag/stats", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestWriteFailure_EmbedderKinds(t *testing.T) {
	s := testServer(t, &stubProvider{text: "x"})

	cases := []struct {
		err        error
		wantStatus int
		wantKind   string
	}{
		{
			err:        embedders.NewError(embedders.KindBackendUnavailable, "ollama", "embed request failed", nil),
			wantStatus: http.StatusServiceUnavailable,
			wantKind:   string(embedders.KindBackendUnavailable),
		},
		{
			err:        embedders.NewError(embedders.KindDimensionMismatch, "", "got 2 dimensions, want 3", nil),
			wantStatus: http.StatusInternalServerError,
			wantKind:   string(embedders.KindDimensionMismatch),
		},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		s.writeFailure(rec, tc.err)
		if rec.Code != tc.wantStatus {
			t.Errorf("%s: status = %d, want %d", tc.wantKind, rec.Code, tc.wantStatus)
		}
		var parsed errorBody
		json.Unmarshal(rec.Body.Bytes(), &parsed)
		if parsed.Error.Kind != tc.wantKind {
			t.Errorf("kind = %s, want %s", parsed.Error.Kind, tc.wantKind)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := testServer(t, &stubProvider{text: "x"})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
