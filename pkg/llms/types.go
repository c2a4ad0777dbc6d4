// Package llms provides chat completion providers (Ollama, OpenAI-compatible)
// and a resilient client that layers retries, a circuit breaker, rate limiting
// and a concurrency cap on top of them.
package llms

import (
	"context"

	"github.com/hivemind-ai/hivemind/pkg/protocol"
)

// ToolDefinition describes a callable tool advertised to the model.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Usage reports token accounting for a completed request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a complete (non-streaming) chat turn. ToolCalls preserve the
// order the model emitted them.
type Response struct {
	Text      string
	ToolCalls []*protocol.ToolCall
	Usage     Usage
}

// StreamChunk is one unit of a streaming response.
type StreamChunk struct {
	Type     string
	Text     string
	ToolCall *protocol.ToolCall
	Usage    *Usage
	Err      error
}

// Stream chunk types.
const (
	ChunkText     = "text"
	ChunkToolCall = "tool_call"
	ChunkDone     = "done"
	ChunkError    = "error"
)

// Provider is a single chat completion backend.
type Provider interface {
	// Chat runs one blocking completion turn.
	Chat(ctx context.Context, messages []protocol.Message, tools []ToolDefinition) (*Response, error)

	// ChatStream runs one streaming completion turn. The channel is closed
	// after the final chunk; a ChunkError chunk terminates the stream.
	ChatStream(ctx context.Context, messages []protocol.Message, tools []ToolDefinition) (<-chan StreamChunk, error)

	// ModelName returns the configured model identifier.
	ModelName() string

	// Backend identifies the provider type (ollama, openai).
	Backend() string

	Close() error
}
