package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/hivemind-ai/hivemind/pkg/config"
	"github.com/hivemind-ai/hivemind/pkg/protocol"
)

const defaultOllamaHost = "http://localhost:11434"

// OllamaProvider talks to a local Ollama server via /api/chat.
type OllamaProvider struct {
	cfg    *config.LLMConfig
	client *http.Client
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type ollamaToolCall struct {
	Function ollamaFunctionCall `json:"function"`
}

type ollamaFunctionCall struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

// NewOllamaProvider builds a provider from configuration. The host defaults
// to the local Ollama endpoint.
func NewOllamaProvider(cfg *config.LLMConfig) (*OllamaProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ollama provider requires a config")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama provider requires a model")
	}

	host := cfg.Host
	if host == "" {
		host = defaultOllamaHost
	}
	c := *cfg
	c.Host = host

	return &OllamaProvider{
		cfg:    &c,
		client: &http.Client{Timeout: c.Timeout()},
	}, nil
}

func (p *OllamaProvider) ModelName() string { return p.cfg.Model }
func (p *OllamaProvider) Backend() string   { return "ollama" }
func (p *OllamaProvider) Close() error      { return nil }

func (p *OllamaProvider) Chat(ctx context.Context, messages []protocol.Message, tools []ToolDefinition) (*Response, error) {
	body, err := p.do(ctx, p.buildRequest(messages, tools, false))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp ollamaResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, NewError(KindServerError, "ollama", "malformed response", err)
	}
	if resp.Error != "" {
		return nil, NewError(KindServerError, "ollama", resp.Error, nil)
	}

	return &Response{
		Text:      resp.Message.Content,
		ToolCalls: convertOllamaToolCalls(resp.Message.ToolCalls),
		Usage: Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}, nil
}

func (p *OllamaProvider) ChatStream(ctx context.Context, messages []protocol.Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	body, err := p.do(ctx, p.buildRequest(messages, tools, true))
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk, 64)
	go func() {
		defer close(out)
		defer body.Close()

		usage := Usage{}
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var resp ollamaResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				continue
			}
			if resp.Error != "" {
				out <- StreamChunk{Type: ChunkError, Err: NewError(KindServerError, "ollama", resp.Error, nil)}
				return
			}

			if resp.Message.Content != "" {
				select {
				case out <- StreamChunk{Type: ChunkText, Text: resp.Message.Content}:
				case <-ctx.Done():
					return
				}
			}
			for _, tc := range convertOllamaToolCalls(resp.Message.ToolCalls) {
				select {
				case out <- StreamChunk{Type: ChunkToolCall, ToolCall: tc}:
				case <-ctx.Done():
					return
				}
			}

			if resp.Done {
				usage.PromptTokens = resp.PromptEvalCount
				usage.CompletionTokens = resp.EvalCount
				usage.TotalTokens = resp.PromptEvalCount + resp.EvalCount
				break
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			out <- StreamChunk{Type: ChunkError, Err: NewError(KindConnection, "ollama", "stream read failed", err)}
			return
		}
		if ctx.Err() != nil {
			return
		}
		out <- StreamChunk{Type: ChunkDone, Usage: &usage}
	}()

	return out, nil
}

func (p *OllamaProvider) buildRequest(messages []protocol.Message, tools []ToolDefinition, stream bool) ollamaRequest {
	msgs := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		om := ollamaMessage{Role: string(m.Role), Content: m.Content}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, ollamaToolCall{
				Function: ollamaFunctionCall{Name: tc.Name, Arguments: tc.Args},
			})
		}
		msgs = append(msgs, om)
	}

	req := ollamaRequest{
		Model:    p.cfg.Model,
		Messages: msgs,
		Stream:   stream,
	}

	if p.cfg.Temperature != nil || p.cfg.MaxTokens > 0 || len(p.cfg.Stop) > 0 {
		req.Options = &ollamaOptions{
			Temperature: p.cfg.Temperature,
			NumPredict:  p.cfg.MaxTokens,
			Stop:        p.cfg.Stop,
		}
	}

	for _, t := range tools {
		req.Tools = append(req.Tools, ollamaTool{
			Type:     "function",
			Function: ollamaToolFunction(t),
		})
	}

	return req
}

// do posts the request and returns the response body on 2xx, or a typed
// error classified from the status code.
func (p *OllamaProvider) do(ctx context.Context, request ollamaRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, NewError(KindBadRequest, "ollama", "failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, NewError(KindBadRequest, "ollama", "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, NewError(KindOf(err), "ollama", "request failed", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, NewError(classifyStatus(resp.StatusCode), "ollama",
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body)), nil)
	}

	return resp.Body, nil
}

// convertOllamaToolCalls assigns call IDs, which Ollama does not provide,
// preserving emission order.
func convertOllamaToolCalls(calls []ollamaToolCall) []*protocol.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	result := make([]*protocol.ToolCall, len(calls))
	for i, tc := range calls {
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]interface{}{}
		}
		result[i] = &protocol.ToolCall{
			ID:   "call_" + uuid.NewString(),
			Name: tc.Function.Name,
			Args: args,
		}
	}
	return result
}
