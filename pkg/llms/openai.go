package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/hivemind-ai/hivemind/pkg/config"
	"github.com/hivemind-ai/hivemind/pkg/protocol"
)

const defaultOpenAIHost = "https://api.openai.com/v1"

// OpenAIProvider talks to an OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	cfg    *config.LLMConfig
	client *http.Client
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	Stream      bool            `json:"stream"`
	Tools       []openaiTool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiTool struct {
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type openaiToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type openaiToolCall struct {
	Index    *int               `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function openaiFunctionCall `json:"function"`
}

type openaiFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type openaiResponse struct {
	Choices []openaiChoice `json:"choices"`
	Usage   Usage          `json:"usage"`
	Error   *openaiError   `json:"error,omitempty"`
}

type openaiChoice struct {
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiStreamResponse struct {
	Choices []openaiStreamChoice `json:"choices"`
	Usage   *Usage               `json:"usage,omitempty"`
	Error   *openaiError         `json:"error,omitempty"`
}

type openaiStreamChoice struct {
	Delta        openaiDelta `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type openaiDelta struct {
	Content   string           `json:"content,omitempty"`
	ToolCalls []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// NewOpenAIProvider builds a provider from configuration. An API key is
// required; the host defaults to the public OpenAI endpoint so self-hosted
// compatible servers can override it.
func NewOpenAIProvider(cfg *config.LLMConfig) (*OpenAIProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("openai provider requires a config")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai provider requires a model")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai provider requires an api_key")
	}

	host := cfg.Host
	if host == "" {
		host = defaultOpenAIHost
	}
	c := *cfg
	c.Host = host

	return &OpenAIProvider{
		cfg:    &c,
		client: &http.Client{Timeout: c.Timeout()},
	}, nil
}

func (p *OpenAIProvider) ModelName() string { return p.cfg.Model }
func (p *OpenAIProvider) Backend() string   { return "openai" }
func (p *OpenAIProvider) Close() error      { return nil }

func (p *OpenAIProvider) Chat(ctx context.Context, messages []protocol.Message, tools []ToolDefinition) (*Response, error) {
	body, err := p.do(ctx, p.buildRequest(messages, tools, false))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp openaiResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, NewError(KindServerError, "openai", "malformed response", err)
	}
	if resp.Error != nil {
		return nil, NewError(KindServerError, "openai", resp.Error.Message, nil)
	}
	if len(resp.Choices) == 0 {
		return nil, NewError(KindServerError, "openai", "no response choices", nil)
	}

	choice := resp.Choices[0]
	toolCalls, err := parseOpenAIToolCalls(choice.Message.ToolCalls)
	if err != nil {
		return nil, NewError(KindServerError, "openai", "malformed tool call arguments", err)
	}

	return &Response{
		Text:      choice.Message.Content,
		ToolCalls: toolCalls,
		Usage:     resp.Usage,
	}, nil
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, messages []protocol.Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	body, err := p.do(ctx, p.buildRequest(messages, tools, true))
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk, 64)
	go func() {
		defer close(out)
		defer body.Close()
		p.readStream(ctx, body, out)
	}()

	return out, nil
}

// readStream consumes the SSE body. Tool call fragments are accumulated by
// delta index and emitted in index order once the stream finishes.
func (p *OpenAIProvider) readStream(ctx context.Context, body io.Reader, out chan<- StreamChunk) {
	reader := bufio.NewReader(body)
	pending := make(map[int]*openaiToolCall)
	usage := Usage{}

	emit := func(chunk StreamChunk) bool {
		select {
		case out <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			if ctx.Err() == nil {
				emit(StreamChunk{Type: ChunkError, Err: NewError(KindConnection, "openai", "stream read failed", err)})
			}
			return
		}

		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]
		if bytes.Equal(line, []byte("[DONE]")) {
			break
		}

		var resp openaiStreamResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		if resp.Error != nil {
			emit(StreamChunk{Type: ChunkError, Err: NewError(KindServerError, "openai", resp.Error.Message, nil)})
			return
		}
		if resp.Usage != nil {
			usage = *resp.Usage
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		if choice.Delta.Content != "" {
			if !emit(StreamChunk{Type: ChunkText, Text: choice.Delta.Content}) {
				return
			}
		}

		for _, delta := range choice.Delta.ToolCalls {
			idx := 0
			if delta.Index != nil {
				idx = *delta.Index
			}
			if tc, ok := pending[idx]; ok {
				tc.Function.Arguments += delta.Function.Arguments
				if delta.Function.Name != "" {
					tc.Function.Name = delta.Function.Name
				}
			} else {
				copied := delta
				pending[idx] = &copied
			}
		}
	}

	indexes := make([]int, 0, len(pending))
	for idx := range pending {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	for _, idx := range indexes {
		calls, err := parseOpenAIToolCalls([]openaiToolCall{*pending[idx]})
		if err != nil {
			emit(StreamChunk{Type: ChunkError, Err: NewError(KindServerError, "openai", "malformed tool call arguments", err)})
			return
		}
		for _, tc := range calls {
			if !emit(StreamChunk{Type: ChunkToolCall, ToolCall: tc}) {
				return
			}
		}
	}

	emit(StreamChunk{Type: ChunkDone, Usage: &usage})
}

func (p *OpenAIProvider) buildRequest(messages []protocol.Message, tools []ToolDefinition, stream bool) openaiRequest {
	msgs := make([]openaiMessage, 0, len(messages))
	for _, m := range messages {
		om := openaiMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Args)
			om.ToolCalls = append(om.ToolCalls, openaiToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: openaiFunctionCall{Name: tc.Name, Arguments: string(args)},
			})
		}
		msgs = append(msgs, om)
	}

	req := openaiRequest{
		Model:       p.cfg.Model,
		Messages:    msgs,
		Temperature: p.cfg.Temperature,
		Stop:        p.cfg.Stop,
		Stream:      stream,
	}
	if p.cfg.MaxTokens > 0 {
		maxTokens := p.cfg.MaxTokens
		req.MaxTokens = &maxTokens
	}
	if len(tools) > 0 {
		req.Tools = make([]openaiTool, len(tools))
		for i, t := range tools {
			req.Tools[i] = openaiTool{Type: "function", Function: openaiToolFunction(t)}
		}
		req.ToolChoice = "auto"
	}

	return req
}

func (p *OpenAIProvider) do(ctx context.Context, request openaiRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, NewError(KindBadRequest, "openai", "failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, NewError(KindBadRequest, "openai", "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, NewError(KindOf(err), "openai", "request failed", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		kind := classifyStatus(resp.StatusCode)
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		var errResp struct {
			Error openaiError `json:"error"`
		}
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			msg = fmt.Sprintf("%s: %s", msg, errResp.Error.Message)
			if errResp.Error.Code == "context_length_exceeded" {
				kind = KindContextOverflow
			}
		}
		return nil, NewError(kind, "openai", msg, nil)
	}

	return resp.Body, nil
}

func parseOpenAIToolCalls(calls []openaiToolCall) ([]*protocol.ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	result := make([]*protocol.ToolCall, len(calls))
	for i, tc := range calls {
		args := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("tool call %s: %w", tc.ID, err)
			}
		}
		result[i] = &protocol.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args}
	}
	return result, nil
}
