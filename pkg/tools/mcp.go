package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hivemind-ai/hivemind/pkg/config"
	"github.com/hivemind-ai/hivemind/pkg/httpclient"
)

const mcpProtocolVersion = "2024-11-05"

// MCPSource discovers tools from one external MCP server. Servers reached
// over a URL speak JSON-RPC over streamable HTTP; servers launched as a
// subprocess speak stdio through the mcp-go client.
type MCPSource struct {
	cfg    config.MCPServerConfig
	logger *slog.Logger

	mu        sync.Mutex
	stdio     *client.Client
	http      *httpclient.Client
	sessionID string
}

func NewMCPSource(cfg config.MCPServerConfig, logger *slog.Logger) *MCPSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &MCPSource{
		cfg:    cfg,
		logger: logger.With("component", "mcp", "source", cfg.Name),
	}
}

func (s *MCPSource) Name() string { return s.cfg.Name }

// Discover connects to the server and lists its tools.
func (s *MCPSource) Discover(ctx context.Context) ([]Tool, error) {
	if s.cfg.Command != "" {
		return s.discoverStdio(ctx)
	}
	return s.discoverHTTP(ctx)
}

func (s *MCPSource) discoverStdio(ctx context.Context) ([]Tool, error) {
	mcpClient, err := client.NewStdioMCPClient(s.cfg.Command, nil, s.cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("mcp source %s: create client: %w", s.cfg.Name, err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("mcp source %s: start: %w", s.cfg.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "hivemind", Version: "1.0"}
	initReq.Params.ProtocolVersion = mcpProtocolVersion
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("mcp source %s: initialize: %w", s.cfg.Name, err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("mcp source %s: list tools: %w", s.cfg.Name, err)
	}

	s.mu.Lock()
	s.stdio = mcpClient
	s.mu.Unlock()

	tools := make([]Tool, 0, len(listResp.Tools))
	for _, t := range listResp.Tools {
		tools = append(tools, &mcpTool{
			source: s,
			name:   t.Name,
			desc:   t.Description,
			schema: schemaToMap(t.InputSchema),
		})
	}

	s.logger.Info("discovered mcp tools", "transport", "stdio", "tools", len(tools))
	return tools, nil
}

func (s *MCPSource) discoverHTTP(ctx context.Context) ([]Tool, error) {
	s.mu.Lock()
	s.http = httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: s.callTimeout()}),
	)
	s.mu.Unlock()

	initResp, err := s.rpc(ctx, "initialize", map[string]any{
		"protocolVersion": mcpProtocolVersion,
		"clientInfo":      map[string]any{"name": "hivemind", "version": "1.0"},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return nil, fmt.Errorf("mcp source %s: initialize: %w", s.cfg.Name, err)
	}
	if initResp.Error != nil {
		return nil, fmt.Errorf("mcp source %s: initialize: %s", s.cfg.Name, initResp.Error.Message)
	}

	listResp, err := s.rpc(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("mcp source %s: list tools: %w", s.cfg.Name, err)
	}
	if listResp.Error != nil {
		return nil, fmt.Errorf("mcp source %s: list tools: %s", s.cfg.Name, listResp.Error.Message)
	}

	resultMap, _ := listResp.Result.(map[string]any)
	rawTools, _ := resultMap["tools"].([]any)

	var tools []Tool
	for _, raw := range rawTools {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		desc, _ := m["description"].(string)
		schema, _ := m["inputSchema"].(map[string]any)
		tools = append(tools, &mcpTool{source: s, name: name, desc: desc, schema: schema})
	}

	s.logger.Info("discovered mcp tools", "transport", "http", "tools", len(tools))
	return tools, nil
}

func (s *MCPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdio != nil {
		err := s.stdio.Close()
		s.stdio = nil
		return err
	}
	s.http = nil
	return nil
}

func (s *MCPSource) callTimeout() time.Duration {
	return time.Duration(s.cfg.TimeoutSeconds) * time.Second
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result any `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (s *MCPSource) rpc(ctx context.Context, method string, params any) (*rpcResponse, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	s.mu.Lock()
	hc := s.http
	sessionID := s.sessionID
	s.mu.Unlock()
	if hc == nil {
		return nil, fmt.Errorf("mcp source %s is not connected", s.cfg.Name)
	}
	if sessionID != "" {
		req.Header.Set("mcp-session-id", sessionID)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if id := resp.Header.Get("mcp-session-id"); id != "" {
		s.mu.Lock()
		s.sessionID = id
		s.mu.Unlock()
	}

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("mcp server returned status %d: %s", resp.StatusCode, string(raw))
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return readSSEResponse(resp.Body)
	}

	var parsed rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode mcp response: %w", err)
	}
	return &parsed, nil
}

// readSSEResponse reads the first complete JSON-RPC message from an SSE body.
func readSSEResponse(body io.Reader) (*rpcResponse, error) {
	reader := bufio.NewReader(body)
	var data strings.Builder
	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")))
		case trimmed == "" && data.Len() > 0:
			var parsed rpcResponse
			if jerr := json.Unmarshal([]byte(data.String()), &parsed); jerr == nil {
				return &parsed, nil
			}
			data.Reset()
		}
		if err == io.EOF {
			break
		}
	}
	if data.Len() > 0 {
		var parsed rpcResponse
		if jerr := json.Unmarshal([]byte(data.String()), &parsed); jerr == nil {
			return &parsed, nil
		}
	}
	return nil, fmt.Errorf("event stream ended without a complete message")
}

// mcpTool adapts one discovered MCP tool to the host Tool interface.
type mcpTool struct {
	source *MCPSource
	name   string
	desc   string
	schema map[string]any
}

func (t *mcpTool) Info() ToolInfo {
	params := t.schema
	if params == nil {
		params = objectSchema(map[string]interface{}{})
	}
	return ToolInfo{
		Name:        t.name,
		Description: t.desc,
		Version:     "mcp",
		Parameters:  params,
		Source:      t.source.Name(),
	}
}

func (t *mcpTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.source.callTimeout())
	defer cancel()

	t.source.mu.Lock()
	stdio := t.source.stdio
	t.source.mu.Unlock()

	if stdio != nil {
		return t.callStdio(callCtx, stdio, args)
	}
	return t.callHTTP(callCtx, args)
}

func (t *mcpTool) callStdio(ctx context.Context, mcpClient *client.Client, args map[string]interface{}) (ToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = t.name
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ToolResult{}, NewToolError(KindToolTimeout, t.name, "mcp call timed out", err)
		}
		return ToolResult{}, NewToolError(KindToolError, t.name, "mcp call failed", err)
	}

	texts := make([]string, 0, len(resp.Content))
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	joined := strings.Join(texts, "\n")

	if resp.IsError {
		msg := joined
		if msg == "" {
			msg = "mcp tool reported an error"
		}
		return ToolResult{}, NewToolError(KindToolError, t.name, msg, nil)
	}

	return ToolResult{
		Content:  joined,
		Metadata: map[string]interface{}{"source": t.source.Name()},
	}, nil
}

func (t *mcpTool) callHTTP(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	resp, err := t.source.rpc(ctx, "tools/call", map[string]any{
		"name":      t.name,
		"arguments": args,
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ToolResult{}, NewToolError(KindToolTimeout, t.name, "mcp call timed out", err)
		}
		return ToolResult{}, NewToolError(KindToolError, t.name, "mcp call failed", err)
	}
	if resp.Error != nil {
		return ToolResult{}, NewToolError(KindToolError, t.name, resp.Error.Message, nil)
	}

	resultMap, ok := resp.Result.(map[string]any)
	if !ok {
		return ToolResult{Content: fmt.Sprintf("%v", resp.Result)}, nil
	}

	var texts []string
	if content, ok := resultMap["content"].([]any); ok {
		for _, c := range content {
			if cm, ok := c.(map[string]any); ok {
				if cm["type"] == "text" {
					if text, ok := cm["text"].(string); ok {
						texts = append(texts, text)
					}
				}
			}
		}
	}
	joined := strings.Join(texts, "\n")

	if isError, _ := resultMap["isError"].(bool); isError {
		msg := joined
		if msg == "" {
			msg = "mcp tool reported an error"
		}
		return ToolResult{}, NewToolError(KindToolError, t.name, msg, nil)
	}

	return ToolResult{
		Content:  joined,
		Metadata: map[string]interface{}{"source": t.source.Name()},
	}, nil
}

func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
