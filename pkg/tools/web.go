package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hivemind-ai/hivemind/pkg/config"
)

// WebFetchTool fetches a URL and returns the body, capped at the configured
// response size.
type WebFetchTool struct {
	client   *http.Client
	maxBytes int64
}

// WebSearchTool queries a SearxNG-compatible search endpoint.
type WebSearchTool struct {
	client   *http.Client
	endpoint string
}

// NewWebTools builds the web tools. The search tool is omitted when no
// endpoint is configured.
func NewWebTools(cfg config.WebToolConfig) []Tool {
	client := &http.Client{Timeout: cfg.WebTimeout()}
	tools := []Tool{
		&WebFetchTool{client: client, maxBytes: cfg.MaxResponseBytes},
	}
	if cfg.SearchEndpoint != "" {
		tools = append(tools, &WebSearchTool{client: client, endpoint: cfg.SearchEndpoint})
	}
	return tools
}

func (t *WebFetchTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "web_fetch",
		Description: "Fetch a URL over HTTP(S) and return the response body.",
		Version:     "1",
		Parameters: objectSchema(map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Absolute http or https URL to fetch.",
			},
		}, "url"),
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	rawURL, _ := args["url"].(string)

	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return ToolResult{}, NewToolError(KindInvalidArgs, "web_fetch",
			fmt.Sprintf("url %q is not an absolute http(s) URL", rawURL), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return ToolResult{}, NewToolError(KindToolError, "web_fetch", "cannot build request", err)
	}
	req.Header.Set("User-Agent", "hivemind/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ToolResult{}, NewToolError(KindToolTimeout, "web_fetch", "fetch timed out", err)
		}
		return ToolResult{}, NewToolError(KindToolError, "web_fetch", "fetch failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes+1))
	if err != nil {
		return ToolResult{}, NewToolError(KindToolError, "web_fetch", "cannot read response body", err)
	}

	truncated := false
	if int64(len(body)) > t.maxBytes {
		body = body[:t.maxBytes]
		truncated = true
	}

	return ToolResult{
		Content: string(body),
		Metadata: map[string]interface{}{
			"status":       resp.StatusCode,
			"content_type": resp.Header.Get("Content-Type"),
			"truncated":    truncated,
		},
	}, nil
}

func (t *WebSearchTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "web_search",
		Description: "Search the web through the configured search service.",
		Version:     "1",
		Parameters: objectSchema(map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search query.",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of results (default 5).",
			},
		}, "query"),
	}
}

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return ToolResult{}, NewToolError(KindInvalidArgs, "web_search", "query is required", nil)
	}
	limit := 5
	if raw, ok := args["limit"].(float64); ok && raw > 0 {
		limit = int(raw)
	}

	searchURL := fmt.Sprintf("%s?q=%s&format=json", strings.TrimRight(t.endpoint, "/"), url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return ToolResult{}, NewToolError(KindToolError, "web_search", "cannot build request", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ToolResult{}, NewToolError(KindToolTimeout, "web_search", "search timed out", err)
		}
		return ToolResult{}, NewToolError(KindToolError, "web_search", "search request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ToolResult{}, NewToolError(KindToolError, "web_search",
			fmt.Sprintf("search service returned status %d", resp.StatusCode), nil)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ToolResult{}, NewToolError(KindToolError, "web_search", "cannot decode search response", err)
	}

	var b strings.Builder
	count := 0
	for _, r := range parsed.Results {
		if count >= limit {
			break
		}
		fmt.Fprintf(&b, "%d. %s\n   %s\n", count+1, r.Title, r.URL)
		if r.Content != "" {
			fmt.Fprintf(&b, "   %s\n", r.Content)
		}
		count++
	}
	if count == 0 {
		b.WriteString("no results")
	}

	return ToolResult{
		Content:  b.String(),
		Metadata: map[string]interface{}{"results": count},
	}, nil
}
