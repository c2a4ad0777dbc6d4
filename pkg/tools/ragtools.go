package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hivemind-ai/hivemind/pkg/rag"
)

// RAGSearchTool exposes the document store to agents.
type RAGSearchTool struct {
	store *rag.Store
}

// RAGAddTool lets agents add documents to the store.
type RAGAddTool struct {
	store *rag.Store
}

// NewRAGTools builds the knowledge tools over a store.
func NewRAGTools(store *rag.Store) []Tool {
	return []Tool{
		&RAGSearchTool{store: store},
		&RAGAddTool{store: store},
	}
}

func (t *RAGSearchTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "rag_search",
		Description: "Search the knowledge store for passages relevant to a query.",
		Version:     "1",
		Parameters: objectSchema(map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Natural language search query.",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum passages to return (default 5).",
			},
		}, "query"),
	}
}

func (t *RAGSearchTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return ToolResult{}, NewToolError(KindInvalidArgs, "rag_search", "query is required", nil)
	}
	limit := 5
	if raw, ok := args["limit"].(float64); ok && raw > 0 {
		limit = int(raw)
	}

	results, err := t.store.Search(ctx, query, limit, nil)
	if err != nil {
		return ToolResult{}, NewToolError(KindToolError, "rag_search", "search failed", err)
	}
	if len(results) == 0 {
		return ToolResult{Content: "no matching passages"}, nil
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s (score %.3f)\n%s\n\n", i+1, r.ChunkID, r.Score, r.Content)
	}

	return ToolResult{
		Content:  strings.TrimRight(b.String(), "\n"),
		Metadata: map[string]interface{}{"results": len(results)},
	}, nil
}

func (t *RAGAddTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "rag_add",
		Description: "Add a document to the knowledge store.",
		Version:     "1",
		Parameters: objectSchema(map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Document content.",
			},
			"id": map[string]interface{}{
				"type":        "string",
				"description": "Document id. Generated when omitted; re-using an id replaces the document.",
			},
		}, "content"),
	}
}

func (t *RAGAddTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	content, _ := args["content"].(string)
	if strings.TrimSpace(content) == "" {
		return ToolResult{}, NewToolError(KindInvalidArgs, "rag_add", "content is required", nil)
	}
	id, _ := args["id"].(string)
	if id == "" {
		id = "agent-" + uuid.NewString()
	}

	chunks, err := t.store.AddDocument(ctx, rag.Document{
		ID:       id,
		Content:  content,
		Metadata: map[string]string{"source": "agent"},
	})
	if err != nil {
		return ToolResult{}, NewToolError(KindToolError, "rag_add", "add failed", err)
	}

	return ToolResult{
		Content:  fmt.Sprintf("stored document %s in %d chunks", id, chunks),
		Metadata: map[string]interface{}{"id": id, "chunks": chunks},
	}, nil
}
