// Package tools implements the tool host: the registry agents invoke tools
// through, the built-in tool classes with their safety policies, and the MCP
// source for external tools.
package tools

import (
	"context"
	"time"
)

// ToolInfo describes a registered tool. Parameters is a JSON Schema object;
// arguments are validated against it before the tool runs.
type ToolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Version     string                 `json:"version,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Source      string                 `json:"source,omitempty"`
}

// ToolResult is a successful tool output.
type ToolResult struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Duration time.Duration          `json:"-"`
}

// Tool is a callable capability exposed to agents.
type Tool interface {
	Info() ToolInfo

	// Execute runs the tool. Failures return a *ToolError so the caller can
	// fold the kind back into the transcript.
	Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error)
}

// Source contributes externally discovered tools (MCP servers).
type Source interface {
	Name() string

	// Discover connects and lists the source's tools.
	Discover(ctx context.Context) ([]Tool, error)

	Close() error
}

// objectSchema builds the standard parameters envelope.
func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
