package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hivemind-ai/hivemind/pkg/llms"
	"github.com/hivemind-ai/hivemind/pkg/observability"
	"github.com/hivemind-ai/hivemind/pkg/registry"
)

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry is the tool host registry. Registration is idempotent for the
// same name and version; a new version replaces the old tool atomically.
type Registry struct {
	entries *registry.BaseRegistry[*entry]
	metrics *observability.Metrics
	logger  *slog.Logger
	mu      sync.Mutex
}

func NewRegistry(metrics *observability.Metrics, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: registry.NewBaseRegistry[*entry](),
		metrics: metrics,
		logger:  logger.With("component", "tools"),
	}
}

// Register adds a tool. Re-registering the same name and version is a no-op;
// a different version replaces the previous tool.
func (r *Registry) Register(tool Tool) error {
	info := tool.Info()
	if info.Name == "" {
		return fmt.Errorf("tool has no name")
	}

	schema, err := compileSchema(info.Name, info.Parameters)
	if err != nil {
		return fmt.Errorf("tool %s has an invalid parameter schema: %w", info.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries.Get(info.Name); ok {
		if existing.tool.Info().Version == info.Version {
			return nil
		}
		r.logger.Info("replacing tool", "tool", info.Name,
			"old_version", existing.tool.Info().Version, "new_version", info.Version)
		r.entries.Replace(info.Name, &entry{tool: tool, schema: schema})
		return nil
	}

	return r.entries.Register(info.Name, &entry{tool: tool, schema: schema})
}

// RegisterAll registers tools, stopping at the first failure.
func (r *Registry) RegisterAll(tools ...Tool) error {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Remove drops a tool. Removing an absent tool is not an error.
func (r *Registry) Remove(name string) {
	_ = r.entries.Remove(name)
}

// List returns tool descriptions sorted by name.
func (r *Registry) List() []ToolInfo {
	names := r.entries.Names()
	infos := make([]ToolInfo, 0, len(names))
	for _, name := range names {
		if e, ok := r.entries.Get(name); ok {
			infos = append(infos, e.tool.Info())
		}
	}
	return infos
}

// Definitions converts the named tools to LLM tool definitions, in sorted
// order. Unknown names are skipped; a nil allowlist means every tool.
func (r *Registry) Definitions(allowlist []string) []llms.ToolDefinition {
	var names []string
	if allowlist == nil {
		names = r.entries.Names()
	} else {
		names = append(names, allowlist...)
		sort.Strings(names)
	}

	defs := make([]llms.ToolDefinition, 0, len(names))
	for _, name := range names {
		e, ok := r.entries.Get(name)
		if !ok {
			continue
		}
		info := e.tool.Info()
		params := info.Parameters
		if params == nil {
			params = objectSchema(map[string]interface{}{})
		}
		defs = append(defs, llms.ToolDefinition{
			Name:        info.Name,
			Description: info.Description,
			Parameters:  params,
		})
	}
	return defs
}

// Execute validates arguments and runs the named tool. Every failure path
// returns a *ToolError; callers fold the kind into the transcript.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	tracer := observability.GetTracer("hivemind.tools")
	ctx, span := tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(attribute.String(observability.AttrToolName, name)),
	)
	defer span.End()

	e, ok := r.entries.Get(name)
	if !ok {
		err := NewToolError(KindUnknownTool, name, "tool is not registered", nil)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown tool")
		r.metrics.RecordToolExecution(name, time.Since(start), err)
		return ToolResult{}, err
	}

	if args == nil {
		args = map[string]interface{}{}
	}
	if e.schema != nil {
		if err := e.schema.Validate(normalizeArgs(args)); err != nil {
			terr := NewToolError(KindInvalidArgs, name, "arguments failed schema validation", err)
			span.RecordError(terr)
			span.SetStatus(codes.Error, "invalid arguments")
			r.metrics.RecordToolExecution(name, time.Since(start), terr)
			return ToolResult{}, terr
		}
	}

	result, err := e.tool.Execute(ctx, args)
	duration := time.Since(start)
	result.Duration = duration

	if err != nil {
		err = asToolError(name, ctx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		r.metrics.RecordToolExecution(name, duration, err)
		return ToolResult{}, err
	}

	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.Int64("tool.duration_ms", duration.Milliseconds()))
	r.metrics.RecordToolExecution(name, duration, nil)
	return result, nil
}

// asToolError wraps plain errors and maps deadline expiry to tool_timeout.
func asToolError(name string, ctx context.Context, err error) error {
	var te *ToolError
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return NewToolError(KindToolTimeout, name, "tool execution timed out", err)
	}
	return NewToolError(KindToolError, name, "tool execution failed", err)
}

func compileSchema(name string, params map[string]interface{}) (*jsonschema.Schema, error) {
	if params == nil {
		return nil, nil
	}

	// Round-trip so the compiler sees canonical JSON types regardless of how
	// the schema map was constructed.
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(name+".json", doc); err != nil {
		return nil, err
	}
	return c.Compile(name + ".json")
}

// normalizeArgs re-types argument values the way a JSON decoder would so
// schema validation sees canonical types.
func normalizeArgs(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = normalizeValue(item)
		}
		return out
	case map[string]interface{}:
		return normalizeArgs(t)
	default:
		return v
	}
}
