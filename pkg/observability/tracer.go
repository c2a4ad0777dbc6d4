// Package observability provides tracing and metrics for LLM calls, tool
// executions and swarm runs.
package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Span names.
const (
	SpanLLMRequest    = "llm.request"
	SpanLLMStream     = "llm.stream"
	SpanToolExecution = "tool.execution"
	SpanAgentRun      = "agent.run"
	SpanSwarmRun      = "swarm.run"
	SpanRAGSearch     = "rag.search"
	SpanRAGIngest     = "rag.ingest"
)

// Attribute keys.
const (
	AttrLLMModel        = "llm.model"
	AttrLLMBackend      = "llm.backend"
	AttrLLMTokensInput  = "llm.tokens.input"
	AttrLLMTokensOutput = "llm.tokens.output"
	AttrToolName        = "tool.name"
	AttrAgentID         = "agent.id"
	AttrTaskID          = "task.id"
	AttrSwarmTopology   = "swarm.topology"
	AttrErrorKind       = "error.kind"
)

// GetTracer returns a tracer from the global provider. Without a configured
// SDK this is a no-op tracer, so callers never need to check for nil.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
