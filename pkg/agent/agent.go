// Package agent drives one reasoning loop: seed the transcript, call the
// LLM, resolve tool calls, repeat until a final answer or a budget runs out.
package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hivemind-ai/hivemind/pkg/llms"
	"github.com/hivemind-ai/hivemind/pkg/observability"
	"github.com/hivemind-ai/hivemind/pkg/protocol"
	"github.com/hivemind-ai/hivemind/pkg/tools"
	"github.com/hivemind-ai/hivemind/pkg/utils"
)

// State is the agent lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateToolWait  State = "tool_wait"
	StateDone      State = "done"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Failure kinds reported by agents.
const (
	FailureBudgetExhausted = "budget_exhausted"
	FailureCancelled       = "cancelled"
)

// LLM is the completion surface the agent needs. *llms.Client satisfies it.
type LLM interface {
	Chat(ctx context.Context, messages []protocol.Message, tools []llms.ToolDefinition) (*llms.Response, error)
	ModelName() string
}

// Spec describes one agent to run.
type Spec struct {
	ID     string   `json:"id"`
	Role   string   `json:"role"`
	Prompt string   `json:"prompt"`
	Task   string   `json:"task"`
	Tools  []string `json:"tools,omitempty"`
}

// Report is the outcome of one agent run.
type Report struct {
	ID          string        `json:"id"`
	Role        string        `json:"role"`
	State       State         `json:"state"`
	Output      string        `json:"output,omitempty"`
	FailureKind string        `json:"failure_kind,omitempty"`
	Turns       int           `json:"turns"`
	TokensUsed  int           `json:"tokens_used"`
	Duration    time.Duration `json:"duration"`
}

// Succeeded reports whether the agent produced a final answer.
func (r Report) Succeeded() bool { return r.State == StateDone }

// Agent owns one transcript. The transcript has a single writer; nothing
// outside the run loop mutates it.
type Agent struct {
	spec    Spec
	llm     LLM
	tools   *tools.Registry
	counter *utils.TokenCounter

	maxTurns    int
	tokenBudget int

	logger *slog.Logger

	// allowed is nil when the agent may use every registered tool.
	allowed map[string]bool

	mu         sync.Mutex
	state      State
	transcript []protocol.Message
}

// Options bound one agent run.
type Options struct {
	MaxTurns    int
	TokenBudget int
}

// New builds an agent in the pending state. registry may be nil for agents
// that reason without tools.
func New(spec Spec, llm LLM, registry *tools.Registry, opts Options, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	counter, err := utils.NewTokenCounter(llm.ModelName())
	if err != nil {
		counter = nil // Count falls back to estimation
	}
	var allowed map[string]bool
	if spec.Tools != nil {
		allowed = make(map[string]bool, len(spec.Tools))
		for _, name := range spec.Tools {
			allowed[name] = true
		}
	}
	return &Agent{
		allowed:     allowed,
		spec:        spec,
		llm:         llm,
		tools:       registry,
		counter:     counter,
		maxTurns:    opts.MaxTurns,
		tokenBudget: opts.TokenBudget,
		logger:      logger.With("agent", spec.ID, "role", spec.Role),
		state:       StatePending,
	}
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Transcript returns a copy of the transcript so far.
func (a *Agent) Transcript() []protocol.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]protocol.Message, len(a.transcript))
	copy(out, a.transcript)
	return out
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *Agent) append(msgs ...protocol.Message) {
	a.mu.Lock()
	a.transcript = append(a.transcript, msgs...)
	a.mu.Unlock()
}

// Run drives the loop to completion. It always returns a report; failures
// are encoded in the report's state and kind, never panicked or lost.
func (a *Agent) Run(ctx context.Context) Report {
	start := time.Now()
	ctx = context.WithValue(ctx, protocol.AgentIDKey, a.spec.ID)

	tracer := observability.GetTracer("hivemind.agent")
	ctx, span := tracer.Start(ctx, observability.SpanAgentRun,
		trace.WithAttributes(attribute.String(observability.AttrAgentID, a.spec.ID)),
	)
	defer span.End()

	report := a.run(ctx)
	report.Duration = time.Since(start)

	if report.Succeeded() {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, report.FailureKind)
		span.SetAttributes(attribute.String(observability.AttrErrorKind, report.FailureKind))
	}
	span.SetAttributes(
		attribute.Int("agent.turns", report.Turns),
		attribute.Int("agent.tokens", report.TokensUsed),
	)

	a.logger.Info("agent finished",
		"state", string(report.State), "turns", report.Turns,
		"tokens", report.TokensUsed, "failure", report.FailureKind)
	return report
}

func (a *Agent) run(ctx context.Context) Report {
	report := Report{ID: a.spec.ID, Role: a.spec.Role}

	a.setState(StateRunning)
	a.append(*protocol.System(a.spec.Prompt), *protocol.User(a.spec.Task))

	var defs []llms.ToolDefinition
	if a.tools != nil {
		defs = a.tools.Definitions(a.spec.Tools)
	}

	for turn := 1; turn <= a.maxTurns; turn++ {
		if ctx.Err() != nil {
			return a.finish(&report, StateCancelled, FailureCancelled)
		}

		report.Turns = turn
		resp, err := a.llm.Chat(ctx, a.Transcript(), defs)
		if err != nil {
			kind := llms.KindOf(err)
			if kind == llms.KindCancelled {
				return a.finish(&report, StateCancelled, FailureCancelled)
			}
			return a.finish(&report, StateFailed, string(kind))
		}

		report.TokensUsed += a.usageTokens(resp)
		if a.tokenBudget > 0 && report.TokensUsed > a.tokenBudget {
			return a.finish(&report, StateFailed, FailureBudgetExhausted)
		}

		if len(resp.ToolCalls) == 0 {
			a.append(*protocol.Assistant(resp.Text))
			report.Output = resp.Text
			return a.finish(&report, StateDone, "")
		}

		a.append(*protocol.AssistantWithToolCalls(resp.Text, resp.ToolCalls))

		// A cancel arriving between the LLM turn and tool dispatch takes
		// effect before any tool runs.
		if ctx.Err() != nil {
			return a.finish(&report, StateCancelled, FailureCancelled)
		}

		a.setState(StateToolWait)
		results := a.dispatchTools(ctx, resp.ToolCalls)
		for i := range results {
			a.append(*protocol.ToolMessage(&results[i]))
		}
		a.setState(StateRunning)
	}

	return a.finish(&report, StateFailed, FailureBudgetExhausted)
}

func (a *Agent) finish(report *Report, state State, failureKind string) Report {
	a.setState(state)
	report.State = state
	report.FailureKind = failureKind
	return *report
}

// dispatchTools runs the calls concurrently. Results come back indexed by
// the LLM's emission order so transcripts are deterministic across runs.
func (a *Agent) dispatchTools(ctx context.Context, calls []*protocol.ToolCall) []protocol.ToolResult {
	results := make([]protocol.ToolResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call *protocol.ToolCall) {
			defer wg.Done()
			results[i] = a.executeTool(ctx, call)
		}(i, call)
	}
	wg.Wait()

	return results
}

func (a *Agent) executeTool(ctx context.Context, call *protocol.ToolCall) protocol.ToolResult {
	result := protocol.ToolResult{ToolCallID: call.ID, ToolName: call.Name}

	if a.allowed != nil && !a.allowed[call.Name] {
		result.Error = "tool is not on this agent's allowlist"
		result.ErrorKind = string(tools.KindPolicyDenied)
		return result
	}

	if a.tools == nil {
		result.Error = "no tools are available"
		result.ErrorKind = string(tools.KindUnknownTool)
		return result
	}

	out, err := a.tools.Execute(ctx, call.Name, call.Args)
	if err != nil {
		result.Error = err.Error()
		result.ErrorKind = string(tools.KindOf(err))
		a.logger.Debug("tool call failed", "tool", call.Name, "kind", result.ErrorKind)
		return result
	}

	result.Content = out.Content
	result.Duration = out.Duration
	return result
}

// usageTokens prefers backend-reported usage and falls back to counting the
// response text when the backend reports nothing.
func (a *Agent) usageTokens(resp *llms.Response) int {
	if resp.Usage.TotalTokens > 0 {
		return resp.Usage.TotalTokens
	}
	if n := resp.Usage.PromptTokens + resp.Usage.CompletionTokens; n > 0 {
		return n
	}
	return a.counter.Count(resp.Text)
}
