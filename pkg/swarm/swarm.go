// Package swarm turns one task into a final answer by planning a small
// population of agents, supervising their parallel runs and merging their
// outputs.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hivemind-ai/hivemind/pkg/agent"
	"github.com/hivemind-ai/hivemind/pkg/config"
	"github.com/hivemind-ai/hivemind/pkg/llms"
	"github.com/hivemind-ai/hivemind/pkg/observability"
	"github.com/hivemind-ai/hivemind/pkg/protocol"
	"github.com/hivemind-ai/hivemind/pkg/tools"
	"github.com/hivemind-ai/hivemind/pkg/utils"
)

// Topology selects how agents are arranged.
type Topology string

const (
	TopologyStar      Topology = "star"
	TopologyMapReduce Topology = "map_reduce"
)

// Coordinator failure kinds.
const (
	KindPlanInvalid           = "plan_invalid"
	KindInsufficientSuccesses = "swarm_insufficient_successes"
	KindDeadlineExceeded      = "deadline_exceeded"
	KindCancelled             = "cancelled"
)

// Error is a coordinator failure carrying the per-agent report when agents
// already ran.
type Error struct {
	Kind    string
	Message string
	Reports []agent.Report
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from a coordinator error.
func KindOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return string(llms.KindOf(err))
}

// Request is one swarm task.
type Request struct {
	Task      string   `json:"task"`
	MaxAgents int      `json:"max_agents,omitempty"`
	Topology  Topology `json:"topology,omitempty"`
	Context   string   `json:"context,omitempty"`
}

// Result is the final answer plus the per-agent report.
type Result struct {
	Answer       string         `json:"answer"`
	Partial      bool           `json:"partial"`
	Topology     Topology       `json:"topology"`
	AgentReports []agent.Report `json:"agent_reports"`
	Duration     time.Duration  `json:"duration"`
}

// Coordinator plans, spawns and merges. All agents share one LLM client, so
// fan-out queues behind its concurrency cap rather than flooding the backend.
type Coordinator struct {
	llm      agent.LLM
	registry *tools.Registry
	cfg      config.SwarmConfig
	counter  *utils.TokenCounter
	metrics  *observability.Metrics
	logger   *slog.Logger
}

func NewCoordinator(llm agent.LLM, registry *tools.Registry, cfg config.SwarmConfig, metrics *observability.Metrics, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	counter, err := utils.NewTokenCounter(llm.ModelName())
	if err != nil {
		counter = nil
	}
	return &Coordinator{
		llm:      llm,
		registry: registry,
		cfg:      cfg,
		counter:  counter,
		metrics:  metrics,
		logger:   logger.With("component", "swarm"),
	}
}

// Run executes one task end to end.
func (c *Coordinator) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	taskID := uuid.NewString()
	ctx = context.WithValue(ctx, protocol.TaskIDKey, taskID)

	topology := req.Topology
	if topology == "" {
		topology = TopologyStar
	}
	maxAgents := req.MaxAgents
	if maxAgents <= 0 || maxAgents > c.cfg.MaxAgents {
		maxAgents = c.cfg.MaxAgents
	}

	tracer := observability.GetTracer("hivemind.swarm")
	ctx, span := tracer.Start(ctx, observability.SpanSwarmRun,
		trace.WithAttributes(
			attribute.String(observability.AttrTaskID, taskID),
			attribute.String(observability.AttrSwarmTopology, string(topology)),
		),
	)
	defer span.End()

	result, err := c.run(ctx, req, topology, maxAgents)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, KindOf(err))
		c.metrics.RecordSwarmRun(string(topology), KindOf(err), agentCount(err))
		return nil, err
	}

	result.Duration = time.Since(start)
	result.Topology = topology
	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.Int("swarm.agents", len(result.AgentReports)))

	status := "ok"
	if result.Partial {
		status = "partial"
	}
	c.metrics.RecordSwarmRun(string(topology), status, len(result.AgentReports))
	return result, nil
}

func (c *Coordinator) run(ctx context.Context, req Request, topology Topology, maxAgents int) (*Result, error) {
	if strings.TrimSpace(req.Task) == "" {
		return nil, &Error{Kind: KindPlanInvalid, Message: "task is empty"}
	}

	plan, err := c.plan(ctx, req, topology, maxAgents)
	if err != nil {
		return nil, err
	}

	// Star agents all receive the full task; their prompts carry the slice.
	for i := range plan.Agents {
		if plan.Agents[i].Task == "" {
			plan.Agents[i].Task = taskWithContext(req)
		}
	}

	reports := c.spawn(ctx, plan.Agents)

	successes := successfulReports(reports)
	need := (len(reports) + 1) / 2

	if ctx.Err() != nil {
		// Deadline or cancel during the fan-out. Whatever finished feeds a
		// best-effort merge; nothing finished means the failure surfaces.
		if ctx.Err() == context.Canceled {
			return nil, &Error{Kind: KindCancelled, Message: "task cancelled", Reports: reports}
		}
		if len(successes) == 0 {
			return nil, &Error{Kind: KindDeadlineExceeded, Message: "deadline expired before any agent finished", Reports: reports}
		}
		mergeCtx, cancel := detach(ctx)
		defer cancel()
		answer, err := c.merge(mergeCtx, req, plan, successes)
		if err != nil {
			return nil, &Error{Kind: KindDeadlineExceeded, Message: "best-effort merge failed", Reports: reports, Err: err}
		}
		return &Result{Answer: answer, Partial: true, AgentReports: reports}, nil
	}

	if len(successes) < need {
		return nil, &Error{
			Kind:    KindInsufficientSuccesses,
			Message: fmt.Sprintf("%d of %d agents finished, need %d", len(successes), len(reports), need),
			Reports: reports,
		}
	}

	answer, err := c.merge(ctx, req, plan, successes)
	if err != nil {
		return nil, err
	}

	return &Result{
		Answer:       answer,
		Partial:      len(successes) < len(reports),
		AgentReports: reports,
	}, nil
}

// plan runs the planner turn with repair attempts, falling back to a
// single-agent plan when repairs are exhausted.
func (c *Coordinator) plan(ctx context.Context, req Request, topology Topology, maxAgents int) (*Plan, error) {
	prompt := starPlannerPrompt
	if topology == TopologyMapReduce {
		prompt = mapReducePlannerPrompt
	}

	messages := []protocol.Message{
		*protocol.System(fmt.Sprintf(prompt, maxAgents)),
		*protocol.User(taskWithContext(req)),
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.PlannerRepairAttempts; attempt++ {
		resp, err := c.llm.Chat(ctx, messages, nil)
		if err != nil {
			kind := llms.KindOf(err)
			if kind == llms.KindCancelled || kind == llms.KindDeadlineExceeded {
				return nil, &Error{Kind: string(kind), Message: "planner turn interrupted", Err: err}
			}
			return nil, &Error{Kind: KindPlanInvalid, Message: "planner turn failed", Err: err}
		}

		plan, perr := parsePlan(topology, resp.Text, maxAgents)
		if perr == nil {
			perr = c.checkToolNames(plan)
		}
		if perr == nil {
			return plan, nil
		}
		lastErr = perr

		c.logger.Warn("planner returned a malformed plan", "attempt", attempt+1, "error", perr)
		messages = append(messages,
			*protocol.Assistant(resp.Text),
			*protocol.User(fmt.Sprintf("That plan could not be parsed: %v. Respond again with valid JSON only.", perr)),
		)
	}

	c.logger.Warn("falling back to a single-agent plan", "error", lastErr)
	return &Plan{Agents: []agent.Spec{{
		ID:     agentID(0),
		Role:   "solver",
		Prompt: req.Task,
	}}}, nil
}

// checkToolNames rejects plans naming tools the host never registered, so a
// bad allowlist fails at planning time rather than on an agent's first call.
func (c *Coordinator) checkToolNames(plan *Plan) error {
	registered := make(map[string]bool)
	if c.registry != nil {
		for _, info := range c.registry.List() {
			registered[info.Name] = true
		}
	}

	specs := plan.Agents
	if plan.Reduce != nil {
		specs = append(append([]agent.Spec{}, specs...), *plan.Reduce)
	}
	for _, spec := range specs {
		for _, name := range spec.Tools {
			if !registered[name] {
				return fmt.Errorf("agent %q names unknown tool %q", spec.Role, name)
			}
		}
	}
	return nil
}

// spawn runs the agents concurrently and returns reports ordered by agent id.
func (c *Coordinator) spawn(ctx context.Context, specs []agent.Spec) []agent.Report {
	reports := make([]agent.Report, len(specs))
	opts := agent.Options{MaxTurns: c.cfg.MaxTurns, TokenBudget: c.cfg.TokenBudget}

	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec agent.Spec) {
			defer wg.Done()
			a := agent.New(spec, c.llm, c.registry, opts, c.logger)
			reports[i] = a.Run(ctx)
		}(i, spec)
	}
	wg.Wait()

	sort.Slice(reports, func(i, j int) bool { return reports[i].ID < reports[j].ID })
	return reports
}

// merge combines the successful outputs. Star topology uses a single merge
// turn; map-reduce runs the reduce spec as an agent over the mapper outputs.
func (c *Coordinator) merge(ctx context.Context, req Request, plan *Plan, successes []agent.Report) (string, error) {
	material := c.mergeMaterial(successes)

	if plan.Reduce != nil {
		reduce := *plan.Reduce
		reduce.ID = "reduce"
		reduce.Task = fmt.Sprintf("Task: %s\n\nMapper outputs:\n%s", req.Task, material)
		a := agent.New(reduce, c.llm, c.registry, agent.Options{MaxTurns: c.cfg.MaxTurns, TokenBudget: c.cfg.TokenBudget}, c.logger)
		report := a.Run(ctx)
		if !report.Succeeded() {
			return "", &Error{Kind: report.FailureKind, Message: "reduce agent failed", Reports: successes}
		}
		return report.Output, nil
	}

	messages := []protocol.Message{
		*protocol.System("You are a synthesis assistant. Combine the worker outputs below into one final answer to the task. Answer directly; do not mention the workers."),
		*protocol.User(fmt.Sprintf("Task: %s\n\nWorker outputs:\n%s", req.Task, material)),
	}
	resp, err := c.llm.Chat(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// mergeMaterial renders the successful outputs ordered by agent id, trimmed
// to the merge token budget.
func (c *Coordinator) mergeMaterial(successes []agent.Report) string {
	var b strings.Builder
	budget := c.cfg.MergeMaxTokens

	for _, r := range successes {
		section := fmt.Sprintf("## %s (%s)\n%s\n\n", r.ID, r.Role, r.Output)
		if budget > 0 && c.counter != nil {
			cost := c.counter.Count(section)
			if cost > budget {
				break
			}
			budget -= cost
		}
		b.WriteString(section)
	}
	return strings.TrimRight(b.String(), "\n")
}

func taskWithContext(req Request) string {
	if req.Context == "" {
		return req.Task
	}
	return req.Task + "\n\nContext:\n" + req.Context
}

func successfulReports(reports []agent.Report) []agent.Report {
	var out []agent.Report
	for _, r := range reports {
		if r.Succeeded() {
			out = append(out, r)
		}
	}
	return out
}

func agentCount(err error) int {
	var se *Error
	if errors.As(err, &se) {
		return len(se.Reports)
	}
	return 0
}

// detach keeps the parent's values but drops its deadline so the best-effort
// merge can still run after the task deadline expired. The merge gets its
// own short deadline.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
}
