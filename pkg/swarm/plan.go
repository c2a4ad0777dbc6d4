package swarm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hivemind-ai/hivemind/pkg/agent"
)

// Plan is the planner's output: the agents to spawn and, for map-reduce,
// the reduce spec that consumes their outputs.
type Plan struct {
	Agents []agent.Spec
	Reduce *agent.Spec
}

type plannerAgent struct {
	Role   string   `json:"role"`
	Prompt string   `json:"prompt"`
	Tools  []string `json:"tools,omitempty"`
}

type starPlan struct {
	Agents []plannerAgent `json:"agents"`
}

type mapReducePlan struct {
	Map    plannerAgent `json:"map"`
	Inputs []string     `json:"inputs"`
	Reduce plannerAgent `json:"reduce"`
}

const starPlannerPrompt = `You are a planning assistant. Split the task into independent sub-tasks for parallel worker agents.
Respond with JSON only, no prose, in exactly this shape:
{"agents":[{"role":"<short label>","prompt":"<instructions for this agent>","tools":["<tool name>", ...]}]}
Use at most %d agents. Omit "tools" to give an agent every available tool; use [] for none.`

const mapReducePlannerPrompt = `You are a planning assistant. Partition the task's input into chunks processed by identical mapper agents, then define a reducer that combines their outputs.
Respond with JSON only, no prose, in exactly this shape:
{"map":{"role":"<label>","prompt":"<mapper instructions>","tools":[...]},"inputs":["<chunk 1>", ...],"reduce":{"role":"<label>","prompt":"<reducer instructions>"}}
Use at most %d inputs.`

// parsePlan decodes and validates a planner response for the topology.
// Over-length plans are truncated to maxAgents, preserving order.
func parsePlan(topology Topology, raw string, maxAgents int) (*Plan, error) {
	blob, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	if topology == TopologyMapReduce {
		return parseMapReducePlan(blob, maxAgents)
	}
	return parseStarPlan(blob, maxAgents)
}

func parseStarPlan(blob []byte, maxAgents int) (*Plan, error) {
	var parsed starPlan
	if err := json.Unmarshal(blob, &parsed); err != nil {
		return nil, fmt.Errorf("plan is not valid JSON: %w", err)
	}
	if len(parsed.Agents) == 0 {
		return nil, fmt.Errorf("plan contains no agents")
	}
	if len(parsed.Agents) > maxAgents {
		parsed.Agents = parsed.Agents[:maxAgents]
	}

	plan := &Plan{}
	for i, pa := range parsed.Agents {
		if strings.TrimSpace(pa.Role) == "" || strings.TrimSpace(pa.Prompt) == "" {
			return nil, fmt.Errorf("agent %d is missing a role or prompt", i)
		}
		plan.Agents = append(plan.Agents, agent.Spec{
			ID:     agentID(i),
			Role:   pa.Role,
			Prompt: pa.Prompt,
			Tools:  pa.Tools,
		})
	}
	return plan, nil
}

func parseMapReducePlan(blob []byte, maxAgents int) (*Plan, error) {
	var parsed mapReducePlan
	if err := json.Unmarshal(blob, &parsed); err != nil {
		return nil, fmt.Errorf("plan is not valid JSON: %w", err)
	}
	if strings.TrimSpace(parsed.Map.Prompt) == "" {
		return nil, fmt.Errorf("map spec is missing a prompt")
	}
	if strings.TrimSpace(parsed.Reduce.Prompt) == "" {
		return nil, fmt.Errorf("reduce spec is missing a prompt")
	}
	if len(parsed.Inputs) == 0 {
		return nil, fmt.Errorf("plan contains no inputs")
	}
	if len(parsed.Inputs) > maxAgents {
		parsed.Inputs = parsed.Inputs[:maxAgents]
	}

	role := parsed.Map.Role
	if role == "" {
		role = "mapper"
	}
	reduceRole := parsed.Reduce.Role
	if reduceRole == "" {
		reduceRole = "reducer"
	}

	plan := &Plan{
		Reduce: &agent.Spec{
			Role:   reduceRole,
			Prompt: parsed.Reduce.Prompt,
			Tools:  parsed.Reduce.Tools,
		},
	}
	for i, input := range parsed.Inputs {
		plan.Agents = append(plan.Agents, agent.Spec{
			ID:     agentID(i),
			Role:   role,
			Prompt: parsed.Map.Prompt,
			Task:   input,
			Tools:  parsed.Map.Tools,
		})
	}
	return plan, nil
}

// extractJSON pulls the JSON object out of a planner response that may wrap
// it in code fences or prose.
func extractJSON(raw string) ([]byte, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("response contains no JSON object")
	}
	return []byte(raw[start : end+1]), nil
}

// agentID yields ids whose lexicographic order matches spawn order, so
// ordering outputs by agent id is deterministic.
func agentID(i int) string {
	return fmt.Sprintf("agent-%03d", i+1)
}
