package config

import "fmt"

// SwarmConfig configures the coordinator.
type SwarmConfig struct {
	// MaxAgents is the hard cap on agents per task. Requests may ask for
	// less, never more.
	MaxAgents int `yaml:"max_agents,omitempty" json:"max_agents,omitempty" jsonschema:"minimum=1,maximum=100,default=100"`

	// MaxTurns bounds one agent's reasoning loop.
	MaxTurns int `yaml:"max_turns,omitempty" json:"max_turns,omitempty" jsonschema:"default=12"`

	// TokenBudget bounds one agent's cumulative token usage.
	TokenBudget int `yaml:"token_budget,omitempty" json:"token_budget,omitempty" jsonschema:"default=32768"`

	// PlannerRepairAttempts is how often a malformed plan is re-prompted
	// before falling back to a single-agent plan.
	PlannerRepairAttempts int `yaml:"planner_repair_attempts,omitempty" json:"planner_repair_attempts,omitempty" jsonschema:"default=2"`

	// MergeMaxTokens bounds the agent output material handed to the merge
	// turn; outputs are trimmed to fit.
	MergeMaxTokens int `yaml:"merge_max_tokens,omitempty" json:"merge_max_tokens,omitempty" jsonschema:"default=4096"`
}

// SetDefaults applies swarm defaults.
func (c *SwarmConfig) SetDefaults() {
	if c.MaxAgents == 0 {
		c.MaxAgents = 100
	}
	if c.MaxTurns == 0 {
		c.MaxTurns = 12
	}
	if c.TokenBudget == 0 {
		c.TokenBudget = 32768
	}
	if c.PlannerRepairAttempts == 0 {
		c.PlannerRepairAttempts = 2
	}
	if c.MergeMaxTokens == 0 {
		c.MergeMaxTokens = 4096
	}
}

// Validate checks swarm configuration.
func (c *SwarmConfig) Validate() error {
	if c.MaxAgents < 1 || c.MaxAgents > 100 {
		return fmt.Errorf("max_agents must be in [1, 100], got %d", c.MaxAgents)
	}
	if c.MaxTurns < 1 {
		return fmt.Errorf("max_turns must be positive, got %d", c.MaxTurns)
	}
	if c.TokenBudget < 1 {
		return fmt.Errorf("token_budget must be positive, got %d", c.TokenBudget)
	}
	return nil
}
