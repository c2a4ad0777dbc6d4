// Package config defines explicit, validated configuration records for every
// component. Configs are loaded from YAML with ${VAR} environment expansion,
// unknown keys are rejected, and each record applies its own defaults.
package config

import (
	"fmt"
)

// Config is the root configuration for the hivemind service.
type Config struct {
	// Logging configures the process-wide logger.
	Logging LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty"`

	// Server configures the HTTP API layer.
	Server ServerConfig `yaml:"server,omitempty" json:"server,omitempty"`

	// LLM configures the chat backends and the resilience policies that
	// shield them.
	LLM LLMConfig `yaml:"llm,omitempty" json:"llm,omitempty"`

	// Embedder configures the embedding backend.
	Embedder EmbedderConfig `yaml:"embedder,omitempty" json:"embedder,omitempty"`

	// RAG configures the vector store.
	RAG RAGConfig `yaml:"rag,omitempty" json:"rag,omitempty"`

	// Tools configures the tool host and per-tool policies.
	Tools ToolsConfig `yaml:"tools,omitempty" json:"tools,omitempty"`

	// Swarm configures the coordinator.
	Swarm SwarmConfig `yaml:"swarm,omitempty" json:"swarm,omitempty"`
}

// LoggingConfig configures the slog logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level,omitempty" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info"`

	// Format is one of text, json.
	Format string `yaml:"format,omitempty" json:"format,omitempty" jsonschema:"enum=text,enum=json,default=text"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"default=127.0.0.1"`
	Port int    `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"default=8941,minimum=1,maximum=65535"`

	// ReadTimeoutSeconds and WriteTimeoutSeconds bound request handling.
	// Write timeout must accommodate streaming responses.
	ReadTimeoutSeconds  int `yaml:"read_timeout_seconds,omitempty" json:"read_timeout_seconds,omitempty"`
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds,omitempty" json:"write_timeout_seconds,omitempty"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	c.Server.SetDefaults()
	c.LLM.SetDefaults()
	c.Embedder.SetDefaults()
	c.RAG.SetDefaults()
	c.Tools.SetDefaults()
	c.Swarm.SetDefaults()
}

// Validate checks the whole configuration tree.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := c.Embedder.Validate(); err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	if err := c.RAG.Validate(); err != nil {
		return fmt.Errorf("rag: %w", err)
	}
	if err := c.Tools.Validate(); err != nil {
		return fmt.Errorf("tools: %w", err)
	}
	if err := c.Swarm.Validate(); err != nil {
		return fmt.Errorf("swarm: %w", err)
	}
	return nil
}

// SetDefaults applies server defaults.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8941
	}
	if c.ReadTimeoutSeconds == 0 {
		c.ReadTimeoutSeconds = 30
	}
	if c.WriteTimeoutSeconds == 0 {
		// Streaming swarm runs can take minutes.
		c.WriteTimeoutSeconds = 600
	}
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be in [1, 65535], got %d", c.Port)
	}
	return nil
}

// Address returns the host:port listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BoolPtr returns a pointer to b, for optional boolean config fields.
func BoolPtr(b bool) *bool { return &b }

// Float64Ptr returns a pointer to f, for optional float config fields.
func Float64Ptr(f float64) *float64 { return &f }
