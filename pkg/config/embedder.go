package config

import (
	"fmt"
	"os"
	"time"
)

// EmbedderProvider identifies the embedding backend type.
type EmbedderProvider string

const (
	EmbedderProviderOllama EmbedderProvider = "ollama"
	EmbedderProviderOpenAI EmbedderProvider = "openai"
)

// EmbedderConfig configures the embedding backend. The chosen backend fixes
// the vector dimension for the process lifetime; the RAG store records it
// and refuses to open against a mismatching corpus.
type EmbedderConfig struct {
	// Provider selects the backend (ollama, openai).
	Provider EmbedderProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"enum=ollama,enum=openai,default=ollama"`

	// Model is the embedding model identifier.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// Host overrides the backend endpoint URL.
	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// APIKey authenticates against remote backends.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// Dimension is the vector dimension d produced by the model.
	Dimension int `yaml:"dimension,omitempty" json:"dimension,omitempty" jsonschema:"minimum=1,default=768"`

	// MaxBatchSize caps the number of texts per embed call.
	MaxBatchSize int `yaml:"max_batch_size,omitempty" json:"max_batch_size,omitempty" jsonschema:"minimum=32,default=64"`

	// TimeoutSeconds bounds a single backend request.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty" jsonschema:"default=30"`

	// MaxRetries is the retry count for unreachable backends.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty" jsonschema:"default=3"`
}

// SetDefaults applies default values.
func (c *EmbedderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = EmbedderProviderOllama
	}
	if c.Model == "" {
		switch c.Provider {
		case EmbedderProviderOpenAI:
			c.Model = "text-embedding-3-small"
		default:
			c.Model = "nomic-embed-text"
		}
	}
	if c.Host == "" && c.Provider == EmbedderProviderOllama {
		c.Host = "http://localhost:11434"
	}
	if c.APIKey == "" && c.Provider == EmbedderProviderOpenAI {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Dimension == 0 {
		switch c.Provider {
		case EmbedderProviderOpenAI:
			c.Dimension = 1536
		default:
			c.Dimension = 768
		}
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 64
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// Validate checks the embedder configuration.
func (c *EmbedderConfig) Validate() error {
	switch c.Provider {
	case EmbedderProviderOllama, EmbedderProviderOpenAI:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if c.Provider == EmbedderProviderOpenAI && c.APIKey == "" {
		return fmt.Errorf("openai provider requires an api_key")
	}
	if c.Dimension < 1 {
		return fmt.Errorf("dimension must be positive, got %d", c.Dimension)
	}
	if c.MaxBatchSize < 32 {
		return fmt.Errorf("max_batch_size must be at least 32, got %d", c.MaxBatchSize)
	}
	return nil
}

// Timeout returns the per-request timeout as a duration.
func (c *EmbedderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
