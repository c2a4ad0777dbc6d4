package config

import "fmt"

// VectorProvider identifies a vector store implementation.
type VectorProvider string

const (
	// VectorProviderChromem is the embedded, zero-dependency store.
	VectorProviderChromem VectorProvider = "chromem"

	// VectorProviderQdrant is the remote Qdrant option.
	VectorProviderQdrant VectorProvider = "qdrant"
)

// RAGConfig configures the document store and vector index.
type RAGConfig struct {
	// Provider selects the vector backend (chromem, qdrant).
	Provider VectorProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"enum=chromem,enum=qdrant,default=chromem"`

	// Collection names the corpus within the backend.
	Collection string `yaml:"collection,omitempty" json:"collection,omitempty" jsonschema:"default=hivemind"`

	// PersistPath enables on-disk persistence for the chromem backend.
	// Empty means in-memory only.
	PersistPath string `yaml:"persist_path,omitempty" json:"persist_path,omitempty"`

	// Compress enables gzip compression for chromem persistence.
	Compress bool `yaml:"compress,omitempty" json:"compress,omitempty"`

	// Qdrant holds connection parameters for the qdrant backend.
	Qdrant QdrantConfig `yaml:"qdrant,omitempty" json:"qdrant,omitempty"`

	// ChunkMaxChars caps ingestion chunk size in characters.
	ChunkMaxChars int `yaml:"chunk_max_chars,omitempty" json:"chunk_max_chars,omitempty" jsonschema:"default=2000"`
}

// QdrantConfig holds qdrant connection parameters.
type QdrantConfig struct {
	Host   string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"default=localhost"`
	Port   int    `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"default=6334"`
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	UseTLS bool   `yaml:"use_tls,omitempty" json:"use_tls,omitempty"`
}

// SetDefaults applies default values.
func (c *RAGConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = VectorProviderChromem
	}
	if c.Collection == "" {
		c.Collection = "hivemind"
	}
	if c.ChunkMaxChars == 0 {
		c.ChunkMaxChars = 2000
	}
	if c.Provider == VectorProviderQdrant {
		if c.Qdrant.Host == "" {
			c.Qdrant.Host = "localhost"
		}
		if c.Qdrant.Port == 0 {
			c.Qdrant.Port = 6334
		}
	}
}

// Validate checks the RAG configuration.
func (c *RAGConfig) Validate() error {
	switch c.Provider {
	case VectorProviderChromem, VectorProviderQdrant:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if c.ChunkMaxChars < 1 {
		return fmt.Errorf("chunk_max_chars must be positive, got %d", c.ChunkMaxChars)
	}
	return nil
}
