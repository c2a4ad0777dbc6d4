package embedders

import (
	"fmt"

	"github.com/hivemind-ai/hivemind/pkg/config"
)

// New builds the embedder selected by the configuration.
func New(cfg *config.EmbedderConfig) (Embedder, error) {
	switch cfg.Provider {
	case config.EmbedderProviderOllama:
		return NewOllamaEmbedder(cfg)
	case config.EmbedderProviderOpenAI:
		return NewOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embedder provider: %s", cfg.Provider)
	}
}
