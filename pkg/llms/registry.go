package llms

import (
	"fmt"
	"log/slog"

	"github.com/hivemind-ai/hivemind/pkg/config"
	"github.com/hivemind-ai/hivemind/pkg/observability"
	"github.com/hivemind-ai/hivemind/pkg/registry"
)

// NewProvider builds the raw provider selected by the configuration.
func NewProvider(cfg *config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case config.LLMProviderOllama:
		return NewOllamaProvider(cfg)
	case config.LLMProviderOpenAI:
		return NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

// Registry holds named resilient clients.
type Registry struct {
	*registry.BaseRegistry[*Client]
}

func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[*Client]()}
}

// CreateClient builds a provider from configuration, wraps it in a resilient
// client and registers it under name.
func (r *Registry) CreateClient(name string, cfg *config.LLMConfig, metrics *observability.Metrics, logger *slog.Logger) (*Client, error) {
	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}

	client := NewClient(provider, cfg.Resilience, metrics, logger)
	if err := r.Register(name, client); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
