package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hivemind-ai/hivemind/pkg/config"
	"github.com/hivemind-ai/hivemind/pkg/embedders"
	"github.com/hivemind-ai/hivemind/pkg/llms"
	"github.com/hivemind-ai/hivemind/pkg/logger"
	"github.com/hivemind-ai/hivemind/pkg/observability"
	"github.com/hivemind-ai/hivemind/pkg/rag"
	"github.com/hivemind-ai/hivemind/pkg/server"
	"github.com/hivemind-ai/hivemind/pkg/swarm"
	"github.com/hivemind-ai/hivemind/pkg/tools"
	"github.com/hivemind-ai/hivemind/pkg/vector"
)

// ServeCmd starts the HTTP server with the full component stack: the
// resilient LLM client, the tool host, the swarm coordinator and, unless
// disabled, the RAG store.
type ServeCmd struct {
	Host  string `help:"Listen host (overrides config)."`
	Port  int    `help:"Listen port (overrides config)."`
	NoRAG bool   `name:"no-rag" help:"Start without the RAG store; document routes report an error."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Default()
	metrics := observability.NewMetrics()

	llmRegistry := llms.NewRegistry()
	client, err := llmRegistry.CreateClient("default", &cfg.LLM, metrics, log)
	if err != nil {
		return fmt.Errorf("failed to create llm client: %w", err)
	}
	defer client.Close()

	var store *rag.Store
	if !c.NoRAG {
		store, err = openStore(ctx, cfg, metrics, log)
		if err != nil {
			return fmt.Errorf("failed to open rag store: %w", err)
		}
		defer store.Close()
	}

	host, err := tools.NewHost(ctx, &cfg.Tools, store, metrics, log)
	if err != nil {
		return fmt.Errorf("failed to start tool host: %w", err)
	}
	defer host.Close()

	coordinator := swarm.NewCoordinator(client, host.Registry(), cfg.Swarm, metrics, log)

	srv := server.New(cfg.Server, server.Deps{
		LLM:         client,
		Coordinator: coordinator,
		Store:       store,
		Registry:    host.Registry(),
		Metrics:     metrics,
		Logger:      log,
		Version:     appVersion(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Info("hivemind ready",
		"addr", cfg.Server.Address(),
		"model", client.ModelName(),
		"backend", client.Backend(),
		"rag", store != nil,
		"tools", len(host.Registry().Definitions(nil)))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore wires the embedder and vector backend into a RAG store.
func openStore(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, log *slog.Logger) (*rag.Store, error) {
	embedder, err := embedders.New(&cfg.Embedder)
	if err != nil {
		return nil, err
	}
	provider, err := vector.New(&cfg.RAG)
	if err != nil {
		return nil, err
	}
	return rag.Open(ctx, &cfg.RAG, provider, embedder, metrics, log)
}
