package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hivemind-ai/hivemind/pkg/logger"
	"github.com/hivemind-ai/hivemind/pkg/observability"
	"github.com/hivemind-ai/hivemind/pkg/rag"
)

// IngestCmd indexes a directory of documents into the RAG store.
type IngestCmd struct {
	Dir string `arg:"" help:"Directory to ingest." type:"existingdir"`
}

func (c *IngestCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Default()
	store, err := openStore(ctx, cfg, observability.NewMetrics(), log)
	if err != nil {
		return fmt.Errorf("failed to open rag store: %w", err)
	}
	defer store.Close()

	report, err := rag.NewDirectorySource(store, log).Ingest(ctx, c.Dir)
	if err != nil {
		return err
	}

	fmt.Printf("ingested %d documents (%d chunks), skipped %d unsupported files\n",
		report.Documents, report.Chunks, report.Skipped)
	for _, path := range report.Failed {
		fmt.Printf("failed: %s\n", path)
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d files failed", len(report.Failed))
	}
	return nil
}
