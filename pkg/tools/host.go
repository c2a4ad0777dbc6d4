package tools

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/hivemind-ai/hivemind/pkg/config"
	"github.com/hivemind-ai/hivemind/pkg/observability"
	"github.com/hivemind-ai/hivemind/pkg/rag"
)

// Host owns the tool registry plus the resources behind it: the database
// handle for the SQL tools and the MCP sources whose tools were discovered
// at startup.
type Host struct {
	registry *Registry
	db       *sql.DB
	sources  []Source
	logger   *slog.Logger
}

// NewHost builds the registry from configuration. Built-in tool classes are
// registered when configured; MCP sources are discovered eagerly, and a
// source that cannot be reached fails startup.
func NewHost(ctx context.Context, cfg *config.ToolsConfig, store *rag.Store, metrics *observability.Metrics, logger *slog.Logger) (*Host, error) {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Host{
		registry: NewRegistry(metrics, logger),
		logger:   logger.With("component", "tools"),
	}

	if len(cfg.Filesystem.AllowedRoots) > 0 {
		fsTools, err := NewFilesystemTools(cfg.Filesystem)
		if err != nil {
			return nil, err
		}
		if err := h.registry.RegisterAll(fsTools...); err != nil {
			return nil, err
		}
	}

	if len(cfg.Command.AllowedCommands) > 0 {
		if err := h.registry.Register(NewCommandTool(cfg.Command)); err != nil {
			return nil, err
		}
	}

	if err := h.registry.RegisterAll(NewWebTools(cfg.Web)...); err != nil {
		return nil, err
	}

	dbTools, db, err := NewDatabaseTools(cfg.Database)
	if err != nil {
		return nil, err
	}
	h.db = db
	if err := h.registry.RegisterAll(dbTools...); err != nil {
		h.Close()
		return nil, err
	}

	if store != nil {
		if err := h.registry.RegisterAll(NewRAGTools(store)...); err != nil {
			h.Close()
			return nil, err
		}
	}

	for _, srvCfg := range cfg.MCP {
		src := NewMCPSource(srvCfg, logger)
		discovered, err := src.Discover(ctx)
		if err != nil {
			h.Close()
			return nil, err
		}
		if err := h.registry.RegisterAll(discovered...); err != nil {
			h.Close()
			return nil, err
		}
		h.sources = append(h.sources, src)
	}

	h.logger.Info("tool host ready", "tools", len(h.registry.List()), "mcp_sources", len(h.sources))
	return h, nil
}

// Registry exposes the tool registry.
func (h *Host) Registry() *Registry { return h.registry }

// Close releases the database handle and MCP connections.
func (h *Host) Close() error {
	var firstErr error
	for _, src := range h.sources {
		if err := src.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if h.db != nil {
		if err := h.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
