// Package server exposes the core over HTTP: chat (optionally streamed as
// NDJSON), swarm tasks, the document store, the tool registry, health and
// metrics.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hivemind-ai/hivemind/pkg/config"
	"github.com/hivemind-ai/hivemind/pkg/llms"
	"github.com/hivemind-ai/hivemind/pkg/observability"
	"github.com/hivemind-ai/hivemind/pkg/rag"
	"github.com/hivemind-ai/hivemind/pkg/swarm"
	"github.com/hivemind-ai/hivemind/pkg/tools"
)

// Server is the HTTP surface. The store and coordinator may be nil when the
// matching feature is not configured; their routes then report an error.
type Server struct {
	router      chi.Router
	httpServer  *http.Server
	llm         *llms.Client
	coordinator *swarm.Coordinator
	store       *rag.Store
	registry    *tools.Registry
	metrics     *observability.Metrics
	logger      *slog.Logger
	version     string
}

// Deps carries the wired core components.
type Deps struct {
	LLM         *llms.Client
	Coordinator *swarm.Coordinator
	Store       *rag.Store
	Registry    *tools.Registry
	Metrics     *observability.Metrics
	Logger      *slog.Logger
	Version     string
}

func New(cfg config.ServerConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		llm:         deps.LLM,
		coordinator: deps.Coordinator,
		store:       deps.Store,
		registry:    deps.Registry,
		metrics:     deps.Metrics,
		logger:      logger.With("component", "server"),
		version:     deps.Version,
	}

	r := chi.NewRouter()
	r.Use(s.metricsMiddleware)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/swarm", s.handleSwarm)

		r.Post("/documents", s.handleAddDocuments)
		r.Get("/documents/search", s.handleSearch)
		r.Delete("/documents/{id}", s.handleDeleteDocument)
		r.Get("/rag/stats", s.handleRAGStats)

		r.Get("/tools", s.handleListTools)
		r.Post("/tools/{name}", s.handleInvokeTool)
	})

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	s.router = r
	s.httpServer = &http.Server{
		Addr:              cfg.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, used directly in tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start blocks serving until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
