// Package vector provides the storage backends for the RAG store: an
// embedded chromem-go database for zero-config deployments and a remote
// Qdrant server for larger corpora.
package vector

import (
	"context"
	"fmt"

	"github.com/hivemind-ai/hivemind/pkg/config"
)

// Document is a stored chunk with its pre-computed embedding.
type Document struct {
	ID       string
	Content  string
	Vector   []float32
	Metadata map[string]string
}

// Result is a search hit.
type Result struct {
	ID       string
	Score    float32
	Content  string
	Metadata map[string]string
}

// Provider is a vector storage backend. Embeddings are computed by the
// caller; providers only store and search.
type Provider interface {
	Name() string

	// Upsert stores documents. Existing IDs are overwritten.
	Upsert(ctx context.Context, collection string, docs []Document) error

	// Get fetches one document by ID. Returns (nil, nil) when absent.
	Get(ctx context.Context, collection string, id string) (*Document, error)

	// Search returns the topK most similar documents, optionally restricted
	// to exact metadata matches.
	Search(ctx context.Context, collection string, vector []float32, topK int, filter map[string]string) ([]Result, error)

	// Delete removes documents by ID. Missing IDs are not an error.
	Delete(ctx context.Context, collection string, ids []string) error

	// DeleteByFilter removes every document with matching metadata.
	DeleteByFilter(ctx context.Context, collection string, filter map[string]string) error

	// Count returns the number of documents in a collection.
	Count(ctx context.Context, collection string) (int, error)

	Close() error
}

// New builds the provider selected by the RAG configuration.
func New(cfg *config.RAGConfig) (Provider, error) {
	switch cfg.Provider {
	case config.VectorProviderChromem:
		return NewChromemProvider(ChromemConfig{
			PersistPath: cfg.PersistPath,
			Compress:    cfg.Compress,
		})
	case config.VectorProviderQdrant:
		return NewQdrantProvider(QdrantConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			APIKey: cfg.Qdrant.APIKey,
			UseTLS: cfg.Qdrant.UseTLS,
		})
	default:
		return nil, fmt.Errorf("unknown rag provider: %s", cfg.Provider)
	}
}
