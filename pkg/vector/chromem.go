package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemProvider stores vectors in an embedded chromem-go database with
// optional gob file persistence. It is the zero-config default: pure Go, no
// external services, everything in RAM.
type ChromemProvider struct {
	db          *chromem.DB
	persistPath string
	compress    bool
	mu          sync.RWMutex

	collections map[string]*chromem.Collection

	// Embeddings are pre-computed upstream; chromem must never embed.
	embeddingFunc chromem.EmbeddingFunc
}

// ChromemConfig configures the embedded provider.
type ChromemConfig struct {
	// PersistPath enables file persistence. Empty means in-memory only.
	PersistPath string

	// Compress gzips the persisted database.
	Compress bool
}

// NewChromemProvider opens or creates the embedded database.
func NewChromemProvider(cfg ChromemConfig) (*ChromemProvider, error) {
	var db *chromem.DB

	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}

		dbPath := chromemFilePath(cfg.PersistPath, cfg.Compress)
		if _, statErr := os.Stat(dbPath); statErr == nil {
			loaded, err := chromem.NewPersistentDB(dbPath, cfg.Compress)
			if err != nil {
				return nil, fmt.Errorf("failed to load vector database %s: %w", dbPath, err)
			}
			db = loaded
			slog.Info("loaded vector database", "path", dbPath)
		} else {
			db = chromem.NewDB()
			slog.Info("created new vector database", "path", dbPath)
		}
	} else {
		db = chromem.NewDB()
		slog.Debug("created in-memory vector database")
	}

	return &ChromemProvider{
		db:          db,
		persistPath: cfg.PersistPath,
		compress:    cfg.Compress,
		collections: make(map[string]*chromem.Collection),
		embeddingFunc: func(ctx context.Context, text string) ([]float32, error) {
			return nil, fmt.Errorf("vectors must be pre-computed")
		},
	}, nil
}

func (p *ChromemProvider) Name() string { return "chromem" }

func (p *ChromemProvider) getCollection(name string) (*chromem.Collection, error) {
	p.mu.RLock()
	if col, ok := p.collections[name]; ok {
		p.mu.RUnlock()
		return col, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if col, ok := p.collections[name]; ok {
		return col, nil
	}

	col, err := p.db.GetOrCreateCollection(name, nil, p.embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection %q: %w", name, err)
	}
	p.collections[name] = col
	return col, nil
}

func (p *ChromemProvider) Upsert(ctx context.Context, collection string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	col, err := p.getCollection(collection)
	if err != nil {
		return err
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for i, d := range docs {
		chromemDocs[i] = chromem.Document{
			ID:        d.ID,
			Content:   d.Content,
			Metadata:  d.Metadata,
			Embedding: d.Vector,
		}
	}

	if err := col.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert documents: %w", err)
	}

	if err := p.persist(); err != nil {
		slog.Warn("failed to persist after upsert", "error", err)
	}
	return nil
}

func (p *ChromemProvider) Get(ctx context.Context, collection string, id string) (*Document, error) {
	col, err := p.getCollection(collection)
	if err != nil {
		return nil, err
	}

	doc, err := col.GetByID(ctx, id)
	if err != nil {
		// chromem reports missing IDs as errors; absence is not an error here.
		return nil, nil
	}

	return &Document{
		ID:       doc.ID,
		Content:  doc.Content,
		Vector:   doc.Embedding,
		Metadata: doc.Metadata,
	}, nil
}

func (p *ChromemProvider) Search(ctx context.Context, collection string, vector []float32, topK int, filter map[string]string) ([]Result, error) {
	col, err := p.getCollection(collection)
	if err != nil {
		return nil, err
	}

	// chromem rejects topK larger than the collection size.
	if count := col.Count(); topK > count {
		topK = count
	}
	if topK == 0 {
		return nil, nil
	}

	var where map[string]string
	if len(filter) > 0 {
		where = filter
	}

	results, err := col.QueryEmbedding(ctx, vector, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		out = append(out, Result{
			ID:       r.ID,
			Score:    r.Similarity,
			Content:  r.Content,
			Metadata: r.Metadata,
		})
	}
	return out, nil
}

func (p *ChromemProvider) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := p.getCollection(collection)
	if err != nil {
		return err
	}

	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}

	if err := p.persist(); err != nil {
		slog.Warn("failed to persist after delete", "error", err)
	}
	return nil
}

func (p *ChromemProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]string) error {
	if len(filter) == 0 {
		return errors.New("delete by filter requires a filter")
	}
	col, err := p.getCollection(collection)
	if err != nil {
		return err
	}

	if err := col.Delete(ctx, filter, nil); err != nil {
		return fmt.Errorf("failed to delete by filter: %w", err)
	}

	if err := p.persist(); err != nil {
		slog.Warn("failed to persist after delete", "error", err)
	}
	return nil
}

func (p *ChromemProvider) Count(ctx context.Context, collection string) (int, error) {
	col, err := p.getCollection(collection)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

// Close persists the database if persistence is enabled.
func (p *ChromemProvider) Close() error {
	return p.persist()
}

func (p *ChromemProvider) persist() error {
	if p.persistPath == "" {
		return nil
	}
	dbPath := chromemFilePath(p.persistPath, p.compress)
	if err := p.db.Export(dbPath, p.compress, ""); err != nil {
		return fmt.Errorf("failed to persist database: %w", err)
	}
	return nil
}

func chromemFilePath(dir string, compress bool) string {
	name := "vectors.gob"
	if compress {
		name += ".gz"
	}
	return filepath.Join(dir, name)
}

var _ Provider = (*ChromemProvider)(nil)
