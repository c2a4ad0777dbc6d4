// Package rag implements the document store: chunking, embedding, vector
// search and directory ingestion. Similarity is cosine over unit-normalized
// embeddings, so backend scores are directly comparable dot products.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hivemind-ai/hivemind/pkg/config"
	"github.com/hivemind-ai/hivemind/pkg/embedders"
	"github.com/hivemind-ai/hivemind/pkg/observability"
	"github.com/hivemind-ai/hivemind/pkg/vector"
)

const (
	// Search k is clamped into [MinTopK, MaxTopK].
	MinTopK = 1
	MaxTopK = 100

	metaDimensionID = "dimension"
	metaDocPrefix   = "doc:"
)

// Document is an ingestion input.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// SearchResult is one search hit.
type SearchResult struct {
	DocID    string
	ChunkID  string
	Score    float32
	Content  string
	Metadata map[string]string
}

// Stats summarizes the store.
type Stats struct {
	Collection string `json:"collection"`
	Documents  int    `json:"documents"`
	Chunks     int    `json:"chunks"`
	Dimension  int    `json:"dimension"`
	Provider   string `json:"provider"`
}

// Store is the RAG document store. The embedder fixes the vector dimension
// for the life of the store; a persisted corpus created with a different
// dimension is refused at open.
type Store struct {
	provider   vector.Provider
	embedder   embedders.Embedder
	collection string
	metaColl   string
	chunkMax   int

	metrics *observability.Metrics
	logger  *slog.Logger

	mu sync.Mutex
}

// Open wires a store over a vector provider and verifies the persisted
// dimension record. A fresh corpus gets the record written; a mismatching
// one is an error, never silently re-embedded.
func Open(ctx context.Context, cfg *config.RAGConfig, provider vector.Provider, embedder embedders.Embedder, metrics *observability.Metrics, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		provider:   provider,
		embedder:   embedder,
		collection: cfg.Collection,
		metaColl:   cfg.Collection + "__meta",
		chunkMax:   cfg.ChunkMaxChars,
		metrics:    metrics,
		logger:     logger.With("component", "rag", "collection", cfg.Collection),
	}

	record, err := provider.Get(ctx, s.metaColl, metaDimensionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read dimension record: %w", err)
	}

	if record == nil {
		if err := s.writeDimensionRecord(ctx); err != nil {
			return nil, err
		}
		return s, nil
	}

	stored, err := strconv.Atoi(record.Content)
	if err != nil {
		return nil, fmt.Errorf("corrupt dimension record %q", record.Content)
	}
	if stored != embedder.Dimension() {
		return nil, embedders.NewError(embedders.KindDimensionMismatch, "",
			fmt.Sprintf("store was created with dimension %d but embedder %s produces %d; re-ingest the corpus or restore the matching embedder",
				stored, embedder.Model(), embedder.Dimension()), nil)
	}

	return s, nil
}

func (s *Store) writeDimensionRecord(ctx context.Context) error {
	err := s.provider.Upsert(ctx, s.metaColl, []vector.Document{{
		ID:      metaDimensionID,
		Content: strconv.Itoa(s.embedder.Dimension()),
		Vector:  metaVector(s.embedder.Dimension()),
	}})
	if err != nil {
		return fmt.Errorf("failed to write dimension record: %w", err)
	}
	return nil
}

// AddDocument chunks, embeds and stores a document. All-or-nothing: the
// embedding of every chunk must succeed before anything is written.
func (s *Store) AddDocument(ctx context.Context, doc Document) (int, error) {
	if doc.ID == "" {
		return 0, fmt.Errorf("document id is required")
	}

	tracer := observability.GetTracer("hivemind.rag")
	ctx, span := tracer.Start(ctx, observability.SpanRAGIngest,
		trace.WithAttributes(attribute.String("rag.doc_id", doc.ID)))
	defer span.End()

	chunks := chunkContent(doc.ID, doc.Content, s.chunkMax)
	if len(chunks) == 0 {
		err := fmt.Errorf("document %s has no content", doc.ID)
		s.metrics.RecordRAGOperation("add", err)
		return 0, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		s.metrics.RecordRAGOperation("add", err)
		return 0, fmt.Errorf("failed to embed document %s: %w", doc.ID, err)
	}

	docs := make([]vector.Document, len(chunks))
	for i, c := range chunks {
		metadata := map[string]string{"doc_id": doc.ID, "chunk_index": strconv.Itoa(c.Index)}
		for k, v := range doc.Metadata {
			if k != "doc_id" && k != "chunk_index" {
				metadata[k] = v
			}
		}
		docs[i] = vector.Document{
			ID:       c.ID,
			Content:  c.Content,
			Vector:   vectors[i],
			Metadata: metadata,
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Replace any previous version of the document before writing.
	if err := s.provider.DeleteByFilter(ctx, s.collection, map[string]string{"doc_id": doc.ID}); err != nil {
		s.logger.Debug("pre-insert cleanup failed", "doc_id", doc.ID, "error", err)
	}

	if err := s.provider.Upsert(ctx, s.collection, docs); err != nil {
		s.metrics.RecordRAGOperation("add", err)
		return 0, fmt.Errorf("failed to store document %s: %w", doc.ID, err)
	}

	if err := s.provider.Upsert(ctx, s.metaColl, []vector.Document{{
		ID:      metaDocPrefix + doc.ID,
		Content: strconv.Itoa(len(chunks)),
		Vector:  metaVector(s.embedder.Dimension()),
	}}); err != nil {
		s.logger.Warn("failed to record document entry", "doc_id", doc.ID, "error", err)
	}

	s.metrics.RecordRAGOperation("add", nil)
	s.logger.Info("document ingested", "doc_id", doc.ID, "chunks", len(chunks))
	return len(chunks), nil
}

// Search embeds the query and returns the top-k chunks, ordered by
// descending score with lexicographic chunk id breaking ties. k is clamped
// into [1, 100].
func (s *Store) Search(ctx context.Context, query string, k int, filter map[string]string) ([]SearchResult, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if k < MinTopK {
		k = MinTopK
	}
	if k > MaxTopK {
		k = MaxTopK
	}

	tracer := observability.GetTracer("hivemind.rag")
	ctx, span := tracer.Start(ctx, observability.SpanRAGSearch,
		trace.WithAttributes(attribute.Int("rag.top_k", k)))
	defer span.End()

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.metrics.RecordRAGOperation("search", err)
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := s.provider.Search(ctx, s.collection, queryVec, k, filter)
	if err != nil {
		s.metrics.RecordRAGOperation("search", err)
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, SearchResult{
			DocID:    h.Metadata["doc_id"],
			ChunkID:  h.ID,
			Score:    h.Score,
			Content:  h.Content,
			Metadata: h.Metadata,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	s.metrics.RecordRAGOperation("search", nil)
	return results, nil
}

// DeleteDocument removes a document and all its chunks. Deleting an absent
// document is not an error.
func (s *Store) DeleteDocument(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.provider.DeleteByFilter(ctx, s.collection, map[string]string{"doc_id": docID}); err != nil {
		s.metrics.RecordRAGOperation("delete", err)
		return fmt.Errorf("failed to delete document %s: %w", docID, err)
	}
	if err := s.provider.Delete(ctx, s.metaColl, []string{metaDocPrefix + docID}); err != nil {
		s.logger.Debug("failed to remove document entry", "doc_id", docID, "error", err)
	}

	s.metrics.RecordRAGOperation("delete", nil)
	return nil
}

// Stats reports corpus size and dimension.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	chunks, err := s.provider.Count(ctx, s.collection)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count chunks: %w", err)
	}
	metaCount, err := s.provider.Count(ctx, s.metaColl)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count documents: %w", err)
	}

	docs := metaCount - 1
	if docs < 0 {
		docs = 0
	}

	return Stats{
		Collection: s.collection,
		Documents:  docs,
		Chunks:     chunks,
		Dimension:  s.embedder.Dimension(),
		Provider:   s.provider.Name(),
	}, nil
}

// Close releases the underlying provider.
func (s *Store) Close() error {
	return s.provider.Close()
}

// metaVector is the placeholder embedding for bookkeeping records, kept in
// a separate collection so it never appears in search results.
func metaVector(dimension int) []float32 {
	v := make([]float32, dimension)
	v[0] = 1
	return v
}
