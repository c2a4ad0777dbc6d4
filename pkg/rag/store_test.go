package rag

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hivemind-ai/hivemind/pkg/config"
	"github.com/hivemind-ai/hivemind/pkg/observability"
	"github.com/hivemind-ai/hivemind/pkg/vector"
)

// hashEmbedder is a deterministic test embedder: similar texts get similar
// vectors because they share character buckets.
type hashEmbedder struct {
	dim int
}

func (e *hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	for i, r := range text {
		vec[(int(r)+i)%e.dim] += 1
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		vec[0] = 1
		sum = 1
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}

func (e *hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *hashEmbedder) Dimension() int { return e.dim }
func (e *hashEmbedder) Model() string  { return "hash-test" }

func testStore(t *testing.T, dim int) *Store {
	t.Helper()
	provider, err := vector.NewChromemProvider(vector.ChromemConfig{})
	if err != nil {
		t.Fatalf("NewChromemProvider() error = %v", err)
	}

	cfg := &config.RAGConfig{}
	cfg.SetDefaults()
	cfg.ChunkMaxChars = 200

	store, err := Open(context.Background(), cfg, provider, &hashEmbedder{dim: dim}, observability.NewMetrics(), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return store
}

func TestStore_AddSearchRoundTrip(t *testing.T) {
	s := testStore(t, 16)
	ctx := context.Background()

	docs := map[string]string{
		"go.md":   "goroutines channels select concurrency scheduler",
		"rust.md": "borrow checker lifetimes ownership traits",
	}
	for id, content := range docs {
		if _, err := s.AddDocument(ctx, Document{ID: id, Content: content}); err != nil {
			t.Fatalf("AddDocument(%s) error = %v", id, err)
		}
	}

	results, err := s.Search(ctx, "goroutines channels select concurrency scheduler", 2, nil)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) == 0 {
		t.Fatal("Search() returned no results")
	}
	if results[0].DocID != "go.md" {
		t.Errorf("top result = %s, want go.md", results[0].DocID)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Error("results not in descending score order")
		}
	}
}

func TestStore_SearchClampsK(t *testing.T) {
	s := testStore(t, 8)
	ctx := context.Background()
	s.AddDocument(ctx, Document{ID: "a", Content: "content a"})

	// k below and above the valid range must not error.
	if _, err := s.Search(ctx, "content", 0, nil); err != nil {
		t.Errorf("Search(k=0) error = %v", err)
	}
	if _, err := s.Search(ctx, "content", 5000, nil); err != nil {
		t.Errorf("Search(k=5000) error = %v", err)
	}
}

func TestStore_SearchWithFilter(t *testing.T) {
	s := testStore(t, 8)
	ctx := context.Background()
	s.AddDocument(ctx, Document{ID: "a", Content: "shared words here", Metadata: map[string]string{"lang": "go"}})
	s.AddDocument(ctx, Document{ID: "b", Content: "shared words here", Metadata: map[string]string{"lang": "rust"}})

	results, err := s.Search(ctx, "shared words", 10, map[string]string{"lang": "go"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	for _, r := range results {
		if r.DocID != "a" {
			t.Errorf("filter leaked doc %s", r.DocID)
		}
	}
}

func TestStore_DeleteIdempotent(t *testing.T) {
	s := testStore(t, 8)
	ctx := context.Background()
	s.AddDocument(ctx, Document{ID: "a", Content: "some content"})

	if err := s.DeleteDocument(ctx, "a"); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	if err := s.DeleteDocument(ctx, "a"); err != nil {
		t.Errorf("second DeleteDocument() error = %v, want nil", err)
	}
	if err := s.DeleteDocument(ctx, "never-existed"); err != nil {
		t.Errorf("DeleteDocument(absent) error = %v, want nil", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Chunks != 0 || stats.Documents != 0 {
		t.Errorf("Stats() = %+v, want empty corpus", stats)
	}
}

func TestStore_ReAddReplacesDocument(t *testing.T) {
	s := testStore(t, 8)
	ctx := context.Background()

	s.AddDocument(ctx, Document{ID: "a", Content: strings.Repeat("first version text\n", 30)})
	s.AddDocument(ctx, Document{ID: "a", Content: "second"})

	stats, _ := s.Stats(ctx)
	if stats.Documents != 1 || stats.Chunks != 1 {
		t.Errorf("Stats() = %+v, want 1 doc / 1 chunk after replacement", stats)
	}
}

func TestOpen_DimensionMismatchRefused(t *testing.T) {
	provider, _ := vector.NewChromemProvider(vector.ChromemConfig{})
	cfg := &config.RAGConfig{}
	cfg.SetDefaults()

	ctx := context.Background()
	s, err := Open(ctx, cfg, provider, &hashEmbedder{dim: 8}, observability.NewMetrics(), nil)
	if err != nil {
		t.Fatalf("first Open() error = %v", err)
	}
	s.AddDocument(ctx, Document{ID: "a", Content: "content"})

	// Same backing store, different dimension: must refuse.
	if _, err := Open(ctx, cfg, provider, &hashEmbedder{dim: 16}, observability.NewMetrics(), nil); err == nil {
		t.Error("Open() with mismatched dimension should fail")
	}
}

func TestStore_Stats(t *testing.T) {
	s := testStore(t, 8)
	ctx := context.Background()

	s.AddDocument(ctx, Document{ID: "a", Content: strings.Repeat("line of text\n", 50)})
	s.AddDocument(ctx, Document{ID: "b", Content: "short"})

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Documents != 2 {
		t.Errorf("Documents = %d, want 2", stats.Documents)
	}
	if stats.Chunks < 3 {
		t.Errorf("Chunks = %d, want >= 3 (doc a must span multiple chunks)", stats.Chunks)
	}
	if stats.Dimension != 8 {
		t.Errorf("Dimension = %d, want 8", stats.Dimension)
	}
}

func TestChunkContent(t *testing.T) {
	chunks := chunkContent("doc", strings.Repeat("0123456789\n", 100), 100)
	if len(chunks) < 10 {
		t.Fatalf("len(chunks) = %d, want >= 10", len(chunks))
	}
	for _, c := range chunks {
		if len(c.Content) > 100 {
			t.Errorf("chunk %s exceeds max: %d chars", c.ID, len(c.Content))
		}
	}
	if chunks[0].ID != "doc#0000" || chunks[1].ID != "doc#0001" {
		t.Errorf("chunk ids = %s, %s", chunks[0].ID, chunks[1].ID)
	}
}

func TestDirectorySource_Ingest(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("plain text file"), 0644)
	os.WriteFile(filepath.Join(dir, "b.md"), []byte("# markdown file"), 0644)
	os.WriteFile(filepath.Join(dir, "c.bin"), []byte{0x00, 0x01}, 0644)

	s := testStore(t, 8)
	src := NewDirectorySource(s, nil)

	report, err := src.Ingest(context.Background(), dir)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if report.Documents != 2 {
		t.Errorf("Documents = %d, want 2", report.Documents)
	}
	if report.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", report.Skipped)
	}

	results, err := s.Search(context.Background(), "plain text file", 1, nil)
	if err != nil || len(results) == 0 {
		t.Fatalf("Search() after ingest = %v, %v", results, err)
	}
	if results[0].Metadata["source"] != "directory" {
		t.Errorf("metadata = %v, want source=directory", results[0].Metadata)
	}
}
