package vector

import (
	"context"
	"testing"
)

func unit(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

func TestChromem_UpsertSearchDelete(t *testing.T) {
	p, err := NewChromemProvider(ChromemConfig{})
	if err != nil {
		t.Fatalf("NewChromemProvider() error = %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	docs := []Document{
		{ID: "a#0", Content: "alpha", Vector: unit(3, 0), Metadata: map[string]string{"doc_id": "a"}},
		{ID: "b#0", Content: "beta", Vector: unit(3, 1), Metadata: map[string]string{"doc_id": "b"}},
	}
	if err := p.Upsert(ctx, "test", docs); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	count, err := p.Count(ctx, "test")
	if err != nil || count != 2 {
		t.Fatalf("Count() = %d, %v; want 2", count, err)
	}

	results, err := p.Search(ctx, "test", unit(3, 0), 2, nil)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 || results[0].ID != "a#0" {
		t.Errorf("Search() top result = %+v, want a#0 first", results)
	}
	if results[0].Score < results[1].Score {
		t.Error("results not ordered by descending score")
	}

	if err := p.Delete(ctx, "test", []string{"a#0"}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	count, _ = p.Count(ctx, "test")
	if count != 1 {
		t.Errorf("Count() after delete = %d, want 1", count)
	}
}

func TestChromem_SearchWithFilter(t *testing.T) {
	p, _ := NewChromemProvider(ChromemConfig{})
	defer p.Close()

	ctx := context.Background()
	p.Upsert(ctx, "test", []Document{
		{ID: "a#0", Content: "alpha", Vector: unit(3, 0), Metadata: map[string]string{"lang": "go"}},
		{ID: "b#0", Content: "beta", Vector: unit(3, 0), Metadata: map[string]string{"lang": "rust"}},
	})

	results, err := p.Search(ctx, "test", unit(3, 0), 2, map[string]string{"lang": "go"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].ID != "a#0" {
		t.Errorf("filtered results = %+v, want only a#0", results)
	}
}

func TestChromem_GetAbsentReturnsNil(t *testing.T) {
	p, _ := NewChromemProvider(ChromemConfig{})
	defer p.Close()

	doc, err := p.Get(context.Background(), "test", "missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if doc != nil {
		t.Errorf("Get() = %+v, want nil for absent id", doc)
	}
}

func TestChromem_DeleteByFilter(t *testing.T) {
	p, _ := NewChromemProvider(ChromemConfig{})
	defer p.Close()

	ctx := context.Background()
	p.Upsert(ctx, "test", []Document{
		{ID: "a#0", Vector: unit(3, 0), Metadata: map[string]string{"doc_id": "a"}},
		{ID: "a#1", Vector: unit(3, 1), Metadata: map[string]string{"doc_id": "a"}},
		{ID: "b#0", Vector: unit(3, 2), Metadata: map[string]string{"doc_id": "b"}},
	})

	if err := p.DeleteByFilter(ctx, "test", map[string]string{"doc_id": "a"}); err != nil {
		t.Fatalf("DeleteByFilter() error = %v", err)
	}

	count, _ := p.Count(ctx, "test")
	if count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
}

func TestChromem_PersistAndReload(t *testing.T) {
	dir := t.TempDir()

	p, err := NewChromemProvider(ChromemConfig{PersistPath: dir})
	if err != nil {
		t.Fatalf("NewChromemProvider() error = %v", err)
	}
	ctx := context.Background()
	p.Upsert(ctx, "test", []Document{{ID: "a#0", Content: "alpha", Vector: unit(3, 0)}})
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reloaded, err := NewChromemProvider(ChromemConfig{PersistPath: dir})
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	defer reloaded.Close()

	count, err := reloaded.Count(ctx, "test")
	if err != nil || count != 1 {
		t.Errorf("Count() after reload = %d, %v; want 1", count, err)
	}
}
