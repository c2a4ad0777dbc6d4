// Package embedders provides embedding backends for the RAG store. Vectors
// are unit-normalized at this boundary so cosine similarity reduces to a dot
// product downstream, and every vector is checked against the configured
// dimension before it leaves the package.
package embedders

import (
	"context"
	"fmt"
	"math"
)

// Embedder turns text into fixed-dimension unit vectors.
type Embedder interface {
	// Embed embeds a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in order. Large inputs are split into
	// backend-sized batches internally. All-or-nothing: any failure fails
	// the whole call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector dimension d.
	Dimension() int

	// Model returns the embedding model identifier.
	Model() string
}

// finalize validates the dimension and normalizes the vector in place.
func finalize(vec []float32, dimension int) ([]float32, error) {
	if len(vec) != dimension {
		return nil, NewError(KindDimensionMismatch, "",
			fmt.Sprintf("got %d dimensions, want %d", len(vec), dimension), nil)
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return nil, NewError(KindBackendUnavailable, "", "backend returned a zero embedding", nil)
	}

	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}

// batches splits texts into chunks of at most size.
func batches(texts []string, size int) [][]string {
	if size <= 0 {
		size = len(texts)
	}
	var out [][]string
	for len(texts) > size {
		out = append(out, texts[:size])
		texts = texts[size:]
	}
	if len(texts) > 0 {
		out = append(out, texts)
	}
	return out
}
