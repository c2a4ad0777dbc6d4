package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hivemind-ai/hivemind/pkg/config"
	"github.com/hivemind-ai/hivemind/pkg/httpclient"
)

// OllamaEmbedder embeds via the local Ollama /api/embed endpoint.
type OllamaEmbedder struct {
	cfg    *config.EmbedderConfig
	client *httpclient.Client
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

func NewOllamaEmbedder(cfg *config.EmbedderConfig) (*OllamaEmbedder, error) {
	if cfg == nil || cfg.Model == "" {
		return nil, fmt.Errorf("ollama embedder requires a model")
	}
	return &OllamaEmbedder{
		cfg: cfg,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout()}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
		),
	}, nil
}

func (e *OllamaEmbedder) Dimension() int { return e.cfg.Dimension }
func (e *OllamaEmbedder) Model() string  { return e.cfg.Model }

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result := make([][]float32, 0, len(texts))
	for _, batch := range batches(texts, e.cfg.MaxBatchSize) {
		vecs, err := e.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		result = append(result, vecs...)
	}
	return result, nil
}

func (e *OllamaEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(ollamaEmbedRequest{Model: e.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Host+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, NewError(KindBackendUnavailable, "ollama", "embed request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, NewError(KindBackendUnavailable, "ollama",
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body)), nil)
	}

	var response ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, NewError(KindBackendUnavailable, "ollama", "malformed embed response", err)
	}
	if response.Error != "" {
		return nil, NewError(KindBackendUnavailable, "ollama", response.Error, nil)
	}
	if len(response.Embeddings) != len(texts) {
		return nil, NewError(KindBackendUnavailable, "ollama",
			fmt.Sprintf("returned %d embeddings for %d texts", len(response.Embeddings), len(texts)), nil)
	}

	for i, vec := range response.Embeddings {
		normalized, err := finalize(vec, e.cfg.Dimension)
		if err != nil {
			return nil, fmt.Errorf("embedding %d: %w", i, err)
		}
		response.Embeddings[i] = normalized
	}
	return response.Embeddings, nil
}
