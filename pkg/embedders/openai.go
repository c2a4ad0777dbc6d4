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

const defaultOpenAIEmbedHost = "https://api.openai.com/v1"

// OpenAIEmbedder embeds via an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	cfg    *config.EmbedderConfig
	host   string
	client *httpclient.Client
}

type openaiEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewOpenAIEmbedder(cfg *config.EmbedderConfig) (*OpenAIEmbedder, error) {
	if cfg == nil || cfg.Model == "" {
		return nil, fmt.Errorf("openai embedder requires a model")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai embedder requires an api_key")
	}

	host := cfg.Host
	if host == "" {
		host = defaultOpenAIEmbedHost
	}

	return &OpenAIEmbedder{
		cfg:  cfg,
		host: host,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout()}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
		),
	}, nil
}

func (e *OpenAIEmbedder) Dimension() int { return e.cfg.Dimension }
func (e *OpenAIEmbedder) Model() string  { return e.cfg.Model }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(openaiEmbedRequest{Model: e.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, NewError(KindBackendUnavailable, "openai", "embed request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, NewError(KindBackendUnavailable, "openai",
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body)), nil)
	}

	var response openaiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, NewError(KindBackendUnavailable, "openai", "malformed embed response", err)
	}
	if response.Error != nil {
		return nil, NewError(KindBackendUnavailable, "openai", response.Error.Message, nil)
	}
	if len(response.Data) != len(texts) {
		return nil, NewError(KindBackendUnavailable, "openai",
			fmt.Sprintf("returned %d embeddings for %d texts", len(response.Data), len(texts)), nil)
	}

	// The API may return entries out of order; index is authoritative.
	result := make([][]float32, len(texts))
	for _, item := range response.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, NewError(KindBackendUnavailable, "openai",
				fmt.Sprintf("out-of-range embedding index %d", item.Index), nil)
		}
		normalized, err := finalize(item.Embedding, e.cfg.Dimension)
		if err != nil {
			return nil, fmt.Errorf("embedding %d: %w", item.Index, err)
		}
		result[item.Index] = normalized
	}
	return result, nil
}
