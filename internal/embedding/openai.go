package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// OpenAIEmbedder embeds via an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	cache      *EmbeddingCache
	client     *http.Client
}

// OpenAIConfig configures an OpenAIEmbedder. APIKeyEnv names the environment
// variable holding the key; the key itself is never part of configuration.
type OpenAIConfig struct {
	BaseURL    string
	APIKeyEnv  string
	Model      string
	Dimensions int
	CacheSize  int
	Timeout    time.Duration
}

// NewOpenAIEmbedder creates an embedder for an OpenAI-compatible API.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 1024
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10000
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIEmbedder{
		baseURL:    cfg.BaseURL,
		apiKey:     key,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		cache:      NewEmbeddingCache(cfg.CacheSize),
		client:     &http.Client{Timeout: timeout},
	}, nil
}

type embeddingsRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding for text, using cache when available. The mode is
// part of the cache key; the API itself embeds symmetrically.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string, mode Mode) ([]float32, error) {
	key := CacheKey(mode, text)
	if cached, ok := e.cache.Get(key); ok {
		return cached, nil
	}
	out, err := e.EmbedBatch(ctx, []string{text}, mode)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in one API call, filling the cache.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	req := embeddingsRequest{Model: e.model, Input: texts, Dimensions: e.dimensions}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embeddings request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, &models.UpstreamError{Provider: "embedding", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &models.UpstreamError{
			Provider: "embedding",
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, snippet),
		}
	}

	var parsed embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &models.UpstreamError{Provider: "embedding", Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Data) != len(texts) {
		return nil, &models.UpstreamError{
			Provider: "embedding",
			Err:      fmt.Errorf("expected %d embeddings, got %d", len(texts), len(parsed.Data)),
		}
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, &models.UpstreamError{Provider: "embedding", Err: fmt.Errorf("index %d out of range", d.Index)}
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		utils.NormalizeL2(vec)
		out[d.Index] = vec
	}
	for i, vec := range out {
		if vec == nil {
			return nil, &models.UpstreamError{Provider: "embedding", Err: fmt.Errorf("missing embedding at index %d", i)}
		}
		e.cache.Set(CacheKey(mode, texts[i]), vec)
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for the HTTP embedder.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
