package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

// HTTPConfig configures a remote cross-encoder reranker.
type HTTPConfig struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
}

// HTTPReranker calls a remote rerank endpoint (Cohere/Jina wire format):
// POST {base_url}/rerank with query and document texts, returning indexed
// relevance scores.
type HTTPReranker struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewHTTPReranker creates an HTTPReranker. The API key is read from the
// environment variable named by cfg.APIKeyEnv.
func NewHTTPReranker(cfg HTTPConfig) (*HTTPReranker, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("rerank base_url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPReranker{
		baseURL: cfg.BaseURL,
		apiKey:  key,
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank sends the candidates to the remote endpoint and maps the scored
// indices back onto candidate IDs. Scores are clamped to [0, 1].
func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Result, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Title + "\n" + c.Content
	}

	body, err := json.Marshal(rerankRequest{Model: r.model, Query: query, Documents: docs})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, &models.UpstreamError{Provider: "rerank", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &models.UpstreamError{
			Provider: "rerank",
			Err:      fmt.Errorf("rerank endpoint returned status %d", resp.StatusCode),
		}
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &models.UpstreamError{Provider: "rerank", Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Results) != len(candidates) {
		return nil, &models.UpstreamError{
			Provider: "rerank",
			Err:      fmt.Errorf("expected %d results, got %d", len(candidates), len(parsed.Results)),
		}
	}

	results := make([]Result, 0, len(parsed.Results))
	for _, pr := range parsed.Results {
		if pr.Index < 0 || pr.Index >= len(candidates) {
			return nil, &models.UpstreamError{
				Provider: "rerank",
				Err:      fmt.Errorf("result index %d out of range", pr.Index),
			}
		}
		score := pr.RelevanceScore
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		results = append(results, Result{ID: candidates[pr.Index].ID, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}
