package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLexicalRerankOrdersByOverlap(t *testing.T) {
	r := NewLexicalReranker()
	candidates := []Candidate{
		{ID: "cake", Title: "Chocolate Cake", Content: "A recipe for chocolate cake with frosting."},
		{ID: "policy", Title: "Auto Insurance Policy", Content: "Your auto insurance policy expires on December 31, 2024."},
		{ID: "partial", Title: "Home Insurance", Content: "Home insurance covers fire and theft."},
	}

	results, err := r.Rerank(context.Background(), "when does my auto insurance policy expire", candidates)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].ID != "policy" {
		t.Errorf("expected policy first, got %s", results[0].ID)
	}
	if results[2].ID != "cake" {
		t.Errorf("expected cake last, got %s", results[2].ID)
	}
	for _, res := range results {
		if res.Score < 0 || res.Score > 1 {
			t.Errorf("score out of range for %s: %f", res.ID, res.Score)
		}
	}
}

func TestLexicalRerankTitleBoost(t *testing.T) {
	r := NewLexicalReranker()
	candidates := []Candidate{
		{ID: "body-only", Title: "Misc Notes", Content: "refund policy details here"},
		{ID: "titled", Title: "Refund Policy", Content: "refund policy details here"},
	}
	results, err := r.Rerank(context.Background(), "refund policy", candidates)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].ID != "titled" {
		t.Errorf("title match should rank first, got %s", results[0].ID)
	}
}

func TestLexicalRerankStableForTies(t *testing.T) {
	r := NewLexicalReranker()
	candidates := []Candidate{
		{ID: "first", Content: "unrelated text"},
		{ID: "second", Content: "different unrelated text"},
	}
	results, err := r.Rerank(context.Background(), "quantum entanglement", candidates)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].ID != "first" || results[1].ID != "second" {
		t.Error("equal scores must preserve candidate order")
	}
}

func TestLexicalRerankEmptyQuery(t *testing.T) {
	r := NewLexicalReranker()
	results, err := r.Rerank(context.Background(), "", []Candidate{{ID: "a", Content: "text"}})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Score != 0 {
		t.Errorf("empty query should score 0, got %f", results[0].Score)
	}
}

func TestHTTPReranker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Documents) != 2 {
			t.Errorf("expected 2 documents, got %d", len(req.Documents))
		}
		resp := rerankResponse{}
		resp.Results = append(resp.Results, struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		}{Index: 1, RelevanceScore: 0.9}, struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		}{Index: 0, RelevanceScore: 0.2})
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	t.Setenv("TEST_RERANK_KEY", "secret")
	r, err := NewHTTPReranker(HTTPConfig{BaseURL: srv.URL, APIKeyEnv: "TEST_RERANK_KEY"})
	if err != nil {
		t.Fatal(err)
	}

	results, err := r.Rerank(context.Background(), "q", []Candidate{{ID: "a"}, {ID: "b"}})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].ID != "b" || results[0].Score != 0.9 {
		t.Errorf("expected b first with 0.9, got %s %f", results[0].ID, results[0].Score)
	}
	if results[1].ID != "a" {
		t.Errorf("expected a second, got %s", results[1].ID)
	}
}

func TestHTTPRerankerUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	t.Setenv("TEST_RERANK_KEY", "secret")
	r, err := NewHTTPReranker(HTTPConfig{BaseURL: srv.URL, APIKeyEnv: "TEST_RERANK_KEY"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Rerank(context.Background(), "q", []Candidate{{ID: "a"}}); err == nil {
		t.Error("expected upstream error")
	}
}
