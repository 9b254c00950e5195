package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/hyperjump/kotae/internal/vector"
)

func TestMockEmbedderDeterministic(t *testing.T) {
	e := NewMockEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "auto insurance policy", ModeDocument)
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Embed(ctx, "auto insurance policy", ModeQuery)
	if err != nil {
		t.Fatal(err)
	}
	if vector.CosineSimilarity(a, b) < 0.999 {
		t.Error("same text should embed identically across modes")
	}
	if len(a) != 64 {
		t.Errorf("dimensions: got %d", len(a))
	}
}

func TestMockEmbedderTokenOverlap(t *testing.T) {
	e := NewMockEmbedder(256)
	ctx := context.Background()

	doc, _ := e.Embed(ctx, "Auto Insurance Policy. Expiration Date: December 31, 2024", ModeDocument)
	related, _ := e.Embed(ctx, "when does my auto insurance expire?", ModeQuery)
	unrelated, _ := e.Embed(ctx, "chocolate cake recipe with vanilla frosting", ModeQuery)

	simRelated := vector.CosineSimilarity(doc, related)
	simUnrelated := vector.CosineSimilarity(doc, unrelated)
	if simRelated <= simUnrelated {
		t.Errorf("related query should score higher: related=%f unrelated=%f", simRelated, simUnrelated)
	}
	if simRelated <= 0 {
		t.Errorf("shared tokens should produce positive similarity, got %f", simRelated)
	}
}

func TestMockEmbedderCountsCalls(t *testing.T) {
	e := NewMockEmbedder(16)
	ctx := context.Background()
	_, _ = e.Embed(ctx, "one", ModeDocument)
	_, _ = e.EmbedBatch(ctx, []string{"two", "three"}, ModeDocument)
	if e.Calls() != 3 {
		t.Errorf("expected 3 calls, got %d", e.Calls())
	}
}

func TestEmbeddingCacheLRU(t *testing.T) {
	c := NewEmbeddingCache(2)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	if _, ok := c.Get("a"); !ok {
		t.Error("a should be cached")
	}
	c.Set("c", []float32{3}) // evicts b (a was just touched)
	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should survive")
	}
	if c.Len() != 2 {
		t.Errorf("len: got %d", c.Len())
	}
}

func TestEmbeddingCacheConcurrentGets(t *testing.T) {
	c := NewEmbeddingCache(4)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	c.Set("c", []float32{3})

	// Hits reorder the LRU list, so concurrent readers exercise the same
	// mutation path the embedders hit under parallel requests.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		key := "a"
		if i%2 == 0 {
			key = "c"
		}
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if v, ok := c.Get(key); !ok || len(v) != 1 {
					t.Errorf("lost entry %q", key)
					return
				}
			}
		}(key)
	}
	wg.Wait()

	if c.Len() != 3 {
		t.Errorf("len: got %d", c.Len())
	}
}

func TestCacheKeySeparatesModes(t *testing.T) {
	if CacheKey(ModeDocument, "x") == CacheKey(ModeQuery, "x") {
		t.Error("modes must not share cache entries")
	}
}

func TestOpenAIEmbedder(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req embeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		resp := embeddingsResponse{}
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float64 `json:"embedding"`
			}{Index: i, Embedding: []float64{1, 0, 0, 0}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	t.Setenv("TEST_EMBED_KEY", "secret")
	e, err := NewOpenAIEmbedder(OpenAIConfig{
		BaseURL: srv.URL, APIKeyEnv: "TEST_EMBED_KEY", Dimensions: 4, CacheSize: 10,
	})
	if err != nil {
		t.Fatal(err)
	}

	vec, err := e.Embed(context.Background(), "hello", ModeQuery)
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 4 {
		t.Errorf("dimensions: got %d", len(vec))
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("auth header: got %q", gotAuth)
	}

	// Second call for the same (mode, text) hits the cache; break the server to prove it.
	srv.Close()
	if _, err := e.Embed(context.Background(), "hello", ModeQuery); err != nil {
		t.Errorf("expected cache hit, got %v", err)
	}
}

func TestOpenAIEmbedderMissingKey(t *testing.T) {
	if _, err := NewOpenAIEmbedder(OpenAIConfig{APIKeyEnv: "KOTAE_TEST_NO_SUCH_ENV"}); err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestOpenAIEmbedderUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	t.Setenv("TEST_EMBED_KEY", "secret")
	e, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL, APIKeyEnv: "TEST_EMBED_KEY", Dimensions: 4})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Embed(context.Background(), "hello", ModeQuery); err == nil {
		t.Error("expected upstream error")
	}
}
