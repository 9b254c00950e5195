package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"sync/atomic"

	"github.com/hyperjump/kotae/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests. It hashes each token into a
// dimension bucket, so texts sharing words get correlated vectors and the same text
// always gets the same embedding. Modes share the vector space (symmetric), which is
// what retrieval tests need. Calls is incremented per embedded text so tests can
// assert that duplicate detection skipped embedding entirely.
type MockEmbedder struct {
	dimensions int
	calls      atomic.Int64
}

// NewMockEmbedder returns an embedder producing deterministic bag-of-words
// embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a deterministic normalized embedding based on token hashes.
func (e *MockEmbedder) Embed(ctx context.Context, text string, _ Mode) ([]float32, error) {
	e.calls.Add(1)
	emb := make([]float32, e.dimensions)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?\"'()")
		if tok == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		emb[int(h.Sum32())%e.dimensions] += 1
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text, mode)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Calls returns how many texts have been embedded.
func (e *MockEmbedder) Calls() int64 {
	return e.calls.Load()
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
