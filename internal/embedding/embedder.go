// Package embedding provides text embedding with distinct document and query modes.
package embedding

import "context"

// Mode selects the embedding task. Retrieval quality depends on embedding queries
// and documents asymmetrically; the two modes must not be mixed up.
type Mode string

const (
	// ModeDocument embeds content at ingestion time.
	ModeDocument Mode = "document"
	// ModeQuery embeds question text at retrieval time.
	ModeQuery Mode = "query"
)

// Embedder produces fixed-dimension vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string, mode Mode) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, mode Mode) ([][]float32, error)
	Dimensions() int
	Close() error
}
