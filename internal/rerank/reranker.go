package rerank

import "context"

// Candidate is a document passed to a reranker, with the text it will be
// scored against.
type Candidate struct {
	ID      string
	Title   string
	Content string
}

// Result is a reranked candidate. Score is normalized to [0, 1].
type Result struct {
	ID    string
	Score float64
}

// Reranker reorders candidates by relevance to the query. Implementations
// return one Result per candidate, sorted by descending score.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]Result, error)
}
