package retrieval

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/rerank"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

// Match is a retrieved document with its final relevance score in [0, 1].
type Match struct {
	Document *models.Document
	Score    float64
}

// Engine runs the two-stage retrieval pipeline: vector search over the
// tenant's indexed documents, then reranking of the shortlist.
type Engine struct {
	store    storage.Storage
	embedder embedding.Embedder
	reranker rerank.Reranker
	logger   *zap.Logger
}

// NewEngine creates a retrieval Engine.
func NewEngine(store storage.Storage, embedder embedding.Embedder, reranker rerank.Reranker, logger *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		embedder: embedder,
		reranker: reranker,
		logger:   logger,
	}
}

// Retrieve returns up to req.TopKFinal matches for the query, scoped to the
// tenant and optional category filter. Documents without an embedding are not
// searchable and never appear. An empty result is not an error.
func (e *Engine) Retrieve(ctx context.Context, tenantID string, req *models.QueryRequest) ([]Match, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	queryVec, err := e.embedder.Embed(ctx, req.Query, embedding.ModeQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	docs, err := e.store.ListEmbeddedDocuments(ctx, tenantID, req.Category)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	type scored struct {
		doc *models.Document
		sim float64
	}
	shortlist := make([]scored, 0, len(docs))
	for _, doc := range docs {
		sim := vector.CosineSimilarity(queryVec, doc.Embedding)
		shortlist = append(shortlist, scored{doc: doc, sim: sim})
	}

	// Documents arrive ordered by id, so a stable sort makes equal
	// similarities deterministic.
	sort.SliceStable(shortlist, func(i, j int) bool {
		return shortlist[i].sim > shortlist[j].sim
	})
	if len(shortlist) > req.TopKSearch {
		shortlist = shortlist[:req.TopKSearch]
	}

	candidates := make([]rerank.Candidate, len(shortlist))
	byID := make(map[string]*models.Document, len(shortlist))
	for i, s := range shortlist {
		candidates[i] = rerank.Candidate{ID: s.doc.ID, Title: s.doc.Title, Content: s.doc.Content}
		byID[s.doc.ID] = s.doc
	}

	ranked, err := e.reranker.Rerank(ctx, req.Query, candidates)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}

	matches := make([]Match, 0, req.TopKFinal)
	for _, r := range ranked {
		doc, ok := byID[r.ID]
		if !ok {
			continue
		}
		matches = append(matches, Match{Document: doc, Score: r.Score})
		if len(matches) == req.TopKFinal {
			break
		}
	}

	e.logger.Debug("retrieval complete",
		zap.String("tenant_id", tenantID),
		zap.Int("indexed", len(docs)),
		zap.Int("shortlist", len(candidates)),
		zap.Int("returned", len(matches)))

	return matches, nil
}
