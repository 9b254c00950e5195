// Package answer orchestrates retrieval, generation, and conversation logging
// into a single query operation.
package answer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/generation"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/retrieval"
	"github.com/hyperjump/kotae/internal/storage"
)

// NoInformationAnswer is returned verbatim when retrieval finds nothing.
// No generation call is made in that case and nothing is invented.
const NoInformationAnswer = "I could not find any relevant information in your documents to answer this question."

// Answerer runs the full query pipeline: retrieve, generate a grounded
// answer, blend confidence, and log both conversation turns.
type Answerer struct {
	engine    *retrieval.Engine
	generator generation.Generator
	store     storage.Storage
	logger    *zap.Logger
}

// NewAnswerer creates an Answerer.
func NewAnswerer(engine *retrieval.Engine, generator generation.Generator, store storage.Storage, logger *zap.Logger) *Answerer {
	return &Answerer{
		engine:    engine,
		generator: generator,
		store:     store,
		logger:    logger,
	}
}

// Answer answers the query for the tenant. The session id is generated when
// the request carries none; both the user turn and the assistant turn are
// appended to the conversation log under it.
func (a *Answerer) Answer(ctx context.Context, tenantID, userID string, req *models.QueryRequest) (*models.QueryResponse, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	matches, err := a.engine.Retrieve(ctx, tenantID, req)
	if err != nil {
		return nil, err
	}

	resp := &models.QueryResponse{SessionID: sessionID, Sources: []models.Source{}}
	if len(matches) == 0 {
		resp.Answer = NoInformationAnswer
		resp.Confidence = 0
	} else {
		docs := make([]generation.ContextDocument, len(matches))
		for i, m := range matches {
			docs[i] = generation.ContextDocument{Title: m.Document.Title, Content: m.Document.Content}
			resp.Sources = append(resp.Sources, models.Source{
				DocumentID: m.Document.ID,
				Title:      m.Document.Title,
				Category:   m.Document.Category,
				Relevance:  m.Score,
			})
		}

		out, err := a.generator.Generate(ctx, req.Query, docs)
		if err != nil {
			return nil, err
		}
		resp.Answer = out.Answer
		resp.Confidence = blendConfidence(matches[0].Score, out.Confidence)
	}
	resp.QueryTime = time.Since(start).Milliseconds()

	a.logTurns(ctx, tenantID, userID, sessionID, req.Query, resp)
	return resp, nil
}

// blendConfidence combines retrieval relevance with the model's self-report.
// Without a model signal the retrieval score stands alone.
func blendConfidence(relevance, modelSignal float64) float64 {
	conf := relevance
	if modelSignal >= 0 {
		conf = 0.5*relevance + 0.5*modelSignal
	}
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

// logTurns appends the user and assistant turns. Logging failure does not fail
// the query; the answer was already produced.
func (a *Answerer) logTurns(ctx context.Context, tenantID, userID, sessionID, query string, resp *models.QueryResponse) {
	userTurn := &models.ConversationMessage{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   query,
		UserID:    userID,
	}
	assistantTurn := &models.ConversationMessage{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		SessionID: sessionID,
		Role:      models.RoleAssistant,
		Content:   resp.Answer,
		Sources:   resp.Sources,
		UserID:    userID,
	}
	for _, msg := range []*models.ConversationMessage{userTurn, assistantTurn} {
		if err := a.store.AppendMessage(ctx, msg); err != nil {
			a.logger.Warn("append conversation turn",
				zap.String("tenant_id", tenantID),
				zap.String("session_id", sessionID),
				zap.Error(err))
			return
		}
	}
}
