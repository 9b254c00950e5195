package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
)

// tenantID extracts the authenticated tenant from the request headers. The
// auth layer in front of this service fills them in; an empty tenant is a
// client error here, never a fallback to some shared default.
func tenantID(r *http.Request) string {
	return r.Header.Get("X-Tenant-ID")
}

func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

// requireTenant responds 400 and returns false when no tenant header is set.
func (s *Server) requireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenant := tenantID(r)
	if tenant == "" {
		s.respondError(w, http.StatusBadRequest, "X-Tenant-ID header is required")
		return "", false
	}
	return tenant, true
}

// admit counts the request against the tenant's window and responds 429 when
// rejected. Returns false when the request must not proceed.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, tenant, endpoint string) bool {
	res, err := s.limiter.Admit(r.Context(), tenant, endpoint)
	if err != nil {
		s.respondTypedError(w, err)
		return false
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
	if !res.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
		s.respondError(w, http.StatusTooManyRequests,
			(&models.RateLimitedError{Endpoint: endpoint, RetryAfter: res.RetryAfter}).Error())
		return false
	}
	return true
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.requireTenant(w, r)
	if !ok {
		return
	}
	if !s.admit(w, r, tenant, "ingest") {
		return
	}

	var req models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.docs.Ingest(r.Context(), tenant, userID(r), &req)
	if err != nil {
		s.logger.Error("ingest failed", zap.Error(err))
		s.respondTypedError(w, err)
		return
	}
	status := http.StatusCreated
	if !res.Created {
		status = http.StatusOK
	}
	s.respondJSON(w, status, res)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.requireTenant(w, r)
	if !ok {
		return
	}
	doc, err := s.docs.Get(r.Context(), tenant, chi.URLParam(r, "id"))
	if err != nil {
		s.respondTypedError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.requireTenant(w, r)
	if !ok {
		return
	}
	var req models.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.docs.Update(r.Context(), tenant, userID(r), chi.URLParam(r, "id"), &req)
	if err != nil {
		s.logger.Error("update failed", zap.Error(err))
		s.respondTypedError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.requireTenant(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.docs.Delete(r.Context(), tenant, id); err != nil {
		s.respondTypedError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

type rollbackRequest struct {
	TargetVersion int `json:"target_version"`
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.requireTenant(w, r)
	if !ok {
		return
	}
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TargetVersion <= 0 {
		s.respondError(w, http.StatusBadRequest, "target_version must be positive")
		return
	}
	res, err := s.docs.Rollback(r.Context(), tenant, userID(r), chi.URLParam(r, "id"), req.TargetVersion)
	if err != nil {
		s.logger.Error("rollback failed", zap.Error(err))
		s.respondTypedError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.requireTenant(w, r)
	if !ok {
		return
	}
	versions, err := s.docs.ListVersions(r.Context(), tenant, chi.URLParam(r, "id"))
	if err != nil {
		s.respondTypedError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.requireTenant(w, r)
	if !ok {
		return
	}
	if !s.admit(w, r, tenant, "query") {
		return
	}

	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("query request", zap.String("tenant_id", tenant), zap.String("query", req.Query))
	resp, err := s.answerer.Answer(r.Context(), tenant, userID(r), &req)
	if err != nil {
		s.logger.Error("query failed", zap.Error(err))
		s.respondTypedError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.requireTenant(w, r)
	if !ok {
		return
	}
	msgs, err := s.storage.ListMessages(r.Context(), tenant, chi.URLParam(r, "id"))
	if err != nil {
		s.respondTypedError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*models.ConversationMessage{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docCount, err := s.storage.CountDocuments(ctx)
	if err != nil {
		s.respondTypedError(w, err)
		return
	}
	versionCount, err := s.storage.CountVersions(ctx)
	if err != nil {
		s.respondTypedError(w, err)
		return
	}
	messageCount, err := s.storage.CountMessages(ctx)
	if err != nil {
		s.respondTypedError(w, err)
		return
	}

	resp := map[string]any{
		"documents": docCount,
		"versions":  versionCount,
		"messages":  messageCount,
		"config": map[string]any{
			"embedding_provider":   s.config.Embedding.Provider,
			"embedding_dimensions": s.config.Embedding.Dimensions,
			"rerank_provider":      s.config.Rerank.Provider,
			"generation_provider":  s.config.Generation.Provider,
			"database_path":        s.config.Storage.DatabasePath,
		},
	}
	if diskBytes, err := storage.DiskUsageBytes(s.config.Storage.DatabasePath); err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// respondTypedError maps the error taxonomy onto HTTP status codes.
func (s *Server) respondTypedError(w http.ResponseWriter, err error) {
	var (
		validation *models.ValidationError
		notFound   *models.NotFoundError
		duplicate  *models.DuplicateError
		upstream   *models.UpstreamError
		rated      *models.RateLimitedError
	)
	switch {
	case errors.As(err, &validation):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &notFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &duplicate):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &rated):
		w.Header().Set("Retry-After", fmt.Sprintf("%.0f", rated.RetryAfter.Seconds()+1))
		s.respondError(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &upstream):
		s.respondError(w, http.StatusBadGateway, err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
