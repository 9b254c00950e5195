// Package server provides the HTTP API for Kotae.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/answer"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/docstore"
	"github.com/hyperjump/kotae/internal/ratelimit"
	"github.com/hyperjump/kotae/internal/storage"
)

const purgeInterval = time.Hour

// Server is the HTTP server for the Kotae API.
type Server struct {
	docs     *docstore.Store
	answerer *answer.Answerer
	limiter  *ratelimit.Limiter
	storage  storage.Storage
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	done     chan struct{}
}

// NewServer creates a server with the given dependencies.
func NewServer(
	docs *docstore.Store,
	answerer *answer.Answerer,
	limiter *ratelimit.Limiter,
	store storage.Storage,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		docs:     docs,
		answerer: answerer,
		limiter:  limiter,
		storage:  store,
		config:   cfg,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Router builds the chi router with all API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/documents", s.handleIngest)
	r.Get("/api/v1/documents/{id}", s.handleGetDocument)
	r.Patch("/api/v1/documents/{id}", s.handleUpdate)
	r.Delete("/api/v1/documents/{id}", s.handleDelete)
	r.Post("/api/v1/documents/{id}/rollback", s.handleRollback)
	r.Get("/api/v1/documents/{id}/versions", s.handleListVersions)
	r.Post("/api/v1/query", s.handleQuery)
	r.Get("/api/v1/sessions/{id}/messages", s.handleListMessages)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops. A background loop
// purges expired rate-limit windows while the server runs.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	go s.purgeLoop()
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server and the purge loop.
func (s *Server) Stop(ctx context.Context) error {
	close(s.done)
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) purgeLoop() {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if _, err := s.limiter.Purge(context.Background()); err != nil {
				s.logger.Warn("purge rate windows", zap.Error(err))
			}
		}
	}
}
