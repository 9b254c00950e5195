package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/docstore"
	"github.com/hyperjump/kotae/internal/models"
)

// ingestUser is recorded as created_by for watch-ingested documents.
const ingestUser = "watcher"

// Ingestor turns watched files into documents for one tenant. The title is
// the file name without extension; duplicate content is absorbed by the
// document store's fingerprint check.
type Ingestor struct {
	docs     *docstore.Store
	tenantID string
	logger   *zap.Logger
}

// NewIngestor creates an Ingestor bound to a tenant.
func NewIngestor(docs *docstore.Store, tenantID string, logger *zap.Logger) *Ingestor {
	return &Ingestor{docs: docs, tenantID: tenantID, logger: logger}
}

// HandleFile reads the file and ingests its content. Empty and unreadable
// files are skipped.
func (in *Ingestor) HandleFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		in.logger.Warn("read watched file", zap.String("path", path), zap.Error(err))
		return
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return
	}

	name := filepath.Base(path)
	title := strings.TrimSuffix(name, filepath.Ext(name))

	res, err := in.docs.Ingest(context.Background(), in.tenantID, ingestUser, &models.IngestRequest{
		Title:    title,
		Content:  content,
		Category: models.CategoryOther,
	})
	if err != nil {
		in.logger.Warn("ingest watched file", zap.String("path", path), zap.Error(err))
		return
	}
	if res.Created {
		in.logger.Info("watched file ingested",
			zap.String("path", path),
			zap.String("tenant_id", in.tenantID),
			zap.String("document_id", res.DocumentID))
	}
}
