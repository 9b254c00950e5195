// Package docstore implements the tenant-scoped document store and version
// manager: ingest with duplicate detection, merged updates with gapless
// version allocation, rollback by extension, and version listing.
package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/fingerprint"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
)

// Store coordinates document writes: fingerprinting, duplicate detection,
// embedding, and version bookkeeping. All operations are tenant-scoped.
type Store struct {
	store    storage.Storage
	embedder embedding.Embedder
	logger   *zap.Logger
}

// NewStore creates a document Store.
func NewStore(store storage.Storage, embedder embedding.Embedder, logger *zap.Logger) *Store {
	return &Store{store: store, embedder: embedder, logger: logger}
}

// embedText is the canonical text a document is embedded from. Title and
// content are embedded together so title terms are searchable.
func embedText(title, content string) string {
	return title + "\n" + content
}

// Ingest stores a new document with its version 1 snapshot. If the tenant
// already holds a document with the same fingerprint, the existing document is
// returned and no embedding call is made.
func (s *Store) Ingest(ctx context.Context, tenantID, userID string, req *models.IngestRequest) (*models.IngestResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	fp := fingerprint.Compute(req.Title, req.Content)

	existing, err := s.store.GetDocumentByFingerprint(ctx, tenantID, fp)
	if err == nil {
		s.logger.Info("duplicate ingest",
			zap.String("tenant_id", tenantID),
			zap.String("document_id", existing.ID))
		return &models.IngestResult{DocumentID: existing.ID, Created: false, DuplicateOf: existing.ID}, nil
	}
	var notFound *models.NotFoundError
	if !errors.As(err, &notFound) {
		return nil, err
	}

	vec, err := s.embedder.Embed(ctx, embedText(req.Title, req.Content), embedding.ModeDocument)
	if err != nil {
		return nil, fmt.Errorf("embed document: %w", err)
	}

	doc := &models.Document{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Title:       req.Title,
		Content:     req.Content,
		Category:    req.Category,
		Fingerprint: fp,
		Embedding:   vec,
		CreatedBy:   userID,
		UpdatedBy:   userID,
	}
	initial := &models.DocumentVersion{
		ID:            uuid.New().String(),
		Title:         req.Title,
		Content:       req.Content,
		Fingerprint:   fp,
		ChangeSummary: "initial version",
		ChangeType:    models.ChangeUpdate,
		ContentSize:   len(req.Content),
		CreatedBy:     userID,
	}
	if err := s.store.CreateDocument(ctx, doc, initial); err != nil {
		// A concurrent ingest of the same content can win the insert between
		// the fingerprint pre-check and here; report it as the duplicate it is.
		var dup *models.DuplicateError
		if errors.As(err, &dup) {
			s.logger.Info("duplicate ingest",
				zap.String("tenant_id", tenantID),
				zap.String("document_id", dup.DocumentID))
			return &models.IngestResult{DocumentID: dup.DocumentID, Created: false, DuplicateOf: dup.DocumentID}, nil
		}
		return nil, err
	}

	s.logger.Info("document ingested",
		zap.String("tenant_id", tenantID),
		zap.String("document_id", doc.ID),
		zap.String("category", string(doc.Category)))
	return &models.IngestResult{DocumentID: doc.ID, Created: true}, nil
}

// Update merges the changed fields into the document, recomputes the
// fingerprint, and, when anything fingerprinted changed, snapshots the new
// state as the next version and mutates the live row in one transaction.
// An unchanged fingerprint is a no-op.
func (s *Store) Update(ctx context.Context, tenantID, userID, docID string, req *models.UpdateRequest) (*models.UpdateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	doc, err := s.store.GetDocument(ctx, tenantID, docID)
	if err != nil {
		return nil, err
	}

	title := doc.Title
	content := doc.Content
	category := doc.Category
	if req.Title != nil {
		title = *req.Title
	}
	if req.Content != nil {
		content = *req.Content
	}
	if req.Category != nil {
		category = *req.Category
	}

	fp := fingerprint.Compute(title, content)
	if fp == doc.Fingerprint {
		return &models.UpdateResult{DocumentID: doc.ID, Unchanged: true, VersionNumber: doc.CurrentVersion}, nil
	}

	contentChanged := content != doc.Content
	doc.Title = title
	doc.Content = content
	doc.Category = category
	doc.Fingerprint = fp
	doc.UpdatedBy = userID
	doc.Embedding = nil
	if contentChanged {
		vec, err := s.embedder.Embed(ctx, embedText(title, content), embedding.ModeDocument)
		if err != nil {
			return nil, fmt.Errorf("embed document: %w", err)
		}
		doc.Embedding = vec
	}

	version := &models.DocumentVersion{
		ID:            uuid.New().String(),
		DocumentID:    doc.ID,
		Title:         title,
		Content:       content,
		Fingerprint:   fp,
		ChangeSummary: req.ChangeSummary,
		ChangeType:    req.ChangeType,
		ContentSize:   len(content),
		CreatedBy:     userID,
	}

	allocated, err := s.store.ApplyUpdate(ctx, tenantID, doc, version)
	if err != nil {
		return nil, err
	}

	s.logger.Info("document updated",
		zap.String("tenant_id", tenantID),
		zap.String("document_id", doc.ID),
		zap.Int("version", allocated))
	return &models.UpdateResult{DocumentID: doc.ID, VersionNumber: allocated}, nil
}

// Rollback restores an older version's content by copying it into a new
// version and repointing the live row. History is extended, never rewritten.
// Rolling back to the current version is rejected.
func (s *Store) Rollback(ctx context.Context, tenantID, userID, docID string, targetVersion int) (*models.RollbackResult, error) {
	doc, err := s.store.GetDocument(ctx, tenantID, docID)
	if err != nil {
		return nil, err
	}
	if targetVersion == doc.CurrentVersion {
		return nil, &models.ValidationError{Field: "target_version", Reason: "already at this version"}
	}

	target, err := s.store.GetVersion(ctx, tenantID, docID, targetVersion)
	if err != nil {
		return nil, err
	}

	vec, err := s.embedder.Embed(ctx, embedText(target.Title, target.Content), embedding.ModeDocument)
	if err != nil {
		return nil, fmt.Errorf("embed document: %w", err)
	}

	doc.Title = target.Title
	doc.Content = target.Content
	doc.Fingerprint = target.Fingerprint
	doc.Embedding = vec
	doc.UpdatedBy = userID

	version := &models.DocumentVersion{
		ID:            uuid.New().String(),
		DocumentID:    doc.ID,
		Title:         target.Title,
		Content:       target.Content,
		Fingerprint:   target.Fingerprint,
		ChangeSummary: fmt.Sprintf("rollback to version %d", targetVersion),
		ChangeType:    models.ChangeCorrection,
		ContentSize:   len(target.Content),
		CreatedBy:     userID,
	}

	allocated, err := s.store.ApplyUpdate(ctx, tenantID, doc, version)
	if err != nil {
		return nil, err
	}

	s.logger.Info("document rolled back",
		zap.String("tenant_id", tenantID),
		zap.String("document_id", doc.ID),
		zap.Int("restored_from", targetVersion),
		zap.Int("new_version", allocated))
	return &models.RollbackResult{DocumentID: doc.ID, RestoredFrom: targetVersion, NewVersionNumber: allocated}, nil
}

// ListVersions returns the document's version history, newest first, with the
// live version flagged.
func (s *Store) ListVersions(ctx context.Context, tenantID, docID string) ([]*models.VersionInfo, error) {
	doc, err := s.store.GetDocument(ctx, tenantID, docID)
	if err != nil {
		return nil, err
	}

	versions, err := s.store.ListVersions(ctx, tenantID, docID)
	if err != nil {
		return nil, err
	}

	infos := make([]*models.VersionInfo, len(versions))
	for i, v := range versions {
		infos[i] = &models.VersionInfo{
			VersionNumber: v.VersionNumber,
			Title:         v.Title,
			ChangeSummary: v.ChangeSummary,
			ChangeType:    v.ChangeType,
			ContentSize:   v.ContentSize,
			CreatedBy:     v.CreatedBy,
			CreatedAt:     v.CreatedAt,
			IsCurrent:     v.VersionNumber == doc.CurrentVersion,
		}
	}
	return infos, nil
}

// Get returns a tenant's document.
func (s *Store) Get(ctx context.Context, tenantID, docID string) (*models.Document, error) {
	return s.store.GetDocument(ctx, tenantID, docID)
}

// Delete removes a document and, via cascade, its versions.
func (s *Store) Delete(ctx context.Context, tenantID, docID string) error {
	if err := s.store.DeleteDocument(ctx, tenantID, docID); err != nil {
		return err
	}
	s.logger.Info("document deleted",
		zap.String("tenant_id", tenantID),
		zap.String("document_id", docID))
	return nil
}
