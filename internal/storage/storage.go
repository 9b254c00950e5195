// Package storage defines persistence for documents, versions, conversations, and
// rate-limit windows. All document reads and writes are tenant-scoped; addressing a
// row owned by another tenant behaves exactly like absence.
package storage

import (
	"context"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

// Storage defines the persistence operations used by the document store, the
// retrieval engine, the conversation log, and the rate limiter.
type Storage interface {
	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document, initial *models.DocumentVersion) error
	GetDocument(ctx context.Context, tenantID, id string) (*models.Document, error)
	GetDocumentByFingerprint(ctx context.Context, tenantID, fingerprint string) (*models.Document, error)
	ListEmbeddedDocuments(ctx context.Context, tenantID string, category models.Category) ([]*models.Document, error)
	DeleteDocument(ctx context.Context, tenantID, id string) error

	// Version operations. ApplyUpdate inserts a new version (allocated as the
	// current maximum version number plus one, under a uniqueness constraint) and
	// mutates the live document row in one transaction; either both commit or
	// neither does. The allocated version number is returned.
	ApplyUpdate(ctx context.Context, tenantID string, doc *models.Document, version *models.DocumentVersion) (int, error)
	GetVersion(ctx context.Context, tenantID, documentID string, versionNumber int) (*models.DocumentVersion, error)
	ListVersions(ctx context.Context, tenantID, documentID string) ([]*models.DocumentVersion, error)

	// Conversation log (append-only)
	AppendMessage(ctx context.Context, msg *models.ConversationMessage) error
	ListMessages(ctx context.Context, tenantID, sessionID string) ([]*models.ConversationMessage, error)

	// Rate limiting. IncrementRateWindow performs a single atomic
	// insert-or-increment on (tenant, endpoint, window) and returns the
	// post-increment count.
	IncrementRateWindow(ctx context.Context, tenantID, endpoint string, windowStart time.Time) (int64, error)
	PurgeRateWindows(ctx context.Context, before time.Time) (int64, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountVersions(ctx context.Context) (int64, error)
	CountMessages(ctx context.Context) (int64, error)

	Close() error
}
