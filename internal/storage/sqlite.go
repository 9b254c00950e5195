// Package storage provides the SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the
// schema. Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		category TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		embedding BLOB,
		current_version INTEGER NOT NULL DEFAULT 1,
		version_count INTEGER NOT NULL DEFAULT 1,
		created_by TEXT,
		updated_by TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_tenant_fingerprint
		ON documents(tenant_id, fingerprint);
	CREATE INDEX IF NOT EXISTS idx_documents_tenant ON documents(tenant_id);

	CREATE TABLE IF NOT EXISTS document_versions (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		version_number INTEGER NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		change_summary TEXT,
		change_type TEXT NOT NULL,
		content_size INTEGER NOT NULL,
		created_by TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(document_id, version_number),
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_versions_document ON document_versions(document_id);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		sources TEXT,
		user_id TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_session
		ON conversations(tenant_id, session_id, created_at);

	CREATE TABLE IF NOT EXISTS rate_limits (
		tenant_id TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		window_start INTEGER NOT NULL,
		request_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, endpoint, window_start)
	);
	`
	_, err := db.Exec(schema)
	return err
}

// isUniqueViolation reports whether err is a SQLite unique-constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// CreateDocument inserts a document and its initial version snapshot in one
// transaction. When another document with the same (tenant, fingerprint)
// already exists, a DuplicateError carrying its id is returned, so two
// concurrent ingests of the same content resolve the same way a sequential
// pair does.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *models.Document, initial *models.DocumentVersion) error {
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	doc.CurrentVersion = 1
	doc.VersionCount = 1

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &models.StorageError{Op: "create document", Err: err}
	}
	defer tx.Rollback()

	var embedding []byte
	if doc.Embedding != nil {
		embedding = vector.Encode(doc.Embedding)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, tenant_id, title, content, category, fingerprint, embedding,
			current_version, version_count, created_by, updated_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, 1, ?, ?, ?, ?)`,
		doc.ID, doc.TenantID, doc.Title, doc.Content, string(doc.Category), doc.Fingerprint,
		embedding, doc.CreatedBy, doc.CreatedBy, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			_ = tx.Rollback()
			var existingID string
			lookupErr := s.db.QueryRowContext(ctx,
				`SELECT id FROM documents WHERE tenant_id = ? AND fingerprint = ?`,
				doc.TenantID, doc.Fingerprint,
			).Scan(&existingID)
			if lookupErr != nil {
				return &models.StorageError{Op: "create document", Err: err}
			}
			return &models.DuplicateError{DocumentID: existingID}
		}
		return &models.StorageError{Op: "create document", Err: err}
	}

	initial.DocumentID = doc.ID
	initial.VersionNumber = 1
	initial.CreatedAt = now
	_, err = tx.ExecContext(ctx,
		`INSERT INTO document_versions (id, document_id, version_number, title, content,
			fingerprint, change_summary, change_type, content_size, created_by, created_at)
		 VALUES (?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?)`,
		initial.ID, doc.ID, initial.Title, initial.Content, initial.Fingerprint,
		initial.ChangeSummary, string(initial.ChangeType), initial.ContentSize,
		initial.CreatedBy, initial.CreatedAt,
	)
	if err != nil {
		return &models.StorageError{Op: "create initial version", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &models.StorageError{Op: "create document", Err: err}
	}
	return nil
}

const documentColumns = `id, tenant_id, title, content, category, fingerprint, embedding,
	current_version, version_count, created_by, updated_by, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*models.Document, error) {
	var doc models.Document
	var category string
	var embedding []byte
	var createdBy, updatedBy sql.NullString
	err := row.Scan(&doc.ID, &doc.TenantID, &doc.Title, &doc.Content, &category,
		&doc.Fingerprint, &embedding, &doc.CurrentVersion, &doc.VersionCount,
		&createdBy, &updatedBy, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.Category = models.Category(category)
	doc.CreatedBy = createdBy.String
	doc.UpdatedBy = updatedBy.String
	if len(embedding) > 0 {
		vec, err := vector.Decode(embedding)
		if err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", doc.ID, err)
		}
		doc.Embedding = vec
	}
	return &doc, nil
}

// GetDocument returns a document owned by tenantID, or NotFoundError.
func (s *SQLiteStorage) GetDocument(ctx context.Context, tenantID, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ? AND tenant_id = ?`,
		id, tenantID)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Entity: "document", ID: id}
	}
	if err != nil {
		return nil, &models.StorageError{Op: "get document", Err: err}
	}
	return doc, nil
}

// GetDocumentByFingerprint returns the tenant's document with the given fingerprint,
// or NotFoundError when no duplicate exists.
func (s *SQLiteStorage) GetDocumentByFingerprint(ctx context.Context, tenantID, fingerprint string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE tenant_id = ? AND fingerprint = ?`,
		tenantID, fingerprint)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Entity: "document", ID: fingerprint}
	}
	if err != nil {
		return nil, &models.StorageError{Op: "get document by fingerprint", Err: err}
	}
	return doc, nil
}

// ListEmbeddedDocuments returns the tenant's documents that have an embedding,
// optionally restricted to a category, ordered by id for deterministic iteration.
// Documents without an embedding are unindexed and never returned.
func (s *SQLiteStorage) ListEmbeddedDocuments(ctx context.Context, tenantID string, category models.Category) ([]*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents
		WHERE tenant_id = ? AND embedding IS NOT NULL`
	args := []any{tenantID}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, string(category))
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &models.StorageError{Op: "list documents", Err: err}
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, &models.StorageError{Op: "list documents", Err: err}
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "list documents", Err: err}
	}
	return docs, nil
}

// DeleteDocument removes a tenant's document; versions cascade.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, tenantID, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE id = ? AND tenant_id = ?`, id, tenantID)
	if err != nil {
		return &models.StorageError{Op: "delete document", Err: err}
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &models.NotFoundError{Entity: "document", ID: id}
	}
	return nil
}

// ApplyUpdate inserts version MAX+1 and mutates the live row in one transaction.
// The version number is computed inside the insert statement and guarded by the
// (document_id, version_number) uniqueness constraint, so two concurrent updates
// can never allocate the same number. doc.Embedding nil means keep the stored
// embedding (title-only change).
func (s *SQLiteStorage) ApplyUpdate(ctx context.Context, tenantID string, doc *models.Document, version *models.DocumentVersion) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &models.StorageError{Op: "apply update", Err: err}
	}
	defer tx.Rollback()

	// Ownership check inside the transaction; cross-tenant looks like not-found.
	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM documents WHERE id = ? AND tenant_id = ?`, doc.ID, tenantID,
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return 0, &models.NotFoundError{Entity: "document", ID: doc.ID}
	}
	if err != nil {
		return 0, &models.StorageError{Op: "apply update", Err: err}
	}

	now := time.Now().UTC()
	version.DocumentID = doc.ID
	version.CreatedAt = now

	var allocated int
	err = tx.QueryRowContext(ctx,
		`INSERT INTO document_versions (id, document_id, version_number, title, content,
			fingerprint, change_summary, change_type, content_size, created_by, created_at)
		 SELECT ?, ?, COALESCE(MAX(version_number), 0) + 1, ?, ?, ?, ?, ?, ?, ?, ?
		 FROM document_versions WHERE document_id = ?
		 RETURNING version_number`,
		version.ID, doc.ID, version.Title, version.Content, version.Fingerprint,
		version.ChangeSummary, string(version.ChangeType), version.ContentSize,
		version.CreatedBy, version.CreatedAt, doc.ID,
	).Scan(&allocated)
	if err != nil {
		return 0, &models.StorageError{Op: "insert version", Err: err}
	}
	version.VersionNumber = allocated

	set := []string{"title = ?", "content = ?", "category = ?", "fingerprint = ?",
		"current_version = ?", "version_count = version_count + 1", "updated_by = ?", "updated_at = ?"}
	args := []any{doc.Title, doc.Content, string(doc.Category), doc.Fingerprint,
		allocated, doc.UpdatedBy, now}
	if doc.Embedding != nil {
		set = append(set, "embedding = ?")
		args = append(args, vector.Encode(doc.Embedding))
	}
	args = append(args, doc.ID, tenantID)

	result, err := tx.ExecContext(ctx,
		`UPDATE documents SET `+strings.Join(set, ", ")+` WHERE id = ? AND tenant_id = ?`,
		args...)
	if err != nil {
		return 0, &models.StorageError{Op: "update document", Err: err}
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return 0, &models.NotFoundError{Entity: "document", ID: doc.ID}
	}

	if err := tx.Commit(); err != nil {
		return 0, &models.StorageError{Op: "apply update", Err: err}
	}
	doc.CurrentVersion = allocated
	doc.UpdatedAt = now
	return allocated, nil
}

const versionColumns = `v.id, v.document_id, v.version_number, v.title, v.content,
	v.fingerprint, v.change_summary, v.change_type, v.content_size, v.created_by, v.created_at`

func scanVersion(row interface{ Scan(...any) error }) (*models.DocumentVersion, error) {
	var v models.DocumentVersion
	var changeType string
	var summary, createdBy sql.NullString
	err := row.Scan(&v.ID, &v.DocumentID, &v.VersionNumber, &v.Title, &v.Content,
		&v.Fingerprint, &summary, &changeType, &v.ContentSize, &createdBy, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	v.ChangeSummary = summary.String
	v.ChangeType = models.ChangeType(changeType)
	v.CreatedBy = createdBy.String
	return &v, nil
}

// GetVersion returns one version of a tenant's document, or NotFoundError.
func (s *SQLiteStorage) GetVersion(ctx context.Context, tenantID, documentID string, versionNumber int) (*models.DocumentVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM document_versions v
		 JOIN documents d ON d.id = v.document_id
		 WHERE v.document_id = ? AND v.version_number = ? AND d.tenant_id = ?`,
		documentID, versionNumber, tenantID)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Entity: "version", ID: fmt.Sprintf("%s@%d", documentID, versionNumber)}
	}
	if err != nil {
		return nil, &models.StorageError{Op: "get version", Err: err}
	}
	return v, nil
}

// ListVersions returns all versions of a tenant's document, newest first.
// Returns NotFoundError when the document does not exist for the tenant.
func (s *SQLiteStorage) ListVersions(ctx context.Context, tenantID, documentID string) ([]*models.DocumentVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM document_versions v
		 JOIN documents d ON d.id = v.document_id
		 WHERE v.document_id = ? AND d.tenant_id = ?
		 ORDER BY v.version_number DESC`,
		documentID, tenantID)
	if err != nil {
		return nil, &models.StorageError{Op: "list versions", Err: err}
	}
	defer rows.Close()

	var versions []*models.DocumentVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, &models.StorageError{Op: "list versions", Err: err}
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "list versions", Err: err}
	}
	if len(versions) == 0 {
		return nil, &models.NotFoundError{Entity: "document", ID: documentID}
	}
	return versions, nil
}

// AppendMessage appends a conversation turn. Sources are serialized to JSON.
func (s *SQLiteStorage) AppendMessage(ctx context.Context, msg *models.ConversationMessage) error {
	var sourcesJSON []byte
	if len(msg.Sources) > 0 {
		var err error
		sourcesJSON, err = json.Marshal(msg.Sources)
		if err != nil {
			return &models.StorageError{Op: "append message", Err: err}
		}
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, tenant_id, session_id, role, content, sources, user_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.TenantID, msg.SessionID, msg.Role, msg.Content,
		string(sourcesJSON), msg.UserID, msg.CreatedAt,
	)
	if err != nil {
		return &models.StorageError{Op: "append message", Err: err}
	}
	return nil
}

// ListMessages returns a session's messages in creation order.
func (s *SQLiteStorage) ListMessages(ctx context.Context, tenantID, sessionID string) ([]*models.ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, session_id, role, content, sources, user_id, created_at
		 FROM conversations WHERE tenant_id = ? AND session_id = ?
		 ORDER BY created_at ASC`,
		tenantID, sessionID)
	if err != nil {
		return nil, &models.StorageError{Op: "list messages", Err: err}
	}
	defer rows.Close()

	var msgs []*models.ConversationMessage
	for rows.Next() {
		var msg models.ConversationMessage
		var sourcesJSON, userID sql.NullString
		if err := rows.Scan(&msg.ID, &msg.TenantID, &msg.SessionID, &msg.Role,
			&msg.Content, &sourcesJSON, &userID, &msg.CreatedAt); err != nil {
			return nil, &models.StorageError{Op: "list messages", Err: err}
		}
		msg.UserID = userID.String
		if sourcesJSON.String != "" {
			if err := json.Unmarshal([]byte(sourcesJSON.String), &msg.Sources); err != nil {
				return nil, &models.StorageError{Op: "list messages", Err: err}
			}
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// IncrementRateWindow atomically inserts or increments the (tenant, endpoint,
// window) counter and returns the post-increment count. The upsert and the read
// are one statement, so concurrent callers each observe a distinct count.
func (s *SQLiteStorage) IncrementRateWindow(ctx context.Context, tenantID, endpoint string, windowStart time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO rate_limits (tenant_id, endpoint, window_start, request_count)
		 VALUES (?, ?, ?, 1)
		 ON CONFLICT(tenant_id, endpoint, window_start)
		 DO UPDATE SET request_count = request_count + 1
		 RETURNING request_count`,
		tenantID, endpoint, windowStart.Unix(),
	).Scan(&count)
	if err != nil {
		return 0, &models.StorageError{Op: "increment rate window", Err: err}
	}
	return count, nil
}

// PurgeRateWindows deletes windows that started before the cutoff. Stale windows
// are already ignored by window derivation; purging only reclaims space.
func (s *SQLiteStorage) PurgeRateWindows(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM rate_limits WHERE window_start < ?`, before.Unix())
	if err != nil {
		return 0, &models.StorageError{Op: "purge rate windows", Err: err}
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// CountDocuments returns the total number of documents across tenants.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	return s.count(ctx, "documents")
}

// CountVersions returns the total number of version rows across tenants.
func (s *SQLiteStorage) CountVersions(ctx context.Context) (int64, error) {
	return s.count(ctx, "document_versions")
}

// CountMessages returns the total number of conversation messages across tenants.
func (s *SQLiteStorage) CountMessages(ctx context.Context) (int64, error) {
	return s.count(ctx, "conversations")
}

func (s *SQLiteStorage) count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, &models.StorageError{Op: "count " + table, Err: err}
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
