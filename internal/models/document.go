// Package models defines core data structures for documents, versions, queries, and results.
package models

import "time"

// Category classifies a document. The set is closed; Valid rejects anything else.
type Category string

const (
	CategoryPolicy    Category = "policy"
	CategoryMedical   Category = "medical"
	CategoryFinancial Category = "financial"
	CategoryLegal     Category = "legal"
	CategoryEducation Category = "education"
	CategoryOther     Category = "other"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryPolicy, CategoryMedical, CategoryFinancial, CategoryLegal, CategoryEducation, CategoryOther:
		return true
	}
	return false
}

// Categories returns all valid categories, for validation messages.
func Categories() []Category {
	return []Category{
		CategoryPolicy, CategoryMedical, CategoryFinancial,
		CategoryLegal, CategoryEducation, CategoryOther,
	}
}

// ChangeType describes why a new document version was created.
type ChangeType string

const (
	ChangeUpdate        ChangeType = "update"
	ChangeCorrection    ChangeType = "correction"
	ChangeMajorRevision ChangeType = "major_revision"
)

// Document is a tenant-scoped knowledge unit. A document with a nil Embedding is
// unindexed and invisible to retrieval.
type Document struct {
	ID             string    `json:"id" db:"id"`
	TenantID       string    `json:"tenant_id" db:"tenant_id"`
	Title          string    `json:"title" db:"title"`
	Content        string    `json:"content" db:"content"`
	Category       Category  `json:"category" db:"category"`
	Fingerprint    string    `json:"fingerprint" db:"fingerprint"`
	Embedding      []float32 `json:"-" db:"-"`
	CurrentVersion int       `json:"current_version" db:"current_version"`
	VersionCount   int       `json:"version_count" db:"version_count"`
	CreatedBy      string    `json:"created_by,omitempty" db:"created_by"`
	UpdatedBy      string    `json:"updated_by,omitempty" db:"updated_by"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// DocumentVersion is an immutable snapshot of a document at one version number.
// Version numbers per document are gapless and strictly increasing; rollback copies
// an older snapshot into a new number rather than rewriting history.
type DocumentVersion struct {
	ID            string     `json:"id" db:"id"`
	DocumentID    string     `json:"document_id" db:"document_id"`
	VersionNumber int        `json:"version_number" db:"version_number"`
	Title         string     `json:"title" db:"title"`
	Content       string     `json:"content" db:"content"`
	Fingerprint   string     `json:"fingerprint" db:"fingerprint"`
	ChangeSummary string     `json:"change_summary,omitempty" db:"change_summary"`
	ChangeType    ChangeType `json:"change_type" db:"change_type"`
	ContentSize   int        `json:"content_size" db:"content_size"`
	CreatedBy     string     `json:"created_by,omitempty" db:"created_by"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// VersionInfo is the list_versions view of a version.
type VersionInfo struct {
	VersionNumber int        `json:"version_number"`
	Title         string     `json:"title"`
	ChangeSummary string     `json:"change_summary,omitempty"`
	ChangeType    ChangeType `json:"change_type"`
	ContentSize   int        `json:"content_size"`
	CreatedBy     string     `json:"created_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	IsCurrent     bool       `json:"is_current"`
}

// RateLimitWindow is a per-tenant, per-endpoint admission counter for one fixed
// time window. At most one row exists per (tenant, endpoint, window_start).
type RateLimitWindow struct {
	TenantID     string    `json:"tenant_id" db:"tenant_id"`
	Endpoint     string    `json:"endpoint" db:"endpoint"`
	WindowStart  time.Time `json:"window_start" db:"window_start"`
	RequestCount int64     `json:"request_count" db:"request_count"`
}
