package models

import "time"

// IngestResult is the outcome of an ingestion. When the content fingerprint matched
// an existing document, Created is false and DuplicateOf names it; no embedding call
// was made in that case.
type IngestResult struct {
	DocumentID  string `json:"document_id"`
	Created     bool   `json:"created"`
	DuplicateOf string `json:"duplicate_of,omitempty"`
}

// UpdateResult is the outcome of a document update. Unchanged means the merged
// fingerprint matched the stored one and nothing was written.
type UpdateResult struct {
	DocumentID    string `json:"document_id"`
	Unchanged     bool   `json:"unchanged"`
	VersionNumber int    `json:"version_number,omitempty"`
}

// RollbackResult is the outcome of a rollback: the new version number that now
// carries the restored content.
type RollbackResult struct {
	DocumentID       string `json:"document_id"`
	RestoredFrom     int    `json:"restored_from"`
	NewVersionNumber int    `json:"new_version_number"`
}

// Source is a citation attached to an answer.
type Source struct {
	DocumentID string   `json:"document_id"`
	Title      string   `json:"title"`
	Category   Category `json:"category"`
	Relevance  float64  `json:"relevance"`
}

// QueryResponse is the answer to a query, with citations and calibrated confidence.
// Confidence 0 with an explicit no-information answer means nothing relevant was
// retrieved; content is never invented in that case.
type QueryResponse struct {
	Answer     string   `json:"answer"`
	Sources    []Source `json:"sources"`
	Confidence float64  `json:"confidence"`
	SessionID  string   `json:"session_id"`
	QueryTime  int64    `json:"query_time_ms"`
}

// AdmitResult is the outcome of a rate-limit admission check. Remaining and
// RetryAfter are derived from the same atomic increment that decided Allowed.
type AdmitResult struct {
	Allowed     bool          `json:"allowed"`
	Limit       int64         `json:"limit"`
	Remaining   int64         `json:"remaining"`
	RetryAfter  time.Duration `json:"retry_after,omitempty"`
	WindowStart time.Time     `json:"window_start"`
}
