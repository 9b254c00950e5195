package models

import "fmt"

// QueryRequest is a natural-language question against a tenant's documents.
type QueryRequest struct {
	Query      string   `json:"query"`
	SessionID  string   `json:"session_id,omitempty"`
	TopKSearch int      `json:"top_k_search,omitempty"`
	TopKFinal  int      `json:"top_k_final,omitempty"`
	Category   Category `json:"category,omitempty"`
}

// Validate ensures the query has valid fields and sets defaults.
// Returns an error if the query text is empty or the category filter is unknown.
func (q *QueryRequest) Validate() error {
	if q.Query == "" {
		return &ValidationError{Field: "query", Reason: "cannot be empty"}
	}
	if q.Category != "" && !q.Category.Valid() {
		return &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", q.Category)}
	}
	if q.TopKSearch <= 0 {
		q.TopKSearch = 10
	}
	if q.TopKSearch > 100 {
		q.TopKSearch = 100
	}
	if q.TopKFinal <= 0 {
		q.TopKFinal = 3
	}
	if q.TopKFinal > q.TopKSearch {
		q.TopKFinal = q.TopKSearch
	}
	return nil
}

// IngestRequest is the input for creating a document.
type IngestRequest struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Category Category `json:"category"`
}

// Validate checks required ingest fields.
func (r *IngestRequest) Validate() error {
	if r.Title == "" {
		return &ValidationError{Field: "title", Reason: "cannot be empty"}
	}
	if r.Content == "" {
		return &ValidationError{Field: "content", Reason: "cannot be empty"}
	}
	if r.Category == "" {
		r.Category = CategoryOther
	}
	if !r.Category.Valid() {
		return &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q, valid: %v", r.Category, Categories())}
	}
	return nil
}

// UpdateRequest carries the changed fields for a document update. Nil fields are
// left unchanged; the fingerprint is recomputed over the merged document.
type UpdateRequest struct {
	Title         *string   `json:"title,omitempty"`
	Content       *string   `json:"content,omitempty"`
	Category      *Category `json:"category,omitempty"`
	ChangeSummary string    `json:"change_summary,omitempty"`
	ChangeType    ChangeType `json:"change_type,omitempty"`
}

// Validate checks that the update changes something and uses a known change type.
func (r *UpdateRequest) Validate() error {
	if r.Title == nil && r.Content == nil && r.Category == nil {
		return &ValidationError{Field: "update", Reason: "no fields to update"}
	}
	if r.Category != nil && !r.Category.Valid() {
		return &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", *r.Category)}
	}
	switch r.ChangeType {
	case "":
		r.ChangeType = ChangeUpdate
	case ChangeUpdate, ChangeCorrection, ChangeMajorRevision:
	default:
		return &ValidationError{Field: "change_type", Reason: fmt.Sprintf("unknown change type %q", r.ChangeType)}
	}
	return nil
}
