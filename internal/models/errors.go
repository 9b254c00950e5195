package models

import (
	"fmt"
	"time"
)

// ValidationError reports a malformed or missing required field. Resolved locally;
// never wraps an internal error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an entity that is absent or not owned by the requesting
// tenant. The two cases are deliberately indistinguishable to the caller.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// DuplicateError reports that ingestion matched an existing fingerprint. Not fatal;
// carries the existing document id.
type DuplicateError struct {
	DocumentID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate content: existing document %s", e.DocumentID)
}

// UpstreamError reports a failure from an embedding, rerank, or generation provider.
type UpstreamError struct {
	Provider string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s provider failed: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// StorageError reports a database failure. The enclosing transaction is rolled back
// before this surfaces.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// RateLimitedError reports a rejected admission. A normal outcome, not an
// application failure.
type RateLimitedError struct {
	Endpoint   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %s", e.Endpoint, e.RetryAfter.Round(time.Second))
}
