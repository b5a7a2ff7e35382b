package store

import "errors"

var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when a unique constraint would be violated.
	// Article ingestion treats this as idempotent success on
	// (source_id, content_hash).
	ErrDuplicate = errors.New("duplicate entity")

	// ErrConflict is returned when a concurrent writer won a race the caller
	// should resolve by re-reading (e.g. duplicate active prediction per
	// analyst slug).
	ErrConflict = errors.New("conflicting concurrent update")
)
