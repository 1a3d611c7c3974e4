package models

import "errors"

// Store errors shared by store implementations and their callers.
var (
	// ErrNotFound is returned when a document or cluster does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write loses a race: the cluster version
	// moved or the document was assigned by someone else.
	ErrConflict = errors.New("conflict")
)
