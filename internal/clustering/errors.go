package clustering

import "errors"

var (
	// ErrEmbeddingFailure marks a failed embedding call. It is local to one
	// document or one cluster update and retried next run.
	ErrEmbeddingFailure = errors.New("embedding failure")
	// ErrSummaryFailure marks a failed or rejected narrative. It aborts only
	// the cluster update it belongs to.
	ErrSummaryFailure = errors.New("summary failure")
	// ErrStoreUnavailable aborts the whole run. Nothing from the run is committed.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrIncompleteMembers is returned when an update would silently drop an
	// existing member from the representation.
	ErrIncompleteMembers = errors.New("member set does not cover the cluster")
)
