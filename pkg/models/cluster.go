package models

import (
	"slices"
	"time"
)

// MemberSet is the set of document ids belonging to a cluster.
type MemberSet map[string]struct{}

// Contains reports whether the document id is a member.
func (s MemberSet) Contains(documentID string) bool {
	_, ok := s[documentID]
	return ok
}

// MemberLog records cluster membership grouped by assignment batch.
// Keys are the unix second at which a batch of attachments was made.
// The log is append-only and a document appears in at most one bucket.
type MemberLog map[int64][]DocumentRef

// Batches returns the batch keys in ascending order.
func (l MemberLog) Batches() []int64 {
	keys := make([]int64, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Refs returns every member reference, oldest batch first.
func (l MemberLog) Refs() []DocumentRef {
	refs := make([]DocumentRef, 0, l.Len())
	for _, batch := range l.Batches() {
		refs = append(refs, l[batch]...)
	}
	return refs
}

// Len returns the number of members.
func (l MemberLog) Len() int {
	n := 0
	for _, refs := range l {
		n += len(refs)
	}
	return n
}

// Members returns the set of member document ids.
func (l MemberLog) Members() MemberSet {
	set := make(MemberSet, l.Len())
	for _, refs := range l {
		for _, ref := range refs {
			set[ref.DocumentID] = struct{}{}
		}
	}
	return set
}

// Append returns a copy of the log with refs added under the batch key.
// References whose document id is already present (in any bucket, or
// earlier in refs) are dropped. The second return value lists the refs
// actually added.
func (l MemberLog) Append(batch int64, refs ...DocumentRef) (MemberLog, []DocumentRef) {
	out := l.Clone()
	members := l.Members()

	added := make([]DocumentRef, 0, len(refs))
	for _, ref := range refs {
		if members.Contains(ref.DocumentID) {
			continue
		}
		members[ref.DocumentID] = struct{}{}
		added = append(added, ref)
	}
	if len(added) > 0 {
		out[batch] = append(out[batch], added...)
	}
	return out, added
}

// Clone returns a deep copy of the log.
func (l MemberLog) Clone() MemberLog {
	out := make(MemberLog, len(l)+1)
	for k, refs := range l {
		out[k] = slices.Clone(refs)
	}
	return out
}

// Narrative is a generated title and body for a set of documents.
type Narrative struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// ClusterRepresentation is the shared representation of a cluster,
// computed from its complete membership in one pass.
type ClusterRepresentation struct {
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	MemberIDs []string  `json:"member_ids"`
	Embedding []float32 `json:"embedding"`
}

// Cluster is a topic cluster of documents.
type Cluster struct {
	LastUpdated time.Time `json:"last_updated"`
	MemberLog   MemberLog `json:"member_log"`
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Embedding   []float32 `json:"embedding,omitempty"`
	Version     int64     `json:"version"`
}

// WithRepresentation returns a new cluster value carrying log and rep.
// The receiver is not modified; callers write the result wholesale.
func (c *Cluster) WithRepresentation(log MemberLog, rep *ClusterRepresentation, at time.Time) *Cluster {
	return &Cluster{
		ID:          c.ID,
		Version:     c.Version,
		MemberLog:   log,
		Title:       rep.Title,
		Summary:     rep.Summary,
		Embedding:   slices.Clone(rep.Embedding),
		LastUpdated: at,
	}
}

// Assignment moves one document from Unassigned to a cluster.
// Embedding is written alongside when it was computed during the run.
type Assignment struct {
	Ref       DocumentRef
	Embedding []float32
}

// ClusterCommit is one atomic unit: a cluster upsert plus the document
// assignments that produced it.
type ClusterCommit struct {
	Cluster *Cluster
	// Batch is the member log key the assignments were appended under.
	Batch       int64
	Assignments []Assignment
	// Create is true for clusters that do not exist in the store yet.
	Create bool
	// ExpectedVersion is the version read under the cluster lock.
	ExpectedVersion int64
}
