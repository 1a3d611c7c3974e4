package clustering

import (
	"time"

	"github.com/rs/zerolog"
)

// SkipReason says why a document was left unassigned by a run.
type SkipReason string

const (
	SkipEmbedding     SkipReason = "embedding_failure"
	SkipSummary       SkipReason = "summary_failure"
	SkipMissingMember SkipReason = "missing_member"
	SkipLock          SkipReason = "lock_unavailable"
	SkipClusterGone   SkipReason = "cluster_not_found"
	SkipAggregation   SkipReason = "aggregation_failure"
	SkipNoise         SkipReason = "noise"
)

// SkippedDocument is a document a run looked at and left unassigned.
type SkippedDocument struct {
	ID        string     `json:"id"`
	SourceID  string     `json:"source_id"`
	ClusterID string     `json:"cluster_id,omitempty"`
	Reason    SkipReason `json:"reason"`
	Error     string     `json:"error,omitempty"`
}

// RunReport summarizes one run.
type RunReport struct {
	StartedAt           time.Time         `json:"started_at"`
	ClustersUpdated     []string          `json:"clusters_updated"`
	ClustersCreated     []string          `json:"clusters_created"`
	Skipped             []SkippedDocument `json:"skipped"`
	Elapsed             time.Duration     `json:"elapsed"`
	Fetched             int               `json:"fetched"`
	ActiveClusters      int               `json:"active_clusters"`
	Embedded            int               `json:"embedded"`
	Matched             int               `json:"matched"`
	Assigned            int               `json:"assigned"`
	Unassigned          int               `json:"unassigned"`
	DimensionMismatches int               `json:"dimension_mismatches"`
	Committed           bool              `json:"committed"`
}

func (r *RunReport) skip(id, sourceID, clusterID string, reason SkipReason, err error) {
	s := SkippedDocument{ID: id, SourceID: sourceID, ClusterID: clusterID, Reason: reason}
	if err != nil {
		s.Error = err.Error()
	}
	r.Skipped = append(r.Skipped, s)
}

// MarshalZerologObject logs the run summary line.
func (r *RunReport) MarshalZerologObject(e *zerolog.Event) {
	e.Int("fetched", r.Fetched).
		Int("active_clusters", r.ActiveClusters).
		Int("embedded", r.Embedded).
		Int("matched", r.Matched).
		Int("assigned", r.Assigned).
		Int("clusters_updated", len(r.ClustersUpdated)).
		Int("clusters_created", len(r.ClustersCreated)).
		Int("unassigned", r.Unassigned).
		Int("dimension_mismatches", r.DimensionMismatches).
		Bool("committed", r.Committed).
		Dur("elapsed", r.Elapsed)
}
