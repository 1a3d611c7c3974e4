package gorm

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/newsify/pkg/models"
)

// Repository combines the document and cluster stores with the atomic
// commit the clustering engine needs.
type Repository struct {
	*DocumentStore
	*ClusterStore
	store *Store
}

// NewRepository creates a repository over store.
func NewRepository(store *Store) *Repository {
	return &Repository{
		DocumentStore: NewDocumentStore(store),
		ClusterStore:  NewClusterStore(store),
		store:         store,
	}
}

// Commit applies every cluster upsert and its document assignments in one
// transaction. Any conflict rolls back the whole commit.
func (r *Repository) Commit(ctx context.Context, commits []models.ClusterCommit) error {
	if len(commits) == 0 {
		return nil
	}
	err := r.store.TransactionWithTimeout(ctx, SlowQueryTimeout, func(tx *gorm.DB) error {
		for i := range commits {
			c := &commits[i]
			if err := upsertCluster(tx, c); err != nil {
				return err
			}
			for _, a := range c.Assignments {
				if err := commitAssignment(tx, a, c.Cluster.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return classify(err)
}

// commitAssignment moves one document from unassigned to clusterID. It fails
// with ErrConflict if the document is missing or already assigned.
func commitAssignment(tx *gorm.DB, a models.Assignment, clusterID string) error {
	updates := map[string]any{
		"cluster_ref": clusterID,
		"updated_at":  time.Now().UTC(),
	}
	if len(a.Embedding) > 0 {
		updates["embedding"] = toVector(a.Embedding)
	}

	res := tx.Model(&DocumentRow{}).
		Where("id = ? AND source_id = ? AND cluster_ref = ?", a.Ref.DocumentID, a.Ref.SourceID, models.Unassigned).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("assign document %s: %w", a.Ref, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("assign document %s to %s: %w", a.Ref, clusterID, ErrConflict)
	}
	return nil
}

// upsertCluster writes the cluster representation and the member log entries
// it does not have yet. Updates are a compare-and-swap on the version.
func upsertCluster(tx *gorm.DB, c *models.ClusterCommit) error {
	cl := c.Cluster
	at := cl.LastUpdated.UTC()

	if c.Create {
		row := &ClusterRow{
			ID:          cl.ID,
			Title:       cl.Title,
			Summary:     cl.Summary,
			Embedding:   toVector(cl.Embedding),
			Version:     1,
			LastUpdated: at,
		}
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("create cluster %s: %w", cl.ID, err)
		}
	} else {
		res := tx.Model(&ClusterRow{}).
			Where("id = ? AND version = ?", cl.ID, c.ExpectedVersion).
			Updates(map[string]any{
				"title":        cl.Title,
				"summary":      cl.Summary,
				"embedding":    toVector(cl.Embedding),
				"version":      c.ExpectedVersion + 1,
				"last_updated": at,
			})
		if res.Error != nil {
			return fmt.Errorf("update cluster %s: %w", cl.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("update cluster %s at version %d: %w", cl.ID, c.ExpectedVersion, ErrConflict)
		}
	}

	var existing []string
	if !c.Create {
		if err := tx.Model(&ClusterMemberRow{}).
			Where("cluster_id = ?", cl.ID).
			Pluck("document_id", &existing).Error; err != nil {
			return fmt.Errorf("load members of %s: %w", cl.ID, err)
		}
	}
	have := make(models.MemberSet, len(existing))
	for _, id := range existing {
		have[id] = struct{}{}
	}

	var rows []ClusterMemberRow
	for _, batch := range cl.MemberLog.Batches() {
		for pos, ref := range cl.MemberLog[batch] {
			if have.Contains(ref.DocumentID) {
				continue
			}
			rows = append(rows, ClusterMemberRow{
				ClusterID:  cl.ID,
				BatchEpoch: batch,
				Position:   pos,
				SourceID:   ref.SourceID,
				DocumentID: ref.DocumentID,
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	if err := tx.Create(&rows).Error; err != nil {
		return fmt.Errorf("append members to %s: %w", cl.ID, err)
	}
	return nil
}
