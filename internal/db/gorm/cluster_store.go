package gorm

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/newsify/pkg/models"
)

// ClusterStore provides cluster persistence.
type ClusterStore struct {
	db    *gorm.DB
	store *Store
}

// NewClusterStore creates a new cluster store.
func NewClusterStore(store *Store) *ClusterStore {
	return &ClusterStore{db: store.DB, store: store}
}

// GetCluster returns a cluster with its full member log.
func (s *ClusterStore) GetCluster(ctx context.Context, id string) (*models.Cluster, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "get_cluster")
	defer cancel()

	var row ClusterRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, classify(fmt.Errorf("get cluster %s: %w", id, err))
	}

	members, err := s.members(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	c := row.toModel(members[id])
	return &c, nil
}

// FetchActiveClusters returns clusters updated within maxAge.
func (s *ClusterStore) FetchActiveClusters(ctx context.Context, maxAge time.Duration) ([]models.Cluster, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "fetch_active_clusters")
	defer cancel()

	since := time.Now().UTC().Add(-maxAge)

	var rows []ClusterRow
	err := s.db.WithContext(ctx).
		Where("last_updated >= ?", since).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, classify(fmt.Errorf("fetch active clusters: %w", err))
	}
	return s.withMembers(ctx, rows)
}

// ListClusters returns clusters, most recently updated first.
func (s *ClusterStore) ListClusters(ctx context.Context, limit, offset int) ([]models.Cluster, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "list_clusters")
	defer cancel()

	var rows []ClusterRow
	err := s.db.WithContext(ctx).
		Order("last_updated DESC, id ASC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, classify(fmt.Errorf("list clusters: %w", err))
	}
	return s.withMembers(ctx, rows)
}

func (s *ClusterStore) withMembers(ctx context.Context, rows []ClusterRow) ([]models.Cluster, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]string, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
	}
	members, err := s.members(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]models.Cluster, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel(members[rows[i].ID])
	}
	return out, nil
}

// members loads member log rows grouped by cluster id, in batch then position order.
func (s *ClusterStore) members(ctx context.Context, clusterIDs []string) (map[string][]ClusterMemberRow, error) {
	out := make(map[string][]ClusterMemberRow, len(clusterIDs))
	for start := 0; start < len(clusterIDs); start += lookupChunkSize {
		end := min(start+lookupChunkSize, len(clusterIDs))

		var rows []ClusterMemberRow
		err := s.db.WithContext(ctx).
			Where("cluster_id IN ?", clusterIDs[start:end]).
			Order("cluster_id ASC, batch_epoch ASC, position ASC").
			Find(&rows).Error
		if err != nil {
			return nil, classify(fmt.Errorf("load cluster members: %w", err))
		}
		for _, r := range rows {
			out[r.ClusterID] = append(out[r.ClusterID], r)
		}
	}
	return out, nil
}
