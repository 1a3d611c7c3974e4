package gorm

import (
	"database/sql"
	"time"

	pgvec "github.com/pgvector/pgvector-go"

	"github.com/thebtf/newsify/pkg/models"
)

// DocumentRow is a stored news document.
// Embedding is added by migration with a dialect-specific type.
type DocumentRow struct {
	PublishedAt time.Time            `gorm:"not null;index:idx_documents_unassigned,priority:2"`
	CreatedAt   time.Time            `gorm:"not null"`
	UpdatedAt   time.Time            `gorm:"not null"`
	Summary     sql.NullString       `gorm:"type:text"`
	Embedding   *pgvec.Vector        `gorm:"-:migration"`
	ID          string               `gorm:"primaryKey"`
	SourceID    string               `gorm:"not null;index"`
	Title       string               `gorm:"not null"`
	Category    string               `gorm:"not null;default:''"`
	ClusterRef  string               `gorm:"not null;default:'';index:idx_documents_unassigned,priority:1"`
	Content     models.ContentBlocks `gorm:"type:text;not null"`
}

// TableName returns the table name for DocumentRow.
func (DocumentRow) TableName() string { return "documents" }

// ClusterRow is the current representation of a cluster.
// Membership lives in cluster_members.
type ClusterRow struct {
	LastUpdated time.Time     `gorm:"not null;index"`
	CreatedAt   time.Time     `gorm:"not null"`
	Embedding   *pgvec.Vector `gorm:"-:migration"`
	ID          string        `gorm:"primaryKey"`
	Title       string        `gorm:"not null;default:''"`
	Summary     string        `gorm:"type:text;not null;default:''"`
	Version     int64         `gorm:"not null;default:1"`
}

// TableName returns the table name for ClusterRow.
func (ClusterRow) TableName() string { return "clusters" }

// ClusterMemberRow is one entry of a cluster's member log.
// The unique index on document_id keeps a document in at most one bucket.
type ClusterMemberRow struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	ClusterID  string `gorm:"not null;index:idx_cluster_members_cluster,priority:1"`
	BatchEpoch int64  `gorm:"not null;index:idx_cluster_members_cluster,priority:2"`
	Position   int    `gorm:"not null"`
	SourceID   string `gorm:"not null"`
	DocumentID string `gorm:"not null;uniqueIndex"`
}

// TableName returns the table name for ClusterMemberRow.
func (ClusterMemberRow) TableName() string { return "cluster_members" }

func toVector(v []float32) *pgvec.Vector {
	if len(v) == 0 {
		return nil
	}
	vec := pgvec.NewVector(v)
	return &vec
}

func fromVector(v *pgvec.Vector) []float32 {
	if v == nil {
		return nil
	}
	return v.Slice()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func documentRow(d *models.Document) *DocumentRow {
	return &DocumentRow{
		ID:          d.ID,
		SourceID:    d.SourceID,
		Title:       d.Title,
		Summary:     nullString(d.Summary),
		Category:    d.Category,
		ClusterRef:  d.ClusterRef,
		Content:     d.Content,
		Embedding:   toVector(d.Embedding),
		PublishedAt: d.PublishedAt.UTC(),
	}
}

func (r *DocumentRow) toModel() models.Document {
	return models.Document{
		ID:          r.ID,
		SourceID:    r.SourceID,
		Title:       r.Title,
		Summary:     r.Summary.String,
		Category:    r.Category,
		ClusterRef:  r.ClusterRef,
		Content:     r.Content,
		Embedding:   fromVector(r.Embedding),
		PublishedAt: r.PublishedAt.UTC(),
	}
}

func (r *ClusterRow) toModel(members []ClusterMemberRow) models.Cluster {
	log := make(models.MemberLog)
	for _, m := range members {
		log[m.BatchEpoch] = append(log[m.BatchEpoch], models.DocumentRef{
			SourceID:   m.SourceID,
			DocumentID: m.DocumentID,
		})
	}
	return models.Cluster{
		ID:          r.ID,
		Title:       r.Title,
		Summary:     r.Summary,
		Embedding:   fromVector(r.Embedding),
		Version:     r.Version,
		LastUpdated: r.LastUpdated.UTC(),
		MemberLog:   log,
	}
}
