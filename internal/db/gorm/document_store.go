package gorm

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/newsify/pkg/models"
)

// lookupChunkSize bounds the number of ids in one IN clause.
const lookupChunkSize = 500

// DocumentStore provides document persistence.
type DocumentStore struct {
	db    *gorm.DB
	store *Store
}

// NewDocumentStore creates a new document store.
func NewDocumentStore(store *Store) *DocumentStore {
	return &DocumentStore{db: store.DB, store: store}
}

// SaveDocument inserts a document or replaces the content of an existing
// unassigned one from the same source. A replaced document loses its
// embedding so the next run embeds the new content. Saving over an assigned
// document, or over an id owned by another source, fails with ErrConflict
// and leaves the row unchanged.
func (s *DocumentStore) SaveDocument(ctx context.Context, doc *models.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "save_document")
	defer cancel()

	row := documentRow(doc)
	row.ClusterRef = models.Unassigned

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "summary", "category", "content", "embedding", "published_at", "updated_at"}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Eq{Column: clause.Column{Table: "documents", Name: "cluster_ref"}, Value: models.Unassigned},
				clause.Eq{Column: clause.Column{Table: "documents", Name: "source_id"}, Value: doc.SourceID},
			}},
		}).
		Create(row)
	if result.Error != nil {
		return classify(fmt.Errorf("save document %s: %w", doc.ID, result.Error))
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: document %s is assigned or owned by another source", ErrConflict, doc.ID)
	}
	return nil
}

// GetDocument returns one document by reference.
func (s *DocumentStore) GetDocument(ctx context.Context, ref models.DocumentRef) (*models.Document, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "get_document")
	defer cancel()

	var row DocumentRow
	err := s.db.WithContext(ctx).
		Where("id = ? AND source_id = ?", ref.DocumentID, ref.SourceID).
		First(&row).Error
	if err != nil {
		return nil, classify(fmt.Errorf("get document %s: %w", ref, err))
	}
	doc := row.toModel()
	return &doc, nil
}

// GetDocuments returns the documents that exist among refs.
func (s *DocumentStore) GetDocuments(ctx context.Context, refs []models.DocumentRef) ([]models.Document, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "get_documents")
	defer cancel()

	want := make(map[string]string, len(refs))
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		if _, ok := want[ref.DocumentID]; !ok {
			ids = append(ids, ref.DocumentID)
		}
		want[ref.DocumentID] = ref.SourceID
	}

	out := make([]models.Document, 0, len(ids))
	for start := 0; start < len(ids); start += lookupChunkSize {
		end := min(start+lookupChunkSize, len(ids))

		var rows []DocumentRow
		if err := s.db.WithContext(ctx).Where("id IN ?", ids[start:end]).Find(&rows).Error; err != nil {
			return nil, classify(fmt.Errorf("get documents: %w", err))
		}
		for i := range rows {
			if want[rows[i].ID] != rows[i].SourceID {
				continue
			}
			out = append(out, rows[i].toModel())
		}
	}
	return out, nil
}

// FetchUnassigned returns unassigned documents published within maxAge,
// oldest first.
func (s *DocumentStore) FetchUnassigned(ctx context.Context, maxAge time.Duration) ([]models.Document, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "fetch_unassigned")
	defer cancel()

	since := time.Now().UTC().Add(-maxAge)

	var rows []DocumentRow
	err := s.db.WithContext(ctx).
		Where("cluster_ref = ? AND published_at >= ?", models.Unassigned, since).
		Order("published_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, classify(fmt.Errorf("fetch unassigned documents: %w", err))
	}

	docs := make([]models.Document, len(rows))
	for i := range rows {
		docs[i] = rows[i].toModel()
	}
	return docs, nil
}

// PurgeUnassigned deletes unassigned documents published before olderThan.
// Such documents are outside every run's freshness window and can no longer
// be clustered. Assigned documents are never deleted.
func (s *DocumentStore) PurgeUnassigned(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx, cancel := s.store.WithTimeout(ctx, SlowQueryTimeout, "purge_unassigned")
	defer cancel()

	cutoff := time.Now().UTC().Add(-olderThan)
	result := s.db.WithContext(ctx).
		Where("cluster_ref = ? AND published_at < ?", models.Unassigned, cutoff).
		Delete(&DocumentRow{})
	if result.Error != nil {
		return 0, classify(fmt.Errorf("purge unassigned documents: %w", result.Error))
	}
	return result.RowsAffected, nil
}

// CountDocuments returns the number of assigned and unassigned documents.
func (s *DocumentStore) CountDocuments(ctx context.Context) (assigned, unassigned int64, err error) {
	db := s.db.WithContext(ctx).Model(&DocumentRow{})
	if err := db.Where("cluster_ref = ?", models.Unassigned).Count(&unassigned).Error; err != nil {
		return 0, 0, classify(fmt.Errorf("count unassigned: %w", err))
	}
	if err := s.db.WithContext(ctx).Model(&DocumentRow{}).Where("cluster_ref <> ?", models.Unassigned).Count(&assigned).Error; err != nil {
		return 0, 0, classify(fmt.Errorf("count assigned: %w", err))
	}
	return assigned, unassigned, nil
}
