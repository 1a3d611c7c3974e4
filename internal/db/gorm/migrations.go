package gorm

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// Migrate applies pending migrations. Vector columns get embeddingDims dimensions
// on PostgreSQL; the value is fixed once 002_embedding_columns has run.
func (s *Store) Migrate(embeddingDims int) error {
	m := gormigrate.New(s.DB, gormigrate.DefaultOptions, migrations(s.driver, embeddingDimsOrDefault(embeddingDims)))
	if err := m.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// RollbackLast undoes the most recently applied migration.
func (s *Store) RollbackLast(embeddingDims int) error {
	m := gormigrate.New(s.DB, gormigrate.DefaultOptions, migrations(s.driver, embeddingDimsOrDefault(embeddingDims)))
	if err := m.RollbackLast(); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func embeddingDimsOrDefault(dims int) int {
	if dims <= 0 {
		return DefaultEmbeddingDims
	}
	return dims
}

func migrations(driver string, embeddingDims int) []*gormigrate.Migration {
	vectorType := "TEXT"
	if driver == DriverPostgres {
		vectorType = fmt.Sprintf("vector(%d)", embeddingDims)
	}

	return []*gormigrate.Migration{
		// Migration 001: documents, clusters and the member log
		{
			ID: "001_core_tables",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&DocumentRow{}, &ClusterRow{}, &ClusterMemberRow{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("cluster_members", "clusters", "documents")
			},
		},

		// Migration 002: embedding columns (pgvector on PostgreSQL, text elsewhere)
		{
			ID: "002_embedding_columns",
			Migrate: func(tx *gorm.DB) error {
				if driver == DriverPostgres {
					if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
						return fmt.Errorf("create vector extension: %w", err)
					}
				}
				for _, table := range []string{"documents", "clusters"} {
					if tx.Migrator().HasColumn(table, "embedding") {
						continue
					}
					sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN embedding %s", table, vectorType)
					if err := tx.Exec(sql).Error; err != nil {
						return fmt.Errorf("add %s.embedding: %w", table, err)
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				for _, table := range []string{"documents", "clusters"} {
					if !tx.Migrator().HasColumn(table, "embedding") {
						continue
					}
					sql := fmt.Sprintf("ALTER TABLE %s DROP COLUMN embedding", table)
					if err := tx.Exec(sql).Error; err != nil {
						return fmt.Errorf("drop %s.embedding: %w", table, err)
					}
				}
				return nil
			},
		},
	}
}
