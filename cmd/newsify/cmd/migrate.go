package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	migrateRollback bool
	migrateDims     int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Migrate creates the documents, clusters and cluster_members tables and the
embedding columns. On PostgreSQL the pgvector extension is enabled and the
columns are created as vector(N), where N is the configured embedding size.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		dims := cfg.Embedding.Dimensions
		if migrateDims > 0 {
			dims = migrateDims
		}

		store, err := openStore(cfg, dims)
		if err != nil {
			return err
		}
		defer store.Close()

		if migrateRollback {
			if err := store.RollbackLast(dims); err != nil {
				return err
			}
			log.Info().Msg("Rolled back last migration")
			return nil
		}

		log.Info().
			Str("driver", store.Driver()).
			Int("embedding_dims", dims).
			Msg("Database schema is up to date")
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateRollback, "rollback-last", false, "Undo the most recent migration")
	migrateCmd.Flags().IntVar(&migrateDims, "dims", 0, "Embedding column size (overrides embedding.dimensions)")
	rootCmd.AddCommand(migrateCmd)
}
