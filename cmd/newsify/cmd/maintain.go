package cmd

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	gormdb "github.com/thebtf/newsify/internal/db/gorm"
	"github.com/thebtf/newsify/internal/maintenance"
)

var maintainRetention time.Duration

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run store housekeeping once",
	Long: `Maintain refreshes database statistics and, when a retention is configured,
deletes unassigned documents published longer ago than the retention.
Assigned documents and clusters are never deleted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		mcfg := cfg.Maintenance
		if cmd.Flags().Changed("retention") {
			mcfg.UnassignedRetention = maintainRetention
			if err := mcfg.Validate(cfg.Clustering.DocumentMaxAge); err != nil {
				return err
			}
		}

		store, err := openStore(cfg, cfg.Embedding.Dimensions)
		if err != nil {
			return err
		}
		defer store.Close()

		svc := maintenance.NewService(store, gormdb.NewDocumentStore(store), mcfg, log.Logger)
		svc.RunNow(context.Background())
		return nil
	},
}

func init() {
	maintainCmd.Flags().DurationVar(&maintainRetention, "retention", 0, "Delete unassigned documents older than this (overrides maintenance.unassigned_retention)")
	rootCmd.AddCommand(maintainCmd)
}
