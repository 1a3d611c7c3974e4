package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runJSON bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one clustering pass",
	Long: `Run fetches unassigned documents and active clusters, attaches matching
documents, creates clusters from dense groups and commits the result atomically.
The run report is printed to stdout as JSON when --json is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := buildApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report, err := a.engine.Run(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Clustering run failed")
			return err
		}

		if runJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the run report as JSON")
	rootCmd.AddCommand(runCmd)
}
