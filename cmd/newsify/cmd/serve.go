package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/newsify/internal/clustering"
	"github.com/thebtf/newsify/internal/config"
	"github.com/thebtf/newsify/internal/maintenance"
	"github.com/thebtf/newsify/internal/scheduler"
	"github.com/thebtf/newsify/internal/worker"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and run clustering on a schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
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

		// Clustering parameters are re-read at the start of every run.
		sched := scheduler.NewScheduler(a.engine, func() clustering.Config {
			return config.Get().Clustering
		}, scheduler.Config{Interval: cfg.Scheduler.Interval}, log.Logger)

		if err := config.Watch(ctx, path, func(c *config.Config) {
			log.Info().
				Float64("similarity_threshold", c.Clustering.SimilarityThreshold).
				Float64("eps", c.Clustering.Eps).
				Int("min_pts", c.Clustering.MinPts).
				Msg("Clustering parameters apply from the next run")
		}); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Settings hot reload disabled")
		}

		if cfg.Scheduler.Enabled {
			go sched.Start(ctx)
		}

		maint := maintenance.NewService(a.store, a.repo, cfg.Maintenance, log.Logger)
		go maint.Start(ctx)

		svc := worker.NewService(worker.Deps{
			Documents:   a.repo,
			Clusters:    a.repo,
			Runs:        sched,
			Health:      a.store,
			Maintenance: maint,
			Summaries:   a.summaries,
		}, worker.Options{
			Version:           Version,
			Token:             cfg.Worker.Token,
			RequestsPerSecond: cfg.Worker.RequestsPerSecond,
		})

		port := cfg.Worker.Port
		if servePort > 0 {
			port = servePort
		}
		if err := svc.Start(port); err != nil {
			return err
		}

		<-ctx.Done()
		log.Info().Msg("Received shutdown signal")

		sched.Stop()
		maint.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), worker.ShutdownTimeout)
		defer cancel()
		return svc.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP port (overrides worker.port)")
	rootCmd.AddCommand(serveCmd)
}
