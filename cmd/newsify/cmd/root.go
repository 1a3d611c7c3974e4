// Package cmd implements the newsify command line.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/newsify/internal/config"
)

var (
	// configPath is the settings file, defaulting to config.SettingsPath()
	configPath string
	// logLevel overrides the configured log level when set
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "newsify",
	Short: "Incremental news clustering",
	Long: `newsify groups short news documents into topic clusters.

Each run attaches new documents to active clusters when they are similar
enough, groups the rest by density into new clusters, and regenerates the
title, summary and embedding of every cluster it touched.

Examples:
  # Apply database migrations
  newsify migrate

  # Run one clustering pass and print the report
  newsify run

  # Serve the HTTP API and run on a schedule
  newsify serve`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(logLevel)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to settings.yaml (defaults to $NEWSIFY_DATA_DIR/settings.yaml or ~/.newsify/settings.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.Version = Version
}

// setupLogging configures the global console logger.
func setupLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	if level == "" {
		return
	}
	if lvl, err := zerolog.ParseLevel(level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
}

// loadConfig reads the settings file and applies the configured log level
// unless --log-level was given.
func loadConfig() (*config.Config, string, error) {
	path := configPath
	if path == "" {
		if err := config.EnsureAll(); err != nil {
			return nil, "", fmt.Errorf("ensure data dir: %w", err)
		}
		path = config.SettingsPath()
	}

	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, "", err
	}
	config.Set(cfg)

	if logLevel == "" {
		if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
	}
	return cfg, path, nil
}
