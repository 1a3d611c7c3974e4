// Package config provides configuration management for newsify.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/thebtf/newsify/internal/clustering"
	gormdb "github.com/thebtf/newsify/internal/db/gorm"
	"github.com/thebtf/newsify/internal/embedding"
	"github.com/thebtf/newsify/internal/maintenance"
	"github.com/thebtf/newsify/internal/narrative"
)

const (
	// DefaultWorkerPort is the default HTTP port for the worker service.
	DefaultWorkerPort = 38080

	// DefaultSchedulerInterval is the default period between clustering runs.
	DefaultSchedulerInterval = 15 * time.Minute

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "NEWSIFY_"

	NarrativeOpenAI     = "openai"
	NarrativeExtractive = "extractive"
)

// DatabaseConfig selects and tunes the document store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"max_conns"`
}

// NarrativeConfig selects the summarizer. The extractive provider needs no API.
type NarrativeConfig struct {
	Provider         string `yaml:"provider"`
	narrative.Config `yaml:",inline"`
}

// SchedulerConfig controls periodic runs.
type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// RedisConfig points at the shared lock server. An empty Addr keeps locks in-process.
type RedisConfig struct {
	Addr string        `yaml:"addr"`
	TTL  time.Duration `yaml:"lock_ttl"`
}

// WorkerConfig configures the HTTP admin surface. An empty Token disables auth.
type WorkerConfig struct {
	Port              int     `yaml:"port"`
	Token             string  `yaml:"token"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// Config holds the application configuration.
type Config struct {
	Database    DatabaseConfig     `yaml:"database"`
	Embedding   embedding.Config   `yaml:"embedding"`
	Narrative   NarrativeConfig    `yaml:"narrative"`
	Clustering  clustering.Config  `yaml:"clustering"`
	Scheduler   SchedulerConfig    `yaml:"scheduler"`
	Maintenance maintenance.Config `yaml:"maintenance"`
	Redis       RedisConfig        `yaml:"redis"`
	Worker      WorkerConfig       `yaml:"worker"`
	LogLevel    string             `yaml:"log_level"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// DataDir returns the data directory path ($NEWSIFY_DATA_DIR or ~/.newsify).
func DataDir() string {
	if dir := os.Getenv(EnvPrefix + "DATA_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".newsify")
}

// DBPath returns the SQLite database file path.
func DBPath() string {
	return filepath.Join(DataDir(), "newsify.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.yaml")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

const defaultSettings = `# newsify settings. Environment variables NEWSIFY_* take precedence.
database:
  driver: sqlite
embedding:
  provider: openai
  model: text-embedding-3-small
  dimensions: 512
narrative:
  provider: openai
  model: gpt-4o-mini
clustering:
  similarity_threshold: 0.8
  eps: 0.2
  min_pts: 2
scheduler:
  enabled: true
  interval: 15m
maintenance:
  enabled: true
  interval: 24h
  # Delete unassigned documents this long after publication. 0 keeps them.
  unassigned_retention: 0s
log_level: info
`

// EnsureSettings creates a default settings file if it doesn't exist.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(defaultSettings), 0600)
}

// EnsureAll ensures all required directories and files exist.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:   gormdb.DriverSQLite,
			DSN:      DBPath(),
			MaxConns: 4,
		},
		Embedding: embedding.Config{
			Provider:   embedding.OpenAIModelVersion,
			Model:      embedding.OpenAIDefaultModel,
			Dimensions: embedding.OpenAIDefaultDimension,
			MaxTokens:  embedding.DefaultMaxTokens,
			Timeout:    30 * time.Second,
		},
		Narrative: NarrativeConfig{
			Provider: NarrativeOpenAI,
			Config: narrative.Config{
				Model:     narrative.DefaultModel,
				MaxTokens: narrative.DefaultMaxTokens,
				Timeout:   60 * time.Second,
			},
		},
		Clustering: clustering.DefaultConfig(),
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Interval: DefaultSchedulerInterval,
		},
		Maintenance: maintenance.DefaultConfig(),
		Worker:      WorkerConfig{Port: DefaultWorkerPort, RequestsPerSecond: 20},
		LogLevel:    "info",
	}
}

// Load loads configuration from the default settings path.
func Load() (*Config, error) {
	return LoadFile(SettingsPath())
}

// LoadFile loads configuration from path, merging with defaults and applying
// environment overrides. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse settings %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv overrides settings from NEWSIFY_* variables.
func applyEnv(cfg *Config) error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("DB_DRIVER", &cfg.Database.Driver)
	str("DB_DSN", &cfg.Database.DSN)
	str("EMBEDDING_PROVIDER", &cfg.Embedding.Provider)
	str("EMBEDDING_BASE_URL", &cfg.Embedding.BaseURL)
	str("EMBEDDING_API_KEY", &cfg.Embedding.APIKey)
	str("EMBEDDING_MODEL", &cfg.Embedding.Model)
	str("NARRATIVE_PROVIDER", &cfg.Narrative.Provider)
	str("NARRATIVE_BASE_URL", &cfg.Narrative.BaseURL)
	str("NARRATIVE_API_KEY", &cfg.Narrative.APIKey)
	str("NARRATIVE_MODEL", &cfg.Narrative.Model)
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("WORKER_TOKEN", &cfg.Worker.Token)
	str("LOG_LEVEL", &cfg.LogLevel)

	floats := map[string]*float64{
		"SIMILARITY_THRESHOLD": &cfg.Clustering.SimilarityThreshold,
		"EPS":                  &cfg.Clustering.Eps,
	}
	for name, dst := range floats {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
			}
			*dst = f
		}
	}

	ints := map[string]*int{
		"MIN_PTS":              &cfg.Clustering.MinPts,
		"EMBEDDING_DIMENSIONS": &cfg.Embedding.Dimensions,
		"WORKER_PORT":          &cfg.Worker.Port,
	}
	for name, dst := range ints {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv(EnvPrefix + "SCHEDULER_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %sSCHEDULER_INTERVAL: %w", EnvPrefix, err)
		}
		cfg.Scheduler.Interval = d
	}
	if v := os.Getenv(EnvPrefix + "UNASSIGNED_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %sUNASSIGNED_RETENTION: %w", EnvPrefix, err)
		}
		cfg.Maintenance.UnassignedRetention = d
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if err := c.Clustering.Validate(); err != nil {
		return err
	}
	switch c.Database.Driver {
	case gormdb.DriverPostgres, gormdb.DriverSQLite:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	switch strings.ToLower(c.Narrative.Provider) {
	case NarrativeOpenAI, NarrativeExtractive:
	default:
		return fmt.Errorf("unknown narrative provider %q", c.Narrative.Provider)
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %s", c.Scheduler.Interval)
	}
	if err := c.Maintenance.Validate(c.Clustering.DocumentMaxAge); err != nil {
		return err
	}
	if c.Worker.Port <= 0 || c.Worker.Port > 65535 {
		return fmt.Errorf("worker port out of range: %d", c.Worker.Port)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	configOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			cfg = Default()
		}
		configMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		configMu.Unlock()
	})

	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// Set replaces the global configuration.
func Set(cfg *Config) {
	configOnce.Do(func() {})
	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()
}
