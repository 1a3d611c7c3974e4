package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigSuite is a test suite for config operations.
type ConfigSuite struct {
	suite.Suite
	tempDir     string
	origHomeDir string
	origDataDir string
}

func (s *ConfigSuite) SetupTest() {
	var err error
	s.tempDir, err = os.MkdirTemp("", "config-test-*")
	s.Require().NoError(err)

	// Save and override HOME
	s.origHomeDir = os.Getenv("HOME")
	s.origDataDir = os.Getenv(EnvPrefix + "DATA_DIR")
	os.Setenv("HOME", s.tempDir)
	os.Unsetenv(EnvPrefix + "DATA_DIR")
}

func (s *ConfigSuite) TearDownTest() {
	os.Setenv("HOME", s.origHomeDir)
	if s.origDataDir != "" {
		os.Setenv(EnvPrefix+"DATA_DIR", s.origDataDir)
	}
	os.RemoveAll(s.tempDir)
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

// TestDefault tests default configuration values.
func (s *ConfigSuite) TestDefault() {
	cfg := Default()

	s.Equal(DefaultWorkerPort, cfg.Worker.Port)
	s.Equal("sqlite", cfg.Database.Driver)
	s.Equal(DBPath(), cfg.Database.DSN)
	s.Equal("text-embedding-3-small", cfg.Embedding.Model)
	s.Equal(512, cfg.Embedding.Dimensions)
	s.Equal(8000, cfg.Embedding.MaxTokens)
	s.Equal("gpt-4o-mini", cfg.Narrative.Model)
	s.InDelta(0.8, cfg.Clustering.SimilarityThreshold, 0)
	s.InDelta(0.2, cfg.Clustering.Eps, 0)
	s.Equal(2, cfg.Clustering.MinPts)
	s.Equal(48*time.Hour, cfg.Clustering.DocumentMaxAge)
	s.Equal(15*time.Minute, cfg.Scheduler.Interval)
	s.True(cfg.Maintenance.Enabled)
	s.Zero(cfg.Maintenance.UnassignedRetention)
	s.Empty(cfg.Redis.Addr)
	s.NoError(cfg.Validate())
}

// TestDataDir tests data directory path.
func (s *ConfigSuite) TestDataDir() {
	s.Equal(filepath.Join(s.tempDir, ".newsify"), DataDir())
	s.Contains(DBPath(), "newsify.db")
	s.Contains(SettingsPath(), "settings.yaml")

	os.Setenv(EnvPrefix+"DATA_DIR", filepath.Join(s.tempDir, "elsewhere"))
	defer os.Unsetenv(EnvPrefix + "DATA_DIR")
	s.Equal(filepath.Join(s.tempDir, "elsewhere"), DataDir())
}

// TestEnsureAll tests full initialization.
func (s *ConfigSuite) TestEnsureAll() {
	s.NoError(EnsureAll())

	info, err := os.Stat(DataDir())
	s.NoError(err)
	s.True(info.IsDir())
	_, err = os.Stat(SettingsPath())
	s.NoError(err)

	// The generated file must load cleanly.
	cfg, err := Load()
	s.NoError(err)
	s.Equal(DefaultWorkerPort, cfg.Worker.Port)

	// Second call should not error (file exists)
	s.NoError(EnsureSettings())
}

// TestLoad_TableDriven tests configuration loading with various scenarios.
func (s *ConfigSuite) TestLoad_TableDriven() {
	tests := []struct {
		name          string
		settingsYAML  string
		wantErr       bool
		wantThreshold float64
		wantPort      int
		wantDriver    string
	}{
		{
			name:          "no settings file",
			wantThreshold: 0.8,
			wantPort:      DefaultWorkerPort,
			wantDriver:    "sqlite",
		},
		{
			name:          "custom clustering",
			settingsYAML:  "clustering:\n  similarity_threshold: 0.75\n  eps: 0.3\n",
			wantThreshold: 0.75,
			wantPort:      DefaultWorkerPort,
			wantDriver:    "sqlite",
		},
		{
			name:          "postgres and port",
			settingsYAML:  "database:\n  driver: postgres\n  dsn: postgres://localhost/news\nworker:\n  port: 39000\n",
			wantThreshold: 0.8,
			wantPort:      39000,
			wantDriver:    "postgres",
		},
		{
			name:         "threshold out of range",
			settingsYAML: "clustering:\n  similarity_threshold: 1.5\n",
			wantErr:      true,
		},
		{
			name:         "unknown driver",
			settingsYAML: "database:\n  driver: mysql\n",
			wantErr:      true,
		},
		{
			name:         "invalid yaml",
			settingsYAML: "clustering: [",
			wantErr:      true,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			dir := s.T().TempDir()
			path := filepath.Join(dir, "settings.yaml")
			if tt.settingsYAML != "" {
				s.Require().NoError(os.WriteFile(path, []byte(tt.settingsYAML), 0600))
			}

			cfg, err := LoadFile(path)
			if tt.wantErr {
				s.Error(err)
				return
			}
			s.Require().NoError(err)
			s.InDelta(tt.wantThreshold, cfg.Clustering.SimilarityThreshold, 1e-9)
			s.Equal(tt.wantPort, cfg.Worker.Port)
			s.Equal(tt.wantDriver, cfg.Database.Driver)
		})
	}
}

func (s *ConfigSuite) TestLoad_DurationsAndNarrativeInline() {
	path := filepath.Join(s.tempDir, "settings.yaml")
	yaml := `
narrative:
  provider: extractive
  model: local
  timeout: 5s
scheduler:
  interval: 2m
clustering:
  document_max_age: 24h
`
	s.Require().NoError(os.WriteFile(path, []byte(yaml), 0600))

	cfg, err := LoadFile(path)
	s.Require().NoError(err)
	s.Equal(NarrativeExtractive, cfg.Narrative.Provider)
	s.Equal("local", cfg.Narrative.Model)
	s.Equal(5*time.Second, cfg.Narrative.Timeout)
	s.Equal(2*time.Minute, cfg.Scheduler.Interval)
	s.Equal(24*time.Hour, cfg.Clustering.DocumentMaxAge)
	s.Equal(72*time.Hour, cfg.Clustering.ClusterMaxAge)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvPrefix+"DB_DSN", "postgres://db/news")
	t.Setenv(EnvPrefix+"DB_DRIVER", "postgres")
	t.Setenv(EnvPrefix+"EMBEDDING_API_KEY", "sk-embed")
	t.Setenv(EnvPrefix+"SIMILARITY_THRESHOLD", "0.7")
	t.Setenv(EnvPrefix+"WORKER_PORT", "40000")
	t.Setenv(EnvPrefix+"REDIS_ADDR", "redis:6379")
	t.Setenv(EnvPrefix+"SCHEDULER_INTERVAL", "5m")
	t.Setenv(EnvPrefix+"UNASSIGNED_RETENTION", "168h")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://db/news", cfg.Database.DSN)
	assert.Equal(t, "sk-embed", cfg.Embedding.APIKey)
	assert.InDelta(t, 0.7, cfg.Clustering.SimilarityThreshold, 1e-9)
	assert.Equal(t, 40000, cfg.Worker.Port)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, 7*24*time.Hour, cfg.Maintenance.UnassignedRetention)
}

func TestLoad_EnvParseError(t *testing.T) {
	t.Setenv(EnvPrefix+"EPS", "wide")

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NEWSIFY_EPS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero dimensions", func(c *Config) { c.Embedding.Dimensions = 0 }},
		{"unknown narrative provider", func(c *Config) { c.Narrative.Provider = "poet" }},
		{"zero interval", func(c *Config) { c.Scheduler.Interval = 0 }},
		{"port out of range", func(c *Config) { c.Worker.Port = 70000 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"eps above two", func(c *Config) { c.Clustering.Eps = 2.5 }},
		{"retention inside freshness window", func(c *Config) { c.Maintenance.UnassignedRetention = time.Hour }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSetAndGet(t *testing.T) {
	cfg := Default()
	cfg.Worker.Port = 41234
	Set(cfg)
	assert.Equal(t, 41234, Get().Worker.Port)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("clustering:\n  similarity_threshold: 0.8\n"), 0600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Config, 4)
	require.NoError(t, Watch(ctx, path, func(c *Config) { changed <- c }))

	// An invalid edit is ignored.
	require.NoError(t, os.WriteFile(path, []byte("clustering:\n  similarity_threshold: 3\n"), 0600))
	time.Sleep(3 * reloadDebounce)
	require.NoError(t, os.WriteFile(path, []byte("clustering:\n  similarity_threshold: 0.65\n"), 0600))

	select {
	case cfg := <-changed:
		assert.InDelta(t, 0.65, cfg.Clustering.SimilarityThreshold, 1e-9)
		assert.InDelta(t, 0.65, Get().Clustering.SimilarityThreshold, 1e-9)
	case <-time.After(5 * time.Second):
		t.Fatal("settings change was not observed")
	}
}
