// Package gorm provides GORM-based persistence for documents and clusters.
package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	// Pure-Go SQLite driver registered as "sqlite".
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	// DefaultEmbeddingDims matches text-embedding-3-small with dimensions=512.
	DefaultEmbeddingDims = 512
)

// Store represents the GORM database connection.
type Store struct {
	healthCacheTime time.Time
	DB              *gorm.DB
	sqlDB           *sql.DB
	metrics         *PoolMetrics
	cachedHealth    *HealthInfo
	driver          string
	healthCacheTTL  time.Duration
	healthCacheMu   sync.RWMutex
}

// Config holds database configuration.
type Config struct {
	Driver        string          // "postgres" (default) or "sqlite"
	DSN           string          // PostgreSQL DSN or SQLite file path
	MaxConns      int             // Maximum number of open connections (default: 10, sqlite: 1)
	LogLevel      logger.LogLevel // GORM log level (logger.Silent for production)
	EmbeddingDims int             // Dimension of the vector columns (default: 512)
}

// NewStore opens the database, configures the pool and runs migrations.
func NewStore(cfg Config) (*Store, error) {
	store, err := Open(cfg)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(cfg.EmbeddingDims); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Open connects without running migrations.
func Open(cfg Config) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverPostgres
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case DriverSQLite:
		dialector = sqlite.New(sqlite.Config{
			DriverName: "sqlite",
			DSN:        sqliteDSN(cfg.DSN),
		})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(cfg.LogLevel),
		PrepareStmt:    driver == DriverPostgres,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm %s: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	if driver == DriverSQLite {
		// One writer at a time; more connections only add SQLITE_BUSY.
		maxConns = 1
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(max(maxConns/2, 1))
	sqlDB.SetConnMaxLifetime(1 * time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, classify(fmt.Errorf("ping %s: %w", driver, err))
	}

	return &Store{
		DB:             db,
		sqlDB:          sqlDB,
		driver:         driver,
		metrics:        NewPoolMetrics(100),
		healthCacheTTL: 5 * time.Second,
	}, nil
}

// sqliteDSN turns a bare path into a modernc DSN with WAL and a busy timeout.
func sqliteDSN(path string) string {
	if path == "" || path == ":memory:" {
		return "file::memory:?_pragma=foreign_keys(1)"
	}
	if strings.Contains(path, "?") {
		return path
	}
	return "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// Driver returns the configured driver name.
func (s *Store) Driver() string {
	return s.driver
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return classify(s.sqlDB.PingContext(ctx))
}

// Stats returns database connection pool statistics.
func (s *Store) Stats() sql.DBStats {
	return s.sqlDB.Stats()
}

// Optimize refreshes planner statistics.
func (s *Store) Optimize(ctx context.Context) error {
	start := time.Now()

	stmt := "ANALYZE"
	if s.driver == DriverSQLite {
		stmt = "PRAGMA optimize"
	}
	if _, err := s.sqlDB.ExecContext(ctx, stmt); err != nil {
		return classify(fmt.Errorf("optimize %s: %w", s.driver, err))
	}

	log.Debug().Str("driver", s.driver).Dur("duration", time.Since(start)).Msg("Database optimized")
	return nil
}

// HealthCheck performs a health check with latency measurement.
// Results are cached for healthCacheTTL to keep frequent health checks cheap.
func (s *Store) HealthCheck(ctx context.Context) *HealthInfo {
	s.healthCacheMu.RLock()
	if s.cachedHealth != nil && time.Since(s.healthCacheTime) < s.healthCacheTTL {
		cached := s.cachedHealth
		s.healthCacheMu.RUnlock()
		return cached
	}
	s.healthCacheMu.RUnlock()

	info := s.performHealthCheck(ctx)

	s.healthCacheMu.Lock()
	s.cachedHealth = info
	s.healthCacheTime = time.Now()
	s.healthCacheMu.Unlock()

	return info
}

func (s *Store) performHealthCheck(ctx context.Context) *HealthInfo {
	info := &HealthInfo{
		Status:    "healthy",
		Driver:    s.driver,
		Timestamp: time.Now(),
	}

	stats := s.sqlDB.Stats()
	info.PoolStats = PoolStats{
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
		WaitDuration:    stats.WaitDuration,
	}
	s.metrics.RecordPoolStats(stats)

	start := time.Now()
	var dummy int
	err := s.sqlDB.QueryRowContext(ctx, "SELECT 1").Scan(&dummy)
	info.QueryLatency = time.Since(start)

	s.metrics.RecordLatency(info.QueryLatency)
	info.HistoricalMetrics = s.metrics.GetMetricsSummary()

	if err != nil {
		info.Status = "unhealthy"
		info.Error = err.Error()
		return info
	}

	if stats.OpenConnections > 0 && float64(stats.InUse)/float64(stats.OpenConnections) > 0.8 {
		info.Status = "degraded"
		info.Warning = "Connection pool heavily utilized"
	}

	if info.HistoricalMetrics.P95Latency > 50*time.Millisecond {
		info.Status = "degraded"
		info.Warning = fmt.Sprintf("High P95 latency: %v", info.HistoricalMetrics.P95Latency)
	}

	return info
}

// HealthInfo contains database health check results.
type HealthInfo struct {
	Timestamp         time.Time      `json:"timestamp"`
	Status            string         `json:"status"`
	Driver            string         `json:"driver"`
	Error             string         `json:"error,omitempty"`
	Warning           string         `json:"warning,omitempty"`
	HistoricalMetrics MetricsSummary `json:"historical_metrics"`
	PoolStats         PoolStats      `json:"pool_stats"`
	QueryLatency      time.Duration  `json:"query_latency_ns"`
}

// PoolStats contains connection pool statistics.
type PoolStats struct {
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
	Idle            int           `json:"idle"`
	WaitCount       int64         `json:"wait_count"`
	WaitDuration    time.Duration `json:"wait_duration_ns"`
}

// Query timeouts for different operation types.
const (
	// DefaultQueryTimeout is the default timeout for regular queries.
	DefaultQueryTimeout = 5 * time.Second
	// SlowQueryTimeout is for run commits that touch many rows.
	SlowQueryTimeout = 30 * time.Second
)

// PoolMetrics tracks query latency over a sliding window.
type PoolMetrics struct {
	latencySamples []time.Duration
	latencyIdx     int
	latencyCount   int
	totalQueries   int64
	peakInUse      int
	windowSize     int
	mu             sync.RWMutex
}

// NewPoolMetrics creates a new pool metrics collector with the given window size.
func NewPoolMetrics(windowSize int) *PoolMetrics {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &PoolMetrics{
		latencySamples: make([]time.Duration, windowSize),
		windowSize:     windowSize,
	}
}

// RecordLatency records a query latency sample.
func (m *PoolMetrics) RecordLatency(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.latencySamples[m.latencyIdx] = latency
	m.latencyIdx = (m.latencyIdx + 1) % m.windowSize
	if m.latencyCount < m.windowSize {
		m.latencyCount++
	}
	m.totalQueries++
}

// RecordPoolStats records pool statistics for peak tracking.
func (m *PoolMetrics) RecordPoolStats(stats sql.DBStats) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if stats.InUse > m.peakInUse {
		m.peakInUse = stats.InUse
	}
}

// GetMetricsSummary returns a summary of collected metrics.
func (m *PoolMetrics) GetMetricsSummary() MetricsSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := MetricsSummary{
		TotalQueries: m.totalQueries,
		SampleCount:  m.latencyCount,
		PeakInUse:    m.peakInUse,
	}
	if m.latencyCount == 0 {
		return summary
	}

	samples := slices.Clone(m.latencySamples[:m.latencyCount])
	slices.Sort(samples)

	var total time.Duration
	for _, sample := range samples {
		total += sample
	}
	summary.AvgLatency = total / time.Duration(len(samples))
	summary.MaxLatency = samples[len(samples)-1]
	if len(samples) >= 20 {
		summary.P95Latency = samples[int(float64(len(samples))*0.95)]
	}
	return summary
}

// MetricsSummary contains aggregated pool metrics.
type MetricsSummary struct {
	TotalQueries int64         `json:"total_queries"`
	SampleCount  int           `json:"sample_count"`
	AvgLatency   time.Duration `json:"avg_latency_ns"`
	MaxLatency   time.Duration `json:"max_latency_ns"`
	P95Latency   time.Duration `json:"p95_latency_ns,omitempty"`
	PeakInUse    int           `json:"peak_in_use"`
}

// WithTimeout wraps a context with the given timeout and logs slow operations.
func (s *Store) WithTimeout(ctx context.Context, timeout time.Duration, operation string) (context.Context, context.CancelFunc) {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	start := time.Now()

	return timeoutCtx, func() {
		elapsed := time.Since(start)
		cancel()

		if elapsed > 100*time.Millisecond {
			log.Warn().
				Str("operation", operation).
				Dur("elapsed", elapsed).
				Dur("timeout", timeout).
				Msg("Slow database operation")
		}
	}
}

// TransactionWithTimeout runs fn in a transaction bounded by timeout.
// The transaction is rolled back if fn fails or the context expires.
func (s *Store) TransactionWithTimeout(ctx context.Context, timeout time.Duration, fn func(*gorm.DB) error) error {
	timeoutCtx, cancel := s.WithTimeout(ctx, timeout, "transaction")
	defer cancel()

	return s.DB.WithContext(timeoutCtx).Transaction(func(tx *gorm.DB) error {
		select {
		case <-timeoutCtx.Done():
			return timeoutCtx.Err()
		default:
		}
		return fn(tx)
	})
}
