// Package maintenance provides scheduled housekeeping for the document store.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Defaults for Config.
const (
	DefaultInterval     = 24 * time.Hour
	DefaultInitialDelay = 5 * time.Minute
	minInterval         = time.Minute
)

// Optimizer refreshes database statistics.
type Optimizer interface {
	Optimize(ctx context.Context) error
}

// Purger deletes unassigned documents that can no longer be clustered.
type Purger interface {
	PurgeUnassigned(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Config controls the maintenance loop. UnassignedRetention is how long
// unassigned documents are kept after publication; zero keeps them forever.
type Config struct {
	Enabled             bool          `yaml:"enabled"`
	Interval            time.Duration `yaml:"interval"`
	InitialDelay        time.Duration `yaml:"initial_delay"`
	UnassignedRetention time.Duration `yaml:"unassigned_retention"`
}

// DefaultConfig returns maintenance defaults: daily optimize, no purging.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Interval:     DefaultInterval,
		InitialDelay: DefaultInitialDelay,
	}
}

// Validate checks the retention against the clustering freshness window.
func (c Config) Validate(documentMaxAge time.Duration) error {
	if c.Interval < 0 || c.InitialDelay < 0 || c.UnassignedRetention < 0 {
		return errors.New("maintenance durations must not be negative")
	}
	if c.UnassignedRetention > 0 && c.UnassignedRetention < documentMaxAge {
		return fmt.Errorf("maintenance.unassigned_retention (%v) must not be shorter than clustering.document_max_age (%v)",
			c.UnassignedRetention, documentMaxAge)
	}
	return nil
}

// Service handles scheduled maintenance tasks.
type Service struct {
	lastRunTime     time.Time
	optimizer       Optimizer
	purger          Purger
	log             zerolog.Logger
	stopCh          chan struct{}
	doneCh          chan struct{}
	config          Config
	lastRunDuration time.Duration
	totalPurged     int64
	totalOptimized  int64
	stopOnce        sync.Once
	mu              sync.Mutex
	running         bool
}

// NewService creates a new maintenance service.
func NewService(optimizer Optimizer, purger Purger, cfg Config, log zerolog.Logger) *Service {
	return &Service{
		optimizer: optimizer,
		purger:    purger,
		config:    cfg,
		log:       log.With().Str("component", "maintenance").Logger(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the maintenance loop. It blocks until ctx is done or Stop is called.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.doneCh)
	}()

	if !s.config.Enabled {
		s.log.Info().Msg("Maintenance disabled, not starting scheduler")
		return
	}

	interval := max(s.config.Interval, minInterval)

	s.log.Info().
		Dur("interval", interval).
		Dur("unassigned_retention", s.config.UnassignedRetention).
		Msg("Starting maintenance scheduler")

	if !s.wait(ctx, s.config.InitialDelay) {
		return
	}
	s.RunNow(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Maintenance shutting down due to context cancellation")
			return
		case <-s.stopCh:
			s.log.Info().Msg("Maintenance shutting down due to stop signal")
			return
		case <-ticker.C:
			s.RunNow(ctx)
		}
	}
}

// wait sleeps for d and reports false if the service was stopped meanwhile.
func (s *Service) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// Stop signals the maintenance service to stop. Safe to call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Wait waits for the maintenance loop to finish.
func (s *Service) Wait() {
	<-s.doneCh
}

// RunNow executes all maintenance tasks synchronously.
func (s *Service) RunNow(ctx context.Context) {
	start := time.Now()

	var purged int64
	if s.config.UnassignedRetention > 0 && s.purger != nil {
		n, err := s.purger.PurgeUnassigned(ctx, s.config.UnassignedRetention)
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to purge expired unassigned documents")
		} else {
			purged = n
		}
	}

	optimized := false
	if s.optimizer != nil {
		if err := s.optimizer.Optimize(ctx); err != nil {
			s.log.Error().Err(err).Msg("Failed to optimize database")
		} else {
			optimized = true
		}
	}

	s.mu.Lock()
	s.lastRunTime = time.Now()
	s.lastRunDuration = time.Since(start)
	s.totalPurged += purged
	if optimized {
		s.totalOptimized++
	}
	s.mu.Unlock()

	s.log.Info().
		Dur("duration", time.Since(start)).
		Int64("documents_purged", purged).
		Bool("optimized", optimized).
		Msg("Maintenance run completed")
}

// Stats returns maintenance statistics.
func (s *Service) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]any{
		"enabled":                s.config.Enabled,
		"interval":               s.config.Interval.String(),
		"unassigned_retention":   s.config.UnassignedRetention.String(),
		"last_run":               s.lastRunTime,
		"last_duration_ms":       s.lastRunDuration.Milliseconds(),
		"total_documents_purged": s.totalPurged,
		"total_optimizations":    s.totalOptimized,
		"running":                s.running,
	}
}
