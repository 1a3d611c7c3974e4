// Package scheduler triggers clustering runs on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thebtf/newsify/internal/clustering"
)

// ErrRunInProgress is returned by RunOnce while another run is executing.
var ErrRunInProgress = errors.New("clustering run already in progress")

// Runner is the subset of clustering.Engine the scheduler drives.
type Runner interface {
	Run(ctx context.Context) (*clustering.RunReport, error)
	SetConfig(cfg clustering.Config) error
}

// Config contains the scheduling interval.
type Config struct {
	// Interval is the period between runs.
	Interval time.Duration
	// RunOnStart triggers a run as soon as Start is called.
	RunOnStart bool
}

// Status describes the most recent run.
type Status struct {
	LastRunAt  time.Time             `json:"last_run_at,omitempty"`
	LastReport *clustering.RunReport `json:"last_report,omitempty"`
	LastError  string                `json:"last_error,omitempty"`
	Runs       int                   `json:"runs"`
	Running    bool                  `json:"running"`
}

// Scheduler runs the clustering engine periodically. At most one run executes
// at a time; overlapping triggers are rejected rather than queued.
type Scheduler struct {
	runner   Runner
	configFn func() clustering.Config
	logger   zerolog.Logger
	stopCh   chan struct{}
	config   Config

	runMu    sync.Mutex
	statusMu sync.RWMutex
	status   Status
}

// NewScheduler creates a new scheduler. configFn, if non-nil, is consulted at
// the start of every run so parameter changes apply to the next run.
func NewScheduler(runner Runner, configFn func() clustering.Config, config Config, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		configFn: configFn,
		config:   config,
		logger:   logger.With().Str("component", "clustering-scheduler").Logger(),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the scheduler's background loop. Call from a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.config.Interval).
		Bool("run_on_start", s.config.RunOnStart).
		Msg("Clustering scheduler started")

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if s.config.RunOnStart {
		s.tick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Clustering scheduler stopping (context done)")
			return
		case <-s.stopCh:
			s.logger.Info().Msg("Clustering scheduler stopping (stop signal)")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		if errors.Is(err, ErrRunInProgress) {
			s.logger.Debug().Msg("Previous run still in progress, skipping tick")
			return
		}
		s.logger.Error().Err(err).Msg("Clustering run failed")
	}
}

// Stop signals the scheduler to shut down gracefully.
func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh:
		// Already stopped
	default:
		close(s.stopCh)
	}
}

// RunOnce executes a single run now. It returns ErrRunInProgress if a run is
// already executing.
func (s *Scheduler) RunOnce(ctx context.Context) (*clustering.RunReport, error) {
	if !s.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.runMu.Unlock()

	s.setRunning(true)

	if s.configFn != nil {
		if err := s.runner.SetConfig(s.configFn()); err != nil {
			s.logger.Warn().Err(err).Msg("Rejected clustering config, keeping previous")
		}
	}

	report, err := s.runner.Run(ctx)

	s.statusMu.Lock()
	s.status.Running = false
	s.status.Runs++
	s.status.LastRunAt = time.Now()
	s.status.LastReport = report
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
	}
	s.statusMu.Unlock()

	return report, err
}

func (s *Scheduler) setRunning(running bool) {
	s.statusMu.Lock()
	s.status.Running = running
	s.statusMu.Unlock()
}

// Status returns a snapshot of the most recent run.
func (s *Scheduler) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}
