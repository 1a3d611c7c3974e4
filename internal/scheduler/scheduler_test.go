package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/newsify/internal/clustering"
)

// SchedulerSuite validates scheduler lifecycle operations.
type SchedulerSuite struct {
	suite.Suite
	ctx context.Context
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.ctx = context.Background()
}

type mockRunner struct {
	runFn       func(context.Context) (*clustering.RunReport, error)
	setConfigFn func(clustering.Config) error

	mu         sync.Mutex
	runCalls   atomic.Int32
	configs    []clustering.Config
	configSets int
}

func (m *mockRunner) Run(ctx context.Context) (*clustering.RunReport, error) {
	m.runCalls.Add(1)
	if m.runFn == nil {
		return &clustering.RunReport{Committed: true}, nil
	}
	return m.runFn(ctx)
}

func (m *mockRunner) SetConfig(cfg clustering.Config) error {
	m.mu.Lock()
	m.configSets++
	m.configs = append(m.configs, cfg)
	m.mu.Unlock()
	if m.setConfigFn == nil {
		return nil
	}
	return m.setConfigFn(cfg)
}

func (s *SchedulerSuite) TestRunOnce_RecordsStatus() {
	runner := &mockRunner{runFn: func(context.Context) (*clustering.RunReport, error) {
		return &clustering.RunReport{Assigned: 3, ClustersCreated: []string{"c1"}, Committed: true}, nil
	}}
	scheduler := NewScheduler(runner, nil, Config{Interval: time.Hour}, zerolog.Nop())

	report, err := scheduler.RunOnce(s.ctx)
	s.NoError(err)
	s.Equal(3, report.Assigned)

	status := scheduler.Status()
	s.Equal(1, status.Runs)
	s.False(status.Running)
	s.Empty(status.LastError)
	s.Same(report, status.LastReport)
	s.False(status.LastRunAt.IsZero())
	s.Equal(0, runner.configSets)
}

func (s *SchedulerSuite) TestRunOnce_PropagatesRunError() {
	runner := &mockRunner{runFn: func(context.Context) (*clustering.RunReport, error) {
		return &clustering.RunReport{}, clustering.ErrStoreUnavailable
	}}
	scheduler := NewScheduler(runner, nil, Config{Interval: time.Hour}, zerolog.Nop())

	_, err := scheduler.RunOnce(s.ctx)
	s.ErrorIs(err, clustering.ErrStoreUnavailable)
	s.Equal(clustering.ErrStoreUnavailable.Error(), scheduler.Status().LastError)

	// A later success clears the error.
	runner.runFn = nil
	_, err = scheduler.RunOnce(s.ctx)
	s.NoError(err)
	s.Empty(scheduler.Status().LastError)
	s.Equal(2, scheduler.Status().Runs)
}

func (s *SchedulerSuite) TestRunOnce_AppliesLatestConfig() {
	runner := &mockRunner{}
	threshold := 0.8
	configFn := func() clustering.Config {
		cfg := clustering.DefaultConfig()
		cfg.SimilarityThreshold = threshold
		return cfg
	}
	scheduler := NewScheduler(runner, configFn, Config{Interval: time.Hour}, zerolog.Nop())

	_, err := scheduler.RunOnce(s.ctx)
	s.NoError(err)
	threshold = 0.6
	_, err = scheduler.RunOnce(s.ctx)
	s.NoError(err)

	s.Require().Len(runner.configs, 2)
	s.InDelta(0.8, runner.configs[0].SimilarityThreshold, 0)
	s.InDelta(0.6, runner.configs[1].SimilarityThreshold, 0)
}

func (s *SchedulerSuite) TestRunOnce_RejectedConfigStillRuns() {
	runner := &mockRunner{setConfigFn: func(clustering.Config) error {
		return errors.New("invalid")
	}}
	scheduler := NewScheduler(runner, clustering.DefaultConfig, Config{Interval: time.Hour}, zerolog.Nop())

	_, err := scheduler.RunOnce(s.ctx)
	s.NoError(err)
	s.Equal(int32(1), runner.runCalls.Load())
}

func (s *SchedulerSuite) TestRunOnce_RejectsOverlap() {
	started := make(chan struct{})
	release := make(chan struct{})
	runner := &mockRunner{runFn: func(context.Context) (*clustering.RunReport, error) {
		close(started)
		<-release
		return &clustering.RunReport{}, nil
	}}
	scheduler := NewScheduler(runner, nil, Config{Interval: time.Hour}, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := scheduler.RunOnce(s.ctx)
		done <- err
	}()
	<-started

	s.True(scheduler.Status().Running)
	_, err := scheduler.RunOnce(s.ctx)
	s.ErrorIs(err, ErrRunInProgress)

	close(release)
	s.NoError(<-done)
	s.Equal(int32(1), runner.runCalls.Load())
}

func (s *SchedulerSuite) TestStart_RunsOnStartAndTicks() {
	runner := &mockRunner{}
	scheduler := NewScheduler(runner, nil, Config{Interval: 20 * time.Millisecond, RunOnStart: true}, zerolog.Nop())

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		scheduler.Start(ctx)
		close(stopped)
	}()

	assert.Eventually(s.T(), func() bool { return runner.runCalls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	scheduler.Stop()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		s.Fail("scheduler did not stop")
	}
}

func (s *SchedulerSuite) TestStart_StopsOnContextDone() {
	scheduler := NewScheduler(&mockRunner{}, nil, Config{Interval: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(s.ctx)
	stopped := make(chan struct{})
	go func() {
		scheduler.Start(ctx)
		close(stopped)
	}()
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		s.Fail("scheduler did not stop")
	}
}

func (s *SchedulerSuite) TestStop_DoubleStopSafe() {
	scheduler := NewScheduler(&mockRunner{}, nil, Config{Interval: time.Hour}, zerolog.Nop())

	assert.NotPanics(s.T(), func() {
		scheduler.Stop()
		scheduler.Stop()
	})
}
