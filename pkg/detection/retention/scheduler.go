package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/vigil/pkg/detection"
)

// LockName is the lock that scheduled sweeps take across replicas.
const LockName = "vigil:retention:sweep"

// Scheduler runs SweepAll on a cron schedule.
type Scheduler struct {
	sweeper  *Sweeper
	schedule string
	lockTTL  time.Duration
	locker   Locker

	window atomic.Int64

	cron    *cron.Cron
	entryID cron.EntryID
	stopped chan struct{}
	mu      sync.Mutex
	logger  *slog.Logger
	running bool

	lastMu     sync.Mutex
	lastRun    *RunSummary
	onComplete []func(*RunSummary)
}

// RunSummary describes the most recent scheduled sweep.
type RunSummary struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Owners    int           `json:"owners"`
	Evicted   int           `json:"evicted"`
	Failed    int           `json:"failed"`
	Skipped   bool          `json:"skipped,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// NewScheduler creates a scheduler for sweeper using config's schedule and
// window size. locker may be nil for single-instance deployments.
func NewScheduler(sweeper *Sweeper, config *Config, locker Locker) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}

	s := &Scheduler{
		sweeper:  sweeper,
		schedule: config.Schedule,
		lockTTL:  config.LockTTL,
		locker:   locker,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "detection.scheduler"),
	}
	if s.lockTTL <= 0 {
		s.lockTTL = DefaultConfig().LockTTL
	}
	s.window.Store(int64(config.WindowSize))
	return s
}

// Start begins scheduled sweeps. If no schedule is configured, the
// scheduler does nothing.
//
// Common cron expressions:
//   - "*/15 * * * *" - Every 15 minutes
//   - "0 * * * *"    - Hourly
//   - "0 3 * * *"    - Daily at 3 AM
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if s.schedule == "" {
		s.logger.Info("sweep schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}
	if s.WindowSize() <= 0 {
		return detection.NewInvalidWindowSizeError(s.WindowSize())
	}

	id, err := s.cron.AddFunc(s.schedule, func() {
		s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweeps: %w", err)
	}

	s.entryID = id
	s.stopped = make(chan struct{})
	s.cron.Start()
	s.running = true

	s.logger.Info("retention scheduler started",
		"schedule", s.schedule,
		"window_size", s.WindowSize(),
		"distributed_lock", s.locker != nil,
	)

	go func(stopped <-chan struct{}) {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopped:
		}
	}(s.stopped)

	return nil
}

// RunOnce performs one scheduled sweep. When a locker is configured and
// another replica holds the lock, the run is skipped.
func (s *Scheduler) RunOnce(ctx context.Context) *RunSummary {
	summary := &RunSummary{StartedAt: time.Now()}
	defer func() {
		summary.Duration = time.Since(summary.StartedAt)
		s.lastMu.Lock()
		s.lastRun = summary
		hooks := s.onComplete
		s.lastMu.Unlock()

		for _, fn := range hooks {
			fn(summary)
		}
	}()

	if s.locker != nil {
		unlock, err := s.locker.TryLock(ctx, LockName, s.lockTTL)
		if errors.Is(err, ErrLockHeld) {
			s.logger.Debug("sweep lock held elsewhere, skipping scheduled sweep")
			summary.Skipped = true
			return summary
		}
		if err != nil {
			s.logger.Warn("failed to acquire sweep lock, skipping scheduled sweep", "error", err)
			summary.Skipped = true
			summary.Error = err.Error()
			return summary
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("failed to release sweep lock", "error", err)
			}
		}()
	}

	s.logger.Info("starting scheduled retention sweep", "window_size", s.WindowSize())

	reports, err := s.sweeper.SweepAll(ctx, s.WindowSize())
	if err != nil {
		s.logger.Error("scheduled sweep failed", "error", err)
		summary.Error = err.Error()
		return summary
	}

	summary.Owners = len(reports)
	for _, r := range reports {
		summary.Evicted += r.Evicted
		if r.Failed() {
			summary.Failed++
		}
	}
	if err := detection.CheckSweep(reports); err != nil {
		s.logger.Warn("scheduled sweep completed with failures", "error", err)
		summary.Error = err.Error()
	}

	return summary
}

// OnRunComplete registers fn to be called after every scheduled sweep,
// including skipped ones. Hooks run on the sweep goroutine and must not
// call Stop.
func (s *Scheduler) OnRunComplete(fn func(*RunSummary)) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()

	s.onComplete = append(s.onComplete, fn)
}

// SetWindowSize changes the window used by subsequent scheduled sweeps.
func (s *Scheduler) SetWindowSize(n int) error {
	if n <= 0 {
		return detection.NewInvalidWindowSizeError(n)
	}
	old := s.window.Swap(int64(n))
	if old != int64(n) {
		s.logger.Info("retention window updated", "old", old, "new", n)
	}
	return nil
}

// WindowSize returns the window used by scheduled sweeps.
func (s *Scheduler) WindowSize() int {
	return int(s.window.Load())
}

// Schedule returns the cron expression.
func (s *Scheduler) Schedule() string {
	return s.schedule
}

// Stop stops the scheduler and waits for any running sweep to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil && s.running {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.cron.Remove(s.entryID)
		close(s.stopped)
		s.running = false
		s.logger.Info("retention scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the next scheduled sweep time, or nil when not scheduled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil || !s.running {
		return nil
	}

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}

	next := entries[0].Next
	return &next
}

// LastRun returns the summary of the most recent scheduled sweep.
func (s *Scheduler) LastRun() *RunSummary {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()

	if s.lastRun == nil {
		return nil
	}
	out := *s.lastRun
	return &out
}
