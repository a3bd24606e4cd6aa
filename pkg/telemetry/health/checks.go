package health

import (
	"context"
	"errors"
	"fmt"
)

// Pinger is implemented by backends that can report reachability, such as
// detection.Repository and retention.RedisLocker.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SchedulerState is the part of retention.Scheduler the scheduler check
// inspects.
type SchedulerState interface {
	IsRunning() bool
	Schedule() string
}

// StorageCheck returns a check that pings the result repository.
func StorageCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("storage unreachable: %w", err)
		}
		return nil
	}
}

// LockCheck returns a check that pings the distributed sweep lock backend.
func LockCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("sweep lock backend unreachable: %w", err)
		}
		return nil
	}
}

// SchedulerCheck returns a check that fails when a sweep schedule is
// configured but the scheduler is not running.
func SchedulerCheck(s SchedulerState) CheckFunc {
	return func(ctx context.Context) error {
		if s.Schedule() == "" {
			return nil
		}
		if !s.IsRunning() {
			return errors.New("retention scheduler is not running")
		}
		return nil
	}
}
