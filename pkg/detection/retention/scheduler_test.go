package retention

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"mercator-hq/vigil/pkg/detection"
	"mercator-hq/vigil/pkg/detection/storage"
)

// TestScheduler_Start tests schedule validation.
func TestScheduler_Start(t *testing.T) {
	tests := []struct {
		name        string
		schedule    string
		window      int
		wantRunning bool
		wantError   bool
	}{
		{"valid quarter-hourly schedule", "*/15 * * * *", 24, true, false},
		{"valid daily schedule", "0 3 * * *", 24, true, false},
		{"empty schedule - no error, not running", "", 24, false, false},
		{"invalid schedule", "invalid cron", 24, false, true},
		{"invalid window", "0 3 * * *", 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{Schedule: tt.schedule, WindowSize: tt.window}
			scheduler := NewScheduler(NewSweeper(storage.NewMemoryStorage(), config), config, nil)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err := scheduler.Start(ctx)
			if (err != nil) != tt.wantError {
				t.Fatalf("Start() error = %v, wantError %v", err, tt.wantError)
			}
			if scheduler.IsRunning() != tt.wantRunning {
				t.Errorf("IsRunning() = %v, want %v", scheduler.IsRunning(), tt.wantRunning)
			}

			if tt.wantRunning {
				next := scheduler.NextRun()
				if next == nil || !next.After(time.Now()) {
					t.Errorf("NextRun() = %v, want a future time", next)
				}
				scheduler.Stop()
				if scheduler.IsRunning() {
					t.Error("scheduler still running after Stop()")
				}
				if scheduler.NextRun() != nil {
					t.Error("NextRun() after Stop() should be nil")
				}
			}
		})
	}
}

// TestScheduler_StopOnContextCancel tests shutdown through the context.
func TestScheduler_StopOnContextCancel(t *testing.T) {
	config := &Config{Schedule: "0 3 * * *", WindowSize: 24}
	scheduler := NewScheduler(NewSweeper(storage.NewMemoryStorage(), config), config, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for scheduler.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if scheduler.IsRunning() {
		t.Error("scheduler still running after context cancellation")
	}
}

// TestScheduler_Restart tests that a stopped scheduler can be started again
// without duplicating its job, and that cancelling the first context does
// not stop the second run.
func TestScheduler_Restart(t *testing.T) {
	config := &Config{Schedule: "*/15 * * * *", WindowSize: 24}
	scheduler := NewScheduler(NewSweeper(storage.NewMemoryStorage(), config), config, nil)

	first, cancelFirst := context.WithCancel(context.Background())
	if err := scheduler.Start(first); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	scheduler.Stop()
	if n := len(scheduler.cron.Entries()); n != 0 {
		t.Fatalf("entries after Stop() = %d, want 0", n)
	}

	second, cancelSecond := context.WithCancel(context.Background())
	defer cancelSecond()
	if err := scheduler.Start(second); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	defer scheduler.Stop()

	if n := len(scheduler.cron.Entries()); n != 1 {
		t.Errorf("entries after restart = %d, want 1", n)
	}

	cancelFirst()
	time.Sleep(20 * time.Millisecond)
	if !scheduler.IsRunning() {
		t.Error("cancelling the first context stopped the restarted scheduler")
	}
}

// TestScheduler_RunOnce tests a manual scheduled run and its summary.
func TestScheduler_RunOnce(t *testing.T) {
	repo := storage.NewMemoryStorage()
	seed(t, repo, "alice", 26)
	seed(t, repo, "bob", 3)

	config := &Config{WindowSize: 24}
	scheduler := NewScheduler(NewSweeper(repo, config), config, nil)

	var hooked *RunSummary
	scheduler.OnRunComplete(func(s *RunSummary) { hooked = s })

	summary := scheduler.RunOnce(context.Background())
	if hooked != summary {
		t.Error("OnRunComplete hook did not receive the run summary")
	}
	if summary.Owners != 2 || summary.Evicted != 2 || summary.Failed != 0 || summary.Skipped {
		t.Errorf("summary = %+v, want 2 owners, 2 evicted", summary)
	}

	last := scheduler.LastRun()
	if last == nil || last.Evicted != 2 {
		t.Errorf("LastRun() = %+v", last)
	}
}

// TestScheduler_SetWindowSize tests hot updates of the window.
func TestScheduler_SetWindowSize(t *testing.T) {
	repo := storage.NewMemoryStorage()
	seed(t, repo, "alice", 10)

	config := &Config{WindowSize: 24}
	scheduler := NewScheduler(NewSweeper(repo, config), config, nil)

	if err := scheduler.SetWindowSize(0); !errors.Is(err, detection.ErrInvalidWindowSize) {
		t.Errorf("SetWindowSize(0) error = %v, want ErrInvalidWindowSize", err)
	}
	if scheduler.WindowSize() != 24 {
		t.Errorf("WindowSize() = %d after rejected update, want 24", scheduler.WindowSize())
	}

	if err := scheduler.SetWindowSize(4); err != nil {
		t.Fatalf("SetWindowSize(4) failed: %v", err)
	}

	summary := scheduler.RunOnce(context.Background())
	if summary.Evicted != 6 {
		t.Errorf("Evicted = %d, want 6 with window 4", summary.Evicted)
	}
}

// TestScheduler_SkipsWhenLockHeld tests that a held lock skips the run.
func TestScheduler_SkipsWhenLockHeld(t *testing.T) {
	repo := storage.NewMemoryStorage()
	seed(t, repo, "alice", 30)

	locker := NewLocalLocker()
	unlock, err := locker.TryLock(context.Background(), LockName, time.Minute)
	if err != nil {
		t.Fatalf("TryLock() failed: %v", err)
	}

	config := &Config{WindowSize: 24}
	scheduler := NewScheduler(NewSweeper(repo, config), config, locker)

	if summary := scheduler.RunOnce(context.Background()); !summary.Skipped {
		t.Errorf("summary = %+v, want skipped", summary)
	}
	if n := len(remaining(t, repo, "alice")); n != 30 {
		t.Errorf("remaining = %d, want 30", n)
	}

	unlock(context.Background())

	if summary := scheduler.RunOnce(context.Background()); summary.Skipped || summary.Evicted != 6 {
		t.Errorf("summary = %+v, want 6 evicted", summary)
	}

	// The run released its lock.
	if _, err := locker.TryLock(context.Background(), LockName, time.Minute); err != nil {
		t.Errorf("TryLock() after run failed: %v", err)
	}
}

// TestLocalLocker_Expiry tests that expired locks can be taken over.
func TestLocalLocker_Expiry(t *testing.T) {
	locker := NewLocalLocker()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	locker.now = func() time.Time { return now }
	ctx := context.Background()

	staleUnlock, err := locker.TryLock(ctx, "job", time.Minute)
	if err != nil {
		t.Fatalf("TryLock() failed: %v", err)
	}
	if _, err := locker.TryLock(ctx, "job", time.Minute); !errors.Is(err, ErrLockHeld) {
		t.Errorf("second TryLock() error = %v, want ErrLockHeld", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := locker.TryLock(ctx, "job", time.Minute); err != nil {
		t.Fatalf("TryLock() after expiry failed: %v", err)
	}

	// Releasing the stale lock must not release the new holder.
	staleUnlock(ctx)
	if _, err := locker.TryLock(ctx, "job", time.Minute); !errors.Is(err, ErrLockHeld) {
		t.Errorf("TryLock() after stale unlock error = %v, want ErrLockHeld", err)
	}
}

// TestRedisLocker tests mutual exclusion against a live Redis server.
// Set VIGIL_TEST_REDIS_ADDR to run it.
func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("VIGIL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("VIGIL_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	locker, err := NewRedisLocker(ctx, addr, "", 0)
	if err != nil {
		t.Fatalf("NewRedisLocker() failed: %v", err)
	}
	defer locker.Close()

	other := NewRedisLockerFromClient(redis.NewClient(&redis.Options{Addr: addr}))
	defer other.Close()

	name := "vigil:test:" + time.Now().Format("150405.000000000")
	unlock, err := locker.TryLock(ctx, name, 10*time.Second)
	if err != nil {
		t.Fatalf("TryLock() failed: %v", err)
	}

	if _, err := other.TryLock(ctx, name, 10*time.Second); !errors.Is(err, ErrLockHeld) {
		t.Errorf("competing TryLock() error = %v, want ErrLockHeld", err)
	}

	if err := unlock(ctx); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}

	otherUnlock, err := other.TryLock(ctx, name, 10*time.Second)
	if err != nil {
		t.Fatalf("TryLock() after release failed: %v", err)
	}
	otherUnlock(ctx)
}
