// Package retention keeps only the most recent results of each owner.
//
// # Retention Window
//
// The window is a count, not an age: after a sweep an owner has at most
// WindowSize results, exactly the newest ones by (timestamp DESC, id DESC).
// Results are never evicted across owners.
//
// # Basic Usage
//
//	sweeper := retention.NewSweeper(repo, &retention.Config{
//	    WindowSize: 24,
//	    Schedule:   "*/15 * * * *",
//	})
//
//	// Sweep a single owner
//	report, err := sweeper.SweepOwner(ctx, "alice", 24)
//
//	// Sweep every owner; per-owner failures are reported, not returned
//	reports, err := sweeper.SweepAll(ctx, 24)
//	if err == nil {
//	    err = detection.CheckSweep(reports)
//	}
//
// Each owner is swept inside Repository.WithinOwnerTx, so a failure leaves
// the owner's results untouched and a second sweep without new results is a
// no-op.
//
// # Archiving
//
// With ArchiveBeforeEvict, evicted results are written as a JSON array to
// <ArchivePath>/<owner>-<timestamp>.json before the delete. A failed archive
// aborts that owner's sweep.
//
// # Scheduling
//
// Scheduler runs SweepAll on a cron schedule. With a Locker (RedisLocker for
// multi-replica deployments) only the replica holding the lock sweeps; the
// others skip the run. SetWindowSize changes the window for later runs
// without a restart.
package retention
