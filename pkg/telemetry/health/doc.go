// Package health provides liveness, readiness and version endpoints for
// Vigil.
//
// Liveness answers as long as the process serves HTTP. Readiness runs the
// registered component checks concurrently, each bounded by the checker's
// timeout, and answers 503 when any of them fails:
//
//   - storage: pings the result repository
//   - scheduler: verifies the retention scheduler runs when a schedule is set
//   - sweep_lock: pings Redis when the distributed sweep lock is enabled
//
// # Usage
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterCheck("storage", health.StorageCheck(repo))
//	checker.RegisterCheck("scheduler", health.SchedulerCheck(scheduler))
//	checker.Register(mux, health.Paths{
//	    Liveness:  "/health",
//	    Readiness: "/ready",
//	    Version:   "/version",
//	}, health.NewVersionInfo(version, commit, buildTime))
package health
