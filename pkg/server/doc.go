// Package server provides the Vigil HTTP API server.
//
// The server mounts the /v1 API from package handlers, the health probes
// and the Prometheus endpoint on a single net/http ServeMux, wraps it in
// the middleware chain from package middleware and manages graceful
// shutdown.
//
// # Basic Usage
//
//	srv := server.NewServer(cfg, server.Dependencies{
//	    Repository: repo,
//	    Sweeper:    sweeper,
//	    Scheduler:  scheduler,
//	    Metrics:    collector,
//	    Tracer:     tracer,
//	    Health:     checker,
//	    Version:    health.NewVersionInfo(version, commit, buildTime),
//	})
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Start blocks until ctx is cancelled. Signal handling belongs to the
// caller; the run command uses signal.NotifyContext.
//
// # Routes
//
//	POST   /v1/owners
//	GET    /v1/owners
//	GET    /v1/owners/{key}
//	PATCH  /v1/owners/{key}
//	DELETE /v1/owners/{key}
//	GET    /v1/owners/{key}/results
//	DELETE /v1/owners/{key}/results
//	GET    /v1/owners/{key}/results/export?format=json|csv
//	POST   /v1/results
//	GET    /v1/results/recent?limit=N
//	GET    /v1/results/{id}
//	PATCH  /v1/results/{id}
//	DELETE /v1/results/{id}
//	POST   /v1/retention/sweep?window=N
//	POST   /v1/retention/sweep/{key}?window=N
//	GET    /v1/retention/schedule
//	GET    /health, /ready, /version
//	GET    /metrics
//
// Errors use the body {"error": {"code": ..., "message": ...}}. A manual
// sweep of all owners in which some owners failed answers 207 Multi-Status
// with the per-owner reports.
package server
