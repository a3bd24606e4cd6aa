// Package tracing provides OpenTelemetry distributed tracing for Vigil.
//
// Spans are exported to an OTLP gRPC collector with parent-based sampling
// ("always", "never" or "ratio"), and W3C Trace Context is propagated
// across HTTP boundaries.
//
// # Usage
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version.Version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	sweeper := retention.NewSweeper(repo, rcfg,
//	    retention.WithTracer(tracer.Tracer("mercator-hq/vigil/retention")))
//
// When tracing is disabled, New returns a noop tracer and installs nothing
// globally.
//
// # Spans
//
//   - "GET /v1/owners/{key}" and the other API routes, named by mux pattern
//   - retention.sweep_all, with one retention.sweep_owner child per owner
//
// Owner sweeps carry owner.key, retention.window, retention.evicted and
// retention.retained attributes.
package tracing
