// Package telemetry groups Vigil's observability packages.
//
//   - logging: slog setup with PII redaction and request context fields
//   - metrics: Prometheus collectors for sweeps, HTTP requests and the read cache
//   - tracing: OpenTelemetry tracer provider with OTLP gRPC export
//   - health: liveness, readiness and version endpoints
//
// Each package is configured from the matching section of
// config.TelemetryConfig and wired together by the run command.
package telemetry
