// Package metrics provides Prometheus metrics collection for Vigil.
//
// # Metrics
//
// Retention:
//   - vigil_retention_sweeps_total{scope,status}
//   - vigil_retention_sweep_duration_seconds{scope}
//   - vigil_retention_records_evicted_total
//   - vigil_retention_owners_failed_total
//   - vigil_retention_window_size
//   - vigil_retention_last_sweep_timestamp_seconds
//
// HTTP:
//   - vigil_http_requests_total{route,code}
//   - vigil_http_request_duration_seconds{route}
//   - vigil_http_requests_in_flight
//
// Cache:
//   - vigil_cache_hits_total{cache}, vigil_cache_misses_total{cache}
//   - vigil_cache_entries{cache}, vigil_cache_flushes_total{cache}
//
// The route label is the matched ServeMux pattern such as
// "GET /v1/owners/{key}", so owner keys never become label values.
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	sweeper := retention.NewSweeper(repo, rcfg, retention.WithRecorder(collector))
//	mux.Handle("GET /metrics", collector.Handler())
//
// Metrics are registered on a private registry, never on the global
// prometheus.DefaultRegisterer.
package metrics
