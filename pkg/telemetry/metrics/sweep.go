package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/vigil/pkg/config"
)

// SweepMetrics tracks retention sweeps.
//
// Metrics:
//   - vigil_retention_sweeps_total: Sweeps by scope ("owner", "all") and status
//   - vigil_retention_sweep_duration_seconds: Sweep duration by scope
//   - vigil_retention_records_evicted_total: Results evicted
//   - vigil_retention_owners_failed_total: Owners whose sweep failed within SweepAll
//   - vigil_retention_window_size: The window used by scheduled sweeps
//   - vigil_retention_last_sweep_timestamp_seconds: End of the last successful sweep
type SweepMetrics struct {
	sweepsTotal   *prometheus.CounterVec
	sweepDuration *prometheus.HistogramVec
	evictedTotal  prometheus.Counter
	ownersFailed  prometheus.Counter
	windowSize    prometheus.Gauge
	lastSweep     prometheus.Gauge
}

// NewSweepMetrics creates and registers sweep metrics with the provided registry.
func NewSweepMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *SweepMetrics {
	sm := &SweepMetrics{
		sweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "retention",
				Name:      "sweeps_total",
				Help:      "Total number of retention sweeps",
			},
			[]string{"scope", "status"},
		),

		sweepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "retention",
				Name:      "sweep_duration_seconds",
				Help:      "Duration of retention sweeps in seconds",
				Buckets:   cfg.SweepDurationBuckets,
			},
			[]string{"scope"},
		),

		evictedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "retention",
				Name:      "records_evicted_total",
				Help:      "Total number of results evicted by retention sweeps",
			},
		),

		ownersFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "retention",
				Name:      "owners_failed_total",
				Help:      "Total number of owner sweeps that failed within a sweep of all owners",
			},
		),

		windowSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "retention",
				Name:      "window_size",
				Help:      "Number of results kept per owner by scheduled sweeps",
			},
		),

		lastSweep: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "retention",
				Name:      "last_sweep_timestamp_seconds",
				Help:      "Unix time at which the last successful sweep of all owners finished",
			},
		),
	}

	registry.MustRegister(
		sm.sweepsTotal,
		sm.sweepDuration,
		sm.evictedTotal,
		sm.ownersFailed,
		sm.windowSize,
		sm.lastSweep,
	)

	return sm
}

// RecordSweep records one completed sweep.
func (sm *SweepMetrics) RecordSweep(scope, status string, duration time.Duration) {
	sm.sweepsTotal.WithLabelValues(scope, status).Inc()
	sm.sweepDuration.WithLabelValues(scope).Observe(duration.Seconds())
}

// RecordEvicted adds count evicted results.
func (sm *SweepMetrics) RecordEvicted(count int) {
	if count > 0 {
		sm.evictedTotal.Add(float64(count))
	}
}

// RecordOwnerFailed counts one failed owner.
func (sm *SweepMetrics) RecordOwnerFailed() {
	sm.ownersFailed.Inc()
}

// SetWindowSize publishes the current window.
func (sm *SweepMetrics) SetWindowSize(n int) {
	sm.windowSize.Set(float64(n))
}

// MarkSweepCompleted sets the last sweep timestamp.
func (sm *SweepMetrics) MarkSweepCompleted(at time.Time) {
	sm.lastSweep.Set(float64(at.Unix()))
}
