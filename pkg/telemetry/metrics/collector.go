package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"mercator-hq/vigil/pkg/config"
)

// Collector owns a private Prometheus registry and every Vigil metric.
//
// It implements retention.Recorder, so it can be handed to the sweeper
// directly:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	sweeper := retention.NewSweeper(repo, rcfg, retention.WithRecorder(collector))
//
// When metrics are disabled every Record method is a no-op.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	sweepMetrics *SweepMetrics
	httpMetrics  *HTTPMetrics
	cacheMetrics *CacheMetrics
}

// NewCollector creates a new metrics collector with the specified
// configuration. If registry is nil, a new registry with the Go runtime and
// process collectors is created.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	// Work on a copy so defaults do not leak into the caller's config.
	c := *cfg
	if c.Namespace == "" {
		c.Namespace = config.DefaultMetricsNamespace
	}
	if len(c.RequestDurationBuckets) == 0 {
		c.RequestDurationBuckets = prometheus.DefBuckets
	}
	if len(c.SweepDurationBuckets) == 0 {
		c.SweepDurationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300}
	}

	return &Collector{
		config:       &c,
		registry:     registry,
		sweepMetrics: NewSweepMetrics(&c, registry),
		httpMetrics:  NewHTTPMetrics(&c, registry),
		cacheMetrics: NewCacheMetrics(&c, registry),
	}
}

// RecordSweep implements retention.Recorder.
func (c *Collector) RecordSweep(scope, status string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.sweepMetrics.RecordSweep(scope, status, duration)
}

// RecordEvicted implements retention.Recorder.
func (c *Collector) RecordEvicted(count int) {
	if !c.config.Enabled {
		return
	}
	c.sweepMetrics.RecordEvicted(count)
}

// RecordOwnerFailed implements retention.Recorder.
func (c *Collector) RecordOwnerFailed() {
	if !c.config.Enabled {
		return
	}
	c.sweepMetrics.RecordOwnerFailed()
}

// SetWindowSize publishes the window used by scheduled sweeps.
func (c *Collector) SetWindowSize(n int) {
	if !c.config.Enabled {
		return
	}
	c.sweepMetrics.SetWindowSize(n)
}

// MarkSweepCompleted records the end of a successful sweep of all owners.
func (c *Collector) MarkSweepCompleted(at time.Time) {
	if !c.config.Enabled {
		return
	}
	c.sweepMetrics.MarkSweepCompleted(at)
}

// RecordHTTPRequest records a completed API request.
func (c *Collector) RecordHTTPRequest(route string, code int, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.httpMetrics.RecordRequest(route, code, duration)
}

// TrackInFlight increments the in-flight request gauge and returns the
// matching decrement.
func (c *Collector) TrackInFlight() func() {
	if !c.config.Enabled {
		return func() {}
	}
	return c.httpMetrics.TrackInFlight()
}

// RecordCacheHit records a cache hit.
func (c *Collector) RecordCacheHit(cacheName string) {
	if !c.config.Enabled {
		return
	}
	c.cacheMetrics.RecordHit(cacheName)
}

// RecordCacheMiss records a cache miss.
func (c *Collector) RecordCacheMiss(cacheName string) {
	if !c.config.Enabled {
		return
	}
	c.cacheMetrics.RecordMiss(cacheName)
}

// UpdateCacheSize updates the entry count of a cache.
func (c *Collector) UpdateCacheSize(cacheName string, size int) {
	if !c.config.Enabled {
		return
	}
	c.cacheMetrics.UpdateSize(cacheName, size)
}

// RecordCacheFlush records a full cache invalidation.
func (c *Collector) RecordCacheFlush(cacheName string) {
	if !c.config.Enabled {
		return
	}
	c.cacheMetrics.RecordFlush(cacheName)
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
