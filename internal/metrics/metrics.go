// Package metrics collects and exposes Prometheus metrics for the
// identity resolver and its cache.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the metrics interface consumed by the service layer.
type Recorder interface {
	RecordResolve(branch string, duration time.Duration)
	RecordCacheHit()
	RecordCacheMiss()
	RecordCacheError(op string)
	RecordEviction()
}

// Collector is the Prometheus-backed Recorder implementation.
type Collector struct {
	resolves    *prometheus.CounterVec
	latency     prometheus.Histogram
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	cacheErrors *prometheus.CounterVec
	evictions   prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		resolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_resolve_total",
			Help: "Resolved identities by decision branch",
		}, []string{"branch"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "identity_resolve_duration_seconds",
			Help:    "Resolve latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "identity_cache_hits_total",
			Help: "Cache probes answered without the store",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "identity_cache_misses_total",
			Help: "Cache probes that fell through to the store",
		}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_cache_errors_total",
			Help: "Cache operations that failed, by operation",
		}, []string{"op"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "identity_cache_evictions_total",
			Help: "Cache entries removed by the eviction policy",
		}),
	}

	reg.MustRegister(
		c.resolves,
		c.latency,
		c.cacheHits,
		c.cacheMisses,
		c.cacheErrors,
		c.evictions,
	)

	return c
}

// RecordResolve records one completed resolve call.
func (c *Collector) RecordResolve(branch string, duration time.Duration) {
	c.resolves.WithLabelValues(branch).Inc()
	c.latency.Observe(duration.Seconds())
}

// RecordCacheHit records a cache probe answered from the cache.
func (c *Collector) RecordCacheHit() {
	c.cacheHits.Inc()
}

// RecordCacheMiss records a cache probe that missed.
func (c *Collector) RecordCacheMiss() {
	c.cacheMisses.Inc()
}

// RecordCacheError records a failed cache operation.
func (c *Collector) RecordCacheError(op string) {
	c.cacheErrors.WithLabelValues(op).Inc()
}

// RecordEviction records one evicted cache entry.
func (c *Collector) RecordEviction() {
	c.evictions.Inc()
}
