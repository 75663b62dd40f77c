package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector tracks worker metrics for Prometheus export.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	fallbacksTotal   prometheus.Counter
	installsTotal    *prometheus.CounterVec
	activationsTotal prometheus.Counter
	storesSwept      prometheus.Counter
	revalidations    *prometheus.CounterVec
	upstreamLatency  prometheus.Histogram
}

// NewCollector creates a Collector registered on the given registry.
// Pass prometheus.NewRegistry() in tests to avoid global registration clashes.
func NewCollector(reg *prometheus.Registry) *Collector {
	c := &Collector{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgecache_requests_total",
			Help: "Requests handled, by class and outcome.",
		}, []string{"class", "outcome"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgecache_cache_hits_total",
			Help: "Cache hits by store class.",
		}, []string{"store"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgecache_cache_misses_total",
			Help: "Cache misses by store class.",
		}, []string{"store"}),
		fallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgecache_offline_fallbacks_total",
			Help: "API requests served from cache because the network failed.",
		}),
		installsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgecache_installs_total",
			Help: "Shell install attempts by result.",
		}, []string{"result"}),
		activationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgecache_activations_total",
			Help: "Generation activations.",
		}),
		storesSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgecache_stores_swept_total",
			Help: "Stale generation stores deleted on activation.",
		}),
		revalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgecache_revalidations_total",
			Help: "Background shell revalidations by result.",
		}, []string{"result"}),
		upstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "edgecache_upstream_duration_seconds",
			Help:    "Upstream fetch latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.requestsTotal,
		c.cacheHits,
		c.cacheMisses,
		c.fallbacksTotal,
		c.installsTotal,
		c.activationsTotal,
		c.storesSwept,
		c.revalidations,
		c.upstreamLatency,
	)
	return c
}

// RecordRequest records a handled request by class and outcome.
// Outcomes: network, cache, fallback, error.
func (c *Collector) RecordRequest(class, outcome string) {
	c.requestsTotal.WithLabelValues(class, outcome).Inc()
}

// RecordCacheHit records a cache hit for a store class (static, dynamic).
func (c *Collector) RecordCacheHit(store string) {
	c.cacheHits.WithLabelValues(store).Inc()
}

// RecordCacheMiss records a cache miss for a store class.
func (c *Collector) RecordCacheMiss(store string) {
	c.cacheMisses.WithLabelValues(store).Inc()
}

// RecordFallback records an API request that degraded to cached data.
func (c *Collector) RecordFallback() {
	c.fallbacksTotal.Inc()
}

// RecordInstall records an install attempt.
func (c *Collector) RecordInstall(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.installsTotal.WithLabelValues(result).Inc()
}

// RecordActivation records a completed activation.
func (c *Collector) RecordActivation() {
	c.activationsTotal.Inc()
}

// RecordSwept records stale stores deleted during activation.
func (c *Collector) RecordSwept(n int) {
	c.storesSwept.Add(float64(n))
}

// RecordRevalidation records a background refresh result: refreshed, failed, skipped.
func (c *Collector) RecordRevalidation(result string) {
	c.revalidations.WithLabelValues(result).Inc()
}

// ObserveUpstreamLatency records one upstream fetch duration in seconds.
func (c *Collector) ObserveUpstreamLatency(seconds float64) {
	c.upstreamLatency.Observe(seconds)
}

// Handler returns the Prometheus exposition handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
