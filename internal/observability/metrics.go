// Package observability exposes Prometheus metrics for the cache tiers,
// the router, and provider calls. All methods are nil-receiver safe so
// components can run without metrics when collection is disabled.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all collectors for the routing and caching layer.
type Metrics struct {
	cacheHits       *prometheus.CounterVec
	cacheMisses     prometheus.Counter
	cachePromotions *prometheus.CounterVec
	cacheTierErrors *prometheus.CounterVec

	providerRequests *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	fallbacks        *prometheus.CounterVec

	pipelineRequests *prometheus.CounterVec
}

// New registers all collectors with the given registerer. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the default registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "routecache_cache_hits_total",
			Help: "Cache hits by tier.",
		}, []string{"tier"}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "routecache_cache_misses_total",
			Help: "Lookups that missed every tier.",
		}),
		cachePromotions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "routecache_cache_promotions_total",
			Help: "Asynchronous write-through promotions by destination tier.",
		}, []string{"tier"}),
		cacheTierErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "routecache_cache_tier_errors_total",
			Help: "Tier failures degraded to the next tier or a miss.",
		}, []string{"tier"}),
		providerRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "routecache_provider_requests_total",
			Help: "Provider invocations by provider and outcome.",
		}, []string{"provider", "outcome"}),
		providerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "routecache_provider_latency_seconds",
			Help:    "Provider invocation latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"provider"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "routecache_fallbacks_total",
			Help: "Fallback transitions by the provider that failed.",
		}, []string{"provider"}),
		pipelineRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "routecache_pipeline_requests_total",
			Help: "Pipeline terminal states by result.",
		}, []string{"result"}),
	}
}

// CacheHit records a hit at the named tier.
func (m *Metrics) CacheHit(tier string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(tier).Inc()
}

// CacheMiss records a miss across all tiers.
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// CachePromotion records a write-through promotion into the named tier.
func (m *Metrics) CachePromotion(tier string) {
	if m == nil {
		return
	}
	m.cachePromotions.WithLabelValues(tier).Inc()
}

// CacheTierError records a degraded tier failure.
func (m *Metrics) CacheTierError(tier string) {
	if m == nil {
		return
	}
	m.cacheTierErrors.WithLabelValues(tier).Inc()
}

// ProviderRequest records one provider invocation and its latency.
func (m *Metrics) ProviderRequest(provider, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(provider, outcome).Inc()
	m.providerLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// Fallback records a fallback transition away from the named provider.
func (m *Metrics) Fallback(provider string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(provider).Inc()
}

// PipelineResult records a request reaching a terminal state.
func (m *Metrics) PipelineResult(result string) {
	if m == nil {
		return
	}
	m.pipelineRequests.WithLabelValues(result).Inc()
}
