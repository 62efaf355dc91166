package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AuthzMetrics exposes Prometheus collectors for the authorization core.
type AuthzMetrics struct {
	checks    *prometheus.CounterVec
	cacheOps  *prometheus.CounterVec
	syncs     *prometheus.CounterVec
	evictions prometheus.Counter
}

// NewAuthzMetrics registers the authorization metrics. A nil registerer uses
// the metrics registry default.
func NewAuthzMetrics(registerer prometheus.Registerer) *AuthzMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	checks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatehouse_authz_checks_total",
		Help: "Permission checks partitioned by decision outcome.",
	}, []string{"decision"})
	cacheOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatehouse_authz_cache_ops_total",
		Help: "Resolution cache lookups partitioned by result.",
	}, []string{"result"})
	syncs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatehouse_authz_syncs_total",
		Help: "Assignment synchronizations partitioned by status.",
	}, []string{"status"})
	evictions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatehouse_authz_cache_evictions_total",
		Help: "Cache evictions triggered by assignment writes and flushes.",
	})
	registerer.MustRegister(checks, cacheOps, syncs, evictions)
	return &AuthzMetrics{checks: checks, cacheOps: cacheOps, syncs: syncs, evictions: evictions}
}

// ObserveDecision records a resolved check outcome.
func (m *AuthzMetrics) ObserveDecision(decision string) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(decision).Inc()
}

// CacheHit records a resolution served from cache.
func (m *AuthzMetrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheOps.WithLabelValues("hit").Inc()
}

// CacheMiss records a resolution computed from the store.
func (m *AuthzMetrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheOps.WithLabelValues("miss").Inc()
}

// CacheError records a degraded lookup caused by a backend failure.
func (m *AuthzMetrics) CacheError() {
	if m == nil {
		return
	}
	m.cacheOps.WithLabelValues("error").Inc()
}

// SyncResult records a completed or failed synchronization.
func (m *AuthzMetrics) SyncResult(status string) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(status).Inc()
}

// Eviction records a cache eviction.
func (m *AuthzMetrics) Eviction() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}
