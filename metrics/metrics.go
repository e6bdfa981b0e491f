// Package metrics holds the Prometheus collectors shared by the cache store,
// the retry wrapper, the token bridge, the asset router and the webhook
// dispatcher.
//
// Every recording method is safe to call on a nil *Metrics, so components can
// treat metrics as optional without branching at each call site.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "edgecache"

// Metrics bundles all collectors exported by the module.
type Metrics struct {
	cacheLookups    *prometheus.CounterVec
	cacheWrites     *prometheus.CounterVec
	retryAttempts   *prometheus.CounterVec
	tokenSyncs      *prometheus.CounterVec
	tokenRefreshes  *prometheus.CounterVec
	routerRequests  *prometheus.CounterVec
	webhookForwards *prometheus.CounterVec
	webhookLatency  *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. Passing nil uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "lookups_total",
			Help:      "Cache reads by key and result (hit, miss, stale, owner_mismatch, corrupt).",
		}, []string{"key", "result"}),
		cacheWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "Cache writes by key and result (ok, persist_failed).",
		}, []string{"key", "result"}),
		retryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authretry",
			Name:      "attempts_total",
			Help:      "Operation attempts by label and outcome.",
		}, []string{"label", "outcome"}),
		tokenSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tokenbridge",
			Name:      "syncs_total",
			Help:      "Token pushes into the backend session by result.",
		}, []string{"result"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tokenbridge",
			Name:      "refreshes_total",
			Help:      "Token refreshes against the identity provider by result.",
		}, []string{"result"}),
		routerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "requests_total",
			Help:      "Requests handled by the asset router by strategy and result.",
		}, []string{"strategy", "result"}),
		webhookForwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "forwards_total",
			Help:      "Webhook forwards by type and response code.",
		}, []string{"type", "code"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "forward_duration_seconds",
			Help:      "Latency of downstream webhook calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
	}
	reg.MustRegister(
		m.cacheLookups,
		m.cacheWrites,
		m.retryAttempts,
		m.tokenSyncs,
		m.tokenRefreshes,
		m.routerRequests,
		m.webhookForwards,
		m.webhookLatency,
	)
	return m
}

// CacheLookup records the result of a store read.
func (m *Metrics) CacheLookup(key, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(key, result).Inc()
}

// CacheWrite records the result of a store write.
func (m *Metrics) CacheWrite(key, result string) {
	if m == nil {
		return
	}
	m.cacheWrites.WithLabelValues(key, result).Inc()
}

// RetryAttempt records a single attempt of a wrapped operation.
func (m *Metrics) RetryAttempt(label, outcome string) {
	if m == nil {
		return
	}
	m.retryAttempts.WithLabelValues(label, outcome).Inc()
}

// TokenSync records a push into the backend session.
func (m *Metrics) TokenSync(result string) {
	if m == nil {
		return
	}
	m.tokenSyncs.WithLabelValues(result).Inc()
}

// TokenRefresh records a refresh against the identity provider.
func (m *Metrics) TokenRefresh(result string) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(result).Inc()
}

// RouterRequest records a request served by the asset router.
func (m *Metrics) RouterRequest(strategy, result string) {
	if m == nil {
		return
	}
	m.routerRequests.WithLabelValues(strategy, result).Inc()
}

// WebhookForward records a downstream webhook call.
func (m *Metrics) WebhookForward(typ, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.webhookForwards.WithLabelValues(typ, code).Inc()
	m.webhookLatency.WithLabelValues(typ).Observe(d.Seconds())
}
