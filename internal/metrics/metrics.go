// Package metrics exposes Prometheus instrumentation for token issuance and
// validation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tokengate"

// Metrics holds the collectors on a private registry so several servers can
// coexist in one process (and in tests).
type Metrics struct {
	registry *prometheus.Registry

	tokensIssued       *prometheus.CounterVec
	issueFailures      *prometheus.CounterVec
	validations        *prometheus.CounterVec
	introspectDuration *prometheus.HistogramVec
	tokensRevoked      prometheus.Counter
	tokensSwept        prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Access tokens issued, by token mode.",
		}, []string{"mode"}),
		issueFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_issue_failures_total",
			Help:      "Failed token requests, by error code.",
		}, []string{"error"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_validations_total",
			Help:      "Token validations, by validator and outcome.",
		}, []string{"validator", "result"}),
		introspectDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "introspection_duration_seconds",
			Help:      "Latency of remote introspection calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		tokensRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_revoked_total",
			Help:      "Opaque tokens revoked.",
		}),
		tokensSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_swept_total",
			Help:      "Expired opaque tokens evicted from the store.",
		}),
	}

	m.registry.MustRegister(
		m.tokensIssued,
		m.issueFailures,
		m.validations,
		m.introspectDuration,
		m.tokensRevoked,
		m.tokensSwept,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TokenIssued records a successful issuance. All recorders are nil-safe.
func (m *Metrics) TokenIssued(mode string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(mode).Inc()
}

// IssueFailed records a failed issuance.
func (m *Metrics) IssueFailed(code string) {
	if m == nil {
		return
	}
	m.issueFailures.WithLabelValues(code).Inc()
}

// Validation records a validation outcome. result is "valid" or the error code.
func (m *Metrics) Validation(validator, result string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(validator, result).Inc()
}

// IntrospectionObserved records the latency of a remote introspection call.
func (m *Metrics) IntrospectionObserved(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.introspectDuration.WithLabelValues(result).Observe(d.Seconds())
}

// TokenRevoked records a revocation.
func (m *Metrics) TokenRevoked() {
	if m == nil {
		return
	}
	m.tokensRevoked.Inc()
}

// TokensSwept records tokens evicted by a sweep.
func (m *Metrics) TokensSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tokensSwept.Add(float64(n))
}
