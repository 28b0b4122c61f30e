// Package metrics exposes prometheus gauges/counters for the credential
// pool: pool size, per-key success rate, and rotation counts per provider
// (SPEC_FULL §6 domain stack). Grounded on BaSui01-agentflow's
// internal/metrics collector (promauto-registered vectors, namespaced).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the credential-pool prometheus instrumentation. Each
// instance carries its own registry rather than registering on the global
// default, so multiple Metrics can coexist in the same process (notably in
// tests).
type Metrics struct {
	registry *prometheus.Registry

	PoolSize       *prometheus.GaugeVec
	KeySuccessRate *prometheus.GaugeVec
	RotationsTotal *prometheus.CounterVec
	RequestsTotal  *prometheus.CounterVec
}

// New registers and returns the metric vectors under namespace.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		PoolSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_size",
			Help:      "Number of registered ApiKey entries per provider.",
		}, []string{"provider"}),

		KeySuccessRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "key_success_rate",
			Help:      "Current success_count/requests_count for one ApiKey.",
		}, []string{"provider", "key_id"}),

		RotationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rotations_total",
			Help:      "Total number of credential rotations performed per provider.",
		}, []string{"provider"}),

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total upstream requests observed by the pool, by provider and outcome.",
		}, []string{"provider", "outcome"}),
	}
}

// Handler returns the HTTP handler to mount at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOutcome records one completed upstream call.
func (m *Metrics) ObserveOutcome(provider string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.RequestsTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveRotation records one successful key rotation.
func (m *Metrics) ObserveRotation(provider string) {
	m.RotationsTotal.WithLabelValues(provider).Inc()
}

// SetPoolSize reports the current number of registered keys for provider.
func (m *Metrics) SetPoolSize(provider string, n int) {
	m.PoolSize.WithLabelValues(provider).Set(float64(n))
}

// SetKeySuccessRate reports one key's current success rate.
func (m *Metrics) SetKeySuccessRate(provider, keyID string, rate float64) {
	m.KeySuccessRate.WithLabelValues(provider, keyID).Set(rate)
}
