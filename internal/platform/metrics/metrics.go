package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the application's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry            *prometheus.Registry
	AuthOperations      *prometheus.CounterVec
	GatekeeperDecisions *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		AuthOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "placelists_auth_operations_total",
			Help: "Auth service operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		GatekeeperDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "placelists_gatekeeper_decisions_total",
			Help: "Gatekeeper decisions for incoming page requests.",
		}, []string{"decision"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "placelists_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}
}

// ObserveAuthOperation counts one auth service call.
func (m *Metrics) ObserveAuthOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.AuthOperations.WithLabelValues(operation, outcome).Inc()
}

// ObserveGatekeeperDecision counts one gatekeeper decision.
func (m *Metrics) ObserveGatekeeperDecision(decision string) {
	if m == nil {
		return
	}
	m.GatekeeperDecisions.WithLabelValues(decision).Inc()
}

// ObserveRequest records the latency of one HTTP request.
func (m *Metrics) ObserveRequest(method, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(method, status).Observe(seconds)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
