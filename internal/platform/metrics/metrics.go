// Package metrics exposes the coordinator's /metrics surface (§6.1) as
// Prometheus collectors: request counts/latency, claim outcomes, and
// recovery-loop repair counts.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the coordinator and recovery loops touch.
type Metrics struct {
	apiRequests   *prometheus.CounterVec
	apiLatency    *prometheus.HistogramVec
	apiInflight   prometheus.Gauge
	claimsTotal   *prometheus.CounterVec
	jobsTotal     *prometheus.CounterVec
	repairsTotal  *prometheus.CounterVec
	authAttempts  *prometheus.CounterVec
	breakerOpens  *prometheus.CounterVec
}

// New registers every collector under namespace (default "jobmesh") with
// the given registerer. Pass prometheus.NewRegistry() in tests to avoid the
// global default registry's "already registered" panics across test runs.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "jobmesh"
	}
	factory := promauto.With(reg)
	return &Metrics{
		apiRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "api", Name: "requests_total",
			Help: "HTTP requests handled by the coordinator.",
		}, []string{"method", "route", "status"}),
		apiLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "api", Name: "request_duration_seconds",
			Help: "HTTP request latency.", Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		apiInflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "api", Name: "inflight_requests",
			Help: "HTTP requests currently being served.",
		}),
		claimsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "claims_total",
			Help: "Claim attempts by outcome (claimed, empty, error).",
		}, []string{"outcome"}),
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "terminal_total",
			Help: "Jobs reaching a terminal state, by status.",
		}, []string{"status", "operation"}),
		repairsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "recovery", Name: "repairs_total",
			Help: "Repairs performed by recovery loops, by loop name.",
		}, []string{"loop"}),
		authAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "token_attempts_total",
			Help: "Token issuance attempts by outcome.",
		}, []string{"outcome"}),
		breakerOpens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "agent", Name: "breaker_opens_total",
			Help: "Circuit breaker open transitions observed by the agent, by endpoint class.",
		}, []string{"endpoint"}),
	}
}

func (m *Metrics) ObserveAPI(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) InflightInc() {
	if m != nil {
		m.apiInflight.Inc()
	}
}

func (m *Metrics) InflightDec() {
	if m != nil {
		m.apiInflight.Dec()
	}
}

func (m *Metrics) ObserveClaim(outcome string) {
	if m != nil {
		m.claimsTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveJobTerminal(status, operation string) {
	if m != nil {
		m.jobsTotal.WithLabelValues(status, operation).Inc()
	}
}

func (m *Metrics) ObserveRepair(loop string, count int) {
	if m != nil && count > 0 {
		m.repairsTotal.WithLabelValues(loop).Add(float64(count))
	}
}

func (m *Metrics) ObserveAuthAttempt(outcome string) {
	if m != nil {
		m.authAttempts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveBreakerOpen(endpoint string) {
	if m != nil {
		m.breakerOpens.WithLabelValues(endpoint).Inc()
	}
}

// StatusClass renders an HTTP status as its decimal string for the status
// label; codes are not grouped into classes.
func StatusClass(code int) string {
	return strconv.Itoa(code)
}
