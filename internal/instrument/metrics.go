package instrument

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	retries           *prometheus.CounterVec
	transactions      *prometheus.CounterVec
	authzCache        *prometheus.CounterVec
	authzDecisions    *prometheus.CounterVec
	spans             *prometheus.HistogramVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// NewMetrics registers every collector on a fresh registry, together with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		executions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "procgate_function_executions_total",
			Help: "Function executions by outcome code.",
		}, []string{"function", "code"}),
		executionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "procgate_function_execution_seconds",
			Help:    "Wall time of function executions, retries included.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"function"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "procgate_retries_total",
			Help: "Retried attempts after a retryable failure.",
		}, []string{"operation", "code"}),
		transactions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "procgate_transactions_total",
			Help: "Outermost transactions by outcome.",
		}, []string{"outcome"}),
		authzCache: f.NewCounterVec(prometheus.CounterOpts{
			Name: "procgate_permission_cache_total",
			Help: "Permission cache lookups by result.",
		}, []string{"result"}),
		authzDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "procgate_authorization_decisions_total",
			Help: "Authorization decisions.",
		}, []string{"decision"}),
		spans: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "procgate_span_duration_seconds",
			Help:    "Duration of instrumented spans.",
			Buckets: prometheus.DefBuckets,
		}, []string{"component", "action", "status"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "procgate_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "procgate_http_request_duration_ms",
			Help:    "Duration of HTTP requests in ms.",
			Buckets: []float64{5, 10, 25, 50, 100, 200, 400, 800, 1600},
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveExecution(function, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(function, code).Inc()
	m.executionDuration.WithLabelValues(function).Observe(elapsed.Seconds())
}

func (m *Metrics) IncRetry(operation, code string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(operation, code).Inc()
}

// IncTransaction counts an outermost transaction outcome: commit, rollback
// or retry.
func (m *Metrics) IncTransaction(outcome string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObservePermissionCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.authzCache.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveAuthorization(allowed bool) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.authzDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) ObserveSpan(component, action, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.spans.WithLabelValues(component, action, status).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(float64(elapsed.Milliseconds()))
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
