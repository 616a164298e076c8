// Package observability holds the Prometheus metrics for the memory service,
// the sync engine and the HTTP façade.
//
// Metrics live on a registry owned by the caller rather than the global
// default, so several services (and tests) can coexist in one process.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "nebula"

// Metrics holds every collector the process exports.
type Metrics struct {
	registry *prometheus.Registry

	// ErrorsRecorded counts recordError calls.
	// Labels: project, level (ERROR, CRITICAL), recurring (true, false)
	ErrorsRecorded *prometheus.CounterVec

	// SolutionsRecorded counts recordSolution calls.
	// Labels: project, applied_by (ai, human)
	SolutionsRecorded *prometheus.CounterVec

	// GateTransitions counts gates reaching a terminal status.
	// Labels: project, status (passed, failed, skipped)
	GateTransitions *prometheus.CounterVec

	// VersionBumps counts version changes.
	// Labels: project, component (major, minor, patch, set)
	VersionBumps *prometheus.CounterVec

	// OperationErrors counts failed core operations by wire code.
	// Labels: project, operation, code
	OperationErrors *prometheus.CounterVec

	// SyncPushes counts push attempts that reached a final outcome.
	// Labels: project, result (ok, deferred, disabled)
	SyncPushes *prometheus.CounterVec

	// SyncPatterns counts patterns moved by sync.
	// Labels: project, direction (pushed, pulled)
	SyncPatterns *prometheus.CounterVec

	// SyncBacklog is the number of patterns waiting to be pushed.
	// Labels: project
	SyncBacklog *prometheus.GaugeVec

	// CircuitState is the sync circuit breaker state (0 closed, 1 open, 2 half-open).
	// Labels: project
	CircuitState *prometheus.GaugeVec

	// HTTPRequests counts API requests.
	// Labels: route, method, status
	HTTPRequests *prometheus.CounterVec

	// HTTPDuration measures API latency.
	// Labels: route, method
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a fresh registry, together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewMetricsWith(reg)
}

// NewMetricsWith registers the collectors on reg
func NewMetricsWith(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ErrorsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "memory",
			Name:      "errors_recorded_total",
			Help:      "Error events recorded, by level and whether the pattern was already known",
		}, []string{"project", "level", "recurring"}),
		SolutionsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "memory",
			Name:      "solutions_recorded_total",
			Help:      "Solutions recorded, by who applied them",
		}, []string{"project", "applied_by"}),
		GateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "gates",
			Name:      "transitions_total",
			Help:      "Quality gates reaching a terminal status",
		}, []string{"project", "status"}),
		VersionBumps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "version",
			Name:      "changes_total",
			Help:      "Version changes by component",
		}, []string{"project", "component"}),
		OperationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "memory",
			Name:      "operation_errors_total",
			Help:      "Failed core operations by error code",
		}, []string{"project", "operation", "code"}),
		SyncPushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "pushes_total",
			Help:      "Push rounds by outcome",
		}, []string{"project", "result"}),
		SyncPatterns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "patterns_total",
			Help:      "Patterns pushed to or pulled from the aggregator",
		}, []string{"project", "direction"}),
		SyncBacklog: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "backlog_patterns",
			Help:      "Patterns changed since the last acknowledged push",
		}, []string{"project"}),
		CircuitState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "circuit_state",
			Help:      "Aggregator circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"project"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by route, method and status",
		}, []string{"route", "method", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request latency",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"route", "method"}),
	}
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
