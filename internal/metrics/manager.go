package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/assetguard/assetguard/internal/config"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "assetguard"

// Manager defines the interface for metrics management
type Manager interface {
	// HTTP Metrics
	RecordHTTPRequest(method, route, status string, duration time.Duration)

	// Access Metrics
	RecordAccessDecision(principal, action, decision string)
	RecordPresignOutcome(outcome string)

	// Compliance Metrics
	RecordComplianceResult(property, status string)

	// Export
	Handler() http.Handler
	Registry() *prometheus.Registry

	// HTTP Middleware
	Middleware() func(http.Handler) http.Handler
}

// Pre-signed URL outcomes
const (
	PresignAccepted = "accepted"
	PresignExpired  = "expired"
	PresignReplayed = "replayed"
	PresignInvalid  = "invalid"
)

// metricsManager implements the Manager interface using Prometheus
type metricsManager struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	accessDecisionsTotal *prometheus.CounterVec
	presignOutcomesTotal *prometheus.CounterVec
	complianceTotal      *prometheus.CounterVec
}

// NewManager creates a new metrics manager. A disabled config yields a
// manager that records nothing.
func NewManager(cfg config.MetricsConfig) Manager {
	if !cfg.Enable {
		return &noopManager{}
	}

	m := &metricsManager{registry: prometheus.NewRegistry()}
	m.initializeMetrics()
	m.registerMetrics()
	return m
}

// initializeMetrics sets up all Prometheus metrics
func (m *metricsManager) initializeMetrics() {
	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	m.accessDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "access",
			Name:      "decisions_total",
			Help:      "Authorization decisions by principal, action and outcome",
		},
		[]string{"principal", "action", "decision"},
	)

	m.presignOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presign",
			Name:      "requests_total",
			Help:      "Pre-signed URL requests by outcome",
		},
		[]string{"outcome"},
	)

	m.complianceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compliance",
			Name:      "results_total",
			Help:      "Compliance property results by status",
		},
		[]string{"property", "status"},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (m *metricsManager) registerMetrics() {
	metrics := []prometheus.Collector{
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.accessDecisionsTotal,
		m.presignOutcomesTotal,
		m.complianceTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}

	for _, metric := range metrics {
		m.registry.MustRegister(metric)
	}
}

func (m *metricsManager) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *metricsManager) RecordAccessDecision(principal, action, decision string) {
	if principal == "" {
		principal = "anonymous"
	}
	m.accessDecisionsTotal.WithLabelValues(principal, action, decision).Inc()
}

func (m *metricsManager) RecordPresignOutcome(outcome string) {
	m.presignOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (m *metricsManager) RecordComplianceResult(property, status string) {
	m.complianceTotal.WithLabelValues(property, status).Inc()
}

func (m *metricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsManager) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records one request sample per response. Routes are labelled
// by their mux template to keep cardinality bounded.
func (m *metricsManager) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			m.RecordHTTPRequest(r.Method, routeLabel(r), strconv.Itoa(wrapped.statusCode), time.Since(start))
		})
	}
}

func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if name := route.GetName(); name != "" {
			return name
		}
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// noopManager is a no-op implementation when metrics are disabled
type noopManager struct{}

func (n *noopManager) RecordHTTPRequest(method, route, status string, duration time.Duration) {}
func (n *noopManager) RecordAccessDecision(principal, action, decision string)                {}
func (n *noopManager) RecordPresignOutcome(outcome string)                                    {}
func (n *noopManager) RecordComplianceResult(property, status string)                         {}
func (n *noopManager) Handler() http.Handler                                                  { return http.NotFoundHandler() }
func (n *noopManager) Registry() *prometheus.Registry                                         { return nil }
func (n *noopManager) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}
