package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the API and the auth core.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	loginsTotal        *prometheus.CounterVec
	lockoutsTotal      prometheus.Counter
	sessionsRevoked    *prometheus.CounterVec
	auditWriteFailures prometheus.Counter
}

// NewMetrics initialises the registry and the base metric set.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	logins := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_logins_total",
		Help: "Login attempts by outcome.",
	}, []string{"outcome"})
	lockouts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_account_lockouts_total",
		Help: "Account lockouts triggered by consecutive failed logins.",
	})
	revoked := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_sessions_revoked_total",
		Help: "Sessions revoked by reason.",
	}, []string{"reason"})
	auditFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_audit_write_failures_total",
		Help: "Audit trail writes that failed and were swallowed.",
	})
	registry.MustRegister(requests, duration, logins, lockouts, revoked, auditFailures)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		loginsTotal:        logins,
		lockoutsTotal:      lockouts,
		sessionsRevoked:    revoked,
		auditWriteFailures: auditFailures,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// RecordLogin counts a login attempt. Outcome is "success", "failure",
// "locked" or "error".
func (m *Metrics) RecordLogin(outcome string) {
	if m == nil {
		return
	}
	m.loginsTotal.WithLabelValues(outcome).Inc()
}

// RecordLockout counts a lockout trigger.
func (m *Metrics) RecordLockout() {
	if m == nil {
		return
	}
	m.lockoutsTotal.Inc()
}

// RecordSessionsRevoked counts revoked sessions by reason.
func (m *Metrics) RecordSessionsRevoked(reason string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsRevoked.WithLabelValues(reason).Add(float64(n))
}

// RecordAuditWriteFailure counts a swallowed audit write failure.
func (m *Metrics) RecordAuditWriteFailure() {
	if m == nil {
		return
	}
	m.auditWriteFailures.Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
