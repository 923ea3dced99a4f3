package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics of the HTTP surface.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	decisionsTotal      *prometheus.CounterVec
	policyReloads       *prometheus.CounterVec
	policyVersion       prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics set on its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polis_dlp_http_requests_total",
				Help: "Total number of HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "polis_dlp_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),

		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polis_dlp_decisions_total",
				Help: "Total number of sanitize decisions by verdict",
			},
			[]string{"decision"},
		),

		policyReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polis_dlp_policy_updates_total",
				Help: "Total number of policy reloads and weight updates by outcome",
			},
			[]string{"kind", "status"},
		),

		policyVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "polis_dlp_policy_version",
				Help: "Version of the active policy snapshot",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.decisionsTotal,
		m.policyReloads,
		m.policyVersion,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordDecision counts one sanitize verdict.
func (m *Metrics) RecordDecision(decision string) {
	m.decisionsTotal.WithLabelValues(decision).Inc()
}

// RecordPolicyUpdate counts a reload or weight update and tracks the active version.
func (m *Metrics) RecordPolicyUpdate(kind string, version uint64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.policyReloads.WithLabelValues(kind, status).Inc()
	if err == nil {
		m.policyVersion.Set(float64(version))
	}
}

// SetPolicyVersion publishes the active snapshot version.
func (m *Metrics) SetPolicyVersion(version uint64) {
	m.policyVersion.Set(float64(version))
}

// Middleware records request count and latency per chi route pattern, which
// keeps label cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rw.status)).Inc()
		m.httpRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
