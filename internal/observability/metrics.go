package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/erplora/insighthub/internal/analytics"
)

// Metrics collects Prometheus metrics for the service. It also acts as the
// snapshot cache recorder, so cache traffic shows up on the same registry as
// the HTTP metrics.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	computeDuration *prometheus.HistogramVec
	flightsShared   *prometheus.CounterVec
}

// NewMetrics initialises the registry and the base metric set.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "insighthub_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "insighthub_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	hits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "insighthub_snapshot_cache_hits_total",
		Help: "Snapshot cache hits per report type.",
	}, []string{"report"})
	misses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "insighthub_snapshot_cache_misses_total",
		Help: "Snapshot cache misses per report type.",
	}, []string{"report"})
	compute := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "insighthub_snapshot_compute_duration_seconds",
		Help:    "Time spent computing a snapshot after a cache miss.",
		Buckets: prometheus.DefBuckets,
	}, []string{"report"})
	shared := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "insighthub_snapshot_flights_shared_total",
		Help: "Requests that attached to an in-flight snapshot computation.",
	}, []string{"report"})
	registry.MustRegister(requests, duration, hits, misses, compute, shared)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		cacheHits:       hits,
		cacheMisses:     misses,
		computeDuration: compute,
		flightsShared:   shared,
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

// Middleware records request metrics for every HTTP request.
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

// Registerer exposes the registry for registering custom metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// Hit records a snapshot served from cache.
func (m *Metrics) Hit(rt analytics.ReportType) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(string(rt)).Inc()
}

// Miss records a snapshot that had to be computed.
func (m *Metrics) Miss(rt analytics.ReportType) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(string(rt)).Inc()
}

// Computed records how long a snapshot computation took.
func (m *Metrics) Computed(rt analytics.ReportType, d time.Duration) {
	if m == nil {
		return
	}
	m.computeDuration.WithLabelValues(string(rt)).Observe(d.Seconds())
}

// Shared records a request that waited on another caller's computation.
func (m *Metrics) Shared(rt analytics.ReportType) {
	if m == nil {
		return
	}
	m.flightsShared.WithLabelValues(string(rt)).Inc()
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
