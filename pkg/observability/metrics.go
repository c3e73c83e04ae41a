package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Lifecycle metrics
	TransitionsTotal *prometheus.CounterVec

	// Orchestration metrics
	BatchItemsTotal  *prometheus.CounterVec
	ImportRowsTotal  *prometheus.CounterVec
	ResolverDuration prometheus.Histogram

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec
	OutboxPending      prometheus.Gauge

	// Rate limiting
	RateLimitRejectionsTotal *prometheus.CounterVec

	// Directory cache
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics on registry.
// A nil registry gets a fresh one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grants_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grants_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grants_assignment_transitions_total",
				Help: "Assignment lifecycle events by outcome",
			},
			[]string{"event", "outcome"},
		),
		BatchItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grants_batch_items_total",
				Help: "Per-scope outcomes of batch assignment",
			},
			[]string{"outcome"},
		),
		ImportRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grants_import_rows_total",
				Help: "Bulk import rows by result",
			},
			[]string{"result"},
		),
		ResolverDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "grants_resolver_duration_seconds",
				Help:    "Time to resolve a dashboard configuration",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grants_notifications_total",
				Help: "Notification delivery attempts",
			},
			[]string{"channel", "status"},
		),
		OutboxPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "grants_outbox_pending",
				Help: "Notifications waiting in the outbox at the last relay run",
			},
		),
		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grants_ratelimit_rejections_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"route"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grants_directory_cache_hits_total",
				Help: "Directory cache hits",
			},
			[]string{"kind"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grants_directory_cache_misses_total",
				Help: "Directory cache misses",
			},
			[]string{"kind"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TransitionsTotal,
		m.BatchItemsTotal,
		m.ImportRowsTotal,
		m.ResolverDuration,
		m.NotificationsTotal,
		m.OutboxPending,
		m.RateLimitRejectionsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTransition counts one lifecycle event. Safe on a nil receiver.
func (m *Metrics) RecordTransition(event string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.TransitionsTotal.WithLabelValues(event, outcome).Inc()
}

// RecordBatchItem counts one batch scope outcome. Safe on a nil receiver.
func (m *Metrics) RecordBatchItem(outcome string) {
	if m == nil {
		return
	}
	m.BatchItemsTotal.WithLabelValues(outcome).Inc()
}

// RecordImport counts imported and rejected rows. Safe on a nil receiver.
func (m *Metrics) RecordImport(succeeded, failed int) {
	if m == nil {
		return
	}
	m.ImportRowsTotal.WithLabelValues("succeeded").Add(float64(succeeded))
	m.ImportRowsTotal.WithLabelValues("failed").Add(float64(failed))
}

// ObserveResolve records resolver latency. Safe on a nil receiver.
func (m *Metrics) ObserveResolve(d time.Duration) {
	if m == nil {
		return
	}
	m.ResolverDuration.Observe(d.Seconds())
}

// RecordNotification counts one delivery attempt. Safe on a nil receiver.
func (m *Metrics) RecordNotification(channel string, err error) {
	if m == nil {
		return
	}
	status := "sent"
	if err != nil {
		status = "failed"
	}
	m.NotificationsTotal.WithLabelValues(channel, status).Inc()
}

// SetOutboxPending sets the outbox backlog gauge. Safe on a nil receiver.
func (m *Metrics) SetOutboxPending(n int) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}

// RecordRateLimited counts one rejected request. Safe on a nil receiver.
func (m *Metrics) RecordRateLimited(route string) {
	if m == nil {
		return
	}
	m.RateLimitRejectionsTotal.WithLabelValues(route).Inc()
}

// RecordCache counts a directory cache lookup. Safe on a nil receiver.
func (m *Metrics) RecordCache(kind string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(kind).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(kind).Inc()
}

// HTTPMiddleware records request count and latency labelled by route template
func (m *Metrics) HTTPMiddleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			name := r.URL.Path
			if route != nil {
				if tmpl := route(r); tmpl != "" {
					name = tmpl
				}
			}
			m.HTTPRequestsTotal.WithLabelValues(r.Method, name, strconv.Itoa(rw.status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
