package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheLookups    *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec

	leadTransitions   *prometheus.CounterVec
	bulkItems         *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	boardSessions     prometheus.Gauge
	boardRefreshTotal *prometheus.CounterVec
}

// NewMetricsService registers the HTTP, cache and lead pipeline collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Cache lookups by result",
	}, []string{"result"})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of lead store calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	leadTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lead_stage_transitions_total",
		Help: "Lead stage changes by source and target stage",
	}, []string{"from", "to"})

	bulkItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lead_bulk_items_total",
		Help: "Per-lead outcomes of bulk actions",
	}, []string{"operation", "result"})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lead_notifications_total",
		Help: "Lead notifications by kind and delivery result",
	}, []string{"kind", "result"})

	boardSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lead_board_sessions",
		Help: "Live board sessions",
	})

	boardRefreshTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lead_board_refresh_total",
		Help: "Board snapshot reloads by reason",
	}, []string{"reason"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheLookups, dbQueryDuration,
		leadTransitions, bulkItems, notifications, boardSessions, boardRefreshTotal, goroutines)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		cacheLatency:      cacheLatency,
		cacheWrite:        cacheWrite,
		cacheLookups:      cacheLookups,
		dbQueryDuration:   dbQueryDuration,
		leadTransitions:   leadTransitions,
		bulkItems:         bulkItems,
		notifications:     notifications,
		boardSessions:     boardSessions,
		boardRefreshTotal: boardRefreshTotal,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records store call timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordTransition counts a committed stage change.
func (m *MetricsService) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.leadTransitions.WithLabelValues(from, to).Inc()
}

// RecordBulkItems counts the succeeded and failed items of one bulk action.
func (m *MetricsService) RecordBulkItems(operation string, succeeded, failed int) {
	if m == nil {
		return
	}
	if succeeded > 0 {
		m.bulkItems.WithLabelValues(operation, "success").Add(float64(succeeded))
	}
	if failed > 0 {
		m.bulkItems.WithLabelValues(operation, "failure").Add(float64(failed))
	}
}

// RecordNotification counts a notification outcome such as queued, dropped, delivered or failed.
func (m *MetricsService) RecordNotification(kind, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}

// SetBoardSessions reports the number of live board sessions.
func (m *MetricsService) SetBoardSessions(n int) {
	if m == nil {
		return
	}
	m.boardSessions.Set(float64(n))
}

// RecordBoardRefresh counts a snapshot reload.
func (m *MetricsService) RecordBoardRefresh(reason string) {
	if m == nil {
		return
	}
	m.boardRefreshTotal.WithLabelValues(reason).Inc()
}
