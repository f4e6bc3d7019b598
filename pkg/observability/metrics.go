package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platinummonkey/tally/pkg/analytics"
)

const (
	statusSuccess = "success"
	statusError   = "error"
	labelUnknown  = "unknown"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Ingest and query metrics
	EventsTrackedTotal *prometheus.CounterVec
	QueriesTotal       *prometheus.CounterVec
	QueryDuration      *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Ingest rate limiting
	RateLimitDecisionsTotal *prometheus.CounterVec

	PanicsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsTotal    prometheus.Gauge
	DBConnectionsIdle     prometheus.Gauge
	DBConnectionsAcquired prometheus.Gauge

	// Usage gauges, refreshed from system analytics
	ServiceRequests    *prometheus.GaugeVec
	ServiceSuccessRate *prometheus.GaugeVec
	ActiveUsers        prometheus.Gauge
	AnonymousRequests  prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tally_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "route"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tally_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tally_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		EventsTrackedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_events_tracked_total",
				Help: "Total number of track attempts by outcome",
			},
			[]string{"service_type", "event_type", "status"},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_queries_total",
				Help: "Total number of analytics queries",
			},
			[]string{"operation", "status"},
		),
		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tally_query_duration_seconds",
				Help:    "Analytics query duration in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
			},
			[]string{"operation"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_cache_hits_total",
				Help: "Total number of query cache hits",
			},
			[]string{"operation"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_cache_misses_total",
				Help: "Total number of query cache misses",
			},
			[]string{"operation"},
		),

		RateLimitDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_rate_limit_decisions_total",
				Help: "Ingest rate limit decisions by outcome",
			},
			[]string{"outcome"},
		),

		PanicsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_panics_total",
				Help: "Recovered panics by origin",
			},
			[]string{"where"},
		),

		DBConnectionsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tally_db_connections_total",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tally_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsAcquired: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tally_db_connections_acquired",
				Help: "Number of database connections in use",
			},
		),

		ServiceRequests: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tally_service_requests",
				Help: "Requests per service in the reporting window",
			},
			[]string{"service_type"},
		),
		ServiceSuccessRate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tally_service_success_rate_percent",
				Help: "Success rate per service in the reporting window",
			},
			[]string{"service_type"},
		),
		ActiveUsers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tally_active_users",
				Help: "Distinct identified users in the reporting window",
			},
		),
		AnonymousRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tally_anonymous_requests",
				Help: "Anonymous requests in the reporting window",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.EventsTrackedTotal,
		m.QueriesTotal,
		m.QueryDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.RateLimitDecisionsTotal,
		m.PanicsTotal,
		m.DBConnectionsTotal,
		m.DBConnectionsIdle,
		m.DBConnectionsAcquired,
		m.ServiceRequests,
		m.ServiceSuccessRate,
		m.ActiveUsers,
		m.AnonymousRequests,
	)

	return m
}

// EventTracked implements analytics.Observer. Unknown enum values collapse
// into a single label so bad input cannot grow the series count.
func (m *Metrics) EventTracked(serviceType, eventType string, err error) {
	if m == nil {
		return
	}
	if !analytics.ServiceType(serviceType).Valid() {
		serviceType = labelUnknown
	}
	if !analytics.EventType(eventType).Valid() {
		eventType = labelUnknown
	}
	m.EventsTrackedTotal.WithLabelValues(serviceType, eventType, outcome(err)).Inc()
}

// QueryCompleted implements analytics.Observer
func (m *Metrics) QueryCompleted(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(operation, outcome(err)).Inc()
	m.QueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// CacheLookup implements analytics.CacheObserver
func (m *Metrics) CacheLookup(operation string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(operation).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(operation).Inc()
	}
}

// RateLimitDecision counts an ingest rate limit outcome: allowed, limited or error
func (m *Metrics) RateLimitDecision(outcome string) {
	if m == nil {
		return
	}
	m.RateLimitDecisionsTotal.WithLabelValues(outcome).Inc()
}

// RecordPanic counts a recovered panic. Pass it to SetPanicHook.
func (m *Metrics) RecordPanic(where string) {
	if m == nil {
		return
	}
	m.PanicsTotal.WithLabelValues(where).Inc()
}

// SetServiceUsage implements analytics.GaugeSink
func (m *Metrics) SetServiceUsage(serviceType string, requests int64, successRate float64) {
	if m == nil {
		return
	}
	m.ServiceRequests.WithLabelValues(serviceType).Set(float64(requests))
	m.ServiceSuccessRate.WithLabelValues(serviceType).Set(successRate)
}

// SetUserTotals implements analytics.GaugeSink
func (m *Metrics) SetUserTotals(activeUsers, anonymousRequests int64) {
	if m == nil {
		return
	}
	m.ActiveUsers.Set(float64(activeUsers))
	m.AnonymousRequests.Set(float64(anonymousRequests))
}

// SetDBConnections records a database pool snapshot
func (m *Metrics) SetDBConnections(total, idle, acquired int32) {
	if m == nil {
		return
	}
	m.DBConnectionsTotal.Set(float64(total))
	m.DBConnectionsIdle.Set(float64(idle))
	m.DBConnectionsAcquired.Set(float64(acquired))
}

func outcome(err error) string {
	if err != nil {
		return statusError
	}
	return statusSuccess
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by their gorilla/mux path template; install it with
// Router.Use so the route is known when it runs.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, route).Observe(float64(r.ContentLength))
			}
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
