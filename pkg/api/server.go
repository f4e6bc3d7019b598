package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tally/pkg/analytics"
	"github.com/platinummonkey/tally/pkg/httputil"
	"github.com/platinummonkey/tally/pkg/observability"
	"github.com/platinummonkey/tally/pkg/ratelimit"
)

// ServiceName is reported by the health and info endpoints
const ServiceName = "analytics-api"

// DefaultMaxBodyBytes caps ingest payloads
const DefaultMaxBodyBytes = 1 << 20

// Ingester accepts tracking requests
type Ingester interface {
	Track(ctx context.Context, req analytics.TrackRequest) (*analytics.TrackResponse, error)
}

// Options configures a Server. Zero values are valid.
type Options struct {
	Version        string
	Logger         *observability.Logger
	Health         *observability.HealthChecker
	Metrics        *observability.Metrics
	Registry       *prometheus.Registry
	AllowedOrigins []string
	MaxBodyBytes   int64
	// DefaultTopUsers applies when top_users_limit is absent
	DefaultTopUsers int
	// RateLimiter throttles POST /analytics/track per X-User-ID or client IP
	RateLimiter       ratelimit.Limiter
	RateLimitFailOpen bool
}

// Server represents our API server
type Server struct {
	ingester Ingester
	querier  analytics.Querier
	opts     Options
	router   *mux.Router
	handler  http.Handler
}

// NewServer creates a new API server
func NewServer(ingester Ingester, querier analytics.Querier, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if opts.Health == nil {
		opts.Health = observability.NewHealthChecker(ServiceName, opts.Version)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.DefaultTopUsers <= 0 {
		opts.DefaultTopUsers = defaultTopUsers
	}

	s := &Server{
		ingester: ingester,
		querier:  querier,
		opts:     opts,
		router:   mux.NewRouter(),
	}
	s.setupRoutes()

	chain := httputil.Chain(
		httputil.RequestIDMiddleware(opts.Logger),
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
	)
	if len(opts.AllowedOrigins) > 0 {
		chain = httputil.Chain(chain, httputil.CORSMiddleware(opts.AllowedOrigins))
	}
	s.handler = otelhttp.NewHandler(chain(s.router), "tally-api")
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(observability.HTTPMetricsMiddleware(s.opts.Metrics))

	handlers := NewAnalyticsHandlers(s.ingester, s.querier)
	handlers.DefaultTopUsers = s.opts.DefaultTopUsers
	handlers.MaxBodyBytes = s.opts.MaxBodyBytes
	if s.opts.RateLimiter != nil {
		var observer ratelimit.Observer
		if s.opts.Metrics != nil {
			observer = s.opts.Metrics
		}
		handlers.TrackLimiter = ratelimit.Middleware(s.opts.RateLimiter, ratelimit.HeaderOrIPKey(UserIDHeader), s.opts.RateLimitFailOpen, observer)
	}
	handlers.RegisterRoutes(s.router)

	s.router.HandleFunc("/health", s.opts.Health.Readiness).Methods("GET")
	s.router.HandleFunc("/health/ready", s.opts.Health.Readiness).Methods("GET")
	s.router.HandleFunc("/health/live", s.opts.Health.Liveness).Methods("GET")

	if s.opts.Registry != nil {
		observability.RegisterMetricsEndpoint(s.router, s.opts.Registry)
	}

	s.router.HandleFunc("/", s.info).Methods("GET")
	s.router.NotFoundHandler = httputil.NotFoundHandler()
	s.router.MethodNotAllowedHandler = httputil.MethodNotAllowedHandler()
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the underlying router for additional registrations
func (s *Server) Router() *mux.Router {
	return s.router
}

// InfoResponse describes the service at its root path
type InfoResponse struct {
	Service   string            `json:"service"`
	Version   string            `json:"version,omitempty"`
	Endpoints map[string]string `json:"endpoints"`
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, InfoResponse{
		Service: ServiceName,
		Version: s.opts.Version,
		Endpoints: map[string]string{
			"track":   "POST /analytics/track",
			"user":    "GET /analytics/user",
			"me":      "GET /analytics/user/me",
			"service": "GET /analytics/service/{service_type}",
			"system":  "GET /analytics/system",
			"usage":   "GET /analytics/usage",
			"health":  "GET /health",
		},
	})
}
