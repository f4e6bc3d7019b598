package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tally/pkg/analytics"
	"github.com/platinummonkey/tally/pkg/api"
	"github.com/platinummonkey/tally/pkg/config"
	"github.com/platinummonkey/tally/pkg/observability"
	"github.com/platinummonkey/tally/pkg/ratelimit"
	"github.com/platinummonkey/tally/pkg/report"
	"github.com/platinummonkey/tally/pkg/storage/backends"
	"github.com/platinummonkey/tally/pkg/storage/postgres"
	"github.com/platinummonkey/tally/pkg/storage/redisstore"
)

// version is set at build time
var version = "dev"

func main() {
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLoggerWithFormat(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)
	observability.SetDefaultLogger(logger)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("tally server exited")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
		ExportInterval: cfg.Observability.OTelExportInterval,
		ResourceAttributes: map[string]string{
			"tally.storage.type": cfg.Storage.Type,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	store, err := backends.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	logger.WithField("backend", cfg.Storage.Type).Info("event store ready")

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	trackerOpts := []analytics.TrackerOption{analytics.WithIngestTimeout(cfg.Analytics.IngestTimeout)}
	aggOpts := []analytics.AggregatorOption{
		analytics.WithQueryTimeout(cfg.Analytics.QueryTimeout),
		analytics.WithGranularity(cfg.Analytics.Granularity),
	}
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		metrics = observability.NewMetrics(registry)
		trackerOpts = append(trackerOpts, analytics.WithTrackerObserver(metrics))
		aggOpts = append(aggOpts, analytics.WithObserver(metrics))
		observability.SetPanicHook(metrics.RecordPanic)
	}
	if providers != nil {
		otelMetrics, err := observability.NewOTelMetrics(providers.MeterProvider)
		if err != nil {
			return fmt.Errorf("failed to create OpenTelemetry instruments: %w", err)
		}
		trackerOpts = append(trackerOpts, analytics.WithTrackerObserver(otelMetrics))
		aggOpts = append(aggOpts, analytics.WithObserver(otelMetrics))
	}

	tracker := analytics.NewTracker(store, trackerOpts...)
	var querier analytics.Querier = analytics.NewAggregator(store, aggOpts...)
	if cfg.Analytics.CacheTTL > 0 {
		var cacheObserver analytics.CacheObserver
		if metrics != nil {
			cacheObserver = metrics
		}
		querier = analytics.NewCachedQuerier(querier, cfg.Analytics.CacheSize, cfg.Analytics.CacheTTL, cacheObserver)
		logger.WithField("ttl", cfg.Analytics.CacheTTL.String()).Info("query cache enabled")
	}

	health := observability.NewHealthChecker(api.ServiceName, version)
	health.SetTimeout(cfg.Server.HealthTimeout)
	health.AddDependency("event_store", store, true)

	limiter, err := newRateLimiter(ctx, cfg, health)
	if err != nil {
		return err
	}

	server := api.NewServer(tracker, querier, api.Options{
		Version:         version,
		Logger:          logger,
		Health:          health,
		Metrics:         metrics,
		Registry:        registry,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		DefaultTopUsers: cfg.Analytics.DefaultTopUsers,

		RateLimiter:       limiter,
		RateLimitFailOpen: cfg.RateLimit.FailOpen,
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})
	shutdown.Register("event_store", func(context.Context) error {
		return store.Close()
	})

	if closer, ok := limiter.(interface{ Close() error }); ok {
		shutdown.Register("rate_limiter", func(context.Context) error { return closer.Close() })
	}

	if pg, ok := store.(*postgres.EventStore); ok {
		pg.Connections().StartHealthCheckRoutine(ctx, 30*time.Second)
	}

	scheduler, err := newScheduler(ctx, cfg, logger, querier, metrics, store)
	if err != nil {
		return err
	}
	scheduler.Start()
	shutdown.Register("scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if cfg.Server.HealthPort != "" {
		healthServer := newHealthServer(cfg, health, registry)
		shutdown.Register("health_server", healthServer.Shutdown)
		go func() {
			logger.WithField("addr", healthServer.Addr).Info("starting health server")
			if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("health server failed")
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("starting tally analytics server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	waitErr := make(chan error, 1)
	go func() { waitErr <- shutdown.WaitForShutdown(ctx) }()

	select {
	case err := <-serveErr:
		if err != nil {
			cancel()
			<-waitErr
			return fmt.Errorf("http server failed: %w", err)
		}
		return <-waitErr
	case err := <-waitErr:
		return err
	}
}

// newRateLimiter builds the ingest limiter, or returns nil when disabled
func newRateLimiter(ctx context.Context, cfg *config.Config, health *observability.HealthChecker) (ratelimit.Limiter, error) {
	if !cfg.RateLimit.Enabled {
		return nil, nil
	}
	if cfg.RateLimit.Backend != ratelimit.BackendRedis {
		return ratelimit.NewMemoryLimiter(cfg.RateLimit), nil
	}
	client, err := redisstore.NewClient(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to connect rate limiter: %w", err)
	}
	limiter := ratelimit.NewRedisLimiter(client, cfg.RateLimit)
	health.AddDependency("rate_limiter", limiter, !cfg.RateLimit.FailOpen)
	return limiter, nil
}

// newScheduler registers the periodic jobs: usage gauges, pool stats and report export
func newScheduler(ctx context.Context, cfg *config.Config, logger *observability.Logger,
	querier analytics.Querier, metrics *observability.Metrics, store analytics.EventStore) (*cron.Cron, error) {

	c := cron.New()

	if metrics != nil {
		gauges := analytics.NewGaugeReporter(querier, metrics, analytics.RangeWindow(cfg.Analytics.GaugeTimeRange))
		refresh := func() {
			defer observability.RecoverPanic(logger, "usage gauge refresh")
			if err := gauges.Refresh(ctx); err != nil {
				logger.WithError(err).Warn("usage gauge refresh failed")
			}
		}
		if _, err := c.AddFunc(cfg.Analytics.GaugeSchedule, refresh); err != nil {
			return nil, fmt.Errorf("invalid gauge schedule %q: %w", cfg.Analytics.GaugeSchedule, err)
		}

		if pg, ok := store.(*postgres.EventStore); ok {
			_, err := c.AddFunc("@every 15s", func() {
				stats := pg.Connections().Stats().Primary
				metrics.SetDBConnections(int32(stats.OpenConnections), int32(stats.Idle), int32(stats.InUse))
			})
			if err != nil {
				return nil, err
			}
		}
	}

	if cfg.Report.Enabled {
		var uploader report.Uploader
		if cfg.Report.S3.Bucket != "" {
			s3Uploader, err := report.NewS3Uploader(ctx, cfg.Report.S3)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize report uploader: %w", err)
			}
			uploader = s3Uploader
		}
		exporter, err := report.NewExporter(report.NewGenerator(querier, report.WithTopUsers(cfg.Report.TopUsers)), uploader, cfg.Report, logger)
		if err != nil {
			return nil, err
		}
		_, err = c.AddFunc(cfg.Report.Schedule, func() {
			defer observability.RecoverPanic(logger, "report export")
			if _, err := exporter.Export(ctx); err != nil {
				logger.WithError(err).Error("analytics report export failed")
			}
		})
		if err != nil {
			return nil, fmt.Errorf("invalid report schedule %q: %w", cfg.Report.Schedule, err)
		}
		logger.WithField("schedule", cfg.Report.Schedule).Info("report export scheduled")
	}

	return c, nil
}

// newHealthServer serves probes and metrics on a separate port
func newHealthServer(cfg *config.Config, health *observability.HealthChecker, registry *prometheus.Registry) *http.Server {
	router := mux.NewRouter()
	router.HandleFunc("/health", health.Readiness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", health.Readiness).Methods(http.MethodGet)
	router.HandleFunc("/health/live", health.Liveness).Methods(http.MethodGet)
	if registry != nil {
		observability.RegisterMetricsEndpoint(router, registry)
	}
	return &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
