// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry setup, health probes and graceful shutdown for tally.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("service_type", "llm_chat").Info("event tracked")
//
// Loggers travel in the request context:
//
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).Warn("slow query")
//
// # Prometheus Metrics
//
// Metrics implements the analytics Observer, CacheObserver and GaugeSink
// hooks, so it can be handed directly to the tracker, aggregator, query
// cache and gauge reporter:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	agg := analytics.NewAggregator(store, analytics.WithObserver(metrics))
//	observability.RegisterMetricsEndpoint(router, registry)
//
// A nil *Metrics is a valid no-op.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker("analytics-api", version)
//	checker.AddDependency("event_store", store, true)
//	router.HandleFunc("/health", checker.Readiness)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "tally",
//		Insecure:    true,
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
