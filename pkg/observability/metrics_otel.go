package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics mirrors the Prometheus ingest, query and cache counters as
// OpenTelemetry instruments so they reach the OTLP collector.
type OTelMetrics struct {
	eventsTracked metric.Int64Counter
	queriesTotal  metric.Int64Counter
	queryDuration metric.Float64Histogram
	cacheLookups  metric.Int64Counter
}

// NewOTelMetrics creates instruments on provider, or the global provider when nil
func NewOTelMetrics(provider metric.MeterProvider) (*OTelMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter("github.com/platinummonkey/tally")

	m := &OTelMetrics{}
	var err error

	m.eventsTracked, err = meter.Int64Counter(
		"tally.events.tracked",
		metric.WithDescription("Total number of track attempts"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events_tracked counter: %w", err)
	}

	m.queriesTotal, err = meter.Int64Counter(
		"tally.queries",
		metric.WithDescription("Total number of analytics queries"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queries counter: %w", err)
	}

	m.queryDuration, err = meter.Float64Histogram(
		"tally.query.duration",
		metric.WithDescription("Analytics query duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query_duration histogram: %w", err)
	}

	m.cacheLookups, err = meter.Int64Counter(
		"tally.cache.lookups",
		metric.WithDescription("Query cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache_lookups counter: %w", err)
	}

	return m, nil
}

// EventTracked implements analytics.Observer
func (m *OTelMetrics) EventTracked(serviceType, eventType string, err error) {
	m.eventsTracked.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("service_type", serviceType),
		attribute.String("event_type", eventType),
		attribute.String("status", outcome(err)),
	))
}

// QueryCompleted implements analytics.Observer
func (m *OTelMetrics) QueryCompleted(operation string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", outcome(err)),
	)
	m.queriesTotal.Add(context.Background(), 1, attrs)
	m.queryDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// CacheLookup implements analytics.CacheObserver
func (m *OTelMetrics) CacheLookup(operation string, hit bool) {
	m.cacheLookups.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("hit", hit),
	))
}
