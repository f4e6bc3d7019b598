package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/platinummonkey/tally/pkg/analytics"
)

var (
	_ analytics.Observer      = (*OTelMetrics)(nil)
	_ analytics.CacheObserver = (*OTelMetrics)(nil)
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumTotal(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestOTelMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	m, err := NewOTelMetrics(provider)
	require.NoError(t, err)

	m.EventTracked("llm_chat", "success", nil)
	m.EventTracked("llm_chat", "error", errors.New("boom"))
	m.QueryCompleted("user_analytics", 15*time.Millisecond, nil)
	m.CacheLookup("user_analytics", true)
	m.CacheLookup("user_analytics", false)
	m.CacheLookup("user_analytics", false)

	metrics := collect(t, reader)

	assert.Equal(t, int64(2), sumTotal(t, metrics["tally.events.tracked"]))
	assert.Equal(t, int64(1), sumTotal(t, metrics["tally.queries"]))
	assert.Equal(t, int64(3), sumTotal(t, metrics["tally.cache.lookups"]))

	hist, ok := metrics["tally.query.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
}

func TestNewOTelMetrics_GlobalProvider(t *testing.T) {
	m, err := NewOTelMetrics(nil)
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		m.EventTracked("text_to_image", "success", nil)
	})
}
