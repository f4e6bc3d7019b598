package analytics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gaugeRecorder struct {
	requests  map[string]int64
	rates     map[string]float64
	users     int64
	anonymous int64
}

func (g *gaugeRecorder) SetServiceUsage(serviceType string, requests int64, successRate float64) {
	g.requests[serviceType] = requests
	g.rates[serviceType] = successRate
}

func (g *gaugeRecorder) SetUserTotals(activeUsers, anonymousRequests int64) {
	g.users = activeUsers
	g.anonymous = anonymousRequests
}

func TestGaugeReporter_Refresh(t *testing.T) {
	sink := &gaugeRecorder{requests: map[string]int64{}, rates: map[string]float64{}}
	agg := NewAggregator(threeEventStore(), WithClock(fixedClock))

	err := NewGaugeReporter(agg, sink, Window{}).Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), sink.requests["llm_chat"])
	assert.Equal(t, 50.0, sink.rates["llm_chat"])
	assert.Equal(t, int64(1), sink.requests["text_to_image"])
	assert.Equal(t, int64(0), sink.requests["text_to_speech"])
	assert.Equal(t, int64(1), sink.users)
	assert.Equal(t, int64(1), sink.anonymous)
}

func TestGaugeReporter_Error(t *testing.T) {
	sink := &gaugeRecorder{requests: map[string]int64{}, rates: map[string]float64{}}
	agg := NewAggregator(&sliceStore{scanErr: errors.New("down")}, WithClock(fixedClock))

	err := NewGaugeReporter(agg, sink, RangeWindow(RangeDay)).Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, IsPersistenceError(err))
	assert.Empty(t, sink.requests)
}
