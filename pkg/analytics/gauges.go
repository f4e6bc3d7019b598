package analytics

import (
	"context"
	"fmt"
)

// GaugeSink receives system-wide usage snapshots
type GaugeSink interface {
	SetServiceUsage(serviceType string, requests int64, successRate float64)
	SetUserTotals(activeUsers, anonymousRequests int64)
}

// GaugeReporter periodically pushes system analytics for a fixed window into a sink
type GaugeReporter struct {
	querier Querier
	sink    GaugeSink
	window  Window
}

// NewGaugeReporter creates a reporter for window w. The zero window means the last day.
func NewGaugeReporter(q Querier, sink GaugeSink, w Window) *GaugeReporter {
	if !w.Explicit() && w.Range == "" {
		w = RangeWindow(RangeDay)
	}
	return &GaugeReporter{querier: q, sink: sink, window: w}
}

// Refresh queries the current totals and publishes them
func (r *GaugeReporter) Refresh(ctx context.Context) error {
	stats, err := r.querier.SystemAnalytics(ctx, r.window, 0)
	if err != nil {
		return fmt.Errorf("failed to refresh usage gauges: %w", err)
	}
	for _, s := range stats.Services {
		r.sink.SetServiceUsage(string(s.ServiceType), s.TotalRequests, s.SuccessRate)
	}
	r.sink.SetUserTotals(stats.TotalUsers, stats.TotalAnonymousRequests)
	return nil
}
