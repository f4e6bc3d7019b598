// Package analytics records usage events from the generation services and
// answers aggregate questions about them.
//
// # Overview
//
// Producer services (LLM chat, text-to-image, text-to-speech) emit one Event
// per noteworthy occurrence. A Tracker validates and appends events to an
// EventStore; an Aggregator scans the store and reduces matching events into
// per-user, per-service, system-wide and time-bucketed statistics.
//
// Events are immutable once stored. A nil UserID marks anonymous traffic;
// anonymous events never count as unique users.
//
// # Windows
//
// Queries take a Window: either a symbolic TimeRange anchored to now
// (hour, day, week, month=30d, year=365d, all) or explicit inclusive
// Start/End bounds, which take precedence when present.
//
// # Usage Example
//
// Track an event:
//
//	tracker := analytics.NewTracker(store)
//	resp, err := tracker.Track(ctx, analytics.TrackRequest{
//		UserID:      analytics.StringPtr("user-42"),
//		ServiceType: "llm_chat",
//		EventType:   "success",
//		Metadata: analytics.Metadata{
//			InputTokens:  analytics.Int64Ptr(120),
//			OutputTokens: analytics.Int64Ptr(380),
//		},
//	})
//
// Query:
//
//	agg := analytics.NewAggregator(store)
//	stats, err := agg.UserAnalytics(ctx, analytics.StringPtr("user-42"),
//		analytics.RangeWindow(analytics.RangeWeek))
//
// # Errors
//
// Malformed input yields a *ValidationError. Store failures and timeouts
// yield a *PersistenceError; nothing retries internally.
package analytics
