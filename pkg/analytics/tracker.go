package analytics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultIngestTimeout bounds a single append
const DefaultIngestTimeout = 5 * time.Second

// Tracker validates ingest requests and appends them to the store
type Tracker struct {
	store     EventStore
	now       func() time.Time
	newID     func() string
	timeout   time.Duration
	observers []Observer
}

// TrackerOption configures a Tracker
type TrackerOption func(*Tracker)

// WithTrackerClock overrides the time source used for missing timestamps
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithIDGenerator overrides event id generation
func WithIDGenerator(newID func() string) TrackerOption {
	return func(t *Tracker) {
		if newID != nil {
			t.newID = newID
		}
	}
}

// WithIngestTimeout bounds each append. Zero disables the bound.
func WithIngestTimeout(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		t.timeout = d
	}
}

// WithTrackerObserver registers an observer for ingest outcomes
func WithTrackerObserver(o Observer) TrackerOption {
	return func(t *Tracker) {
		if o != nil {
			t.observers = append(t.observers, o)
		}
	}
}

// NewTracker creates a new tracker writing to store
func NewTracker(store EventStore, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:   store,
		now:     time.Now,
		newID:   uuid.NewString,
		timeout: DefaultIngestTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Build turns a request into a complete event without persisting it.
// Timestamps are normalized to UTC; a missing one becomes the current time.
func (t *Tracker) Build(req TrackRequest) (*Event, error) {
	st, err := ParseServiceType(req.ServiceType)
	if err != nil {
		return nil, err
	}
	et, err := ParseEventType(req.EventType)
	if err != nil {
		return nil, err
	}

	ts := t.now()
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		ts = *req.Timestamp
	}

	return &Event{
		ID:          t.newID(),
		UserID:      req.UserID,
		ServiceType: st,
		EventType:   et,
		Timestamp:   ts.UTC(),
		Metadata:    req.Metadata,
	}, nil
}

// Track validates req, assigns an id and timestamp, and appends the event.
// On a ValidationError nothing is stored.
func (t *Tracker) Track(ctx context.Context, req TrackRequest) (resp *TrackResponse, err error) {
	ctx, span := tracer.Start(ctx, "Tracker.Track", trace.WithAttributes(
		attribute.String("service_type", req.ServiceType),
		attribute.String("event_type", req.EventType),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		for _, o := range t.observers {
			o.EventTracked(req.ServiceType, req.EventType, err)
		}
	}()

	event, err := t.Build(req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("event_id", event.ID))

	if err := t.Append(ctx, event); err != nil {
		return nil, err
	}

	return &TrackResponse{
		EventID:   event.ID,
		Timestamp: event.Timestamp,
		Message:   "Event tracked successfully",
	}, nil
}

// Append stores an already-built event, e.g. one replayed from an export.
func (t *Tracker) Append(ctx context.Context, event *Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	return persistenceError("track", t.store.Append(ctx, event))
}
