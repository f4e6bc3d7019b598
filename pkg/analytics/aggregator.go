package analytics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/platinummonkey/tally/pkg/analytics")

const (
	// DefaultQueryTimeout bounds every store scan issued by the aggregator
	DefaultQueryTimeout = 30 * time.Second
	// DefaultTopUsersLimit is the leaderboard size used by system analytics
	DefaultTopUsersLimit = 10
)

// Querier is the read side of the engine. Aggregator and CachedQuerier implement it.
//
// SystemAnalytics takes the leaderboard size as topUsers: a positive value
// caps the list, zero returns an empty list, and a negative value uses
// DefaultTopUsersLimit.
type Querier interface {
	UserAnalytics(ctx context.Context, userID *string, w Window) (*UserStats, error)
	ServiceAnalytics(ctx context.Context, st ServiceType, w Window) (*ServiceStats, error)
	SystemAnalytics(ctx context.Context, w Window, topUsers int) (*SystemStats, error)
	UsageStats(ctx context.Context, userID *string, w Window) (*UsageStats, error)
}

// Observer receives the outcome of ingest and query operations.
// observability.Metrics and observability.OTelMetrics implement it.
type Observer interface {
	EventTracked(serviceType, eventType string, err error)
	QueryCompleted(operation string, duration time.Duration, err error)
}

// Aggregator computes rollups over the events in a store. All figures are
// derived from a single scan per result so counts within one answer agree.
type Aggregator struct {
	store       EventStore
	now         func() time.Time
	timeout     time.Duration
	granularity Granularity
	observers   []Observer
}

// AggregatorOption configures an Aggregator
type AggregatorOption func(*Aggregator)

// WithClock overrides the time source used to resolve symbolic windows
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithQueryTimeout bounds each scan. Zero disables the bound.
func WithQueryTimeout(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		a.timeout = d
	}
}

// WithGranularity sets the usage-by-period bucket policy
func WithGranularity(g Granularity) AggregatorOption {
	return func(a *Aggregator) {
		a.granularity = g
	}
}

// WithObserver registers an observer for query outcomes
func WithObserver(o Observer) AggregatorOption {
	return func(a *Aggregator) {
		if o != nil {
			a.observers = append(a.observers, o)
		}
	}
}

// NewAggregator creates a new aggregator over store
func NewAggregator(store EventStore, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		store:       store,
		now:         time.Now,
		timeout:     DefaultQueryTimeout,
		granularity: GranularityAuto,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// UserAnalytics summarizes one user's events. A nil userID selects anonymous events.
func (a *Aggregator) UserAnalytics(ctx context.Context, userID *string, w Window) (stats *UserStats, err error) {
	ctx, done := a.begin(ctx, "user_analytics", attribute.Bool("anonymous", userID == nil), attribute.String("window", w.String()))
	defer func() { done(err) }()

	from, to, err := w.Bounds(a.now())
	if err != nil {
		return nil, err
	}

	r := newRollup()
	if err := a.scan(ctx, "user_analytics", UserFilter(userID).WithBounds(from, to), r.add); err != nil {
		return nil, err
	}
	return r.userStats(userID), nil
}

// ServiceAnalytics summarizes every event for one service type
func (a *Aggregator) ServiceAnalytics(ctx context.Context, st ServiceType, w Window) (stats *ServiceStats, err error) {
	ctx, done := a.begin(ctx, "service_analytics", attribute.String("service_type", string(st)), attribute.String("window", w.String()))
	defer func() { done(err) }()

	if !st.Valid() {
		return nil, &ValidationError{Field: "service_type", Value: string(st), Reason: "unknown service type"}
	}
	from, to, err := w.Bounds(a.now())
	if err != nil {
		return nil, err
	}
	return a.serviceStats(ctx, st, from, to)
}

func (a *Aggregator) serviceStats(ctx context.Context, st ServiceType, from, to time.Time) (*ServiceStats, error) {
	r := newRollup()
	if err := a.scan(ctx, "service_analytics", Filter{}.WithService(st).WithBounds(from, to), r.add); err != nil {
		return nil, err
	}
	return r.serviceStats(st), nil
}

// SystemAnalytics summarizes all traffic. The services list always contains
// every known service type in a fixed order, including idle ones. A negative
// topUsers uses DefaultTopUsersLimit.
func (a *Aggregator) SystemAnalytics(ctx context.Context, w Window, topUsers int) (stats *SystemStats, err error) {
	ctx, done := a.begin(ctx, "system_analytics", attribute.String("window", w.String()))
	defer func() { done(err) }()

	if topUsers < 0 {
		topUsers = DefaultTopUsersLimit
	}

	// Resolve once so the overall scan and every per-service scan share one window.
	from, to, err := w.Bounds(a.now())
	if err != nil {
		return nil, err
	}

	types := AllServiceTypes()
	services := make([]ServiceStats, len(types))
	overall := newRollup()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.scan(gctx, "system_analytics", Filter{}.WithBounds(from, to), overall.add)
	})
	for i, st := range types {
		g.Go(func() error {
			s, err := a.serviceStats(gctx, st, from, to)
			if err != nil {
				return err
			}
			services[i] = *s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats = &SystemStats{
		TotalRequests:          overall.total,
		TotalUsers:             int64(len(overall.users)),
		TotalAnonymousRequests: overall.anonymous,
		Services:               services,
		TopUsers:               overall.topUsers(topUsers),
	}
	stats.StartDate, stats.EndDate = overall.span()
	return stats, nil
}

// UsageStats buckets request volume by period and service. A nil userID
// covers all traffic.
func (a *Aggregator) UsageStats(ctx context.Context, userID *string, w Window) (stats *UsageStats, err error) {
	ctx, done := a.begin(ctx, "usage_stats", attribute.Bool("all_users", userID == nil), attribute.String("window", w.String()))
	defer func() { done(err) }()

	from, to, err := w.Bounds(a.now())
	if err != nil {
		return nil, err
	}

	filter := Filter{UserID: userID}.WithBounds(from, to)
	u := newUsageRollup(resolveGranularity(a.granularity, w))
	if err := a.scan(ctx, "usage_stats", filter, u.add); err != nil {
		return nil, err
	}
	return u.stats(w, userID), nil
}

// scan runs one bounded store scan and feeds each event to visit
func (a *Aggregator) scan(ctx context.Context, op string, f Filter, visit func(*Event)) error {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	err := a.store.Scan(ctx, f, func(e *Event) error {
		visit(e)
		return nil
	})
	return persistenceError(op, err)
}

// begin opens a span for op and returns a completion func that records the
// outcome on the span and every observer
func (a *Aggregator) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Aggregator."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		elapsed := time.Since(start)
		for _, o := range a.observers {
			o.QueryCompleted(op, elapsed, err)
		}
	}
}
