package analytics

import (
	"context"
	"time"
)

// EventStore is the append-only persistence layer the tracker writes to and
// the aggregator reads from. Implementations must be safe for concurrent use.
type EventStore interface {
	// Append stores a fully-populated event atomically.
	Append(ctx context.Context, event *Event) error

	// Scan calls visit once for every event matching filter, in unspecified
	// order, from a consistent snapshot. Returning an error from visit stops
	// the scan and is returned unchanged.
	Scan(ctx context.Context, filter Filter, visit func(*Event) error) error

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// Filter selects events for a scan. Zero values mean "no constraint".
type Filter struct {
	// UserID restricts to one user. Ignored when Anonymous is set.
	UserID *string
	// Anonymous restricts to events without a user.
	Anonymous bool
	// ServiceType restricts to one service.
	ServiceType *ServiceType
	// From and To are inclusive timestamp bounds.
	From time.Time
	To   time.Time
}

// UserFilter builds the user part of a filter. A nil id selects anonymous events.
func UserFilter(id *string) Filter {
	if id == nil {
		return Filter{Anonymous: true}
	}
	return Filter{UserID: id}
}

// WithService returns a copy of f restricted to service st
func (f Filter) WithService(st ServiceType) Filter {
	f.ServiceType = &st
	return f
}

// WithBounds returns a copy of f with the given inclusive timestamp bounds
func (f Filter) WithBounds(from, to time.Time) Filter {
	f.From = from
	f.To = to
	return f
}

// Matches reports whether e satisfies every constraint in f. Stores that
// narrow candidates with an index use this to apply the remaining predicates.
func (f Filter) Matches(e *Event) bool {
	if f.Anonymous {
		if e.UserID != nil {
			return false
		}
	} else if f.UserID != nil {
		if e.UserID == nil || *e.UserID != *f.UserID {
			return false
		}
	}
	if f.ServiceType != nil && e.ServiceType != *f.ServiceType {
		return false
	}
	return f.InBounds(e.Timestamp)
}

// InBounds reports whether ts falls within the filter's inclusive bounds
func (f Filter) InBounds(ts time.Time) bool {
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}
