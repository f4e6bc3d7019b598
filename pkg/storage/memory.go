package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/tally/pkg/analytics"
)

// scanCheckEvery is how many events a scan visits between context checks
const scanCheckEvery = 1024

// MemoryStore keeps events in process. Every index is a timestamp-sorted
// slice so range scans are a binary search plus a copy.
type MemoryStore struct {
	mu        sync.RWMutex
	closed    bool
	ids       map[string]struct{}
	all       []*analytics.Event
	byUser    map[string][]*analytics.Event
	anonymous []*analytics.Event
	byService map[analytics.ServiceType][]*analytics.Event
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ids:       make(map[string]struct{}),
		byUser:    make(map[string][]*analytics.Event),
		byService: make(map[analytics.ServiceType][]*analytics.Event),
	}
}

// Append implements analytics.EventStore
func (s *MemoryStore) Append(ctx context.Context, event *analytics.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.add(event)
}

// add stores a copy of event. It does not consult a context, so callers that
// already made the event durable cannot be interrupted halfway.
func (s *MemoryStore) add(event *analytics.Event) error {
	e := cloneEvent(event)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return analytics.ErrStoreClosed
	}
	if _, ok := s.ids[e.ID]; ok {
		return fmt.Errorf("event %s: %w", e.ID, analytics.ErrDuplicateEvent)
	}
	s.insert(e)
	return nil
}

func (s *MemoryStore) insert(e *analytics.Event) {
	s.ids[e.ID] = struct{}{}
	s.all = insertSorted(s.all, e)
	if e.UserID == nil {
		s.anonymous = insertSorted(s.anonymous, e)
	} else {
		s.byUser[*e.UserID] = insertSorted(s.byUser[*e.UserID], e)
	}
	s.byService[e.ServiceType] = insertSorted(s.byService[e.ServiceType], e)
}

// Scan implements analytics.EventStore. The candidate slice is copied under
// the read lock, so concurrent appends never affect a running scan.
func (s *MemoryStore) Scan(ctx context.Context, filter analytics.Filter, visit func(*analytics.Event) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return analytics.ErrStoreClosed
	}
	candidates := timeSlice(s.index(filter), filter.From, filter.To)
	snapshot := make([]*analytics.Event, len(candidates))
	copy(snapshot, candidates)
	s.mu.RUnlock()

	for i, e := range snapshot {
		if i%scanCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if !filter.Matches(e) {
			continue
		}
		if err := visit(e); err != nil {
			return err
		}
	}
	return nil
}

// index picks the narrowest sorted slice covering filter. Caller holds the lock.
func (s *MemoryStore) index(filter analytics.Filter) []*analytics.Event {
	switch {
	case filter.Anonymous:
		return s.anonymous
	case filter.UserID != nil:
		return s.byUser[*filter.UserID]
	case filter.ServiceType != nil:
		return s.byService[*filter.ServiceType]
	default:
		return s.all
	}
}

// Len returns the number of stored events
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.all)
}

// Ping implements analytics.EventStore
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return analytics.ErrStoreClosed
	}
	return ctx.Err()
}

// Close implements analytics.EventStore
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// insertSorted places e after every event with an equal or earlier timestamp.
// Events mostly arrive in order, so this is usually an append.
func insertSorted(events []*analytics.Event, e *analytics.Event) []*analytics.Event {
	n := len(events)
	if n == 0 || !e.Timestamp.Before(events[n-1].Timestamp) {
		return append(events, e)
	}
	i := sort.Search(n, func(i int) bool {
		return events[i].Timestamp.After(e.Timestamp)
	})
	events = append(events, nil)
	copy(events[i+1:], events[i:])
	events[i] = e
	return events
}

// timeSlice narrows a sorted slice to the inclusive [from, to] bounds
func timeSlice(events []*analytics.Event, from, to time.Time) []*analytics.Event {
	lo, hi := 0, len(events)
	if !from.IsZero() {
		lo = sort.Search(len(events), func(i int) bool {
			return !events[i].Timestamp.Before(from)
		})
	}
	if !to.IsZero() {
		hi = sort.Search(len(events), func(i int) bool {
			return events[i].Timestamp.After(to)
		})
	}
	if lo >= hi {
		return nil
	}
	return events[lo:hi]
}

// cloneEvent copies e so callers cannot mutate stored state
func cloneEvent(e *analytics.Event) *analytics.Event {
	c := *e
	if e.UserID != nil {
		c.UserID = analytics.StringPtr(*e.UserID)
	}
	md := e.Metadata
	if md.InputTokens != nil {
		md.InputTokens = analytics.Int64Ptr(*md.InputTokens)
	}
	if md.OutputTokens != nil {
		md.OutputTokens = analytics.Int64Ptr(*md.OutputTokens)
	}
	if md.SizeBytes != nil {
		md.SizeBytes = analytics.Int64Ptr(*md.SizeBytes)
	}
	if md.ResponseTimeMs != nil {
		md.ResponseTimeMs = analytics.Float64Ptr(*md.ResponseTimeMs)
	}
	if md.Extra != nil {
		extra := make(map[string]any, len(md.Extra))
		for k, v := range md.Extra {
			extra[k] = v
		}
		md.Extra = extra
	}
	c.Metadata = md
	return &c
}

func (s *MemoryStore) contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}
