package analytics

import (
	"fmt"
	"strings"
	"time"
)

// TimeRange is a symbolic window anchored to "now"
type TimeRange string

const (
	RangeHour  TimeRange = "hour"
	RangeDay   TimeRange = "day"
	RangeWeek  TimeRange = "week"
	RangeMonth TimeRange = "month"
	RangeYear  TimeRange = "year"
	RangeAll   TimeRange = "all"
)

// Month and year are fixed spans, not calendar-aligned periods.
var rangeDurations = map[TimeRange]time.Duration{
	RangeHour:  time.Hour,
	RangeDay:   24 * time.Hour,
	RangeWeek:  7 * 24 * time.Hour,
	RangeMonth: 30 * 24 * time.Hour,
	RangeYear:  365 * 24 * time.Hour,
}

// ParseTimeRange converts a string into a TimeRange. The empty string maps to def.
func ParseTimeRange(s string, def TimeRange) (TimeRange, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return def, nil
	}
	r := TimeRange(s)
	if r != RangeAll {
		if _, ok := rangeDurations[r]; !ok {
			return "", &ValidationError{Field: "time_range", Value: s, Reason: "must be one of hour, day, week, month, year, all"}
		}
	}
	return r, nil
}

// Resolve maps a symbolic range to its inclusive lower bound relative to now.
// RangeAll resolves to the zero time, which every store treats as unbounded.
func Resolve(r TimeRange, now time.Time) (time.Time, error) {
	if r == RangeAll {
		return time.Time{}, nil
	}
	d, ok := rangeDurations[r]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown time range %q", r)
	}
	return now.Add(-d), nil
}

// Window is either a symbolic range or an explicit start/end pair. When Start
// or End is set the symbolic range is ignored for filtering and only the
// supplied bounds apply, both inclusive.
type Window struct {
	Range TimeRange
	Start *time.Time
	End   *time.Time
}

// RangeWindow is shorthand for a purely symbolic window
func RangeWindow(r TimeRange) Window {
	return Window{Range: r}
}

// Explicit reports whether the window carries explicit bounds
func (w Window) Explicit() bool {
	return w.Start != nil || w.End != nil
}

// Bounds returns the inclusive [from, to] pair for the window. A zero value
// means that side is unbounded. The symbolic range never applies an upper bound.
func (w Window) Bounds(now time.Time) (from, to time.Time, err error) {
	if w.Explicit() {
		if w.Start != nil {
			from = *w.Start
		}
		if w.End != nil {
			to = *w.End
		}
		if w.Start != nil && w.End != nil && to.Before(from) {
			return time.Time{}, time.Time{}, &ValidationError{Field: "end_date", Value: to.Format(time.RFC3339), Reason: "is before start_date"}
		}
		return from, to, nil
	}
	r := w.Range
	if r == "" {
		r = RangeAll
	}
	from, err = Resolve(r, now)
	if err != nil {
		return time.Time{}, time.Time{}, &ValidationError{Field: "time_range", Value: string(r), Reason: err.Error()}
	}
	return from, time.Time{}, nil
}

func (w Window) String() string {
	if !w.Explicit() {
		if w.Range == "" {
			return string(RangeAll)
		}
		return string(w.Range)
	}
	start, end := "-inf", "now"
	if w.Start != nil {
		start = w.Start.Format(time.RFC3339Nano)
	}
	if w.End != nil {
		end = w.End.Format(time.RFC3339Nano)
	}
	return start + ".." + end
}
