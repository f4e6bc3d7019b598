package analytics

import (
	"sort"
	"time"
)

// Granularity is the bucket size used for usage-by-period statistics
type Granularity string

const (
	// GranularityAuto buckets week and month windows by day and everything else by hour.
	GranularityAuto Granularity = "auto"
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
)

const (
	hourKeyLayout = "2006-01-02-15"
	dayKeyLayout  = "2006-01-02"
)

// ParseGranularity converts a string into a Granularity. The empty string means auto.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(s); g {
	case "":
		return GranularityAuto, nil
	case GranularityAuto, GranularityHour, GranularityDay:
		return g, nil
	}
	return "", &ValidationError{Field: "granularity", Value: s, Reason: "must be auto, hour or day"}
}

// resolveGranularity applies the auto policy for window w
func resolveGranularity(g Granularity, w Window) Granularity {
	if g == GranularityHour || g == GranularityDay {
		return g
	}
	if !w.Explicit() && (w.Range == RangeWeek || w.Range == RangeMonth) {
		return GranularityDay
	}
	return GranularityHour
}

// PeriodKey formats ts (in UTC) as the bucket key for granularity g
func PeriodKey(ts time.Time, g Granularity) string {
	if g == GranularityDay {
		return ts.UTC().Format(dayKeyLayout)
	}
	return ts.UTC().Format(hourKeyLayout)
}

// successRate is success/total as a percentage, 0 when there is no traffic
func successRate(success, total int64) float64 {
	if total <= 0 {
		return 0.0
	}
	return float64(success) / float64(total) * 100
}

// rollup accumulates counts and sums over a stream of events
type rollup struct {
	total   int64
	success int64
	failure int64

	perService map[ServiceType]int64

	inputTokens  int64
	outputTokens int64
	storageBytes int64

	responseSum   float64
	responseCount int64

	first time.Time
	last  time.Time

	users     map[string]int64
	anonymous int64
}

func newRollup() *rollup {
	return &rollup{
		perService: make(map[ServiceType]int64, 3),
		users:      make(map[string]int64),
	}
}

func (r *rollup) add(e *Event) {
	r.total++
	switch e.EventType {
	case EventSuccess:
		r.success++
	case EventError:
		r.failure++
	}

	if e.ServiceType.Valid() {
		r.perService[e.ServiceType]++
	}

	r.inputTokens += e.Metadata.Input()
	r.outputTokens += e.Metadata.Output()
	r.storageBytes += e.Metadata.Size()
	if e.Metadata.ResponseTimeMs != nil {
		r.responseSum += *e.Metadata.ResponseTimeMs
		r.responseCount++
	}

	if r.first.IsZero() || e.Timestamp.Before(r.first) {
		r.first = e.Timestamp
	}
	if r.last.IsZero() || e.Timestamp.After(r.last) {
		r.last = e.Timestamp
	}

	if e.UserID == nil {
		r.anonymous++
	} else {
		r.users[*e.UserID]++
	}
}

func (r *rollup) avgResponseTime() float64 {
	if r.responseCount == 0 {
		return 0
	}
	return r.responseSum / float64(r.responseCount)
}

func (r *rollup) span() (first, last *time.Time) {
	if r.total == 0 {
		return nil, nil
	}
	f, l := r.first, r.last
	return &f, &l
}

func (r *rollup) userStats(userID *string) *UserStats {
	first, last := r.span()
	return &UserStats{
		UserID:                   userID,
		TotalRequests:            r.total,
		SuccessfulRequests:       r.success,
		FailedRequests:           r.failure,
		SuccessRate:              successRate(r.success, r.total),
		LLMChatRequests:          r.perService[ServiceLLMChat],
		ImageGenerationRequests:  r.perService[ServiceTextToImage],
		SpeechGenerationRequests: r.perService[ServiceTextToSpeech],
		TotalInputTokens:         r.inputTokens,
		TotalOutputTokens:        r.outputTokens,
		TotalTokens:              r.inputTokens + r.outputTokens,
		TotalStorageBytes:        r.storageBytes,
		AvgResponseTimeMs:        r.avgResponseTime(),
		FirstRequest:             first,
		LastRequest:              last,
	}
}

func (r *rollup) serviceStats(st ServiceType) *ServiceStats {
	return &ServiceStats{
		ServiceType:        st,
		TotalRequests:      r.total,
		SuccessfulRequests: r.success,
		FailedRequests:     r.failure,
		SuccessRate:        successRate(r.success, r.total),
		UniqueUsers:        int64(len(r.users)),
		AnonymousUsers:     r.anonymous,
		AvgResponseTimeMs:  r.avgResponseTime(),
		ServiceMetrics: ServiceMetrics{
			TotalInputTokens:  r.inputTokens,
			TotalOutputTokens: r.outputTokens,
			TotalTokens:       r.inputTokens + r.outputTokens,
			TotalStorageBytes: r.storageBytes,
		},
	}
}

// topUsers returns the limit busiest users, highest count first, ties by
// user id ascending so identical inputs always produce the same order
func (r *rollup) topUsers(limit int) []TopUser {
	out := make([]TopUser, 0, len(r.users))
	for id, n := range r.users {
		out = append(out, TopUser{UserID: id, RequestCount: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestCount != out[j].RequestCount {
			return out[i].RequestCount > out[j].RequestCount
		}
		return out[i].UserID < out[j].UserID
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// usageRollup groups events by (period, service)
type usageRollup struct {
	granularity Granularity
	byPeriod    map[string]int64
	byService   map[ServiceType]int64
	successBy   map[ServiceType]int64
}

func newUsageRollup(g Granularity) *usageRollup {
	return &usageRollup{
		granularity: g,
		byPeriod:    make(map[string]int64),
		byService:   make(map[ServiceType]int64),
		successBy:   make(map[ServiceType]int64),
	}
}

func (u *usageRollup) add(e *Event) {
	u.byPeriod[PeriodKey(e.Timestamp, u.granularity)]++
	if !e.ServiceType.Valid() {
		return
	}
	u.byService[e.ServiceType]++
	if e.EventType == EventSuccess {
		u.successBy[e.ServiceType]++
	}
}

func (u *usageRollup) stats(w Window, userID *string) *UsageStats {
	rates := make(map[ServiceType]float64, len(u.byService))
	for st, n := range u.byService {
		rates[st] = successRate(u.successBy[st], n)
	}

	// Keys sort chronologically, so the first maximum is the earliest.
	var peak string
	var peakCount int64
	periods := make([]string, 0, len(u.byPeriod))
	for p := range u.byPeriod {
		periods = append(periods, p)
	}
	sort.Strings(periods)
	for _, p := range periods {
		if n := u.byPeriod[p]; n > peakCount {
			peak, peakCount = p, n
		}
	}

	return &UsageStats{
		TimeRange:            w.String(),
		UserID:               userID,
		Granularity:          u.granularity,
		RequestsByPeriod:     u.byPeriod,
		RequestsByService:    u.byService,
		SuccessRateByService: rates,
		PeakPeriod:           peak,
		PeakPeriodRequests:   peakCount,
	}
}
