package analytics

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// CacheObserver receives cache hit/miss notifications
type CacheObserver interface {
	CacheLookup(operation string, hit bool)
}

// CacheStats is a point-in-time view of cache effectiveness
type CacheStats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	ItemCount int64   `json:"item_count"`
	HitRate   float64 `json:"hit_rate"`
}

// CachedQuerier memoizes query results for a short TTL. Results may lag
// ingest by up to the TTL. Returned values are shared and must not be modified.
type CachedQuerier struct {
	next     Querier
	cache    *lru.LRU[string, any]
	observer CacheObserver
	hits     atomic.Int64
	misses   atomic.Int64
}

// NewCachedQuerier wraps next with an LRU of up to size entries living for ttl
func NewCachedQuerier(next Querier, size int, ttl time.Duration, observer CacheObserver) *CachedQuerier {
	if size < 1 {
		size = 1
	}
	return &CachedQuerier{
		next:     next,
		cache:    lru.NewLRU[string, any](size, nil, ttl),
		observer: observer,
	}
}

// UserAnalytics implements Querier
func (c *CachedQuerier) UserAnalytics(ctx context.Context, userID *string, w Window) (*UserStats, error) {
	return cached(c, "user_analytics", userKey("user", userID, w), func() (*UserStats, error) {
		return c.next.UserAnalytics(ctx, userID, w)
	})
}

// ServiceAnalytics implements Querier
func (c *CachedQuerier) ServiceAnalytics(ctx context.Context, st ServiceType, w Window) (*ServiceStats, error) {
	key := fmt.Sprintf("service|%s|%s", st, w)
	return cached(c, "service_analytics", key, func() (*ServiceStats, error) {
		return c.next.ServiceAnalytics(ctx, st, w)
	})
}

// SystemAnalytics implements Querier
func (c *CachedQuerier) SystemAnalytics(ctx context.Context, w Window, topUsers int) (*SystemStats, error) {
	key := fmt.Sprintf("system|%d|%s", topUsers, w)
	return cached(c, "system_analytics", key, func() (*SystemStats, error) {
		return c.next.SystemAnalytics(ctx, w, topUsers)
	})
}

// UsageStats implements Querier
func (c *CachedQuerier) UsageStats(ctx context.Context, userID *string, w Window) (*UsageStats, error) {
	return cached(c, "usage_stats", userKey("usage", userID, w), func() (*UsageStats, error) {
		return c.next.UsageStats(ctx, userID, w)
	})
}

// Purge drops every cached result
func (c *CachedQuerier) Purge() {
	c.cache.Purge()
}

// Stats returns cache statistics
func (c *CachedQuerier) Stats() CacheStats {
	stats := CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		ItemCount: int64(c.cache.Len()),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// cached returns the entry for key or computes, stores and returns it.
// Errors are never cached.
func cached[T any](c *CachedQuerier, op, key string, compute func() (*T, error)) (*T, error) {
	if v, ok := c.cache.Get(key); ok {
		if res, ok := v.(*T); ok {
			c.record(op, true)
			return res, nil
		}
	}
	c.record(op, false)

	res, err := compute()
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, res)
	return res, nil
}

func (c *CachedQuerier) record(op string, hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	if c.observer != nil {
		c.observer.CacheLookup(op, hit)
	}
}

// userKey distinguishes the anonymous selector from every real id, including "".
func userKey(prefix string, userID *string, w Window) string {
	if userID == nil {
		return fmt.Sprintf("%s|anon|%s", prefix, w)
	}
	return fmt.Sprintf("%s|id:%q|%s", prefix, *userID, w)
}
