package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config defines ingest rate limiting. Each key may spend
// RequestsPerWindow+BurstSize requests at once and regains
// RequestsPerWindow per WindowDuration.
type Config struct {
	Enabled           bool
	Backend           string
	RequestsPerWindow int
	WindowDuration    time.Duration
	BurstSize         int
	// FailOpen lets requests through when the limiter itself errors
	FailOpen bool
	// MaxKeys bounds the in-memory bucket table
	MaxKeys   int
	KeyPrefix string
}

// DefaultConfig returns default rate limit settings
func DefaultConfig() Config {
	return Config{
		Backend:           BackendMemory,
		RequestsPerWindow: 600,
		WindowDuration:    time.Minute,
		BurstSize:         60,
		FailOpen:          true,
		MaxKeys:           100000,
		KeyPrefix:         "tally:ratelimit",
	}
}

// Validate checks the settings of an enabled limiter
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown rate limit backend %q (expected memory or redis)", c.Backend)
	}
	if c.RequestsPerWindow < 1 {
		return fmt.Errorf("rate limit requests per window must be positive")
	}
	if c.WindowDuration <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.BurstSize < 0 {
		return fmt.Errorf("rate limit burst cannot be negative")
	}
	return nil
}

// Capacity is the most requests a fresh key may make at once
func (c Config) Capacity() int {
	return c.RequestsPerWindow + c.BurstSize
}

// Decision is the outcome of one Allow call
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is zero when allowed
	RetryAfter time.Duration
	Reset      time.Time
}

// Limiter decides whether the caller identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// MemoryLimiter keeps a token bucket per key in process. Idle buckets
// expire after two windows.
type MemoryLimiter struct {
	cfg     Config
	limit   rate.Limit
	now     func() time.Time
	mu      sync.Mutex
	buckets *lru.LRU[string, *rate.Limiter]
}

// NewMemoryLimiter creates an in-process limiter
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	maxKeys := cfg.MaxKeys
	if maxKeys < 1 {
		maxKeys = DefaultConfig().MaxKeys
	}
	return &MemoryLimiter{
		cfg:     cfg,
		limit:   rate.Limit(float64(cfg.RequestsPerWindow) / cfg.WindowDuration.Seconds()),
		now:     time.Now,
		buckets: lru.NewLRU[string, *rate.Limiter](maxKeys, nil, 2*cfg.WindowDuration),
	}
}

// Allow implements Limiter
func (m *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := m.now()
	b := m.bucket(key)

	d := Decision{Limit: m.cfg.Capacity(), Reset: now.Add(m.cfg.WindowDuration)}
	if b.AllowN(now, 1) {
		d.Allowed = true
		d.Remaining = int(math.Max(0, math.Floor(b.TokensAt(now))))
		return d, nil
	}

	missing := 1 - b.TokensAt(now)
	d.RetryAfter = time.Duration(missing / float64(m.limit) * float64(time.Second))
	d.Reset = now.Add(d.RetryAfter)
	return d, nil
}

// bucket returns the limiter for key, refreshing its expiry
func (m *MemoryLimiter) bucket(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets.Get(key)
	if !ok {
		b = rate.NewLimiter(m.limit, m.cfg.Capacity())
	}
	m.buckets.Add(key, b)
	return b
}

// Len returns the number of tracked keys
func (m *MemoryLimiter) Len() int {
	return m.buckets.Len()
}
