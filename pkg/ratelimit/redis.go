package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// incrScript counts a request and starts the window on the first one, so
// steady traffic cannot push the expiry forward.
var incrScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {count, redis.call('PTTL', KEYS[1])}
`)

// RedisLimiter shares fixed-window counters across instances
type RedisLimiter struct {
	client *redis.Client
	cfg    Config
	now    func() time.Time
}

// NewRedisLimiter creates a Redis-backed limiter
func NewRedisLimiter(client *redis.Client, cfg Config) *RedisLimiter {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultConfig().KeyPrefix
	}
	return &RedisLimiter{client: client, cfg: cfg, now: time.Now}
}

// Allow implements Limiter
func (r *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := incrScript.Run(ctx, r.client, []string{r.redisKey(key)}, r.cfg.WindowDuration.Milliseconds()).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis rate limit: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("redis rate limit: unexpected reply %v", res)
	}
	count, _ := res[0].(int64)
	ttlMs, _ := res[1].(int64)

	ttl := time.Duration(ttlMs) * time.Millisecond
	if ttl <= 0 {
		ttl = r.cfg.WindowDuration
	}

	limit := r.cfg.Capacity()
	d := Decision{Limit: limit, Reset: r.now().Add(ttl)}
	if count <= int64(limit) {
		d.Allowed = true
		d.Remaining = limit - int(count)
		return d, nil
	}
	d.RetryAfter = ttl
	return d, nil
}

// Reset clears the counter for key
func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.redisKey(key)).Err()
}

// Ping verifies Redis connectivity
func (r *RedisLimiter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the Redis client
func (r *RedisLimiter) Close() error {
	return r.client.Close()
}

func (r *RedisLimiter) redisKey(key string) string {
	return r.cfg.KeyPrefix + ":" + key
}
