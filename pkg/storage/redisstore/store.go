// Package redisstore keeps analytics events in Redis: one hash of event JSON
// plus sorted-set indexes scored by timestamp.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/tally/pkg/analytics"
	"github.com/platinummonkey/tally/pkg/storage"
)

// fetchBatch is how many events a scan loads per HMGET
const fetchBatch = 500

var tracer = otel.Tracer("github.com/platinummonkey/tally/pkg/storage/redisstore")

// appendScript stores the event and its index entries only if the id is new.
// KEYS: events hash, time index, actor index, service index.
// ARGV: id, event json, score.
var appendScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
	return 0
end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
return 1
`)

// EventStore implements analytics.EventStore on Redis
type EventStore struct {
	client *redis.Client
	prefix string
}

// Open connects using cfg's Redis settings and verifies the connection
func Open(ctx context.Context, cfg storage.Config) (*EventStore, error) {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(client, cfg.RedisKeyPrefix), nil
}

// NewClient builds a client from cfg's Redis settings and pings it
func NewClient(ctx context.Context, cfg storage.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB > 0 {
		opts.DB = cfg.RedisDB
	}
	if cfg.RedisMaxRetries > 0 {
		opts.MaxRetries = cfg.RedisMaxRetries
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// New wraps an existing client. Keys are namespaced under prefix.
func New(client *redis.Client, prefix string) *EventStore {
	if prefix == "" {
		prefix = "tally"
	}
	return &EventStore{client: client, prefix: prefix}
}

func (s *EventStore) eventsKey() string { return s.prefix + ":events" }
func (s *EventStore) timeKey() string   { return s.prefix + ":idx:ts" }
func (s *EventStore) anonKey() string   { return s.prefix + ":idx:anon" }

func (s *EventStore) userKey(id string) string {
	return s.prefix + ":idx:user:" + id
}

func (s *EventStore) serviceKey(st analytics.ServiceType) string {
	return s.prefix + ":idx:service:" + string(st)
}

// Append implements analytics.EventStore
func (s *EventStore) Append(ctx context.Context, event *analytics.Event) (err error) {
	ctx, span := tracer.Start(ctx, "redis.Append", trace.WithAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("event_id", event.ID),
	))
	defer endSpan(span, &err)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	actorKey := s.anonKey()
	if event.UserID != nil {
		actorKey = s.userKey(*event.UserID)
	}

	keys := []string{s.eventsKey(), s.timeKey(), actorKey, s.serviceKey(event.ServiceType)}
	added, err := appendScript.Run(ctx, s.client, keys, event.ID, data, score(event.Timestamp)).Int()
	if err != nil {
		return fmt.Errorf("redis append failed: %w", err)
	}
	if added == 0 {
		return fmt.Errorf("event %s: %w", event.ID, analytics.ErrDuplicateEvent)
	}
	return nil
}

// Scan implements analytics.EventStore. The narrowest index is range-read by
// score; remaining predicates are applied per event.
func (s *EventStore) Scan(ctx context.Context, filter analytics.Filter, visit func(*analytics.Event) error) (err error) {
	ctx, span := tracer.Start(ctx, "redis.Scan", trace.WithAttributes(
		attribute.String("db.system", "redis"),
	))
	defer endSpan(span, &err)

	lo, hi := "-inf", "+inf"
	if !filter.From.IsZero() {
		lo = strconv.FormatInt(filter.From.UnixMicro(), 10)
	}
	if !filter.To.IsZero() {
		// Widened by one microsecond; Matches applies the exact bound.
		hi = strconv.FormatInt(filter.To.UnixMicro()+1, 10)
	}

	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(filter), &redis.ZRangeBy{Min: lo, Max: hi}).Result()
	if err != nil {
		return fmt.Errorf("redis index range failed: %w", err)
	}
	span.SetAttributes(attribute.Int("candidates", len(ids)))

	for start := 0; start < len(ids); start += fetchBatch {
		end := start + fetchBatch
		if end > len(ids) {
			end = len(ids)
		}
		values, err := s.client.HMGet(ctx, s.eventsKey(), ids[start:end]...).Result()
		if err != nil {
			return fmt.Errorf("redis event fetch failed: %w", err)
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				// Index entry without a body; skip rather than fail the scan.
				continue
			}
			var event analytics.Event
			if err := json.Unmarshal([]byte(raw), &event); err != nil {
				return fmt.Errorf("failed to unmarshal event %s: %w", ids[start+i], err)
			}
			event.Timestamp = event.Timestamp.UTC()
			if !filter.Matches(&event) {
				continue
			}
			if err := visit(&event); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *EventStore) indexKey(filter analytics.Filter) string {
	switch {
	case filter.Anonymous:
		return s.anonKey()
	case filter.UserID != nil:
		return s.userKey(*filter.UserID)
	case filter.ServiceType != nil:
		return s.serviceKey(*filter.ServiceType)
	default:
		return s.timeKey()
	}
}

// Ping implements analytics.EventStore
func (s *EventStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements analytics.EventStore
func (s *EventStore) Close() error {
	return s.client.Close()
}

// score maps a timestamp to a sorted-set score. Microseconds stay exact in
// the float64 Redis uses for scores.
func score(ts time.Time) int64 {
	return ts.UnixMicro()
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}
