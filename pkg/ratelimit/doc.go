// Package ratelimit throttles event ingest per caller.
//
// MemoryLimiter keeps a token bucket per key inside one process. RedisLimiter
// counts requests in fixed windows shared by every instance pointing at the
// same Redis. Middleware applies either to an HTTP handler, keyed by the
// gateway-supplied user header or the client address.
package ratelimit
