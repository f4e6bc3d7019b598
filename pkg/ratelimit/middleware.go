package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/platinummonkey/tally/pkg/httputil"
	"github.com/platinummonkey/tally/pkg/observability"
)

const (
	OutcomeAllowed = "allowed"
	OutcomeLimited = "limited"
	OutcomeError   = "error"
)

// KeyFunc derives the rate limit key for a request
type KeyFunc func(r *http.Request) string

// Observer receives each decision outcome
type Observer interface {
	RateLimitDecision(outcome string)
}

// HeaderOrIPKey keys requests by the value of header, falling back to the
// client address when it is absent.
func HeaderOrIPKey(header string) KeyFunc {
	return func(r *http.Request) string {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return "user:" + v
		}
		return "ip:" + ClientIP(r)
	}
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the remote host
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Middleware rejects requests over the limit with 429. When the limiter
// fails, failOpen decides between serving the request and answering 503.
func Middleware(l Limiter, key KeyFunc, failOpen bool, observer Observer) func(http.Handler) http.Handler {
	record := func(outcome string) {
		if observer != nil {
			observer.RateLimitDecision(outcome)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			d, err := l.Allow(r.Context(), k)
			if err != nil {
				record(OutcomeError)
				observability.FromContext(r.Context()).WithError(err).WithField("key", k).Warn("rate limiter unavailable")
				if failOpen {
					next.ServeHTTP(w, r)
					return
				}
				httputil.WriteServiceUnavailable(w, "rate limiter unavailable")
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))

			if !d.Allowed {
				record(OutcomeLimited)
				httputil.WriteTooManyRequests(w, d.RetryAfter)
				return
			}

			record(OutcomeAllowed)
			next.ServeHTTP(w, r)
		})
	}
}
