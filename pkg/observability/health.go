package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pinger is anything that can report reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// Ping implements Pinger
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthStatus is the body of every probe reply
type HealthStatus struct {
	Status        string                      `json:"status"`
	Service       string                      `json:"service"`
	Version       string                      `json:"version,omitempty"`
	Timestamp     time.Time                   `json:"timestamp"`
	UptimeSeconds int64                       `json:"uptime_seconds"`
	Dependencies  map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the outcome of one dependency ping
type DependencyStatus struct {
	Status    string    `json:"status"`
	Critical  bool      `json:"critical"`
	Message   string    `json:"message,omitempty"`
	LatencyMs float64   `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type dependency struct {
	name     string
	pinger   Pinger
	critical bool
}

// HealthChecker pings registered dependencies (event store, rate limit
// redis). A failing critical dependency makes the service unhealthy; any
// other failure only degrades it.
type HealthChecker struct {
	service string
	version string
	timeout time.Duration
	started time.Time
	now     func() time.Time

	mu   sync.RWMutex
	deps []dependency
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		service: service,
		version: version,
		timeout: 5 * time.Second,
		started: time.Now(),
		now:     time.Now,
	}
}

// SetTimeout bounds every readiness check
func (h *HealthChecker) SetTimeout(d time.Duration) {
	if d > 0 {
		h.timeout = d
	}
}

// AddDependency registers a dependency to ping on every readiness check.
// Registering a name twice replaces the earlier entry.
func (h *HealthChecker) AddDependency(name string, p Pinger, critical bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.deps {
		if h.deps[i].name == name {
			h.deps[i] = dependency{name: name, pinger: p, critical: critical}
			return
		}
	}
	h.deps = append(h.deps, dependency{name: name, pinger: p, critical: critical})
}

func (h *HealthChecker) base(status string) HealthStatus {
	now := h.now()
	return HealthStatus{
		Status:        status,
		Service:       h.service,
		Version:       h.version,
		Timestamp:     now.UTC(),
		UptimeSeconds: int64(now.Sub(h.started).Seconds()),
	}
}

// Liveness answers 200 while the process is serving
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, h.base(StatusHealthy))
}

// Readiness pings every dependency and answers 503 when unhealthy
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

// Check pings every dependency concurrently and folds the results
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	deps := append([]dependency(nil), h.deps...)
	h.mu.RUnlock()

	results := make([]DependencyStatus, len(deps))
	var g errgroup.Group
	for i, d := range deps {
		g.Go(func() error {
			results[i] = h.ping(ctx, d)
			return nil
		})
	}
	_ = g.Wait()

	status := h.base(StatusHealthy)
	status.Dependencies = make(map[string]DependencyStatus, len(deps))
	for i, d := range deps {
		ds := results[i]
		status.Dependencies[d.name] = ds
		switch {
		case ds.Status != StatusUnhealthy:
		case d.critical:
			status.Status = StatusUnhealthy
		case status.Status == StatusHealthy:
			status.Status = StatusDegraded
		}
	}
	return status
}

func (h *HealthChecker) ping(ctx context.Context, d dependency) DependencyStatus {
	start := h.now()
	err := d.pinger.Ping(ctx)
	end := h.now()
	ds := DependencyStatus{
		Status:    StatusHealthy,
		Critical:  d.critical,
		LatencyMs: float64(end.Sub(start).Microseconds()) / 1000,
		Timestamp: end.UTC(),
	}
	if err != nil {
		ds.Status = StatusUnhealthy
		ds.Message = err.Error()
	}
	return ds
}

func writeHealth(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
