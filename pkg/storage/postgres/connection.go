package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/platinummonkey/tally/pkg/async"
	"github.com/platinummonkey/tally/pkg/observability"
)

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	PrimaryURL  string
	ReplicaURLs []string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// replica is a read pool that can be taken out of rotation and put back
type replica struct {
	name string
	db   *sql.DB
	down atomic.Bool
}

// ConnectionManager sends event appends to the primary and analytics scans
// to the read replicas. A replica that fails a probe is quarantined and
// re-admitted once it answers again; scans fall back to the primary when no
// replica is in rotation.
type ConnectionManager struct {
	primary  *sql.DB
	replicas []*replica
	next     atomic.Uint32
	logger   *observability.Logger
}

// NewConnectionManager opens the primary and every replica. An unreachable
// primary is fatal; an unreachable replica starts quarantined.
func NewConnectionManager(config ConnectionConfig, logger *observability.Logger) (*ConnectionManager, error) {
	primary, err := openPool(config.PrimaryURL, config.MaxConns, config)
	if err != nil {
		return nil, fmt.Errorf("primary: %w", err)
	}
	if err := ping(primary, config.Timeout); err != nil {
		_ = primary.Close()
		return nil, fmt.Errorf("primary: %w", err)
	}

	cm := NewConnectionManagerFromDB(logger, primary)

	// Scans are few and long, so replicas get a smaller pool than the primary.
	replicaConns := config.MaxConns / 2
	if replicaConns < 2 {
		replicaConns = 2
	}
	for _, url := range config.ReplicaURLs {
		db, err := openPool(url, replicaConns, config)
		if err != nil {
			cm.logger.WithError(err).Warn("skipping malformed postgres replica url")
			continue
		}
		r := cm.add(db)
		if err := ping(db, config.Timeout); err != nil {
			r.down.Store(true)
			cm.logger.WithError(err).WithField("replica", r.name).Warn("postgres replica unreachable, starting quarantined")
		}
	}

	cm.logger.WithField("replicas", len(cm.replicas)).Info("postgres connection manager initialized")
	return cm, nil
}

// NewConnectionManagerFromDB wraps already-open handles
func NewConnectionManagerFromDB(logger *observability.Logger, primary *sql.DB, replicas ...*sql.DB) *ConnectionManager {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	cm := &ConnectionManager{primary: primary, logger: logger}
	for _, db := range replicas {
		cm.add(db)
	}
	return cm
}

func (cm *ConnectionManager) add(db *sql.DB) *replica {
	r := &replica{name: fmt.Sprintf("replica-%d", len(cm.replicas)), db: db}
	cm.replicas = append(cm.replicas, r)
	return r
}

func openPool(url string, maxConns int, config ConnectionConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(config.MinConns)
	db.SetConnMaxLifetime(config.MaxLifetime)
	db.SetConnMaxIdleTime(config.MaxIdleTime)
	return db, nil
}

func ping(db *sql.DB, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping: %w", err)
	}
	return nil
}

// Primary returns the pool event appends go to
func (cm *ConnectionManager) Primary() *sql.DB {
	return cm.primary
}

// Replica picks the next replica in rotation for a scan, skipping
// quarantined ones. It returns the primary when none is available.
func (cm *ConnectionManager) Replica() *sql.DB {
	n := uint32(len(cm.replicas))
	if n == 0 {
		return cm.primary
	}
	start := cm.next.Add(1) - 1
	for i := uint32(0); i < n; i++ {
		if r := cm.replicas[(start+i)%n]; !r.down.Load() {
			return r.db
		}
	}
	return cm.primary
}

// Probe pings every replica, quarantining failures and re-admitting
// recoveries. It returns how many replicas are in rotation afterwards.
func (cm *ConnectionManager) Probe(ctx context.Context) int {
	up := 0
	for _, r := range cm.replicas {
		err := r.db.PingContext(ctx)
		wasDown := r.down.Swap(err != nil)
		switch {
		case err != nil && !wasDown:
			cm.logger.WithError(err).WithField("replica", r.name).Warn("postgres replica quarantined")
		case err == nil && wasDown:
			cm.logger.WithField("replica", r.name).Info("postgres replica back in rotation")
		}
		if err == nil {
			up++
		}
	}
	return up
}

// HealthCheck fails when the primary is down. Replica outages only degrade
// scan capacity, so they fail the check only when every replica is out.
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	if err := cm.primary.PingContext(ctx); err != nil {
		return fmt.Errorf("primary unhealthy: %w", err)
	}
	if len(cm.replicas) > 0 && cm.Probe(ctx) == 0 {
		names := make([]string, len(cm.replicas))
		for i, r := range cm.replicas {
			names[i] = r.name
		}
		return fmt.Errorf("all replicas unhealthy: %s", strings.Join(names, ", "))
	}
	return nil
}

// ReplicaStats describes one read pool
type ReplicaStats struct {
	Name        string
	Quarantined bool
	Pool        sql.DBStats
}

// ConnectionStats holds statistics for all database connections
type ConnectionStats struct {
	Primary  sql.DBStats
	Replicas []ReplicaStats
}

// InRotation counts the replicas currently serving scans
func (s ConnectionStats) InRotation() int {
	n := 0
	for _, r := range s.Replicas {
		if !r.Quarantined {
			n++
		}
	}
	return n
}

// Stats returns pool statistics for the primary and each replica
func (cm *ConnectionManager) Stats() ConnectionStats {
	stats := ConnectionStats{
		Primary:  cm.primary.Stats(),
		Replicas: make([]ReplicaStats, len(cm.replicas)),
	}
	for i, r := range cm.replicas {
		stats.Replicas[i] = ReplicaStats{Name: r.name, Quarantined: r.down.Load(), Pool: r.db.Stats()}
	}
	return stats
}

// StartHealthCheckRoutine probes the replicas every interval until ctx ends
func (cm *ConnectionManager) StartHealthCheckRoutine(ctx context.Context, interval time.Duration) {
	if len(cm.replicas) == 0 {
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	async.SafeGoNoError(ctx, cm.logger, 0, "postgres replica probe", func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				cm.Probe(probeCtx)
				cancel()
			case <-ctx.Done():
				return
			}
		}
	})
}

// Close closes all database connections
func (cm *ConnectionManager) Close() error {
	var errs []error
	if err := cm.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("primary close error: %w", err))
	}
	for _, r := range cm.replicas {
		if err := r.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s close error: %w", r.name, err))
		}
	}
	return errors.Join(errs...)
}

// ParseReplicaURLs splits a comma-separated replica list, dropping blanks
func ParseReplicaURLs(s string) []string {
	var urls []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	return urls
}
