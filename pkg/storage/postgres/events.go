package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/tally/pkg/analytics"
)

// uniqueViolation is the SQLSTATE for a primary key conflict
const uniqueViolation = "23505"

var tracer = otel.Tracer("github.com/platinummonkey/tally/pkg/storage/postgres")

// EventStore implements analytics.EventStore on PostgreSQL. Appends go to the
// primary; scans are spread across read replicas.
type EventStore struct {
	conns *ConnectionManager
}

// NewEventStore creates a store over conns. Run Migrate first.
func NewEventStore(conns *ConnectionManager) *EventStore {
	return &EventStore{conns: conns}
}

// Connections exposes the underlying connection manager
func (s *EventStore) Connections() *ConnectionManager {
	return s.conns
}

// Append implements analytics.EventStore
func (s *EventStore) Append(ctx context.Context, event *analytics.Event) (err error) {
	ctx, span := tracer.Start(ctx, "postgres.Append", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("event_id", event.ID),
	))
	defer endSpan(span, &err)

	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO analytics_events (event_id, user_id, service_type, event_type, timestamp, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.conns.Primary().ExecContext(ctx, query,
		event.ID,
		nullString(event.UserID),
		string(event.ServiceType),
		string(event.EventType),
		event.Timestamp.UTC(),
		metadataJSON,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return fmt.Errorf("event %s: %w", event.ID, analytics.ErrDuplicateEvent)
		}
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Scan implements analytics.EventStore. Rows stream in timestamp order.
func (s *EventStore) Scan(ctx context.Context, filter analytics.Filter, visit func(*analytics.Event) error) (err error) {
	ctx, span := tracer.Start(ctx, "postgres.Scan", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
	))
	defer endSpan(span, &err)

	query, args := buildScanQuery(filter)
	rows, err := s.conns.Replica().QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var visited int64
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return err
		}
		visited++
		if err := visit(event); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating events: %w", err)
	}
	span.SetAttributes(attribute.Int64("events", visited))
	return nil
}

// Ping implements analytics.EventStore
func (s *EventStore) Ping(ctx context.Context) error {
	return s.conns.HealthCheck(ctx)
}

// Close implements analytics.EventStore
func (s *EventStore) Close() error {
	return s.conns.Close()
}

// buildScanQuery turns a filter into a parameterized SELECT
func buildScanQuery(filter analytics.Filter) (string, []interface{}) {
	var b strings.Builder
	b.WriteString(`SELECT event_id, user_id, service_type, event_type, timestamp, metadata FROM analytics_events WHERE 1=1`)

	args := []interface{}{}
	argCount := 1

	switch {
	case filter.Anonymous:
		b.WriteString(" AND user_id IS NULL")
	case filter.UserID != nil:
		fmt.Fprintf(&b, " AND user_id = $%d", argCount)
		args = append(args, *filter.UserID)
		argCount++
	}

	if filter.ServiceType != nil {
		fmt.Fprintf(&b, " AND service_type = $%d", argCount)
		args = append(args, string(*filter.ServiceType))
		argCount++
	}

	if !filter.From.IsZero() {
		fmt.Fprintf(&b, " AND timestamp >= $%d", argCount)
		args = append(args, filter.From.UTC())
		argCount++
	}

	if !filter.To.IsZero() {
		fmt.Fprintf(&b, " AND timestamp <= $%d", argCount)
		args = append(args, filter.To.UTC())
	}

	b.WriteString(" ORDER BY timestamp ASC, event_id ASC")
	return b.String(), args
}

func scanEvent(rows *sql.Rows) (*analytics.Event, error) {
	var (
		event        analytics.Event
		userID       sql.NullString
		serviceType  string
		eventType    string
		metadataJSON []byte
	)
	if err := rows.Scan(&event.ID, &userID, &serviceType, &eventType, &event.Timestamp, &metadataJSON); err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	if userID.Valid {
		event.UserID = analytics.StringPtr(userID.String)
	}
	event.ServiceType = analytics.ServiceType(serviceType)
	event.EventType = analytics.EventType(eventType)
	event.Timestamp = event.Timestamp.UTC()

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for event %s: %w", event.ID, err)
		}
	}
	return &event, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}
