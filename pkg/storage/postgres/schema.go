package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// TableName is the table holding analytics events
const TableName = "analytics_events"

const schema = `
	CREATE TABLE IF NOT EXISTS analytics_events (
		event_id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(255),
		service_type VARCHAR(32) NOT NULL,
		event_type VARCHAR(32) NOT NULL,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb
	);

	CREATE INDEX IF NOT EXISTS idx_analytics_events_user_id ON analytics_events(user_id);
	CREATE INDEX IF NOT EXISTS idx_analytics_events_service_type ON analytics_events(service_type);
	CREATE INDEX IF NOT EXISTS idx_analytics_events_event_type ON analytics_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_analytics_events_timestamp ON analytics_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_analytics_events_user_time ON analytics_events(user_id, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_analytics_events_service_time ON analytics_events(service_type, timestamp DESC);
`

// Migrate creates the events table and its indexes if they don't exist
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure %s table: %w", TableName, err)
	}
	return nil
}
