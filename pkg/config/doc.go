// Package config provides application configuration management from environment variables.
//
// # Overview
//
// Every setting is read from a TALLY_-prefixed environment variable with a
// sensible default. Optional .env files are loaded first; variables already
// present in the environment take precedence.
//
// # Configuration Structure
//
// Server settings:
//
//	TALLY_HOST="0.0.0.0"
//	TALLY_PORT="8080"
//	TALLY_HEALTH_PORT="9090"          # optional separate probe/metrics port
//	TALLY_CORS_ALLOWED_ORIGINS="*"
//
// Storage settings:
//
//	TALLY_STORAGE_TYPE="postgres"     # memory, filesystem, postgres, redis
//	TALLY_FILESYSTEM_ROOT="/var/lib/tally"
//	TALLY_POSTGRES_URL="postgres://localhost/tally?sslmode=disable"
//	TALLY_POSTGRES_REPLICA_URLS="postgres://replica1/tally,postgres://replica2/tally"
//	TALLY_REDIS_URL="redis://localhost:6379/0"
//
// Analytics settings:
//
//	TALLY_QUERY_TIMEOUT="30s"
//	TALLY_INGEST_TIMEOUT="5s"
//	TALLY_GRANULARITY="auto"          # auto, hour, day
//	TALLY_QUERY_CACHE_TTL="30s"       # 0 disables the cache
//	TALLY_GAUGE_SCHEDULE="@every 1m"
//
// Observability settings:
//
//	TALLY_LOG_LEVEL="info"            # debug, info, warn, error
//	TALLY_METRICS_ENABLED="true"
//	TALLY_OTEL_ENABLED="true"
//	TALLY_OTEL_ENDPOINT="otel-collector:4317"
//
// Report export:
//
//	TALLY_REPORT_ENABLED="true"
//	TALLY_REPORT_SCHEDULE="@daily"
//	TALLY_REPORT_S3_BUCKET="tally-reports"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig(".env")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/report: Uses report configuration
//   - pkg/observability: Uses observability configuration
package config
