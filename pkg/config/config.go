package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/platinummonkey/tally/pkg/analytics"
	"github.com/platinummonkey/tally/pkg/observability"
	"github.com/platinummonkey/tally/pkg/ratelimit"
	"github.com/platinummonkey/tally/pkg/report"
	"github.com/platinummonkey/tally/pkg/storage"
)

// EnvPrefix prefixes every environment variable read by LoadConfig
const EnvPrefix = "TALLY_"

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Analytics engine configuration
	Analytics AnalyticsConfig

	// Observability configuration
	Observability ObservabilityConfig

	// Scheduled report export
	Report report.Config

	// Ingest rate limiting
	RateLimit ratelimit.Config
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	AllowedOrigins  []string

	// Health/metrics server on a separate port for k8s probes. Empty serves
	// them on Port only.
	HealthPort string
	// HealthTimeout bounds one readiness check across all dependencies
	HealthTimeout time.Duration
}

// AnalyticsConfig tunes ingestion and queries
type AnalyticsConfig struct {
	IngestTimeout   time.Duration
	QueryTimeout    time.Duration
	Granularity     analytics.Granularity
	DefaultTopUsers int

	// Query cache; a zero TTL disables it
	CacheSize int
	CacheTTL  time.Duration

	// Usage gauge refresh (cron spec) and the window it covers
	GaugeSchedule  string
	GaugeTimeRange analytics.TimeRange
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel  observability.LogLevel
	LogFormat observability.LogFormat

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
	OTelExportInterval time.Duration
}

// LoadConfig loads configuration from environment variables. Files named in
// envFiles are read first with godotenv; variables already set win.
func LoadConfig(envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	analyticsCfg, err := loadAnalyticsConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid analytics configuration: %w", err)
	}
	obsCfg, err := loadObservabilityConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid observability configuration: %w", err)
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Analytics:     analyticsCfg,
		Observability: obsCfg,
		Report:        loadReportConfig(),
		RateLimit:     loadRateLimitConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadEnvFiles reads dotenv files. Missing files are skipped.
func loadEnvFiles(files []string) error {
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}
	return nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("HOST", "0.0.0.0"),
		Port:            getEnv("PORT", "8080"),
		ReadTimeout:     getEnvDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("MAX_BODY_BYTES", 1<<20),
		AllowedOrigins:  getEnvList("CORS_ALLOWED_ORIGINS"),
		HealthPort:      getEnv("HEALTH_PORT", ""),
		HealthTimeout:   getEnvDuration("HEALTH_TIMEOUT", 5*time.Second),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if storageType := getEnv("STORAGE_TYPE", ""); storageType != "" {
		cfg.Type = strings.ToLower(storageType)
	}

	// Filesystem config
	if fsRoot := getEnv("FILESYSTEM_ROOT", ""); fsRoot != "" {
		cfg.FilesystemRoot = fsRoot
	}

	// PostgreSQL config
	if pgURL := getEnv("POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if replicaURLs := getEnv("POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.PostgresReplicaURLs = replicaURLs
	}
	if maxConns := getEnvInt("POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}
	cfg.PostgresAutoMigrate = getEnvBool("POSTGRES_AUTO_MIGRATE", cfg.PostgresAutoMigrate)

	// Redis config
	if redisURL := getEnv("REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}
	if prefix := getEnv("REDIS_KEY_PREFIX", ""); prefix != "" {
		cfg.RedisKeyPrefix = prefix
	}

	return cfg
}

// loadAnalyticsConfig loads analytics engine settings from environment
func loadAnalyticsConfig() (AnalyticsConfig, error) {
	granularity, err := analytics.ParseGranularity(getEnv("GRANULARITY", ""))
	if err != nil {
		return AnalyticsConfig{}, err
	}
	gaugeRange, err := analytics.ParseTimeRange(getEnv("GAUGE_TIME_RANGE", ""), analytics.RangeDay)
	if err != nil {
		return AnalyticsConfig{}, err
	}
	return AnalyticsConfig{
		IngestTimeout:   getEnvDuration("INGEST_TIMEOUT", analytics.DefaultIngestTimeout),
		QueryTimeout:    getEnvDuration("QUERY_TIMEOUT", analytics.DefaultQueryTimeout),
		Granularity:     granularity,
		DefaultTopUsers: getEnvInt("DEFAULT_TOP_USERS", 10),
		CacheSize:       getEnvInt("QUERY_CACHE_SIZE", 1024),
		CacheTTL:        getEnvDuration("QUERY_CACHE_TTL", 0),
		GaugeSchedule:   getEnv("GAUGE_SCHEDULE", "@every 1m"),
		GaugeTimeRange:  gaugeRange,
	}, nil
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() (ObservabilityConfig, error) {
	level, err := observability.ParseLogLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return ObservabilityConfig{}, err
	}
	format, err := observability.ParseLogFormat(getEnv("LOG_FORMAT", "json"))
	if err != nil {
		return ObservabilityConfig{}, err
	}
	return ObservabilityConfig{
		LogLevel:           level,
		LogFormat:          format,
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("OTEL_SERVICE_NAME", "tally"),
		OTelServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("OTEL_SAMPLE_RATIO", 1.0),
		OTelExportInterval: getEnvDuration("OTEL_EXPORT_INTERVAL", 10*time.Second),
	}, nil
}

// loadReportConfig loads scheduled report settings from environment
func loadReportConfig() report.Config {
	cfg := report.DefaultConfig()
	cfg.Enabled = getEnvBool("REPORT_ENABLED", false)
	cfg.Schedule = getEnv("REPORT_SCHEDULE", cfg.Schedule)
	cfg.Format = getEnv("REPORT_FORMAT", cfg.Format)
	cfg.TimeRange = getEnv("REPORT_TIME_RANGE", cfg.TimeRange)
	cfg.TopUsers = getEnvInt("REPORT_TOP_USERS", cfg.TopUsers)
	cfg.OutputDir = getEnv("REPORT_OUTPUT_DIR", "")
	cfg.S3Prefix = getEnv("REPORT_S3_PREFIX", cfg.S3Prefix)

	cfg.S3.Bucket = getEnv("REPORT_S3_BUCKET", "")
	cfg.S3.Region = getEnv("REPORT_S3_REGION", cfg.S3.Region)
	cfg.S3.Endpoint = getEnv("REPORT_S3_ENDPOINT", "")
	cfg.S3.AccessKey = getEnv("REPORT_S3_ACCESS_KEY", "")
	cfg.S3.SecretKey = getEnv("REPORT_S3_SECRET_KEY", "")
	cfg.S3.UsePathStyle = getEnvBool("REPORT_S3_USE_PATH_STYLE", false)
	cfg.S3.CreateBucket = getEnvBool("REPORT_S3_CREATE_BUCKET", false)
	return cfg
}

// loadRateLimitConfig loads ingest rate limiting settings from environment
func loadRateLimitConfig() ratelimit.Config {
	cfg := ratelimit.DefaultConfig()
	cfg.Enabled = getEnvBool("RATE_LIMIT_ENABLED", false)
	cfg.Backend = getEnv("RATE_LIMIT_BACKEND", cfg.Backend)
	cfg.RequestsPerWindow = getEnvInt("RATE_LIMIT_REQUESTS", cfg.RequestsPerWindow)
	cfg.WindowDuration = getEnvDuration("RATE_LIMIT_WINDOW", cfg.WindowDuration)
	cfg.BurstSize = getEnvInt("RATE_LIMIT_BURST", cfg.BurstSize)
	cfg.FailOpen = getEnvBool("RATE_LIMIT_FAIL_OPEN", cfg.FailOpen)
	cfg.MaxKeys = getEnvInt("RATE_LIMIT_MAX_KEYS", cfg.MaxKeys)
	cfg.KeyPrefix = getEnv("RATE_LIMIT_KEY_PREFIX", cfg.KeyPrefix)
	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort != "" && c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}

	if err := c.Storage.Validate(); err != nil {
		return err
	}

	if c.Analytics.DefaultTopUsers < 1 || c.Analytics.DefaultTopUsers > 100 {
		return fmt.Errorf("default top users must be between 1 and 100")
	}
	if c.Analytics.CacheTTL < 0 {
		return fmt.Errorf("query cache TTL must not be negative")
	}
	if c.Analytics.CacheTTL > 0 && c.Analytics.CacheSize < 1 {
		return fmt.Errorf("query cache size must be at least 1 when the cache is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
	}

	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	if c.RateLimit.Enabled && c.RateLimit.Backend == ratelimit.BackendRedis && c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required for the redis rate limit backend")
	}

	return c.Report.Validate()
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated environment variable
func getEnvList(key string) []string {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
