package storage

import (
	"fmt"
	"time"
)

// Backend types accepted in Config.Type
const (
	TypeMemory     = "memory"
	TypeFilesystem = "filesystem"
	TypePostgres   = "postgres"
	TypeRedis      = "redis"
)

// Config for storage backend
type Config struct {
	Type string // "memory", "filesystem", "postgres", "redis"

	// Filesystem config
	FilesystemRoot string

	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs string // comma-separated
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration
	PostgresAutoMigrate bool

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
	RedisKeyPrefix  string
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:                TypeMemory,
		FilesystemRoot:      "/tmp/tally",
		PostgresMaxConns:    20,
		PostgresMinConns:    2,
		PostgresTimeout:     10 * time.Second,
		PostgresAutoMigrate: true,
		RedisDB:             0,
		RedisMaxRetries:     3,
		RedisPoolSize:       10,
		RedisKeyPrefix:      "tally",
	}
}

// Validate checks that the selected backend has what it needs
func (c Config) Validate() error {
	switch c.Type {
	case TypeMemory:
	case TypeFilesystem:
		if c.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem storage")
		}
	case TypePostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
		if c.PostgresMaxConns < 1 {
			return fmt.Errorf("postgres max connections must be at least 1")
		}
		if c.PostgresMinConns < 0 || c.PostgresMinConns > c.PostgresMaxConns {
			return fmt.Errorf("postgres min connections must be between 0 and max connections")
		}
	case TypeRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis storage")
		}
		if c.RedisKeyPrefix == "" {
			return fmt.Errorf("redis key prefix must not be empty")
		}
	default:
		return fmt.Errorf("unknown storage type %q (expected memory, filesystem, postgres or redis)", c.Type)
	}
	return nil
}
