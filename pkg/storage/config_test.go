package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestDefaultConfig tests the DefaultConfig function
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, TypeMemory, cfg.Type)
	assert.Equal(t, "/tmp/tally", cfg.FilesystemRoot)
	assert.Equal(t, 20, cfg.PostgresMaxConns)
	assert.Equal(t, 2, cfg.PostgresMinConns)
	assert.Equal(t, 10*time.Second, cfg.PostgresTimeout)
	assert.True(t, cfg.PostgresAutoMigrate)
	assert.Equal(t, 3, cfg.RedisMaxRetries)
	assert.Equal(t, 10, cfg.RedisPoolSize)
	assert.Equal(t, "tally", cfg.RedisKeyPrefix)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"memory", func(c *Config) {}, false},
		{"filesystem", func(c *Config) { c.Type = TypeFilesystem }, false},
		{"filesystem without root", func(c *Config) { c.Type = TypeFilesystem; c.FilesystemRoot = "" }, true},
		{"postgres", func(c *Config) { c.Type = TypePostgres; c.PostgresURL = "postgres://localhost/tally" }, false},
		{"postgres without url", func(c *Config) { c.Type = TypePostgres }, true},
		{"postgres bad pool", func(c *Config) {
			c.Type = TypePostgres
			c.PostgresURL = "postgres://localhost/tally"
			c.PostgresMinConns = 50
		}, true},
		{"redis", func(c *Config) { c.Type = TypeRedis; c.RedisURL = "redis://localhost:6379" }, false},
		{"redis without url", func(c *Config) { c.Type = TypeRedis }, true},
		{"redis without prefix", func(c *Config) { c.Type = TypeRedis; c.RedisURL = "redis://x"; c.RedisKeyPrefix = "" }, true},
		{"unknown", func(c *Config) { c.Type = "mongo" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
