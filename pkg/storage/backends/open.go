// Package backends opens the event store selected by a storage.Config.
package backends

import (
	"context"
	"fmt"

	"github.com/platinummonkey/tally/pkg/analytics"
	"github.com/platinummonkey/tally/pkg/observability"
	"github.com/platinummonkey/tally/pkg/storage"
	"github.com/platinummonkey/tally/pkg/storage/postgres"
	"github.com/platinummonkey/tally/pkg/storage/redisstore"
)

// Open validates cfg and constructs the configured backend
func Open(ctx context.Context, cfg storage.Config, logger *observability.Logger) (analytics.EventStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid storage config: %w", err)
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	logger = logger.WithField("storage_type", cfg.Type)

	switch cfg.Type {
	case storage.TypeFilesystem:
		store, err := storage.NewFileSystemStore(cfg.FilesystemRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to open filesystem store: %w", err)
		}
		logger.WithFields(map[string]interface{}{
			"root":   cfg.FilesystemRoot,
			"events": store.Len(),
		}).Info("filesystem event store loaded")
		return store, nil

	case storage.TypePostgres:
		conns, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
			PrimaryURL:  cfg.PostgresURL,
			ReplicaURLs: postgres.ParseReplicaURLs(cfg.PostgresReplicaURLs),
			MaxConns:    cfg.PostgresMaxConns,
			MinConns:    cfg.PostgresMinConns,
			Timeout:     cfg.PostgresTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := postgres.Migrate(ctx, conns.Primary()); err != nil {
				conns.Close()
				return nil, err
			}
		}
		return postgres.NewEventStore(conns), nil

	case storage.TypeRedis:
		store, err := redisstore.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.WithField("prefix", cfg.RedisKeyPrefix).Info("redis event store connected")
		return store, nil

	default:
		return storage.NewMemoryStore(), nil
	}
}
