//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/tally/pkg/analytics"
)

// setupPostgres starts a disposable PostgreSQL container and returns a migrated store.
func setupPostgres(t *testing.T) *EventStore {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	provider.Close()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("tally_test"),
		tcpostgres.WithUsername("tally"),
		tcpostgres.WithPassword("tally_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conns, err := NewConnectionManager(ConnectionConfig{
		PrimaryURL: connStr,
		MaxConns:   5,
		MinConns:   1,
		Timeout:    10 * time.Second,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, conns.Primary()))

	store := NewEventStore(conns)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestIntegration_EventStoreRoundTrip(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	events := []*analytics.Event{
		{ID: "e1", UserID: analytics.StringPtr("u1"), ServiceType: analytics.ServiceLLMChat, EventType: analytics.EventSuccess,
			Timestamp: now.Add(-2 * time.Hour), Metadata: analytics.Metadata{InputTokens: analytics.Int64Ptr(5), Extra: map[string]any{"model": "m"}}},
		{ID: "e2", ServiceType: analytics.ServiceTextToImage, EventType: analytics.EventError, Timestamp: now.Add(-time.Hour)},
		{ID: "e3", UserID: analytics.StringPtr("u1"), ServiceType: analytics.ServiceTextToSpeech, EventType: analytics.EventSuccess,
			Timestamp: now},
	}
	for _, e := range events {
		require.NoError(t, store.Append(ctx, e))
	}

	err := store.Append(ctx, events[0])
	assert.True(t, errors.Is(err, analytics.ErrDuplicateEvent))

	collect := func(f analytics.Filter) []string {
		var ids []string
		require.NoError(t, store.Scan(ctx, f, func(e *analytics.Event) error {
			ids = append(ids, e.ID)
			return nil
		}))
		return ids
	}

	assert.Equal(t, []string{"e1", "e2", "e3"}, collect(analytics.Filter{}))
	assert.Equal(t, []string{"e1", "e3"}, collect(analytics.UserFilter(analytics.StringPtr("u1"))))
	assert.Equal(t, []string{"e2"}, collect(analytics.UserFilter(nil)))
	assert.Equal(t, []string{"e2", "e3"}, collect(analytics.Filter{From: now.Add(-time.Hour)}))
	assert.Equal(t, []string{"e3"}, collect(analytics.Filter{}.WithService(analytics.ServiceTextToSpeech)))

	agg := analytics.NewAggregator(store)
	stats, err := agg.UserAnalytics(ctx, analytics.StringPtr("u1"), analytics.RangeWindow(analytics.RangeDay))
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(5), stats.TotalInputTokens)

	assert.NoError(t, store.Ping(ctx))
}
