package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tally/pkg/analytics"
)

var _ analytics.EventStore = (*EventStore)(nil)

var eventColumns = []string{"event_id", "user_id", "service_type", "event_type", "timestamp", "metadata"}

func newMockStore(t *testing.T) (*EventStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewEventStore(NewConnectionManagerFromDB(nil, db)), mock
}

func TestMigrate(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS analytics_events").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_Error(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS analytics_events").WillReturnError(errors.New("permission denied"))

	err := Migrate(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestEventStore_Append(t *testing.T) {
	ts := time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)

	t.Run("identified user", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO analytics_events").
			WithArgs("evt-1", "user-1", "llm_chat", "success", ts, []byte(`{"input_tokens":10}`)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.Append(context.Background(), &analytics.Event{
			ID:          "evt-1",
			UserID:      analytics.StringPtr("user-1"),
			ServiceType: analytics.ServiceLLMChat,
			EventType:   analytics.EventSuccess,
			Timestamp:   ts,
			Metadata:    analytics.Metadata{InputTokens: analytics.Int64Ptr(10)},
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("anonymous user is NULL", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO analytics_events").
			WithArgs("evt-2", nil, "text_to_image", "error", ts, []byte(`{}`)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.Append(context.Background(), &analytics.Event{
			ID:          "evt-2",
			ServiceType: analytics.ServiceTextToImage,
			EventType:   analytics.EventError,
			Timestamp:   ts,
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate id", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO analytics_events").
			WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

		err := store.Append(context.Background(), &analytics.Event{
			ID: "evt-1", ServiceType: analytics.ServiceLLMChat, EventType: analytics.EventSuccess, Timestamp: ts,
		})
		assert.ErrorIs(t, err, analytics.ErrDuplicateEvent)
	})

	t.Run("other failure", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO analytics_events").WillReturnError(errors.New("connection reset"))

		err := store.Append(context.Background(), &analytics.Event{
			ID: "evt-1", ServiceType: analytics.ServiceLLMChat, EventType: analytics.EventSuccess, Timestamp: ts,
		})
		require.Error(t, err)
		assert.NotErrorIs(t, err, analytics.ErrDuplicateEvent)
		assert.Contains(t, err.Error(), "failed to insert event")
	})
}

func TestBuildScanQuery(t *testing.T) {
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	svc := analytics.ServiceTextToSpeech

	tests := []struct {
		name      string
		filter    analytics.Filter
		wantWhere string
		wantArgs  []interface{}
	}{
		{
			name:      "everything",
			filter:    analytics.Filter{},
			wantWhere: "WHERE 1=1 ORDER BY",
			wantArgs:  []interface{}{},
		},
		{
			name:      "anonymous with service",
			filter:    analytics.Filter{Anonymous: true, ServiceType: &svc},
			wantWhere: "WHERE 1=1 AND user_id IS NULL AND service_type = $1 ORDER BY",
			wantArgs:  []interface{}{"text_to_speech"},
		},
		{
			name:      "user with bounds",
			filter:    analytics.UserFilter(analytics.StringPtr("u1")).WithBounds(from, to),
			wantWhere: "WHERE 1=1 AND user_id = $1 AND timestamp >= $2 AND timestamp <= $3 ORDER BY",
			wantArgs:  []interface{}{"u1", from, to},
		},
		{
			name:      "lower bound only",
			filter:    analytics.Filter{From: from},
			wantWhere: "WHERE 1=1 AND timestamp >= $1 ORDER BY",
			wantArgs:  []interface{}{from},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildScanQuery(tt.filter)
			assert.Contains(t, query, tt.wantWhere)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestEventStore_Scan(t *testing.T) {
	ts := time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows(eventColumns).
		AddRow("e1", "user-1", "llm_chat", "success", ts, []byte(`{"input_tokens":10,"output_tokens":"20","model":"m"}`)).
		AddRow("e2", nil, "text_to_image", "error", ts.Add(time.Minute), []byte(`{}`))
	mock.ExpectQuery(regexp.QuoteMeta("FROM analytics_events WHERE 1=1 AND timestamp >= $1")).
		WithArgs(ts).
		WillReturnRows(rows)

	var got []*analytics.Event
	err := store.Scan(context.Background(), analytics.Filter{From: ts}, func(e *analytics.Event) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "e1", got[0].ID)
	require.NotNil(t, got[0].UserID)
	assert.Equal(t, "user-1", *got[0].UserID)
	assert.Equal(t, int64(10), got[0].Metadata.Input())
	assert.Equal(t, int64(20), got[0].Metadata.Output())
	assert.Equal(t, "m", got[0].Metadata.Extra["model"])

	assert.Nil(t, got[1].UserID)
	assert.Equal(t, analytics.ServiceTextToImage, got[1].ServiceType)
	assert.Equal(t, analytics.EventError, got[1].EventType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStore_ScanStopsOnVisitError(t *testing.T) {
	ts := time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows(eventColumns).
		AddRow("e1", "u", "llm_chat", "success", ts, []byte(`{}`)).
		AddRow("e2", "u", "llm_chat", "success", ts, []byte(`{}`))
	mock.ExpectQuery("FROM analytics_events").WillReturnRows(rows)

	stop := errors.New("stop")
	calls := 0
	err := store.Scan(context.Background(), analytics.Filter{}, func(*analytics.Event) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestEventStore_ScanErrors(t *testing.T) {
	t.Run("query failure", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("FROM analytics_events").WillReturnError(errors.New("timeout"))

		err := store.Scan(context.Background(), analytics.Filter{}, func(*analytics.Event) error { return nil })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to query events")
	})

	t.Run("bad metadata", func(t *testing.T) {
		store, mock := newMockStore(t)
		rows := sqlmock.NewRows(eventColumns).
			AddRow("e1", "u", "llm_chat", "success", time.Now(), []byte(`not json`))
		mock.ExpectQuery("FROM analytics_events").WillReturnRows(rows)

		err := store.Scan(context.Background(), analytics.Filter{}, func(*analytics.Event) error { return nil })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to unmarshal metadata for event e1")
	})

	t.Run("row error", func(t *testing.T) {
		store, mock := newMockStore(t)
		rows := sqlmock.NewRows(eventColumns).
			AddRow("e1", "u", "llm_chat", "success", time.Now(), []byte(`{}`)).
			RowError(0, errors.New("network"))
		mock.ExpectQuery("FROM analytics_events").WillReturnRows(rows)

		err := store.Scan(context.Background(), analytics.Filter{}, func(*analytics.Event) error { return nil })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error iterating events")
	})
}

func TestEventStore_PingAndClose(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectPing()
	mock.ExpectClose()

	assert.NoError(t, store.Ping(context.Background()))
	assert.NoError(t, store.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
