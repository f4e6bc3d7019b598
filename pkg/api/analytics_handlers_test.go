package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tally/pkg/analytics"
	"github.com/platinummonkey/tally/pkg/storage"
)

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

type testServer struct {
	server *Server
	store  *storage.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	clock := func() time.Time { return testNow }
	tracker := analytics.NewTracker(store, analytics.WithTrackerClock(clock))
	agg := analytics.NewAggregator(store, analytics.WithClock(clock))
	return &testServer{server: NewServer(tracker, agg, Options{Version: "test"}), store: store}
}

func (ts *testServer) do(t *testing.T, method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.server.ServeHTTP(w, req)
	return w
}

func (ts *testServer) track(t *testing.T, body string, headers map[string]string) analytics.TrackResponse {
	t.Helper()
	w := ts.do(t, "POST", "/analytics/track", body, headers)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp analytics.TrackResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestTrack(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.track(t, `{"user_id":"alice","service_type":"llm_chat","event_type":"success","metadata":{"input_tokens":10,"output_tokens":20}}`, nil)

	assert.NotEmpty(t, resp.EventID)
	assert.True(t, resp.Timestamp.Equal(testNow))
	assert.Equal(t, "Event tracked successfully", resp.Message)
	assert.Equal(t, 1, ts.store.Len())
}

func TestTrack_HeaderOverridesBodyUser(t *testing.T) {
	ts := newTestServer(t)

	ts.track(t, `{"user_id":"spoofed","service_type":"llm_chat","event_type":"request"}`,
		map[string]string{UserIDHeader: "alice"})

	w := ts.do(t, "GET", "/analytics/user?user_id=alice", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), decode[analytics.UserStats](t, w).TotalRequests)

	w = ts.do(t, "GET", "/analytics/user?user_id=spoofed", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(0), decode[analytics.UserStats](t, w).TotalRequests)
}

func TestTrack_Invalid(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed JSON", `{`},
		{"unknown service", `{"service_type":"video","event_type":"request"}`},
		{"unknown event", `{"service_type":"llm_chat","event_type":"retry"}`},
		{"bad timestamp", `{"service_type":"llm_chat","event_type":"request","timestamp":"yesterday"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, "POST", "/analytics/track", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, decode[map[string]string](t, w)["error"])
		})
	}
	assert.Equal(t, 0, ts.store.Len())
}

func TestTrack_BodyTooLarge(t *testing.T) {
	store := storage.NewMemoryStore()
	server := NewServer(analytics.NewTracker(store), analytics.NewAggregator(store), Options{MaxBodyBytes: 16})

	body := fmt.Sprintf(`{"service_type":"llm_chat","event_type":"request","metadata":{"prompt":%q}}`, strings.Repeat("x", 64))
	w := httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest("POST", "/analytics/track", strings.NewReader(body)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, 0, store.Len())
}

func TestUserAnalytics(t *testing.T) {
	ts := newTestServer(t)
	ts.track(t, `{"user_id":"alice","service_type":"llm_chat","event_type":"success","metadata":{"input_tokens":5,"output_tokens":7}}`, nil)
	ts.track(t, `{"user_id":"alice","service_type":"text_to_image","event_type":"error"}`, nil)
	ts.track(t, `{"service_type":"text_to_speech","event_type":"success"}`, nil)

	t.Run("explicit user", func(t *testing.T) {
		w := ts.do(t, "GET", "/analytics/user?user_id=alice", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		stats := decode[analytics.UserStats](t, w)
		require.NotNil(t, stats.UserID)
		assert.Equal(t, "alice", *stats.UserID)
		assert.Equal(t, int64(2), stats.TotalRequests)
		assert.Equal(t, int64(12), stats.TotalTokens)
	})

	t.Run("header user", func(t *testing.T) {
		w := ts.do(t, "GET", "/analytics/user", "", map[string]string{UserIDHeader: "alice"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int64(2), decode[analytics.UserStats](t, w).TotalRequests)
	})

	t.Run("anonymous", func(t *testing.T) {
		w := ts.do(t, "GET", "/analytics/user?anonymous=true", "", map[string]string{UserIDHeader: "alice"})
		require.Equal(t, http.StatusOK, w.Code)
		stats := decode[analytics.UserStats](t, w)
		assert.Nil(t, stats.UserID)
		assert.Equal(t, int64(1), stats.TotalRequests)
	})

	t.Run("no selector means anonymous", func(t *testing.T) {
		w := ts.do(t, "GET", "/analytics/user", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int64(1), decode[analytics.UserStats](t, w).TotalRequests)
	})

	t.Run("conflicting selectors", func(t *testing.T) {
		w := ts.do(t, "GET", "/analytics/user?user_id=alice&anonymous=true", "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		w := ts.do(t, "GET", "/analytics/user?user_id=nobody", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		stats := decode[analytics.UserStats](t, w)
		assert.Equal(t, int64(0), stats.TotalRequests)
		assert.Equal(t, 0.0, stats.SuccessRate)
	})
}

func TestUserAnalytics_Windows(t *testing.T) {
	ts := newTestServer(t)
	old := testNow.Add(-48 * time.Hour).Format(time.RFC3339)
	ts.track(t, fmt.Sprintf(`{"user_id":"alice","service_type":"llm_chat","event_type":"request","timestamp":%q}`, old), nil)
	ts.track(t, `{"user_id":"alice","service_type":"llm_chat","event_type":"request"}`, nil)

	tests := []struct {
		name     string
		query    string
		status   int
		expected int64
	}{
		{"default is all", "", http.StatusOK, 2},
		{"day", "&time_range=day", http.StatusOK, 1},
		{"week", "&time_range=week", http.StatusOK, 2},
		{"explicit start", "&start_date=" + testNow.Add(-time.Hour).Format(time.RFC3339), http.StatusOK, 1},
		{"explicit end", "&time_range=day&end_date=" + testNow.Add(-24*time.Hour).Format(time.RFC3339), http.StatusOK, 1},
		{"unknown range", "&time_range=decade", http.StatusBadRequest, 0},
		{"bad start", "&start_date=monday", http.StatusBadRequest, 0},
		{"inverted bounds", "&start_date=2024-06-15T00:00:00Z&end_date=2024-06-14T00:00:00Z", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, "GET", "/analytics/user?user_id=alice"+tt.query, "", nil)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.expected, decode[analytics.UserStats](t, w).TotalRequests)
			}
		})
	}
}

func TestMyAnalytics(t *testing.T) {
	ts := newTestServer(t)
	ts.track(t, `{"service_type":"llm_chat","event_type":"success"}`, map[string]string{UserIDHeader: "bob"})

	w := ts.do(t, "GET", "/analytics/user/me", "", map[string]string{UserIDHeader: "bob"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), decode[analytics.UserStats](t, w).SuccessfulRequests)

	w = ts.do(t, "GET", "/analytics/user/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServiceAnalytics(t *testing.T) {
	ts := newTestServer(t)
	ts.track(t, `{"user_id":"alice","service_type":"text_to_image","event_type":"success","metadata":{"size_bytes":2048}}`, nil)
	ts.track(t, `{"service_type":"text_to_image","event_type":"error"}`, nil)

	w := ts.do(t, "GET", "/analytics/service/text_to_image", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[analytics.ServiceStats](t, w)
	assert.Equal(t, analytics.ServiceTextToImage, stats.ServiceType)
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.UniqueUsers)
	assert.Equal(t, int64(1), stats.AnonymousUsers)
	assert.Equal(t, int64(2048), stats.ServiceMetrics.TotalStorageBytes)

	w = ts.do(t, "GET", "/analytics/service/video", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSystemAnalytics(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 3; i++ {
		ts.track(t, `{"user_id":"alice","service_type":"llm_chat","event_type":"request"}`, nil)
	}
	ts.track(t, `{"user_id":"bob","service_type":"text_to_speech","event_type":"request"}`, nil)
	ts.track(t, `{"service_type":"text_to_speech","event_type":"request"}`, nil)

	w := ts.do(t, "GET", "/analytics/system?top_users_limit=1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[analytics.SystemStats](t, w)
	assert.Equal(t, int64(5), stats.TotalRequests)
	assert.Equal(t, int64(2), stats.TotalUsers)
	assert.Equal(t, int64(1), stats.TotalAnonymousRequests)
	require.NotNil(t, stats.StartDate)
	require.NotNil(t, stats.EndDate)
	assert.True(t, testNow.Equal(*stats.StartDate))
	assert.True(t, testNow.Equal(*stats.EndDate))
	require.Len(t, stats.TopUsers, 1)
	assert.Equal(t, "alice", stats.TopUsers[0].UserID)
	assert.Equal(t, int64(3), stats.TopUsers[0].RequestCount)

	for _, q := range []string{"0", "101", "ten"} {
		w = ts.do(t, "GET", "/analytics/system?top_users_limit="+q, "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestUsageStats(t *testing.T) {
	ts := newTestServer(t)
	ts.track(t, `{"user_id":"alice","service_type":"llm_chat","event_type":"success"}`, nil)
	ts.track(t, `{"user_id":"bob","service_type":"llm_chat","event_type":"error"}`, nil)

	w := ts.do(t, "GET", "/analytics/usage", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[analytics.UsageStats](t, w)
	assert.Equal(t, "week", stats.TimeRange)
	assert.Nil(t, stats.UserID)
	assert.Equal(t, int64(2), stats.RequestsByService[analytics.ServiceLLMChat])

	w = ts.do(t, "GET", "/analytics/usage?user_id=alice&time_range=day", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats = decode[analytics.UsageStats](t, w)
	require.NotNil(t, stats.UserID)
	assert.Equal(t, int64(1), stats.RequestsByService[analytics.ServiceLLMChat])
}

func TestUsageStats_GatewayUser(t *testing.T) {
	ts := newTestServer(t)
	ts.track(t, `{"user_id":"alice","service_type":"llm_chat","event_type":"success"}`, nil)
	ts.track(t, `{"user_id":"bob","service_type":"llm_chat","event_type":"error"}`, nil)

	t.Run("header selects the caller", func(t *testing.T) {
		w := ts.do(t, "GET", "/analytics/usage", "", map[string]string{UserIDHeader: "alice"})
		require.Equal(t, http.StatusOK, w.Code)
		stats := decode[analytics.UsageStats](t, w)
		require.NotNil(t, stats.UserID)
		assert.Equal(t, "alice", *stats.UserID)
		assert.Equal(t, int64(1), stats.RequestsByService[analytics.ServiceLLMChat])
	})

	t.Run("user_id wins over header", func(t *testing.T) {
		w := ts.do(t, "GET", "/analytics/usage?user_id=bob", "", map[string]string{UserIDHeader: "alice"})
		require.Equal(t, http.StatusOK, w.Code)
		stats := decode[analytics.UsageStats](t, w)
		require.NotNil(t, stats.UserID)
		assert.Equal(t, "bob", *stats.UserID)
		assert.Equal(t, int64(1), stats.RequestsByService[analytics.ServiceLLMChat])
	})
}

type failingQuerier struct {
	err error
}

func (f failingQuerier) UserAnalytics(context.Context, *string, analytics.Window) (*analytics.UserStats, error) {
	return nil, f.err
}

func (f failingQuerier) ServiceAnalytics(context.Context, analytics.ServiceType, analytics.Window) (*analytics.ServiceStats, error) {
	return nil, f.err
}

func (f failingQuerier) SystemAnalytics(context.Context, analytics.Window, int) (*analytics.SystemStats, error) {
	return nil, f.err
}

func (f failingQuerier) UsageStats(context.Context, *string, analytics.Window) (*analytics.UsageStats, error) {
	return nil, f.err
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &analytics.ValidationError{Field: "time_range", Reason: "bad"}, http.StatusBadRequest},
		{"timeout", &analytics.PersistenceError{Op: "scan", Timeout: true, Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{"store down", &analytics.PersistenceError{Op: "scan", Err: analytics.ErrStoreClosed}, http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer(nil, failingQuerier{err: tt.err}, Options{})
			w := httptest.NewRecorder()
			server.ServeHTTP(w, httptest.NewRequest("GET", "/analytics/system", nil))

			assert.Equal(t, tt.status, w.Code)
			assert.NotEmpty(t, decode[map[string]string](t, w)["error"])
		})
	}
}

func TestTrack_StoreClosed(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.store.Close())

	w := ts.do(t, "POST", "/analytics/track", `{"service_type":"llm_chat","event_type":"request"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
