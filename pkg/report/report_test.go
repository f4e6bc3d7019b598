package report

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/tally/pkg/analytics"
	"github.com/platinummonkey/tally/pkg/storage"
)

var testNow = time.Date(2024, 6, 15, 12, 30, 0, 0, time.UTC)

func seededGenerator(t *testing.T) *Generator {
	t.Helper()
	store := storage.NewMemoryStore()
	clock := func() time.Time { return testNow }
	tracker := analytics.NewTracker(store, analytics.WithTrackerClock(clock))
	ctx := context.Background()
	for _, req := range []analytics.TrackRequest{
		{UserID: analytics.StringPtr("alice"), ServiceType: "llm_chat", EventType: "success"},
		{UserID: analytics.StringPtr("alice"), ServiceType: "llm_chat", EventType: "success"},
		{UserID: analytics.StringPtr("bob"), ServiceType: "text_to_image", EventType: "error"},
		{ServiceType: "text_to_speech", EventType: "success"},
	} {
		_, err := tracker.Track(ctx, req)
		require.NoError(t, err)
	}
	agg := analytics.NewAggregator(store, analytics.WithClock(clock))
	return NewGenerator(agg, WithClock(clock), WithTopUsers(1))
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"csv", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "application/yaml", FormatYAML.ContentType())
	assert.Equal(t, "json", FormatJSON.Extension())
}

func TestSnapshot(t *testing.T) {
	g := seededGenerator(t)

	snap, err := g.Snapshot(context.Background(), analytics.RangeWindow(analytics.RangeDay))
	require.NoError(t, err)

	assert.Equal(t, testNow, snap.GeneratedAt)
	assert.Equal(t, "day", snap.Window)
	assert.Equal(t, int64(4), snap.System.TotalRequests)
	assert.Equal(t, int64(2), snap.System.TotalUsers)
	require.Len(t, snap.System.TopUsers, 1)
	assert.Equal(t, "alice", snap.System.TopUsers[0].UserID)
	assert.Equal(t, int64(4), snap.Usage.RequestsByPeriod["2024-06-15-12"])
	assert.Equal(t, "2024-06-15-12", snap.Usage.PeakPeriod)
}

func TestSnapshot_QueryError(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.Close())

	_, err := NewGenerator(analytics.NewAggregator(store)).Snapshot(context.Background(), analytics.Window{})
	require.Error(t, err)
	assert.True(t, analytics.IsPersistenceError(err))
}

func TestRenderJSON(t *testing.T) {
	snap, err := seededGenerator(t).Snapshot(context.Background(), analytics.RangeWindow(analytics.RangeDay))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, snap, FormatJSON))

	var decoded Snapshot
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, snap.System.TotalRequests, decoded.System.TotalRequests)
	assert.Contains(t, buf.String(), `"generated_at": "2024-06-15T12:30:00Z"`)
}

func TestRenderYAML(t *testing.T) {
	snap, err := seededGenerator(t).Snapshot(context.Background(), analytics.RangeWindow(analytics.RangeDay))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, snap, FormatYAML))
	out := buf.String()

	assert.Contains(t, out, "total_requests: 4")
	assert.Contains(t, out, "window: day")

	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "2024-06-15T12:30:00Z", decoded["generated_at"])
	system, ok := decoded["system"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 4, system["total_requests"])
}

func TestWriteFile(t *testing.T) {
	snap, err := seededGenerator(t).Snapshot(context.Background(), analytics.Window{})
	require.NoError(t, err)
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "nested", "report.yaml")
	require.NoError(t, WriteFile(yamlPath, snap, ""))
	data, err := os.ReadFile(yamlPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "window: all")

	jsonPath := filepath.Join(dir, "report.out")
	require.NoError(t, WriteFile(jsonPath, snap, FormatJSON))
	data, err = os.ReadFile(jsonPath)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))

	assert.Error(t, WriteFile(filepath.Join(dir, "report.csv"), snap, ""))
}

func TestObjectKey(t *testing.T) {
	snap := &Snapshot{GeneratedAt: testNow}

	assert.Equal(t, "reports/2024/06/15/snapshot-20240615T123000Z.json", ObjectKey("/reports/", snap, FormatJSON))
	assert.Equal(t, "2024/06/15/snapshot-20240615T123000Z.yaml", ObjectKey("", snap, FormatYAML))
}
