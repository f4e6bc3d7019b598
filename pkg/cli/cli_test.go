package cli

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tally/pkg/analytics"
	"github.com/platinummonkey/tally/pkg/api"
	"github.com/platinummonkey/tally/pkg/storage"
)

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	prev := stdout
	stdout = buf
	t.Cleanup(func() { stdout = prev })
	return buf
}

// useFilesystemStore points direct store access at a fresh journal directory
func useFilesystemStore(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TALLY_STORAGE_TYPE", "filesystem")
	t.Setenv("TALLY_FILESYSTEM_ROOT", dir)
	return filepath.Join(dir, "missing.env")
}

const sampleEvents = `{"event_id":"e1","user_id":"alice","service_type":"llm_chat","event_type":"success","timestamp":"2024-06-15T10:00:00Z","metadata":{"input_tokens":10,"output_tokens":20}}
{"event_id":"e2","user_id":"alice","service_type":"text_to_image","event_type":"error","timestamp":"2024-06-15T10:05:00Z","metadata":{}}

{"user_id":null,"service_type":"text_to_speech","event_type":"success","timestamp":"2024-06-15T11:00:00Z","metadata":{"size_bytes":2048}}
`

func writeEvents(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRootCommandUsage(t *testing.T) {
	out := captureStdout(t)
	root := NewRootCommand()

	require.NoError(t, root.ExecuteArgs(nil))
	usage := out.String()
	assert.Contains(t, usage, "Usage: tally <command>")
	assert.Less(t, strings.Index(usage, "import"), strings.Index(usage, "report"))
	assert.Less(t, strings.Index(usage, "stats"), strings.Index(usage, "track"))

	err := root.ExecuteArgs([]string{"bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestHelpCommand(t *testing.T) {
	out := captureStdout(t)
	root := NewRootCommand()

	require.NoError(t, root.ExecuteArgs([]string{"help", "stats"}))
	assert.Contains(t, out.String(), "Usage: tally stats [flags]")
	assert.Contains(t, out.String(), "-anonymous")

	err := root.ExecuteArgs([]string{"help", "bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tally help")
}

func TestVersionCommand(t *testing.T) {
	out := captureStdout(t)
	old := Version
	Version = "1.4.0"
	defer func() { Version = old }()

	require.NoError(t, NewRootCommand().ExecuteArgs([]string{"version"}))
	assert.Equal(t, "tally 1.4.0\n", out.String())
}

func TestTrackCommand(t *testing.T) {
	store := storage.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	srv := httptest.NewServer(api.NewServer(analytics.NewTracker(store), analytics.NewAggregator(store), api.Options{Version: "test"}))
	t.Cleanup(srv.Close)

	out := captureStdout(t)
	err := NewRootCommand().ExecuteArgs([]string{
		"track", "-server", srv.URL,
		"-user", "alice", "-service", "llm_chat", "-event", "success",
		"-input-tokens", "12", "-response-time-ms", "340.5",
		"-timestamp", "2024-06-15T10:00:00Z",
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Tracked event")
	assert.Contains(t, out.String(), "2024-06-15T10:00:00Z")
	assert.Equal(t, 1, store.Len())

	stats, err := analytics.NewAggregator(store).UserAnalytics(t.Context(), analytics.StringPtr("alice"), analytics.Window{})
	require.NoError(t, err)
	assert.Equal(t, int64(12), stats.TotalInputTokens)
	assert.Equal(t, int64(0), stats.TotalOutputTokens)
}

func TestTrackCommandValidation(t *testing.T) {
	err := runTrack([]string{"-service", "llm_chat"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required")

	err = runTrack([]string{"-service", "llm_chat", "-event", "success", "-timestamp", "yesterday"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RFC 3339")
}

func TestReadEvents(t *testing.T) {
	events, err := readEvents(strings.NewReader(sampleEvents))
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, "e1", events[0].ID)
	assert.NotEmpty(t, events[2].ID)
	assert.True(t, events[2].Anonymous())
	assert.Equal(t, int64(2048), events[2].Metadata.Size())

	_, err = readEvents(strings.NewReader(`{"event_id":"x","service_type":"video","event_type":"success","timestamp":"2024-06-15T10:00:00Z"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")

	_, err = readEvents(strings.NewReader("not json\n"))
	require.Error(t, err)
}

func TestImportEventsCountsDuplicates(t *testing.T) {
	store := storage.NewMemoryStore()
	tracker := analytics.NewTracker(store)
	events, err := readEvents(strings.NewReader(sampleEvents))
	require.NoError(t, err)

	first := importEvents(t.Context(), tracker, events, 2, time.Second)
	assert.Equal(t, ImportResult{Imported: 3}, first)

	second := importEvents(t.Context(), tracker, events, 2, time.Second)
	assert.Equal(t, ImportResult{Duplicates: 3}, second)
	assert.Equal(t, 3, store.Len())
}

func TestImportThenStats(t *testing.T) {
	envFile := useFilesystemStore(t)
	file := writeEvents(t, sampleEvents)

	out := captureStdout(t)
	require.NoError(t, NewRootCommand().ExecuteArgs([]string{"import", "-file", file, "-env-file", envFile, "-log-level", "error"}))

	var result ImportResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.Equal(t, 3, result.Imported)

	out.Reset()
	require.NoError(t, NewRootCommand().ExecuteArgs([]string{"stats", "-kind", "system", "-env-file", envFile, "-range", "all"}))

	var system analytics.SystemStats
	require.NoError(t, json.Unmarshal(out.Bytes(), &system))
	assert.Equal(t, int64(3), system.TotalRequests)
	assert.Equal(t, int64(1), system.TotalUsers)
	assert.Equal(t, int64(1), system.TotalAnonymousRequests)

	out.Reset()
	require.NoError(t, NewRootCommand().ExecuteArgs([]string{"stats", "-kind", "user", "-user", "alice", "-env-file", envFile}))

	var user analytics.UserStats
	require.NoError(t, json.Unmarshal(out.Bytes(), &user))
	assert.Equal(t, int64(2), user.TotalRequests)
	assert.Equal(t, int64(1), user.SuccessfulRequests)
	assert.Equal(t, int64(10), user.TotalInputTokens)
}

func TestStatsCommandErrors(t *testing.T) {
	envFile := useFilesystemStore(t)
	captureStdout(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown kind", []string{"-kind", "weekly"}, "unknown kind"},
		{"user without selector", []string{"-kind", "user"}, "-user or -anonymous"},
		{"user and anonymous", []string{"-kind", "user", "-user", "a", "-anonymous"}, "mutually exclusive"},
		{"bad service", []string{"-kind", "service", "-service", "video"}, "service_type"},
		{"bad range", []string{"-range", "decade"}, "time_range"},
		{"bad start", []string{"-start", "monday"}, "RFC 3339"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runStats(append(tt.args, "-env-file", envFile))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStatsYAMLOutput(t *testing.T) {
	envFile := useFilesystemStore(t)
	out := captureStdout(t)

	require.NoError(t, runStats([]string{"-kind", "usage", "-env-file", envFile, "-format", "yaml"}))
	assert.Contains(t, out.String(), "time_range: week")
}

func TestReportCommandWritesFile(t *testing.T) {
	envFile := useFilesystemStore(t)
	file := writeEvents(t, sampleEvents)
	captureStdout(t)
	require.NoError(t, runImport([]string{"-file", file, "-env-file", envFile, "-log-level", "error"}))

	path := filepath.Join(t.TempDir(), "reports", "snapshot.json")
	require.NoError(t, runReport([]string{"-env-file", envFile, "-range", "all", "-out", path, "-top", "1", "-log-level", "error"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var snap struct {
		Window string                 `json:"window"`
		System *analytics.SystemStats `json:"system"`
	}
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, "all", snap.Window)
	require.NotNil(t, snap.System)
	assert.Equal(t, int64(3), snap.System.TotalRequests)
	require.Len(t, snap.System.TopUsers, 1)
}

func TestReportCommandStdout(t *testing.T) {
	envFile := useFilesystemStore(t)
	out := captureStdout(t)

	require.NoError(t, runReport([]string{"-env-file", envFile, "-format", "yaml", "-log-level", "error"}))
	assert.Contains(t, out.String(), "window: day")
	assert.Contains(t, out.String(), "generated_at:")
}

func TestReportUploadRequiresBucket(t *testing.T) {
	envFile := useFilesystemStore(t)
	captureStdout(t)

	err := runReport([]string{"-env-file", envFile, "-upload", "-log-level", "error"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TALLY_REPORT_S3_BUCKET")
}
