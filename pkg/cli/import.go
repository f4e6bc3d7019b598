package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tally/pkg/analytics"
	"github.com/platinummonkey/tally/pkg/async"
)

const maxImportLine = 1 << 20

func newImportCommand() *Command {
	cmd := &Command{
		Name:        "import",
		Description: "Bulk-load events from a JSON-lines file into the configured store",
		Flags:       flag.NewFlagSet("import", flag.ContinueOnError),
		Run:         runImport,
	}

	cmd.Flags.String("file", "", "JSON-lines file of events ('-' for stdin)")
	cmd.Flags.String("env-file", ".env", "Env file with TALLY_* settings")
	cmd.Flags.Int("workers", 8, "Concurrent appends")
	cmd.Flags.Duration("timeout", 5*time.Second, "Per-event append timeout")
	cmd.Flags.String("log-level", "info", "Log level")

	return cmd
}

// ImportResult summarizes a bulk load
type ImportResult struct {
	Imported   int `json:"imported"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

func runImport(args []string) error {
	cmd := newImportCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}
	fs := cmd.Flags

	path := fs.Lookup("file").Value.String()
	if path == "" {
		return fmt.Errorf("file is required")
	}
	workers := fs.Lookup("workers").Value.(flag.Getter).Get().(int)
	timeout := fs.Lookup("timeout").Value.(flag.Getter).Get().(time.Duration)
	logLevel := fs.Lookup("log-level").Value.String()
	logger := newLogger(logLevel)

	var in io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		in = f
	}

	events, err := readEvents(in)
	if err != nil {
		return err
	}
	logger.Infof("Read %d events from %s", len(events), path)

	ctx := context.Background()
	store, _, err := openStore(ctx, fs.Lookup("env-file").Value.String(), logLevel)
	if err != nil {
		return err
	}
	defer store.Close()

	tracker := analytics.NewTracker(store, analytics.WithIngestTimeout(0))
	result := importEvents(ctx, tracker, events, workers, timeout)
	logger.Infof("Imported %d events (%d duplicates skipped, %d failed)", result.Imported, result.Duplicates, result.Failed)

	if err := printResult(result, "json"); err != nil {
		return err
	}
	if result.Failed > 0 {
		return fmt.Errorf("%d events failed to import", result.Failed)
	}
	return nil
}

// readEvents decodes one event per non-empty line. Events without an id get one.
func readEvents(r io.Reader) ([]*analytics.Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxImportLine)

	var events []*analytics.Event
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var e analytics.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("line %d: invalid event: %w", line, err)
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		e.Timestamp = e.Timestamp.UTC()
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, &e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}

func importEvents(ctx context.Context, tracker *analytics.Tracker, events []*analytics.Event, workers int, timeout time.Duration) ImportResult {
	errs := async.Batch(ctx, events, workers, "import", timeout, func(ctx context.Context, e *analytics.Event) error {
		return tracker.Append(ctx, e)
	})

	result := ImportResult{Imported: len(events)}
	for _, err := range errs {
		result.Imported--
		if errors.Is(err, analytics.ErrDuplicateEvent) {
			result.Duplicates++
		} else {
			result.Failed++
		}
	}
	return result
}
