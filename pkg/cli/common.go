package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/platinummonkey/tally/pkg/analytics"
	"github.com/platinummonkey/tally/pkg/client"
	"github.com/platinummonkey/tally/pkg/config"
	"github.com/platinummonkey/tally/pkg/observability"
	"github.com/platinummonkey/tally/pkg/report"
	"github.com/platinummonkey/tally/pkg/storage/backends"
)

// queryFlags are shared by the commands that read analytics
type queryFlags struct {
	server    *string
	envFile   *string
	timeRange *string
	start     *string
	end       *string
	format    *string
	logLevel  *string
}

func addQueryFlags(fs *flag.FlagSet, defaultRange string) queryFlags {
	return queryFlags{
		server:    fs.String("server", "", "Tally server URL; empty queries the configured store directly"),
		envFile:   fs.String("env-file", ".env", "Env file with TALLY_* settings for direct store access"),
		timeRange: fs.String("range", defaultRange, "Time range: hour, day, week, month, year, all"),
		start:     fs.String("start", "", "Explicit window start (RFC 3339)"),
		end:       fs.String("end", "", "Explicit window end (RFC 3339)"),
		format:    fs.String("format", "json", "Output format: json or yaml"),
		logLevel:  fs.String("log-level", "info", "Log level"),
	}
}

func (q queryFlags) window() (analytics.Window, error) {
	tr, err := analytics.ParseTimeRange(*q.timeRange, analytics.RangeAll)
	if err != nil {
		return analytics.Window{}, err
	}
	w := analytics.Window{Range: tr}
	if w.Start, err = parseTimeFlag("start", *q.start); err != nil {
		return analytics.Window{}, err
	}
	if w.End, err = parseTimeFlag("end", *q.end); err != nil {
		return analytics.Window{}, err
	}
	return w, nil
}

func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, fmt.Errorf("invalid -%s %q: expected RFC 3339", name, value)
	}
	return &ts, nil
}

// querier returns a remote client when -server is set, otherwise an
// Aggregator over the configured store. The returned func releases it.
func (q queryFlags) querier(ctx context.Context) (analytics.Querier, func(), error) {
	if *q.server != "" {
		return client.New(client.Config{BaseURL: *q.server}), func() {}, nil
	}
	store, cfg, err := openStore(ctx, *q.envFile, *q.logLevel)
	if err != nil {
		return nil, nil, err
	}
	agg := analytics.NewAggregator(store,
		analytics.WithQueryTimeout(cfg.Analytics.QueryTimeout),
		analytics.WithGranularity(cfg.Analytics.Granularity),
	)
	return agg, func() { _ = store.Close() }, nil
}

// openStore loads TALLY_* configuration and opens the configured backend
func openStore(ctx context.Context, envFile, logLevel string) (analytics.EventStore, *config.Config, error) {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return nil, nil, err
	}
	level, err := observability.ParseLogLevel(logLevel)
	if err != nil {
		level = observability.InfoLevel
	}
	store, err := backends.Open(ctx, cfg.Storage, observability.NewLogger(level, os.Stderr))
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}

// printResult writes v to stdout in the requested format
func printResult(v interface{}, format string) error {
	f, err := report.ParseFormat(format)
	if err != nil {
		return err
	}
	data, err := report.Marshal(v, f)
	if err != nil {
		return err
	}
	_, err = stdout.Write(data)
	return err
}
