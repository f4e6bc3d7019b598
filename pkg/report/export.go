package report

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/platinummonkey/tally/pkg/analytics"
	"github.com/platinummonkey/tally/pkg/observability"
)

// Config controls scheduled report exports
type Config struct {
	Enabled  bool
	Schedule string // cron spec
	Format   string
	// TimeRange is the symbolic window each snapshot covers
	TimeRange string
	TopUsers  int
	// OutputDir receives a copy of every report when set
	OutputDir string
	S3Prefix  string
	S3        S3Config
}

// DefaultConfig returns the defaults used when nothing is configured
func DefaultConfig() Config {
	return Config{
		Schedule:  "@daily",
		Format:    string(FormatJSON),
		TimeRange: string(analytics.RangeDay),
		TopUsers:  10,
		S3Prefix:  "reports",
		S3:        S3Config{Region: "us-east-1"},
	}
}

// Validate checks the export settings when exports are enabled
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if _, err := ParseFormat(c.Format); err != nil {
		return err
	}
	if _, err := analytics.ParseTimeRange(c.TimeRange, analytics.RangeDay); err != nil {
		return err
	}
	if c.Schedule == "" {
		return fmt.Errorf("report schedule is required when reports are enabled")
	}
	if c.OutputDir == "" && c.S3.Bucket == "" {
		return fmt.Errorf("report output directory or S3 bucket is required when reports are enabled")
	}
	return nil
}

// Exporter generates a snapshot and ships it to every configured destination
type Exporter struct {
	generator *Generator
	uploader  Uploader
	cfg       Config
	format    Format
	window    analytics.Window
	logger    *observability.Logger
}

// NewExporter creates an exporter. uploader may be nil when only OutputDir is used.
func NewExporter(g *Generator, uploader Uploader, cfg Config, logger *observability.Logger) (*Exporter, error) {
	format, err := ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	tr, err := analytics.ParseTimeRange(cfg.TimeRange, analytics.RangeDay)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Exporter{
		generator: g,
		uploader:  uploader,
		cfg:       cfg,
		format:    format,
		window:    analytics.RangeWindow(tr),
		logger:    logger,
	}, nil
}

// Export writes one snapshot and returns the object key it was stored under
func (e *Exporter) Export(ctx context.Context) (string, error) {
	snap, err := e.generator.Snapshot(ctx, e.window)
	if err != nil {
		return "", err
	}
	key := ObjectKey(e.cfg.S3Prefix, snap, e.format)

	if e.cfg.OutputDir != "" {
		path := filepath.Join(e.cfg.OutputDir, filepath.FromSlash(key))
		if err := WriteFile(path, snap, e.format); err != nil {
			return "", err
		}
	}
	if e.uploader != nil {
		body, err := Encode(snap, e.format)
		if err != nil {
			return "", err
		}
		if err := e.uploader.Put(ctx, key, body, e.format.ContentType()); err != nil {
			return "", err
		}
	}

	e.logger.WithWindow(e.window).WithFields(map[string]interface{}{
		"key":            key,
		"total_requests": snap.System.TotalRequests,
	}).Info("analytics report exported")
	return key, nil
}
