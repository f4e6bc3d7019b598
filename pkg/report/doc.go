// Package report exports point-in-time analytics snapshots.
//
// A Generator asks a Querier for system-wide and usage statistics and bundles
// them into a Snapshot, which renders as JSON or YAML:
//
//	gen := report.NewGenerator(aggregator, report.WithTopUsers(20))
//	snap, err := gen.Snapshot(ctx, analytics.RangeWindow(analytics.RangeDay))
//	err = report.Render(os.Stdout, snap, report.FormatYAML)
//
// An Exporter runs the same flow on a schedule and writes each snapshot to a
// local directory, an S3-compatible bucket, or both. Object keys are laid out
// as <prefix>/YYYY/MM/DD/snapshot-<timestamp>.<ext>.
package report
