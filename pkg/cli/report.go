package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/tally/pkg/config"
	"github.com/platinummonkey/tally/pkg/report"
)

func newReportCommand() *Command {
	cmd := &Command{
		Name:        "report",
		Description: "Generate a system analytics snapshot",
		Flags:       flag.NewFlagSet("report", flag.ContinueOnError),
		Run:         runReport,
	}

	cmd.Flags.String("out", "", "Write the snapshot to this file instead of stdout")
	cmd.Flags.Int("top", 10, "Number of top users in the snapshot")
	cmd.Flags.Bool("upload", false, "Upload the snapshot to the configured S3 bucket")

	return cmd
}

func runReport(args []string) error {
	cmd := newReportCommand()
	qf := addQueryFlags(cmd.Flags, "day")
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}
	fs := cmd.Flags

	out := fs.Lookup("out").Value.String()
	top := fs.Lookup("top").Value.(flag.Getter).Get().(int)
	upload := fs.Lookup("upload").Value.(flag.Getter).Get().(bool)
	logger := newLogger(*qf.logLevel)

	format, err := report.ParseFormat(*qf.format)
	if err != nil {
		return err
	}
	w, err := qf.window()
	if err != nil {
		return err
	}

	ctx := context.Background()
	q, closer, err := qf.querier(ctx)
	if err != nil {
		return err
	}
	defer closer()

	snap, err := report.NewGenerator(q, report.WithTopUsers(top)).Snapshot(ctx, w)
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	if out != "" {
		if err := report.WriteFile(out, snap, format); err != nil {
			return err
		}
		logger.Infof("Wrote report to %s", out)
	} else if !upload {
		if err := report.Render(stdout, snap, format); err != nil {
			return err
		}
	}

	if upload {
		cfg, err := config.LoadConfig(*qf.envFile)
		if err != nil {
			return err
		}
		if cfg.Report.S3.Bucket == "" {
			return fmt.Errorf("TALLY_REPORT_S3_BUCKET is required for -upload")
		}
		uploader, err := report.NewS3Uploader(ctx, cfg.Report.S3)
		if err != nil {
			return err
		}
		body, err := report.Encode(snap, format)
		if err != nil {
			return err
		}
		key := report.ObjectKey(cfg.Report.S3Prefix, snap, format)
		if err := uploader.Put(ctx, key, body, format.ContentType()); err != nil {
			return err
		}
		logger.Infof("Uploaded report to s3://%s/%s", cfg.Report.S3.Bucket, key)
	}
	return nil
}
