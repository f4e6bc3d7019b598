package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/tally/pkg/analytics"
)

func newStatsCommand() *Command {
	cmd := &Command{
		Name:        "stats",
		Description: "Query user, service, system or usage analytics",
		Flags:       flag.NewFlagSet("stats", flag.ContinueOnError),
		Run:         runStats,
	}

	cmd.Flags.String("kind", "system", "Query kind: system, user, service, usage")
	cmd.Flags.String("user", "", "User ID for user and usage queries")
	cmd.Flags.Bool("anonymous", false, "Select anonymous traffic for user and usage queries")
	cmd.Flags.String("service", "", "Service type for service queries")
	cmd.Flags.Int("top", 10, "Number of top users in system queries")

	return cmd
}

func runStats(args []string) error {
	cmd := newStatsCommand()
	qf := addQueryFlags(cmd.Flags, "")
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}
	fs := cmd.Flags

	kind := fs.Lookup("kind").Value.String()
	user := fs.Lookup("user").Value.String()
	anonymous := fs.Lookup("anonymous").Value.(flag.Getter).Get().(bool)
	top := fs.Lookup("top").Value.(flag.Getter).Get().(int)

	if anonymous && user != "" {
		return fmt.Errorf("-user and -anonymous are mutually exclusive")
	}
	var userID *string
	if user != "" {
		userID = &user
	}

	// usage defaults to the last week, everything else to all time
	if *qf.timeRange == "" {
		*qf.timeRange = string(analytics.RangeAll)
		if kind == "usage" {
			*qf.timeRange = string(analytics.RangeWeek)
		}
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

	var result interface{}
	switch kind {
	case "system":
		result, err = q.SystemAnalytics(ctx, w, top)
	case "user":
		if userID == nil && !anonymous {
			return fmt.Errorf("user queries need -user or -anonymous")
		}
		result, err = q.UserAnalytics(ctx, userID, w)
	case "service":
		st, perr := analytics.ParseServiceType(fs.Lookup("service").Value.String())
		if perr != nil {
			return perr
		}
		result, err = q.ServiceAnalytics(ctx, st, w)
	case "usage":
		if anonymous {
			return fmt.Errorf("usage queries cover one user or all traffic; -anonymous is not supported")
		}
		result, err = q.UsageStats(ctx, userID, w)
	default:
		return fmt.Errorf("unknown kind %q: expected system, user, service or usage", kind)
	}
	if err != nil {
		return err
	}

	return printResult(result, *qf.format)
}
