package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/tally/pkg/analytics"
	"github.com/platinummonkey/tally/pkg/client"
)

func newTrackCommand() *Command {
	cmd := &Command{
		Name:        "track",
		Description: "Send a single usage event to a tally server",
		Flags:       flag.NewFlagSet("track", flag.ContinueOnError),
		Run:         runTrack,
	}

	cmd.Flags.String("server", "http://localhost:8080", "Tally server URL")
	cmd.Flags.String("user", "", "User id (empty for anonymous)")
	cmd.Flags.String("service", "", "Service type: llm_chat, text_to_image, text_to_speech")
	cmd.Flags.String("event", "", "Event type: request, success, error, generation")
	cmd.Flags.String("timestamp", "", "Event time (RFC 3339, default now)")
	cmd.Flags.Int64("input-tokens", -1, "Input tokens")
	cmd.Flags.Int64("output-tokens", -1, "Output tokens")
	cmd.Flags.Int64("size-bytes", -1, "Generated object size in bytes")
	cmd.Flags.Float64("response-time-ms", -1, "Response time in milliseconds")

	return cmd
}

func runTrack(args []string) error {
	cmd := newTrackCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}
	fs := cmd.Flags

	server := fs.Lookup("server").Value.String()
	service := fs.Lookup("service").Value.String()
	event := fs.Lookup("event").Value.String()
	if service == "" || event == "" {
		return fmt.Errorf("service and event are required")
	}

	req := analytics.TrackRequest{ServiceType: service, EventType: event}
	if user := fs.Lookup("user").Value.String(); user != "" {
		req.UserID = analytics.StringPtr(user)
	}
	ts, err := parseTimeFlag("timestamp", fs.Lookup("timestamp").Value.String())
	if err != nil {
		return err
	}
	req.Timestamp = ts

	md := &req.Metadata
	md.InputTokens = optionalInt(fs, "input-tokens")
	md.OutputTokens = optionalInt(fs, "output-tokens")
	md.SizeBytes = optionalInt(fs, "size-bytes")
	if v := fs.Lookup("response-time-ms").Value.(flag.Getter).Get().(float64); v >= 0 {
		md.ResponseTimeMs = analytics.Float64Ptr(v)
	}

	resp, err := client.New(client.Config{BaseURL: server, Enabled: true}).Track(context.Background(), req)
	if err != nil {
		return fmt.Errorf("failed to track event: %w", err)
	}
	fmt.Fprintf(stdout, "Tracked event %s at %s\n", resp.EventID, resp.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}

// optionalInt returns nil for the -1 "unset" sentinel
func optionalInt(fs *flag.FlagSet, name string) *int64 {
	v := fs.Lookup(name).Value.(flag.Getter).Get().(int64)
	if v < 0 {
		return nil
	}
	return analytics.Int64Ptr(v)
}
