package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/tally/pkg/analytics"
)

// Format is a report encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat converts a string into a Format. The empty string means JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown report format %q (expected json or yaml)", s)
}

// ContentType returns the MIME type for f
func (f Format) ContentType() string {
	if f == FormatYAML {
		return "application/yaml"
	}
	return "application/json"
}

// Extension returns the file extension for f, without the dot
func (f Format) Extension() string {
	if f == FormatYAML {
		return "yaml"
	}
	return "json"
}

// Snapshot is a point-in-time export of system-wide analytics
type Snapshot struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Window      string                 `json:"window"`
	System      *analytics.SystemStats `json:"system"`
	Usage       *analytics.UsageStats  `json:"usage"`
}

// Generator builds snapshots from a Querier
type Generator struct {
	querier  analytics.Querier
	now      func() time.Time
	topUsers int
}

// Option configures a Generator
type Option func(*Generator)

// WithClock overrides the time stamped on snapshots
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// WithTopUsers sets the leaderboard size included in snapshots
func WithTopUsers(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.topUsers = n
		}
	}
}

// NewGenerator creates a snapshot generator
func NewGenerator(q analytics.Querier, opts ...Option) *Generator {
	g := &Generator{querier: q, now: time.Now, topUsers: 10}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Snapshot queries system and usage statistics for w
func (g *Generator) Snapshot(ctx context.Context, w analytics.Window) (*Snapshot, error) {
	system, err := g.querier.SystemAnalytics(ctx, w, g.topUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to query system analytics: %w", err)
	}
	usage, err := g.querier.UsageStats(ctx, nil, w)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage stats: %w", err)
	}
	return &Snapshot{
		GeneratedAt: g.now().UTC(),
		Window:      w.String(),
		System:      system,
		Usage:       usage,
	}, nil
}

// Render encodes s as f into w
func Render(w io.Writer, s *Snapshot, f Format) error {
	data, err := Encode(s, f)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Encode returns s encoded as f
func Encode(s *Snapshot, f Format) ([]byte, error) {
	return Marshal(s, f)
}

// Marshal encodes any JSON-serializable value as f. YAML output uses the
// same field names as JSON.
func Marshal(v interface{}, f Format) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	if f != FormatYAML {
		return append(data, '\n'), nil
	}

	// JSON is valid YAML, so decoding it through yaml keeps the json field names.
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to convert report to yaml: %w", err)
	}
	clearStyle(&doc)
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("failed to encode report as yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// clearStyle drops the flow style inherited from JSON input
func clearStyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle | yaml.DoubleQuotedStyle
	for _, c := range n.Content {
		clearStyle(c)
	}
}

// WriteFile writes s to path. When f is empty the format follows the extension.
func WriteFile(path string, s *Snapshot, f Format) error {
	if f == "" {
		var err error
		if f, err = ParseFormat(strings.TrimPrefix(filepath.Ext(path), ".")); err != nil {
			return err
		}
	}
	data, err := Encode(s, f)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// ObjectKey names the object a snapshot is stored under
func ObjectKey(prefix string, s *Snapshot, f Format) string {
	ts := s.GeneratedAt.UTC()
	key := fmt.Sprintf("%s/snapshot-%s.%s", ts.Format("2006/01/02"), ts.Format("20060102T150405Z"), f.Extension())
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		key = prefix + "/" + key
	}
	return key
}
