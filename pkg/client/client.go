// Package client is the producer-side SDK for the tally HTTP API. Generation
// services call TrackAsync on their hot path; failures are logged and never
// reach the caller.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tally/pkg/analytics"
	"github.com/platinummonkey/tally/pkg/async"
	"github.com/platinummonkey/tally/pkg/httputil"
	"github.com/platinummonkey/tally/pkg/observability"
)

// DefaultTimeout bounds every request made by the client
const DefaultTimeout = 5 * time.Second

// Config configures a Client
type Config struct {
	BaseURL string
	// Enabled gates tracking. Query methods work either way.
	Enabled    bool
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *observability.Logger
}

// Client talks to a tally server
type Client struct {
	baseURL string
	enabled bool
	timeout time.Duration
	http    *http.Client
	logger  *observability.Logger
}

// APIError is a non-2xx reply from the server
type APIError struct {
	StatusCode int
	Code       httputil.ErrorCode
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("tally API returned %d (%s, request %s): %s", e.StatusCode, e.Code, e.RequestID, e.Message)
	}
	return fmt.Sprintf("tally API returned %d: %s", e.StatusCode, e.Message)
}

// New creates a client for cfg.BaseURL
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		enabled: cfg.Enabled,
		timeout: cfg.Timeout,
		http:    httpClient,
		logger:  cfg.Logger,
	}
}

// Enabled reports whether tracking calls are sent
func (c *Client) Enabled() bool {
	return c.enabled
}

// Track sends one event and waits for the server to store it. A disabled
// client returns (nil, nil) without contacting the server.
func (c *Client) Track(ctx context.Context, req analytics.TrackRequest) (*analytics.TrackResponse, error) {
	if !c.enabled {
		return nil, nil
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode track request: %w", err)
	}
	var resp analytics.TrackResponse
	if err := c.do(ctx, http.MethodPost, "/analytics/track", nil, body, "track", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TrackAsync sends req in the background. The caller's cancellation does not
// abort the send; the client timeout still applies.
func (c *Client) TrackAsync(ctx context.Context, req analytics.TrackRequest) {
	if !c.enabled {
		return
	}
	async.SafeGo(context.WithoutCancel(ctx), c.logger, c.timeout, "analytics track", func(ctx context.Context) error {
		_, err := c.Track(ctx, req)
		return err
	})
}

// UserAnalytics implements analytics.Querier. A nil userID selects anonymous traffic.
func (c *Client) UserAnalytics(ctx context.Context, userID *string, w analytics.Window) (*analytics.UserStats, error) {
	q := windowQuery(w)
	if userID == nil {
		q.Set("anonymous", "true")
	} else {
		q.Set("user_id", *userID)
	}
	var stats analytics.UserStats
	if err := c.do(ctx, http.MethodGet, "/analytics/user", q, nil, "user_analytics", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ServiceAnalytics implements analytics.Querier
func (c *Client) ServiceAnalytics(ctx context.Context, st analytics.ServiceType, w analytics.Window) (*analytics.ServiceStats, error) {
	var stats analytics.ServiceStats
	path := "/analytics/service/" + url.PathEscape(string(st))
	if err := c.do(ctx, http.MethodGet, path, windowQuery(w), nil, "service_analytics", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// SystemAnalytics implements analytics.Querier. A negative topUsers leaves
// the limit to the server; zero asks for the smallest leaderboard the API
// serves and drops it.
func (c *Client) SystemAnalytics(ctx context.Context, w analytics.Window, topUsers int) (*analytics.SystemStats, error) {
	q := windowQuery(w)
	switch {
	case topUsers == 0:
		q.Set("top_users_limit", "1")
	case topUsers > 0:
		q.Set("top_users_limit", strconv.Itoa(topUsers))
	}
	var stats analytics.SystemStats
	if err := c.do(ctx, http.MethodGet, "/analytics/system", q, nil, "system_analytics", &stats); err != nil {
		return nil, err
	}
	if topUsers == 0 {
		stats.TopUsers = []analytics.TopUser{}
	}
	return &stats, nil
}

// UsageStats implements analytics.Querier. A nil userID covers all traffic.
func (c *Client) UsageStats(ctx context.Context, userID *string, w analytics.Window) (*analytics.UsageStats, error) {
	q := windowQuery(w)
	if userID != nil {
		q.Set("user_id", *userID)
	}
	var stats analytics.UsageStats
	if err := c.do(ctx, http.MethodGet, "/analytics/usage", q, nil, "usage_stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, op string, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID := observability.GetRequestID(ctx); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &analytics.PersistenceError{Op: op, Timeout: isTimeout(ctx, err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return responseError(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

// responseError maps an error reply back onto the analytics error taxonomy
func responseError(op string, resp *http.Response) error {
	var body httputil.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}
	if body.Code == "" {
		body.Code = httputil.CodeForStatus(resp.StatusCode)
	}
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Code:       body.Code,
		Message:    body.Error,
		RequestID:  body.RequestID,
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return &analytics.ValidationError{Field: "request", Reason: body.Error}
	case http.StatusGatewayTimeout:
		return &analytics.PersistenceError{Op: op, Timeout: true, Err: apiErr}
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return &analytics.PersistenceError{Op: op, Err: apiErr}
	}
	return apiErr
}

// windowQuery spells out the range even when empty so every endpoint
// resolves it the way the local Aggregator would.
func windowQuery(w analytics.Window) url.Values {
	q := url.Values{}
	r := w.Range
	if r == "" {
		r = analytics.RangeAll
	}
	q.Set("time_range", string(r))
	if w.Start != nil {
		q.Set("start_date", w.Start.UTC().Format(time.RFC3339Nano))
	}
	if w.End != nil {
		q.Set("end_date", w.End.UTC().Format(time.RFC3339Nano))
	}
	return q
}

func isTimeout(ctx context.Context, err error) bool {
	if ctx.Err() == context.DeadlineExceeded {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
