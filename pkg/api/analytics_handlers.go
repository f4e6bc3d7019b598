package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tally/pkg/analytics"
	"github.com/platinummonkey/tally/pkg/httputil"
	"github.com/platinummonkey/tally/pkg/observability"
)

// UserIDHeader is set by the upstream gateway for authenticated callers
const UserIDHeader = httputil.UserIDHeader

const (
	defaultTopUsers = 10
	maxTopUsers     = 100
)

// AnalyticsHandlers provides the ingest and query endpoints
type AnalyticsHandlers struct {
	ingester Ingester
	querier  analytics.Querier

	DefaultTopUsers int
	MaxBodyBytes    int64
	// TrackLimiter, when set, wraps the ingest endpoint
	TrackLimiter func(http.Handler) http.Handler
}

// NewAnalyticsHandlers creates a new analytics handlers instance
func NewAnalyticsHandlers(ingester Ingester, querier analytics.Querier) *AnalyticsHandlers {
	return &AnalyticsHandlers{
		ingester:        ingester,
		querier:         querier,
		DefaultTopUsers: defaultTopUsers,
		MaxBodyBytes:    DefaultMaxBodyBytes,
	}
}

// RegisterRoutes registers analytics API routes
func (h *AnalyticsHandlers) RegisterRoutes(r *mux.Router) {
	track := httputil.MaxBytesMiddleware(h.MaxBodyBytes)(http.HandlerFunc(h.track))
	if h.TrackLimiter != nil {
		track = h.TrackLimiter(track)
	}
	r.Handle("/analytics/track", track).Methods("POST")

	r.HandleFunc("/analytics/user", h.userAnalytics).Methods("GET")
	r.HandleFunc("/analytics/user/me", h.myAnalytics).Methods("GET")
	r.HandleFunc("/analytics/service/{service_type}", h.serviceAnalytics).Methods("GET")
	r.HandleFunc("/analytics/system", h.systemAnalytics).Methods("GET")
	r.HandleFunc("/analytics/usage", h.usageStats).Methods("GET")
}

// track handles POST /analytics/track. The gateway's X-User-ID wins over
// any user_id in the body.
func (h *AnalyticsHandlers) track(w http.ResponseWriter, r *http.Request) {
	var req analytics.TrackRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteErrorMessage(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if id := headerUserID(r); id != nil {
		req.UserID = id
	}

	resp, err := h.ingester.Track(r.Context(), req)
	if err != nil {
		writeAnalyticsError(w, requestLogger(r, "track"), err)
		return
	}
	_ = httputil.WriteSuccess(w, resp)
}

// userAnalytics handles GET /analytics/user
// Query params:
//   - user_id: explicit user; falls back to X-User-ID, then to anonymous traffic
//   - anonymous: true selects anonymous traffic
//   - time_range: hour, day, week, month, year, all (default all)
//   - start_date, end_date: RFC 3339, override time_range
func (h *AnalyticsHandlers) userAnalytics(w http.ResponseWriter, r *http.Request) {
	anonymous, err := httputil.ParseQueryBool(r, "anonymous", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	userID := httputil.ParseQueryOptionalString(r, "user_id")
	switch {
	case anonymous && userID != nil:
		httputil.WriteBadRequest(w, "user_id and anonymous=true are mutually exclusive")
		return
	case anonymous:
		// nil selects anonymous events
	case userID == nil:
		userID = headerUserID(r)
	}

	h.writeUserStats(w, r, userID)
}

// myAnalytics handles GET /analytics/user/me for the gateway-authenticated caller
func (h *AnalyticsHandlers) myAnalytics(w http.ResponseWriter, r *http.Request) {
	userID := headerUserID(r)
	if userID == nil {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, UserIDHeader+" header is required")
		return
	}
	h.writeUserStats(w, r, userID)
}

func (h *AnalyticsHandlers) writeUserStats(w http.ResponseWriter, r *http.Request, userID *string) {
	window, err := parseWindow(r, analytics.RangeAll)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	stats, err := h.querier.UserAnalytics(r.Context(), userID, window)
	if err != nil {
		writeAnalyticsError(w, requestLogger(r, "user_analytics").WithSubject(userID).WithWindow(window), err)
		return
	}
	_ = httputil.WriteSuccess(w, stats)
}

// serviceAnalytics handles GET /analytics/service/{service_type}
func (h *AnalyticsHandlers) serviceAnalytics(w http.ResponseWriter, r *http.Request) {
	raw, err := httputil.ParsePathString(r, "service_type")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	st, err := analytics.ParseServiceType(raw)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	window, err := parseWindow(r, analytics.RangeAll)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	stats, err := h.querier.ServiceAnalytics(r.Context(), st, window)
	if err != nil {
		writeAnalyticsError(w, requestLogger(r, "service_analytics").WithField("service_type", st).WithWindow(window), err)
		return
	}
	_ = httputil.WriteSuccess(w, stats)
}

// systemAnalytics handles GET /analytics/system
// Query params:
//   - top_users_limit: leaderboard size (1-100, default 10)
func (h *AnalyticsHandlers) systemAnalytics(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "top_users_limit", h.DefaultTopUsers, 1, maxTopUsers)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	window, err := parseWindow(r, analytics.RangeAll)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	stats, err := h.querier.SystemAnalytics(r.Context(), window, limit)
	if err != nil {
		writeAnalyticsError(w, requestLogger(r, "system_analytics").WithWindow(window), err)
		return
	}
	_ = httputil.WriteSuccess(w, stats)
}

// usageStats handles GET /analytics/usage. Without user_id the stats cover
// the X-User-ID caller, or all traffic when neither is set; time_range
// defaults to week.
func (h *AnalyticsHandlers) usageStats(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r, analytics.RangeWeek)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	userID := httputil.ParseQueryOptionalString(r, "user_id")
	if userID == nil {
		userID = headerUserID(r)
	}

	stats, err := h.querier.UsageStats(r.Context(), userID, window)
	if err != nil {
		writeAnalyticsError(w, requestLogger(r, "usage_stats").WithSubject(userID).WithWindow(window), err)
		return
	}
	_ = httputil.WriteSuccess(w, stats)
}

// parseWindow reads time_range, start_date and end_date
func parseWindow(r *http.Request, def analytics.TimeRange) (analytics.Window, error) {
	tr, err := analytics.ParseTimeRange(r.URL.Query().Get("time_range"), def)
	if err != nil {
		return analytics.Window{}, err
	}
	start, end, err := httputil.ParseQueryTimeRange(r, "start_date", "end_date")
	if err != nil {
		return analytics.Window{}, err
	}
	return analytics.Window{Range: tr, Start: start, End: end}, nil
}

func headerUserID(r *http.Request) *string {
	id := strings.TrimSpace(r.Header.Get(UserIDHeader))
	if id == "" {
		return nil
	}
	return &id
}

func requestLogger(r *http.Request, op string) *observability.Logger {
	return observability.FromContext(r.Context()).WithField("operation", op)
}

// writeAnalyticsError maps the analytics error taxonomy onto HTTP statuses
func writeAnalyticsError(w http.ResponseWriter, logger *observability.Logger, err error) {
	if analytics.IsValidationError(err) {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	logger = logger.WithError(err)
	switch {
	case analytics.IsTimeout(err):
		logger.Warn("analytics store timed out")
		httputil.WriteDetailedError(w, http.StatusGatewayTimeout, "analytics store timed out", err.Error())
	case analytics.IsPersistenceError(err):
		logger.Error("analytics store unavailable")
		httputil.WriteDetailedError(w, http.StatusServiceUnavailable, "analytics store unavailable", err.Error())
	default:
		logger.Error("analytics request failed")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}
