// Package httputil provides the JSON response helpers, query parsing and
// middleware shared by the tally HTTP API.
//
// # Responses
//
//	httputil.WriteSuccess(w, stats)
//	httputil.WriteBadRequest(w, "unknown time range")
//
// Every error body has the shape
//
//	{"error": "...", "code": "invalid_request", "detail": "...", "request_id": "..."}
//
// where code follows the status unless set explicitly, and request_id is
// copied from the X-Request-ID response header.
//
// # Request Parsing
//
//	limit, err := httputil.ParseQueryInt(r, "top_users_limit", 10, 1, 100)
//	start, end, err := httputil.ParseQueryTimeRange(r, "start_date", "end_date")
//	userID := httputil.ParseQueryOptionalString(r, "user_id")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.LoggingMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
package httputil
