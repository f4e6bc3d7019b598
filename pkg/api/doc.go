// Package api exposes tally's ingest and query operations over HTTP.
//
// # Routes
//
//	POST /analytics/track                        record one event
//	GET  /analytics/user                         per-user rollup (or anonymous=true)
//	GET  /analytics/user/me                      rollup for the X-User-ID caller
//	GET  /analytics/service/{service_type}       per-service rollup
//	GET  /analytics/system?top_users_limit=10    system-wide rollup
//	GET  /analytics/usage                        requests by period and service
//	GET  /health, /health/live                   readiness and liveness
//	GET  /metrics                                Prometheus exposition (optional)
//
// Query endpoints accept time_range (hour, day, week, month, year, all) or
// explicit RFC 3339 start_date/end_date bounds.
//
// # Errors
//
// Validation failures map to 400, store timeouts to 504 and other store
// failures to 503. Bodies always carry "error" and a machine-readable "code".
//
// # Usage
//
//	server := api.NewServer(tracker, querier, api.Options{
//		Logger:  logger,
//		Metrics: metrics,
//	})
//	http.ListenAndServe(":8080", server)
package api
