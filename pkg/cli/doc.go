// Package cli implements the tally command-line tool.
//
// Commands:
//
//	track   send one event to a running server
//	import  bulk-load a JSON-lines event export into the configured store
//	stats   query user, service, system or usage analytics
//	report  produce a system snapshot, optionally uploading it to S3
//
// Query commands talk to a server when -server is given; otherwise they open
// the store described by the TALLY_* environment (or -env-file) directly.
package cli
