// Package async provides safe concurrent execution primitives for background tasks.
//
// # Overview
//
// SafeGo runs fire-and-forget work (async event tracking, replica health
// loops) with panic recovery and an optional deadline. Batch fans a slice of
// items out over a bounded number of workers, which the CLI uses for bulk imports.
//
//	async.SafeGo(ctx, logger, 5*time.Second, "track", func(ctx context.Context) error {
//		return client.Track(ctx, req)
//	})
//
//	errs := async.Batch(ctx, items, 8, "import", 10*time.Second, func(ctx context.Context, item Item) error {
//		return process(ctx, item)
//	})
package async
