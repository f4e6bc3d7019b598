package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/tally/pkg/observability"
)

// SafeGo runs fn in its own goroutine with panic recovery. A positive timeout
// bounds the context handed to fn. Errors and panics are logged, never raised.
//
// Example:
//
//	async.SafeGo(ctx, logger, 5*time.Second, "analytics track", func(ctx context.Context) error {
//	    return client.Track(ctx, req)
//	})
func SafeGo(parent context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	go func() {
		ctx, cancel := withOptionalTimeout(parent, timeout)
		defer cancel()
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()
}

// SafeGoNoError is like SafeGo but for functions that don't return errors
func SafeGoNoError(parent context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context)) {
	SafeGo(parent, logger, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// Batch applies fn to every item with at most workers calls in flight and
// returns the errors encountered, in no particular order. Items still queued
// when ctx is cancelled are not run and report the context error.
//
// Example:
//
//	errs := async.Batch(ctx, events, 8, "import", 5*time.Second, func(ctx context.Context, e *analytics.Event) error {
//	    return tracker.Append(ctx, e)
//	})
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	if workers < 1 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	record := func(i int, err error) {
		mu.Lock()
		errs = append(errs, fmt.Errorf("%s item %d: %w", taskName, i, err))
		mu.Unlock()
	}

	queue := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				if err := ctx.Err(); err != nil {
					record(i, err)
					continue
				}
				if err := runItem(ctx, timeout, taskName, func(ctx context.Context) error { return fn(ctx, items[i]) }); err != nil {
					record(i, err)
				}
			}
		}()
	}

	for i := range items {
		queue <- i
	}
	close(queue)
	wg.Wait()

	return errs
}

// runItem executes one task, converting a panic into an *observability.Panic
func runItem(parent context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) (err error) {
	ctx, cancel := withOptionalTimeout(parent, timeout)
	defer cancel()
	defer func() {
		if p := observability.NewPanic(taskName, recover()); p != nil {
			err = p
		}
	}()
	return fn(ctx)
}

func withOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(parent, timeout)
	}
	return context.WithCancel(parent)
}
