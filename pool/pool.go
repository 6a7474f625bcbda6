// Package pool - Bounded concurrency over a list of work items.
package pool

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"
)

// Result is the outcome of one work item.
type Result[T, R any] struct {
	// Index is the position of Item in the input slice.
	Index int
	Item  T
	Value R
	Err   error
}

// Func processes a single item.
type Func[T, R any] func(ctx context.Context, item T) (R, error)

// Stream runs fn over items with at most limit calls in flight, and delivers each
// result on the returned channel as soon as it completes. The channel is closed once
// every item has produced exactly one result. Items that could not start because ctx
// was cancelled still produce a result carrying the context error.
//
// Arguments:
//   - ctx: Context passed to fn, and used to stop scheduling new items.
//   - items: Work items.
//   - limit: Maximum concurrent calls. Values below 1 are treated as 1.
//   - fn: The worker.
//
// Returns:
//   - <-chan Result[T, R]: Completion-ordered results, one per item.
func Stream[T, R any](ctx context.Context, items []T, limit int, fn Func[T, R]) <-chan Result[T, R] {
	if limit < 1 {
		limit = 1
	}

	out := make(chan Result[T, R], len(items))
	sem := semaphore.NewWeighted(int64(limit))

	go func() {
		var wg sync.WaitGroup
		for i, item := range items {
			if err := sem.Acquire(ctx, 1); err != nil {
				out <- Result[T, R]{Index: i, Item: item, Err: err}
				continue
			}

			wg.Add(1)
			go func(i int, item T) {
				defer wg.Done()
				defer sem.Release(1)

				value, err := fn(ctx, item)
				out <- Result[T, R]{Index: i, Item: item, Value: value, Err: err}
			}(i, item)
		}
		wg.Wait()
		close(out)
	}()

	return out
}

// Progress is invoked once per completed item, from a single goroutine.
type Progress[T, R any] func(done, total int, result Result[T, R])

// Map runs Stream to completion and gathers the values in input order.
//
// Arguments:
//   - ctx: See Stream.
//   - items: Work items.
//   - limit: Maximum concurrent calls.
//   - fn: The worker.
//   - progress: Optional callback, called exactly once for every item regardless of
//     completion order or failure.
//
// Returns:
//   - []R: Values indexed like items. Failed items hold the zero value.
//   - error: All item errors combined, or nil.
func Map[T, R any](
	ctx context.Context,
	items []T,
	limit int,
	fn Func[T, R],
	progress Progress[T, R],
) ([]R, error) {
	values := make([]R, len(items))
	var errs error

	done := 0
	for result := range Stream(ctx, items, limit, fn) {
		done++
		if result.Err != nil {
			errs = multierr.Append(errs, result.Err)
		} else {
			values[result.Index] = result.Value
		}
		if progress != nil {
			progress(done, len(items), result)
		}
	}

	return values, errs
}
