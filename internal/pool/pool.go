// Package pool runs a bounded number of worker functions concurrently,
// preserving input order in the result slice and honoring cancellation.
package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// MaxConcurrency is the global ceiling on simultaneous workers, regardless
// of what a caller requests.
const MaxConcurrency = 8

// Clamp normalizes a requested concurrency against the global ceiling and
// the number of items actually available to work on.
func Clamp(requested, items int) int {
	if requested <= 0 {
		requested = 4
	}
	k := requested
	if k > MaxConcurrency {
		k = MaxConcurrency
	}
	if k > items {
		k = items
	}
	if k < 1 {
		k = 1
	}
	return k
}

// Result pairs a worker's output with whether it ever completed. Value is
// the zero value of T when Done is false — the position was cancelled
// before the worker started or never returned.
type Result[T any] struct {
	Value T
	Done  bool
}

// Run maps worker over items with at most k concurrent invocations in
// flight, preserving input order in the returned slice. Once ctx is
// cancelled, no further workers are launched; in-flight workers are
// expected to observe ctx themselves (it is passed through to worker).
// Run always returns once every launched worker has resolved.
func Run[T any](ctx context.Context, items int, k int, worker func(ctx context.Context, index int) T) ([]Result[T], bool) {
	results := make([]Result[T], items)
	if items == 0 {
		return results, ctx.Err() != nil
	}
	if k <= 0 || k > items {
		k = items
	}

	sem := semaphore.NewWeighted(int64(k))
	var wg sync.WaitGroup
	var launched int

loop:
	for i := 0; i < items; i++ {
		if ctx.Err() != nil {
			break loop
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break loop
		}

		wg.Add(1)
		launched++
		go func(idx int) {
			defer wg.Done()
			defer sem.Release(1)
			v := worker(ctx, idx)
			results[idx] = Result[T]{Value: v, Done: true}
		}(i)
	}

	wg.Wait()

	aborted := ctx.Err() != nil && launched < items
	return results, aborted
}
