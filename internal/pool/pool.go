// Package pool runs per-item work with bounded concurrency while preserving
// input ordering in the results.
package pool

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// MaxWorkers is the hard ceiling on in-flight items regardless of the width a
// caller requests.
const MaxWorkers = 8

// Result pairs the outcome of one item with any error it produced.
type Result[R any] struct {
	Value R
	Err   error
}

// Map executes fn for every item with at most width items in flight and
// returns results indexed identically to the input. A failing item records
// its error and does not abort siblings; only context cancellation stops new
// items from being launched (already-running items finish). Map returns after
// every launched item has completed.
func Map[T, R any](ctx context.Context, items []T, width int, fn func(ctx context.Context, index int, item T) (R, error)) []Result[R] {
	results := make([]Result[R], len(items))
	if len(items) == 0 {
		return results
	}
	width = Clamp(width, len(items))

	sem := semaphore.NewWeighted(int64(width))
	var wg sync.WaitGroup
	for i := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = Result[R]{Err: fmt.Errorf("acquire worker slot: %w", err)}
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			v, err := fn(ctx, i, items[i])
			results[i] = Result[R]{Value: v, Err: err}
		}(i)
	}
	wg.Wait()
	return results
}

// Clamp bounds a requested width to [1, min(MaxWorkers, n)].
func Clamp(width, n int) int {
	if width < 1 {
		width = 1
	}
	if width > MaxWorkers {
		width = MaxWorkers
	}
	if n > 0 && width > n {
		width = n
	}
	return width
}
