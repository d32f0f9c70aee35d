// Package workpool runs a function over a slice with a fixed number of workers.
package workpool

import (
	"context"

	"github.com/sourcegraph/conc/iter"
)

// Map applies fn to every item using at most min(workers, len(items))
// goroutines pulling from a shared index, and returns the results in input
// order. It returns once every item has been handled. Items not yet started
// when ctx is cancelled are skipped and leave a zero result.
func Map[T, R any](ctx context.Context, items []T, workers int, fn func(context.Context, T) R) []R {
	if len(items) == 0 {
		return []R{}
	}
	if workers < 1 {
		workers = 1
	}

	mapper := iter.Mapper[T, R]{MaxGoroutines: workers}
	return mapper.Map(items, func(item *T) R {
		if ctx.Err() != nil {
			var zero R
			return zero
		}
		return fn(ctx, *item)
	})
}
