package worker

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map runs fn over items with at most workers concurrent calls and returns
// the results in input order. fn must not fail; per-item errors belong in R.
// Items not started before ctx is cancelled are skipped and keep their zero value.
func Map[T, R any](ctx context.Context, workers int, items []T, fn func(context.Context, T) R) []R {
	if workers <= 0 {
		workers = 1
	}
	results := make([]R, len(items))
	if len(items) == 0 {
		return results
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = fn(gctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
