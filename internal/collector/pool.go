package collector

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// forEach calls fn for every item with at most workers calls in
// flight. Each worker claims the next unclaimed item through a
// shared index. The first error cancels the context passed to
// the remaining calls and is returned; there are no partial
// successes.
func forEach[T any](
	ctx context.Context, items []T, workers int,
	fn func(context.Context, T) error,
) error {
	if len(items) == 0 {
		return nil
	}
	workers = min(max(workers, 1), len(items))

	g, ctx := errgroup.WithContext(ctx)
	var next atomic.Int64
	for range workers {
		g.Go(func() error {
			for {
				i := int(next.Add(1) - 1)
				if i >= len(items) {
					return nil
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := fn(ctx, items[i]); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}
