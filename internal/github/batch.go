package github

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// collectChunks processes items in consecutive chunks of width entries,
// running each chunk with full parallelism, chunk by chunk in order. This
// bounds peak concurrent outbound requests while overlapping I/O latency.
// An item whose fn fails contributes nothing to the result; its siblings and
// later chunks are unaffected. fn is responsible for reporting its own
// failures. Successful results keep input order.
func collectChunks[T, R any](ctx context.Context, items []T, width int, fn func(context.Context, T) (R, error)) []R {
	if width < 1 {
		width = 1
	}
	results := make([]*R, len(items))
	for start := 0; start < len(items); start += width {
		end := min(start+width, len(items))
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				r, err := fn(gctx, items[i])
				if err == nil {
					results[i] = &r
				}
				// Item failures never abort the chunk.
				return nil
			})
		}
		_ = g.Wait()
	}

	out := make([]R, 0, len(items))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}
