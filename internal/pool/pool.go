// Package pool runs a batch of tasks with bounded concurrency and per-task retry.
package pool

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/reelsmith/api/internal/retry"
)

// Options configure a Run call.
type Options struct {
	// Limit is the maximum number of tasks in flight. Values below 1 mean 1.
	Limit int
	// Retry wraps every task.
	Retry retry.Policy
	// OnDone is called after each successful task with the number of
	// completed tasks so far. Calls are serialized and done is strictly increasing.
	OnDone func(done, total int)
	// Label names tasks in returned errors.
	Label func(index int) string
}

// Run executes fn for every item. Items start in order; at most opts.Limit run
// at once. The first task that still fails after its retries cancels the
// others and its error is returned; results are only returned when every task
// succeeded.
func Run[T, R any](ctx context.Context, items []T, opts Options, fn func(ctx context.Context, item T) (R, error)) ([]R, error) {
	limit := opts.Limit
	if limit < 1 {
		limit = 1
	}

	results := make([]R, len(items))
	total := len(items)

	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, item := range items {
		i, item := i, item
		if gctx.Err() != nil {
			break
		}
		// Go blocks while the limit is reached, which keeps start order FIFO.
		g.Go(func() error {
			var out R
			err := retry.Do(gctx, opts.Retry, func(ctx context.Context) error {
				r, err := fn(ctx, item)
				if err != nil {
					return err
				}
				out = r
				return nil
			})
			if err != nil {
				if opts.Label != nil {
					return fmt.Errorf("%s: %w", opts.Label(i), err)
				}
				return err
			}
			results[i] = out

			mu.Lock()
			done++
			if opts.OnDone != nil {
				opts.OnDone(done, total)
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
