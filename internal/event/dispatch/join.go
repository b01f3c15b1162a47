package dispatch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// JoinAll runs every task concurrently, waits for all of them to settle and
// returns one Result per task in input order.
//
// Failures are values in the returned slice. A failing task never cancels its
// siblings and JoinAll itself cannot fail.
func (e *Executor) JoinAll(ctx context.Context, timeout time.Duration, tasks []Task) []Result {
	results := make([]Result, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	var g errgroup.Group
	for i, task := range tasks {
		g.Go(func() error {
			results[i] = e.Run(ctx, timeout, task)
			return nil
		})
	}
	_ = g.Wait()

	return results
}
