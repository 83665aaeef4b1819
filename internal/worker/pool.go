package worker

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultPollInterval = 200 * time.Millisecond

// Pool supervises a fixed number of long-lived FragmentWorker and
// DecompositionWorker goroutines via errgroup, propagating the shutdown
// signal from ctx (spec.md §5: "a shutdown signal drains the current
// fragment, skips pop, and closes handles").
type Pool struct {
	FragmentWorker       *FragmentWorker
	FragmentConcurrency  int
	DecompositionWorker  *DecompositionWorker
	DecompositionWorkers int
	PollInterval         time.Duration
}

// Run blocks until ctx is canceled or a worker returns a non-poll error.
func (p *Pool) Run(ctx context.Context) error {
	poll := p.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	g, gctx := errgroup.WithContext(ctx)

	for i, n := 0, max(p.FragmentConcurrency, 1); i < n; i++ {
		g.Go(func() error {
			return pollLoop(gctx, poll, p.FragmentWorker.EvaluateOne)
		})
	}

	for i, n := 0, max(p.DecompositionWorkers, 0); i < n; i++ {
		g.Go(func() error {
			return pollLoop(gctx, poll, p.DecompositionWorker.DecomposeOne)
		})
	}

	return g.Wait()
}

// pollLoop repeatedly calls step, sleeping poll between empty queue
// observations, until ctx is canceled or step returns a non-nil error. A
// step already running when ctx is canceled runs to completion; no further
// step starts.
func pollLoop(ctx context.Context, poll time.Duration, step func(context.Context) (bool, error)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ok, err := step(context.WithoutCancel(ctx))
		if err != nil {
			return err
		}

		if ok {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}
