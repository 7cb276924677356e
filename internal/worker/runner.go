package worker

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Runner supervises a set of workers as one unit. The first worker to
// fail cancels the rest; Run returns that first error.
type Runner struct {
	workers []Worker
}

func NewRunner(workers ...Worker) *Runner {
	return &Runner{workers: workers}
}

// Run starts every worker and blocks until all of them have stopped.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range r.workers {
		slog.Info("worker started", "worker", w.Name())
		g.Go(func() error {
			defer slog.Info("worker stopped", "worker", w.Name())
			return w.Run(ctx)
		})
	}
	return g.Wait()
}
