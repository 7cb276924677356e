package worker

import (
	"context"
	"log/slog"

	"github.com/eugener/warden/internal/retry"
)

// RetryDrainer replays queued mutating requests whenever a drain trigger
// fires. Triggers come from the host application (connectivity restored,
// explicit retry request); the drainer never polls on its own.
type RetryDrainer struct {
	queue   *retry.Queue
	trigger <-chan struct{}
}

// NewRetryDrainer creates a RetryDrainer fed by trigger.
func NewRetryDrainer(queue *retry.Queue, trigger <-chan struct{}) *RetryDrainer {
	return &RetryDrainer{queue: queue, trigger: trigger}
}

func (w *RetryDrainer) Name() string { return "retry_drainer" }

// Run blocks waiting for triggers until ctx is cancelled. A drain that
// fails is logged; the next trigger retries from where the queue stands.
func (w *RetryDrainer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-w.trigger:
			if !ok {
				return nil
			}
			replayed, remaining, dropped, err := w.queue.Drain(ctx)
			if err != nil {
				slog.LogAttrs(ctx, slog.LevelError, "retry drain failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			slog.LogAttrs(ctx, slog.LevelInfo, "retry queue drained",
				slog.Int("replayed", replayed),
				slog.Int("remaining", remaining),
				slog.Int("dropped", dropped),
			)
		}
	}
}
