// Package retry implements the durable background queue of failed mutating
// requests. Tasks are replayed in enqueue order when an external
// connectivity-restored signal arrives; the queue never polls on its own.
package retry

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	engine "github.com/eugener/warden/internal"
	"github.com/eugener/warden/internal/storage"
	"github.com/eugener/warden/internal/telemetry"
)

// DefaultMaxAttempts caps replays per task before it is dropped and
// reported as permanently failed.
const DefaultMaxAttempts = 5

// Queue is the background retry queue. Draining is serialized: concurrent
// triggers never double-submit the same task.
type Queue struct {
	store       storage.TaskStore
	fetch       engine.Fetcher
	maxAttempts int
	metrics     *telemetry.Metrics // nil = no metrics

	drainMu sync.Mutex

	reportMu sync.RWMutex
	report   func(*engine.RetryTask) // permanent-failure callback
}

// NewQueue creates a Queue backed by store. metrics may be nil.
func NewQueue(store storage.TaskStore, fetch engine.Fetcher, maxAttempts int, metrics *telemetry.Metrics) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Queue{
		store:       store,
		fetch:       fetch,
		maxAttempts: maxAttempts,
		metrics:     metrics,
	}
}

// OnPermanentFailure registers the callback invoked when a task exhausts
// its attempts. The host application surfaces these; the queue only drops.
func (q *Queue) OnPermanentFailure(fn func(*engine.RetryTask)) {
	q.reportMu.Lock()
	q.report = fn
	q.reportMu.Unlock()
}

// Enqueue persists a failed mutating request for later replay. A missing ID
// and timestamp are filled in.
func (q *Queue) Enqueue(ctx context.Context, t *engine.RetryTask) error {
	if t.ID == "" {
		t.ID = uuid.Must(uuid.NewV7()).String()
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	if err := q.store.EnqueueTask(ctx, t); err != nil {
		return fmt.Errorf("enqueue retry task: %w", err)
	}
	slog.LogAttrs(ctx, slog.LevelInfo, "retry task enqueued",
		slog.String("task_id", t.ID),
		slog.String("method", t.Method),
		slog.String("url", t.URL),
	)
	q.updateDepth(ctx)
	return nil
}

// Drain replays every queued task once, in enqueue order. A task that
// succeeds is removed; one that fails stays queued with its attempt count
// bumped, unless the count reaches the cap, in which case the task is
// dropped and reported. Returns counts of replayed, still-queued, and
// dropped tasks.
func (q *Queue) Drain(ctx context.Context) (replayed, remaining, dropped int, err error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	tasks, err := q.store.ListTasks(ctx)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("list retry tasks: %w", err)
	}

	for _, t := range tasks {
		rerr := q.replay(ctx, t)
		if rerr == nil {
			if derr := q.store.DeleteTask(ctx, t.ID); derr != nil {
				slog.LogAttrs(ctx, slog.LevelError, "delete replayed task failed",
					slog.String("task_id", t.ID),
					slog.String("error", derr.Error()),
				)
			}
			replayed++
			q.countReplay("ok")
			continue
		}
		slog.LogAttrs(ctx, slog.LevelInfo, "retry task replay failed",
			slog.String("task_id", t.ID),
			slog.Int("attempts", t.Attempts+1),
			slog.String("error", rerr.Error()),
		)

		t.Attempts++
		if t.Attempts >= q.maxAttempts {
			q.drop(ctx, t)
			dropped++
			continue
		}
		if uerr := q.store.UpdateTaskAttempts(ctx, t.ID, t.Attempts); uerr != nil {
			slog.LogAttrs(ctx, slog.LevelError, "update task attempts failed",
				slog.String("task_id", t.ID),
				slog.String("error", uerr.Error()),
			)
		}
		remaining++
		q.countReplay("failed")
	}

	q.updateDepth(ctx)
	return replayed, remaining, dropped, nil
}

// Depth returns the number of queued tasks.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	return q.store.CountTasks(ctx)
}

// replay re-issues the task's original request. A definitive answer from
// the server, including a 4xx rejection, counts as success: replaying a
// request the server has already refused cannot change the outcome. Only
// transport errors and 5xx responses remain retryable.
func (q *Queue) replay(ctx context.Context, t *engine.RetryTask) error {
	req, err := http.NewRequestWithContext(ctx, t.Method, t.URL, bytes.NewReader(t.Body))
	if err != nil {
		return err
	}
	for k, vals := range t.Header {
		req.Header[k] = vals
	}

	resp, err := q.fetch.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("upstream returned %d", resp.StatusCode)
	}
	return nil
}

// drop removes an exhausted task and reports it as permanently failed.
func (q *Queue) drop(ctx context.Context, t *engine.RetryTask) {
	if err := q.store.DeleteTask(ctx, t.ID); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "delete exhausted task failed",
			slog.String("task_id", t.ID),
			slog.String("error", err.Error()),
		)
	}
	slog.LogAttrs(ctx, slog.LevelWarn, "retry task dropped",
		slog.String("task_id", t.ID),
		slog.String("method", t.Method),
		slog.String("url", t.URL),
		slog.Int("attempts", t.Attempts),
	)
	if q.metrics != nil {
		q.metrics.RetryDropped.Inc()
	}
	q.countReplay("dropped")

	q.reportMu.RLock()
	report := q.report
	q.reportMu.RUnlock()
	if report != nil {
		report(t)
	}
}

func (q *Queue) updateDepth(ctx context.Context) {
	if q.metrics == nil {
		return
	}
	if n, err := q.store.CountTasks(ctx); err == nil {
		q.metrics.RetryQueueDepth.Set(float64(n))
	}
}

func (q *Queue) countReplay(result string) {
	if q.metrics != nil {
		q.metrics.RetryReplayed.WithLabelValues(result).Inc()
	}
}
