package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	engine "github.com/eugener/warden/internal"
)

// EnqueueTask persists a retry task at the tail of the queue.
func (s *Store) EnqueueTask(ctx context.Context, t *engine.RetryTask) error {
	header, err := json.Marshal(t.Header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO retry_tasks (id, method, url, header, body, enqueued_at, attempts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Method, t.URL, string(header), t.Body,
		t.EnqueuedAt.UTC().Format(time.RFC3339Nano), t.Attempts,
	)
	return err
}

// ListTasks returns all queued tasks in enqueue order. Insertion order is
// the rowid order, which survives clock skew between writers.
func (s *Store) ListTasks(ctx context.Context) ([]*engine.RetryTask, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, method, url, header, body, enqueued_at, attempts
		 FROM retry_tasks ORDER BY rowid`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*engine.RetryTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// DeleteTask removes a task by ID. Deleting an absent task is a no-op.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	_, err := s.write.ExecContext(ctx, `DELETE FROM retry_tasks WHERE id = ?`, id)
	return err
}

// UpdateTaskAttempts records the attempt count after a failed replay.
func (s *Store) UpdateTaskAttempts(ctx context.Context, id string, attempts int) error {
	_, err := s.write.ExecContext(ctx,
		`UPDATE retry_tasks SET attempts = ? WHERE id = ?`, attempts, id,
	)
	return err
}

// CountTasks returns the number of queued tasks.
func (s *Store) CountTasks(ctx context.Context) (int, error) {
	var n int
	err := s.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM retry_tasks`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*engine.RetryTask, error) {
	var (
		t        engine.RetryTask
		header   string
		enqueued string
	)
	if err := row.Scan(&t.ID, &t.Method, &t.URL, &header, &t.Body, &enqueued, &t.Attempts); err != nil {
		return nil, err
	}
	if header != "" {
		var h http.Header
		if err := json.Unmarshal([]byte(header), &h); err != nil {
			return nil, fmt.Errorf("unmarshal header: %w", err)
		}
		t.Header = h
	}
	ts, err := time.Parse(time.RFC3339Nano, enqueued)
	if err != nil {
		return nil, fmt.Errorf("parse enqueued_at: %w", err)
	}
	t.EnqueuedAt = ts
	return &t, nil
}
