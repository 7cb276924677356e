// Package storage defines persistence interfaces for the engine.
package storage

import (
	"context"

	engine "github.com/eugener/warden/internal"
)

// TaskStore is the durable backing of the background retry queue. Tasks
// survive process restarts; replay order is enqueue order.
type TaskStore interface {
	EnqueueTask(ctx context.Context, t *engine.RetryTask) error
	// ListTasks returns all queued tasks in enqueue order.
	ListTasks(ctx context.Context) ([]*engine.RetryTask, error)
	DeleteTask(ctx context.Context, id string) error
	UpdateTaskAttempts(ctx context.Context, id string, attempts int) error
	CountTasks(ctx context.Context) (int, error)
}

// VersionStore persists the currently activated cache generation label so a
// restarted engine knows which stores are live.
type VersionStore interface {
	// CurrentVersion returns the activated version label, or "" if no
	// version has ever been activated.
	CurrentVersion(ctx context.Context) (string, error)
	SetCurrentVersion(ctx context.Context, version string) error
}

// Store combines all storage interfaces.
type Store interface {
	TaskStore
	VersionStore
	Close() error
}
