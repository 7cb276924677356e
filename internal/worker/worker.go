// Package worker hosts the engine's long-running background tasks: the
// retry queue drainer and the outbound-client janitor.
package worker

import "context"

// Worker is a background task tied to the process lifetime.
type Worker interface {
	// Name identifies the worker in logs.
	Name() string
	// Run blocks until ctx is cancelled or an unrecoverable error occurs.
	Run(ctx context.Context) error
}
