package testutil

import (
	"context"
	"sync"

	engine "github.com/eugener/warden/internal"
)

// FakeSurface records notifications shown on the platform surface.
type FakeSurface struct {
	mu    sync.Mutex
	shown []engine.Notification
	Err   error // returned by Show when non-nil
}

// Show records the notification.
func (s *FakeSurface) Show(_ context.Context, n engine.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.shown = append(s.shown, n)
	return nil
}

// Shown returns the notifications shown so far.
func (s *FakeSurface) Shown() []engine.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.Notification(nil), s.shown...)
}
