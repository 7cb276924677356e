package cache

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/maypok86/otter/v2"

	engine "github.com/eugener/warden/internal"
)

// Memory is an in-memory W-TinyLFU store backed by otter. Snapshots are
// cloned on both Put and Get so a store never aliases caller memory: the
// original may be replayed to a second consumer.
type Memory struct {
	name   string
	cache  *otter.Cache[string, *engine.Snapshot]
	closed atomic.Bool
}

// newMemory creates an empty store with the given versioned name.
func newMemory(name string, maxEntries int) (*Memory, error) {
	c, err := otter.New[string, *engine.Snapshot](&otter.Options[string, *engine.Snapshot]{
		MaximumSize: maxEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("create store %q: %w", name, err)
	}
	return &Memory{name: name, cache: c}, nil
}

// Name returns the store name.
func (m *Memory) Name() string { return m.name }

// Get returns a copy of the snapshot for the descriptor, or false on miss.
// A closed store always misses.
func (m *Memory) Get(_ context.Context, d engine.Descriptor) (*engine.Snapshot, bool) {
	if m.closed.Load() {
		return nil, false
	}
	s, ok := m.cache.GetIfPresent(d.Key())
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Put stores a copy of the snapshot, replacing any prior entry for the
// descriptor. Last writer wins; each write is a full-snapshot replace.
func (m *Memory) Put(_ context.Context, d engine.Descriptor, s *engine.Snapshot) error {
	if m.closed.Load() {
		return fmt.Errorf("put %q: %w", m.name, engine.ErrStoreClosed)
	}
	m.cache.Set(d.Key(), s.Clone())
	return nil
}

// Contains reports whether a snapshot exists for the descriptor.
func (m *Memory) Contains(_ context.Context, d engine.Descriptor) bool {
	if m.closed.Load() {
		return false
	}
	_, ok := m.cache.GetIfPresent(d.Key())
	return ok
}

// Len returns the number of cached snapshots.
func (m *Memory) Len() int {
	if m.closed.Load() {
		return 0
	}
	return m.cache.EstimatedSize()
}

// purge empties the store without closing it.
func (m *Memory) purge(_ context.Context) {
	m.cache.InvalidateAll()
}

// close marks the store deleted. Requests still holding the handle observe
// misses and ErrStoreClosed rather than resurrecting data from a
// superseded generation.
func (m *Memory) close() {
	m.closed.Store(true)
	m.cache.InvalidateAll()
}
