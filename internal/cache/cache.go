// Package cache implements the versioned cache store manager. Stores map a
// request descriptor to at most one response snapshot; eviction is wholesale
// by version, never per entry.
package cache

import (
	"context"
	"slices"
	"sync"

	engine "github.com/eugener/warden/internal"
)

// Store is a single named cache of descriptor -> snapshot.
type Store interface {
	// Name returns the store's versioned name (e.g. "static-v3").
	Name() string
	// Get returns a copy of the cached snapshot, or false on miss.
	// Read failures are treated as misses.
	Get(ctx context.Context, d engine.Descriptor) (*engine.Snapshot, bool)
	// Put stores a copy of the snapshot, replacing any prior entry for
	// the descriptor.
	Put(ctx context.Context, d engine.Descriptor, s *engine.Snapshot) error
	// Contains reports whether a snapshot exists for the descriptor.
	Contains(ctx context.Context, d engine.Descriptor) bool
	// Len returns the number of cached snapshots.
	Len() int
}

// Manager owns the set of named stores. It is the only shared mutable
// resource in the engine; all methods are safe for concurrent use.
type Manager struct {
	mu         sync.RWMutex
	stores     map[string]*Memory
	maxEntries int
}

// NewManager creates a Manager whose stores hold at most maxEntries
// snapshots each.
func NewManager(maxEntries int) *Manager {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	return &Manager{
		stores:     make(map[string]*Memory),
		maxEntries: maxEntries,
	}
}

// Open returns the store with the given name, creating it empty if absent.
func (m *Manager) Open(name string) (Store, error) {
	m.mu.RLock()
	s, ok := m.stores[name]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[name]; ok {
		return s, nil
	}
	s, err := newMemory(name, m.maxEntries)
	if err != nil {
		return nil, err
	}
	m.stores[name] = s
	return s, nil
}

// Names returns the names of all open stores.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DeleteStoresNotIn tears down every store whose name is absent from the
// active set and returns the deleted names. This is the sole eviction
// mechanism: when the deployed version changes, stores of superseded
// generations are removed wholesale.
func (m *Manager) DeleteStoresNotIn(active []string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted []string
	for name, s := range m.stores {
		if slices.Contains(active, name) {
			continue
		}
		s.close()
		delete(m.stores, name)
		deleted = append(deleted, name)
	}
	slices.Sort(deleted)
	return deleted
}

// PurgeAll empties every open store without deleting it. Used by the
// "clear all caches" control message.
func (m *Manager) PurgeAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.stores {
		s.purge(ctx)
	}
}
