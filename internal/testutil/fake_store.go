package testutil

import (
	"context"
	"sync"

	engine "github.com/eugener/warden/internal"
)

// FakeCacheStore is a synchronous map-backed cache.Store for testing.
// Unlike the otter-backed store, writes are immediately visible, which keeps
// strategy tests deterministic. FailReads/FailWrites inject cache I/O errors.
type FakeCacheStore struct {
	mu         sync.RWMutex
	name       string
	entries    map[string]*engine.Snapshot
	FailReads  bool
	FailWrites error // returned by Put when non-nil
}

// NewFakeCacheStore returns an empty store with the given name.
func NewFakeCacheStore(name string) *FakeCacheStore {
	return &FakeCacheStore{name: name, entries: make(map[string]*engine.Snapshot)}
}

// Name returns the store name.
func (s *FakeCacheStore) Name() string { return s.name }

// Get returns a copy of the snapshot for the descriptor.
func (s *FakeCacheStore) Get(_ context.Context, d engine.Descriptor) (*engine.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailReads {
		return nil, false
	}
	snap, ok := s.entries[d.Key()]
	if !ok {
		return nil, false
	}
	return snap.Clone(), true
}

// Put stores a copy of the snapshot.
func (s *FakeCacheStore) Put(_ context.Context, d engine.Descriptor, snap *engine.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	s.entries[d.Key()] = snap.Clone()
	return nil
}

// Contains reports whether a snapshot exists for the descriptor.
func (s *FakeCacheStore) Contains(_ context.Context, d engine.Descriptor) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[d.Key()]
	return ok
}

// Len returns the number of cached snapshots.
func (s *FakeCacheStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
