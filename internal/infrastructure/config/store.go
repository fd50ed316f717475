package config

import (
	"sync"
	"sync/atomic"
)

// Store holds the current immutable configuration snapshot and notifies
// watchers when a new snapshot is swapped in.
//
// Loading and hot-reload mechanics live outside this package; the Store
// only provides the two artifacts consumers depend on: an atomic
// snapshot reference and a change notification.
//
// Thread Safety:
//   - Current and Swap are safe for concurrent use.
//   - Readers holding an old snapshot keep a fully-consistent view;
//     snapshots are never mutated after publication.
type Store struct {
	current atomic.Pointer[Config]

	mu       sync.Mutex
	watchers []chan *Config
}

// NewStore creates a Store seeded with the given snapshot.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Current returns the active configuration snapshot.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Swap publishes a new snapshot and notifies all watchers.
// Notification is best-effort: a watcher that has not drained its
// previous notification is skipped, not blocked on.
func (s *Store) Swap(cfg *Config) {
	s.current.Store(cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- cfg:
		default:
		}
	}
}

// Watch returns a channel that receives each newly published snapshot.
// The channel has a buffer of one; slow consumers see only the latest.
func (s *Store) Watch() <-chan *Config {
	ch := make(chan *Config, 1)
	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()
	return ch
}
