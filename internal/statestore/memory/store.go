// Package memory provides an in-memory state store for development and
// testing. It doubles as the reference cache implementation: Done records
// become Fetch results for later items with the same URL.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/linkvault/archiver/internal/archive"
)

// ItemState is the lifecycle state tracked per URL.
type ItemState string

// Lifecycle states recorded by the store.
const (
	StateStarted ItemState = "started"
	StateDone    ItemState = "done"
	StateFailed  ItemState = "failed"
	StateAborted ItemState = "aborted"
)

type entry struct {
	state   ItemState
	record  *archive.Record
	updated time.Time
}

// Store keeps per-URL lifecycle state and archived records in memory.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New constructs a Store.
func New() *Store {
	return &Store{entries: make(map[string]entry)}
}

// Name implements archive.StateStore.
func (s *Store) Name() string { return "memory" }

// Started marks the URL as in flight without touching any cached record.
func (s *Store) Started(_ context.Context, rec *archive.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[rec.URL]
	e.state = StateStarted
	e.updated = time.Now().UTC()
	s.entries[rec.URL] = e
	return nil
}

// Fetch returns a copy of the previously archived record for the URL, or
// nil when none is known.
func (s *Store) Fetch(_ context.Context, rec *archive.Record) (*archive.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[rec.URL]
	if !ok || e.record == nil {
		return nil, nil
	}
	return e.record.Clone(), nil
}

// Done stores the finished record as the cache entry for its URL.
func (s *Store) Done(_ context.Context, rec *archive.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[rec.URL] = entry{
		state:   StateDone,
		record:  rec.Clone(),
		updated: time.Now().UTC(),
	}
	return nil
}

// Failed marks the URL failed, keeping any previously archived record.
func (s *Store) Failed(_ context.Context, rec *archive.Record) error {
	return s.setState(rec.URL, StateFailed)
}

// Aborted marks the URL aborted, keeping any previously archived record.
func (s *Store) Aborted(_ context.Context, rec *archive.Record) error {
	return s.setState(rec.URL, StateAborted)
}

func (s *Store) setState(url string, state ItemState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[url]
	e.state = state
	e.updated = time.Now().UTC()
	s.entries[url] = e
	return nil
}

// State returns the recorded lifecycle state for a URL.
func (s *Store) State(url string) (ItemState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[url]
	return e.state, ok
}

// Len reports how many URLs the store tracks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
