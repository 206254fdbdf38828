// Package memstore is an in-process [history.Store]. Entries live for the
// lifetime of the process.
package memstore

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/shopvox/internal/history"
)

var _ history.Store = (*Store)(nil)

// Store keeps entries per actor, newest first. The zero value is not usable;
// call [New].
type Store struct {
	mu      sync.RWMutex
	entries map[string][]history.Entry
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[string][]history.Entry)}
}

// Save implements history.Store.
func (s *Store) Save(_ context.Context, e history.Entry, p history.Policy) (history.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.entries[e.ActorID]
	saved, evict := history.Merge(existing, e, p)

	next := make([]history.Entry, 0, len(existing)+1)
	next = append(next, cloneEntry(saved))
	for _, x := range existing {
		if x.ID == saved.ID || slices.Contains(evict, x.ID) {
			continue
		}
		next = append(next, x)
	}
	history.SortNewestFirst(next)
	s.entries[e.ActorID] = next
	return cloneEntry(saved), nil
}

// List implements history.Store.
func (s *Store) List(_ context.Context, actorID string, limit int) ([]history.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.entries[actorID]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]history.Entry, len(entries))
	for i, e := range entries {
		out[i] = cloneEntry(e)
	}
	return out, nil
}

// Delete implements history.Store.
func (s *Store) Delete(_ context.Context, actorID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.entries[actorID]
	i := slices.IndexFunc(entries, func(e history.Entry) bool { return e.ID == id })
	if i < 0 {
		return history.ErrNotFound
	}
	s.entries[actorID] = slices.Delete(entries, i, i+1)
	return nil
}

// Clear implements history.Store.
func (s *Store) Clear(_ context.Context, actorID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries[actorID])
	delete(s.entries, actorID)
	return n, nil
}

// Ping implements history.Store.
func (s *Store) Ping(context.Context) error { return nil }

// Close implements history.Store.
func (s *Store) Close() error { return nil }

func cloneEntry(e history.Entry) history.Entry {
	e.Sources = slices.Clone(e.Sources)
	return e
}
