// Package mock provides a test double for [history.Store].
//
// Store delegates to an in-memory backend unless an error field is set, and
// records the number of calls per method.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/shopvox/internal/history"
	"github.com/MrWong99/shopvox/internal/history/memstore"
)

var _ history.Store = (*Store)(nil)

// Store is a mock implementation of history.Store.
type Store struct {
	mu sync.Mutex

	// SaveErr, ListErr, DeleteErr, ClearErr and PingErr, when non-nil, are
	// returned by the matching method instead of delegating.
	SaveErr   error
	ListErr   error
	DeleteErr error
	ClearErr  error
	PingErr   error

	// SaveGate, if non-nil, is received from before every Save proceeds.
	SaveGate chan struct{}

	saves   []history.Entry
	lists   int
	deletes int
	clears  int
	closed  bool

	backend *memstore.Store
}

// New returns a Store backed by a fresh memstore.
func New() *Store {
	return &Store{backend: memstore.New()}
}

func (s *Store) inner() *memstore.Store {
	if s.backend == nil {
		s.backend = memstore.New()
	}
	return s.backend
}

// Save implements history.Store.
func (s *Store) Save(ctx context.Context, e history.Entry, p history.Policy) (history.Entry, error) {
	s.mu.Lock()
	gate := s.SaveGate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return history.Entry{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, e)
	if s.SaveErr != nil {
		return history.Entry{}, s.SaveErr
	}
	return s.inner().Save(ctx, e, p)
}

// List implements history.Store.
func (s *Store) List(ctx context.Context, actorID string, limit int) ([]history.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	return s.inner().List(ctx, actorID, limit)
}

// Delete implements history.Store.
func (s *Store) Delete(ctx context.Context, actorID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	return s.inner().Delete(ctx, actorID, id)
}

// Clear implements history.Store.
func (s *Store) Clear(ctx context.Context, actorID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	if s.ClearErr != nil {
		return 0, s.ClearErr
	}
	return s.inner().Clear(ctx, actorID)
}

// Ping implements history.Store.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// Close implements history.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Saves returns every entry passed to Save, in call order.
func (s *Store) Saves() []history.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]history.Entry, len(s.saves))
	copy(out, s.saves)
	return out
}

// SaveCount returns the number of Save calls.
func (s *Store) SaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
