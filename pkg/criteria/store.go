package criteria

import "sync"

// Listener is invoked after every dispatched action with the previous and the
// new criteria. Listeners run synchronously on the dispatching goroutine, in
// dispatch order, and must not call [Store.Dispatch] themselves.
type Listener func(old, new Criteria)

// Store holds the current [Criteria] and applies actions to it in dispatch
// order. It has no side effects of its own; consumers observe changes by
// registering a [Listener].
//
// All methods are safe for concurrent use.
type Store struct {
	// dispatchMu serialises Dispatch so listeners observe changes in the
	// same order the actions were applied.
	dispatchMu sync.Mutex

	mu        sync.RWMutex
	current   Criteria
	listeners map[int]Listener
	nextID    int
}

// NewStore creates a Store seeded with initial.
func NewStore(initial Criteria) *Store {
	if initial.limit == 0 {
		initial.limit = DefaultLimit
	}
	return &Store{
		current:   initial,
		listeners: make(map[int]Listener),
	}
}

// Current returns the current criteria.
func (s *Store) Current() Criteria {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Dispatch applies each action in order and notifies listeners once per
// action. It returns the criteria after the last action.
func (s *Store) Dispatch(actions ...Action) Criteria {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	var latest Criteria
	for _, a := range actions {
		s.mu.Lock()
		old := s.current
		s.current = Reduce(old, a)
		latest = s.current
		listeners := s.snapshotListeners()
		s.mu.Unlock()

		for _, l := range listeners {
			l(old, latest)
		}
	}
	if len(actions) == 0 {
		return s.Current()
	}
	return latest
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// snapshotListeners returns listeners in registration order. Must be called
// with s.mu held.
func (s *Store) snapshotListeners() []Listener {
	out := make([]Listener, 0, len(s.listeners))
	for id := 0; id < s.nextID; id++ {
		if l, ok := s.listeners[id]; ok {
			out = append(out, l)
		}
	}
	return out
}
