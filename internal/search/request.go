package search

import (
	"slices"
	"sync"

	"github.com/MrWong99/shopvox/pkg/criteria"
	"github.com/MrWong99/shopvox/pkg/types"
)

// Status is the lifecycle state of a [Request].
type Status string

const (
	StatusPending    Status = "pending"
	StatusInFlight   Status = "in_flight"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusSuperseded Status = "superseded"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSuperseded, StatusCancelled:
		return true
	default:
		return false
	}
}

// Request is one dispatched search. Token and Criteria never change after
// dispatch; the remaining fields are updated as the request resolves.
//
// All methods are safe for concurrent use.
type Request struct {
	// Token orders requests. Only the request holding the latest token may
	// publish state.
	Token uint64

	// Criteria is the snapshot the search was issued with.
	Criteria criteria.Criteria

	mu       sync.Mutex
	status   Status
	products []types.Product
	err      error
	done     chan struct{}
}

func newRequest(token uint64, c criteria.Criteria) *Request {
	return &Request{
		Token:    token,
		Criteria: c,
		status:   StatusPending,
		done:     make(chan struct{}),
	}
}

// Status returns the current status.
func (r *Request) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Products returns the products the request resolved with.
func (r *Request) Products() []types.Product {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.products)
}

// Err returns the error the request failed with, if any.
func (r *Request) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Done is closed once the request reaches a terminal status.
func (r *Request) Done() <-chan struct{} { return r.done }

// setInFlight moves a pending request to in-flight.
func (r *Request) setInFlight() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == StatusPending {
		r.status = StatusInFlight
	}
}

// finish moves the request to a terminal status. The first call wins; it
// reports whether this call did the transition.
func (r *Request) finish(st Status, products []types.Product, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return false
	}
	r.status = st
	r.products = products
	r.err = err
	close(r.done)
	return true
}
