// Package mock provides a test double for the productsearch package.
//
// Provider records every request and answers from either a static Response /
// Err pair or a per-call SearchFunc. A SearchFunc that blocks on a channel
// lets tests control the order in which concurrent requests resolve.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/shopvox/pkg/provider/productsearch"
)

// Ensure Provider implements productsearch.Provider at compile time.
var _ productsearch.Provider = (*Provider)(nil)

// Provider is a mock implementation of productsearch.Provider.
type Provider struct {
	mu sync.Mutex

	// Response is returned when SearchFunc is nil.
	Response productsearch.Response

	// Err, if non-nil, is returned when SearchFunc is nil.
	Err error

	// SearchFunc, if set, computes the answer for each call. The call index
	// is zero-based.
	SearchFunc func(call int, req productsearch.Request) (productsearch.Response, error)

	// Calls records every request in arrival order.
	Calls []productsearch.Request
}

// Search records the call and returns the configured answer.
func (p *Provider) Search(_ context.Context, req productsearch.Request) (productsearch.Response, error) {
	p.mu.Lock()
	idx := len(p.Calls)
	p.Calls = append(p.Calls, req)
	fn := p.SearchFunc
	resp, err := p.Response, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(idx, req)
	}
	return resp, err
}

// CallCount returns the number of recorded calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastCall returns the most recent request and whether one exists.
func (p *Provider) LastCall() (productsearch.Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return productsearch.Request{}, false
	}
	return p.Calls[len(p.Calls)-1], true
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
