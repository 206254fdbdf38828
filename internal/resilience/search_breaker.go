package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/shopvox/pkg/provider/productsearch"
)

// SearchBreaker wraps a [productsearch.Provider] with a circuit breaker.
// While open, searches fail fast with [ErrCircuitOpen]; callers treat that
// like any other service error.
type SearchBreaker struct {
	provider productsearch.Provider
	breaker  *CircuitBreaker
}

// Compile-time interface assertion.
var _ productsearch.Provider = (*SearchBreaker)(nil)

// NewSearchBreaker wraps p. Cancelled contexts do not count as failures:
// the caller gave up, the service did not.
func NewSearchBreaker(p productsearch.Provider, cfg CircuitBreakerConfig) *SearchBreaker {
	if cfg.Name == "" {
		cfg.Name = "productsearch"
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}
	}
	return &SearchBreaker{provider: p, breaker: NewCircuitBreaker(cfg)}
}

// Search implements productsearch.Provider.
func (s *SearchBreaker) Search(ctx context.Context, req productsearch.Request) (productsearch.Response, error) {
	var resp productsearch.Response
	err := s.breaker.Execute(func() error {
		var err error
		resp, err = s.provider.Search(ctx, req)
		return err
	})
	if errors.Is(err, ErrCircuitOpen) {
		return productsearch.Response{}, fmt.Errorf("product search: %w", err)
	}
	return resp, err
}

// State returns the breaker state.
func (s *SearchBreaker) State() State { return s.breaker.State() }

// Breaker returns the underlying breaker.
func (s *SearchBreaker) Breaker() *CircuitBreaker { return s.breaker }
