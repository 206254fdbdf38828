// Package productsearch defines the Provider interface for product search
// backends.
//
// A provider wraps a remote search service that fans a query out to one or
// more marketplaces and returns a flat list of products. The orchestrator
// treats any error (transport failure, non-2xx status, timeout) identically:
// it routes the request to the fallback synthesizer. An empty product list is
// not an error at this layer; the orchestrator decides how to present it.
//
// Implementations must be safe for concurrent use.
package productsearch

import (
	"context"

	"github.com/MrWong99/shopvox/pkg/types"
)

// Request is the wire request sent to the search service.
type Request struct {
	Query    string         `json:"query"`
	Category string         `json:"category,omitempty"`
	MinPrice *float64       `json:"min_price,omitempty"`
	MaxPrice *float64       `json:"max_price,omitempty"`
	Brand    string         `json:"brand,omitempty"`
	Limit    int            `json:"limit"`
	Sources  []types.Source `json:"sources"`

	// Fallback asks the service to widen the search to every marketplace
	// when the selected ones return nothing. Always true when sent by the
	// orchestrator.
	Fallback bool `json:"fallback"`
}

// Response is the wire response returned by the search service.
type Response struct {
	Products       []types.Product `json:"products"`
	TotalResults   int             `json:"total_results"`
	FiltersApplied map[string]any  `json:"filters_applied,omitempty"`
}

// Provider is the abstraction over any product search backend.
type Provider interface {
	// Search executes req and returns the matching products. Implementations
	// must honour ctx cancellation and deadlines.
	Search(ctx context.Context, req Request) (Response, error)
}
