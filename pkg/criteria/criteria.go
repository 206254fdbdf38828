// Package criteria holds the search criteria value and the reducer that
// evolves it.
//
// A [Criteria] is an immutable value: every [Action] passed to [Reduce]
// produces a new Criteria and never modifies its input. [Store] wraps the
// reducer with the single current value observed by the search
// orchestrator, applying actions strictly in dispatch order.
package criteria

import (
	"slices"
	"strings"

	"github.com/MrWong99/shopvox/pkg/types"
)

// DefaultLimit is the result limit restored by [Reset].
const DefaultLimit = 10

// MaxLimit caps [SetLimit]. Larger values are clamped.
const MaxLimit = 100

// Criteria is the immutable search criteria value.
//
// Copy freely: the slice and pointer fields are never shared with the value
// returned by [Reduce]; accessors return defensive copies.
type Criteria struct {
	query    string
	brand    string
	category string
	minPrice *float64
	maxPrice *float64
	limit    int
	sources  []types.Source
}

// Default returns the documented default criteria: empty query, no filters,
// no enabled sources, and [DefaultLimit].
func Default() Criteria {
	return Criteria{limit: DefaultLimit}
}

// Query returns the free-text query as entered.
func (c Criteria) Query() string { return c.query }

// TrimmedQuery returns the query with surrounding whitespace removed.
func (c Criteria) TrimmedQuery() string { return strings.TrimSpace(c.query) }

// Brand returns the optional brand filter ("" when unset).
func (c Criteria) Brand() string { return c.brand }

// Category returns the optional category filter ("" when unset).
func (c Criteria) Category() string { return c.category }

// MinPrice returns the lower price bound and whether it is set.
func (c Criteria) MinPrice() (float64, bool) {
	if c.minPrice == nil {
		return 0, false
	}
	return *c.minPrice, true
}

// MaxPrice returns the upper price bound and whether it is set.
func (c Criteria) MaxPrice() (float64, bool) {
	if c.maxPrice == nil {
		return 0, false
	}
	return *c.maxPrice, true
}

// Limit returns the maximum number of results requested.
func (c Criteria) Limit() int { return c.limit }

// Sources returns the enabled sources in catalog order.
func (c Criteria) Sources() []types.Source {
	return slices.Clone(c.sources)
}

// HasSource reports whether s is enabled.
func (c Criteria) HasSource(s types.Source) bool {
	return slices.Contains(c.sources, s)
}

// Equal reports whether c and o describe the same criteria.
func (c Criteria) Equal(o Criteria) bool {
	return c.query == o.query &&
		c.brand == o.brand &&
		c.category == o.category &&
		c.limit == o.limit &&
		equalPrice(c.minPrice, o.minPrice) &&
		equalPrice(c.maxPrice, o.maxPrice) &&
		slices.Equal(c.sources, o.sources)
}

func equalPrice(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Snapshot is the exported, serialisable form of a [Criteria]. It is used on
// the wire (HTTP API, WebSocket events, MCP tools) and never fed back into the
// reducer directly; use [FromSnapshot] for that.
type Snapshot struct {
	Query    string         `json:"query"`
	Brand    string         `json:"brand,omitempty"`
	Category string         `json:"category,omitempty"`
	MinPrice *float64       `json:"min_price,omitempty"`
	MaxPrice *float64       `json:"max_price,omitempty"`
	Limit    int            `json:"limit"`
	Sources  []types.Source `json:"sources"`
}

// Snapshot returns the serialisable form of c.
func (c Criteria) Snapshot() Snapshot {
	s := Snapshot{
		Query:    c.query,
		Brand:    c.brand,
		Category: c.category,
		Limit:    c.limit,
		Sources:  c.Sources(),
	}
	if v, ok := c.MinPrice(); ok {
		s.MinPrice = &v
	}
	if v, ok := c.MaxPrice(); ok {
		s.MaxPrice = &v
	}
	if s.Sources == nil {
		s.Sources = []types.Source{}
	}
	return s
}

// FromSnapshot builds a Criteria by replaying s through the reducer, so every
// normalisation rule (source ordering, limit clamping, unknown sources
// dropped) applies exactly as it would for dispatched actions.
func FromSnapshot(s Snapshot) Criteria {
	c := Default()
	actions := []Action{
		SetQuery{Query: s.Query},
		SetBrand{Brand: s.Brand},
		SetCategory{Category: s.Category},
		SetMinPrice{Price: s.MinPrice},
		SetMaxPrice{Price: s.MaxPrice},
	}
	if s.Limit > 0 {
		actions = append(actions, SetLimit{Limit: s.Limit})
	}
	for _, src := range types.SortSources(s.Sources) {
		actions = append(actions, ToggleSource{Source: src})
	}
	for _, a := range actions {
		c = Reduce(c, a)
	}
	return c
}
