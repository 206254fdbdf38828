package criteria

import (
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/shopvox/pkg/types"
)

// Action is a typed mutation request for a [Criteria]. The set of actions is
// closed: only the types declared in this package implement it.
type Action interface {
	// Name returns the wire name of the action (e.g., "set_query").
	Name() string

	apply(Criteria) Criteria
}

// Reduce applies a to c and returns the resulting criteria. c is never
// modified. A nil action returns c unchanged.
func Reduce(c Criteria, a Action) Criteria {
	if a == nil {
		return c
	}
	return a.apply(c)
}

// SetQuery replaces the free-text query.
type SetQuery struct{ Query string }

// SetBrand replaces the brand filter. An empty or whitespace-only brand
// clears the filter.
type SetBrand struct{ Brand string }

// SetMinPrice replaces the lower price bound. A nil Price clears it.
type SetMinPrice struct{ Price *float64 }

// SetMaxPrice replaces the upper price bound. A nil Price clears it.
type SetMaxPrice struct{ Price *float64 }

// SetCategory replaces the category filter. An empty category clears it.
type SetCategory struct{ Category string }

// ToggleSource flips the membership of exactly one source. Sources not in
// [types.Catalog] are ignored.
type ToggleSource struct{ Source types.Source }

// SetLimit replaces the result limit. Non-positive values restore
// [DefaultLimit]; values above [MaxLimit] are clamped.
type SetLimit struct{ Limit int }

// Reset restores [Default].
type Reset struct{}

func (SetQuery) Name() string     { return "set_query" }
func (SetBrand) Name() string     { return "set_brand" }
func (SetMinPrice) Name() string  { return "set_min_price" }
func (SetMaxPrice) Name() string  { return "set_max_price" }
func (SetCategory) Name() string  { return "set_category" }
func (ToggleSource) Name() string { return "toggle_source" }
func (SetLimit) Name() string     { return "set_limit" }
func (Reset) Name() string        { return "reset" }

func (a SetQuery) apply(c Criteria) Criteria {
	c.sources = slices.Clone(c.sources)
	c.query = a.Query
	return c
}

func (a SetBrand) apply(c Criteria) Criteria {
	c.sources = slices.Clone(c.sources)
	c.brand = strings.TrimSpace(a.Brand)
	return c
}

func (a SetMinPrice) apply(c Criteria) Criteria {
	c.sources = slices.Clone(c.sources)
	c.minPrice = clonePrice(a.Price)
	return c
}

func (a SetMaxPrice) apply(c Criteria) Criteria {
	c.sources = slices.Clone(c.sources)
	c.maxPrice = clonePrice(a.Price)
	return c
}

func (a SetCategory) apply(c Criteria) Criteria {
	c.sources = slices.Clone(c.sources)
	c.category = strings.ToLower(strings.TrimSpace(a.Category))
	return c
}

func (a ToggleSource) apply(c Criteria) Criteria {
	if !a.Source.IsValid() {
		c.sources = slices.Clone(c.sources)
		return c
	}
	next := make([]types.Source, 0, len(c.sources)+1)
	found := false
	for _, s := range c.sources {
		if s == a.Source {
			found = true
			continue
		}
		next = append(next, s)
	}
	if !found {
		next = append(next, a.Source)
	}
	c.sources = types.SortSources(next)
	return c
}

func (a SetLimit) apply(c Criteria) Criteria {
	c.sources = slices.Clone(c.sources)
	switch {
	case a.Limit <= 0:
		c.limit = DefaultLimit
	case a.Limit > MaxLimit:
		c.limit = MaxLimit
	default:
		c.limit = a.Limit
	}
	return c
}

func (Reset) apply(Criteria) Criteria {
	return Default()
}

func clonePrice(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Price is a convenience constructor for the optional price fields of
// [SetMinPrice] and [SetMaxPrice].
func Price(v float64) *float64 { return &v }

// WireAction is the JSON envelope used by transports to send actions:
//
//	{"type": "toggle_source", "source": "ebay"}
type WireAction struct {
	Type     string       `json:"type"`
	Query    string       `json:"query,omitempty"`
	Brand    string       `json:"brand,omitempty"`
	Category string       `json:"category,omitempty"`
	Price    *float64     `json:"price,omitempty"`
	Source   types.Source `json:"source,omitempty"`
	Limit    int          `json:"limit,omitempty"`
}

// Decode converts the envelope into a typed [Action].
func (w WireAction) Decode() (Action, error) {
	switch w.Type {
	case SetQuery{}.Name():
		return SetQuery{Query: w.Query}, nil
	case SetBrand{}.Name():
		return SetBrand{Brand: w.Brand}, nil
	case SetMinPrice{}.Name():
		return SetMinPrice{Price: w.Price}, nil
	case SetMaxPrice{}.Name():
		return SetMaxPrice{Price: w.Price}, nil
	case SetCategory{}.Name():
		return SetCategory{Category: w.Category}, nil
	case ToggleSource{}.Name():
		src, ok := types.ParseSource(string(w.Source))
		if !ok {
			return nil, fmt.Errorf("criteria: unknown source %q", w.Source)
		}
		return ToggleSource{Source: src}, nil
	case SetLimit{}.Name():
		return SetLimit{Limit: w.Limit}, nil
	case Reset{}.Name():
		return Reset{}, nil
	default:
		return nil, fmt.Errorf("criteria: unknown action type %q", w.Type)
	}
}
