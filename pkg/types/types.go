// Package types defines the shared types used across all shopvox packages.
//
// These types form the lingua franca between the criteria store, the search
// orchestrator, the providers, and the history layer. Each package defines its
// own domain types, but cross-cutting data structures live here to avoid
// circular imports.
package types

import (
	"slices"
	"strings"
)

// Source identifies a marketplace that products can be searched on.
type Source string

const (
	// SourceAmazon is the primary marketplace.
	SourceAmazon Source = "amazon"

	// SourceEbay is the secondary marketplace.
	SourceEbay Source = "ebay"

	// SourceWalmart is the tertiary marketplace.
	SourceWalmart Source = "walmart"
)

// Catalog is the fixed, ordered list of marketplaces shopvox knows about.
// Order matters: it determines the canonical order in which enabled sources
// are sent upstream and synthesized.
var Catalog = []Source{SourceAmazon, SourceEbay, SourceWalmart}

// IsValid reports whether s is a member of [Catalog].
func (s Source) IsValid() bool {
	return slices.Contains(Catalog, s)
}

// DisplayName returns the human-readable marketplace name.
func (s Source) DisplayName() string {
	switch s {
	case SourceAmazon:
		return "Amazon"
	case SourceEbay:
		return "eBay"
	case SourceWalmart:
		return "Walmart"
	default:
		return string(s)
	}
}

// ParseSource converts a case-insensitive name into a [Source]. The second
// return value is false if name is not in [Catalog].
func ParseSource(name string) (Source, bool) {
	s := Source(strings.ToLower(strings.TrimSpace(name)))
	return s, s.IsValid()
}

// SortSources returns a copy of sources ordered by their position in
// [Catalog], with duplicates and unknown sources removed.
func SortSources(sources []Source) []Source {
	out := make([]Source, 0, len(sources))
	for _, c := range Catalog {
		if slices.Contains(sources, c) {
			out = append(out, c)
		}
	}
	return out
}

// DefaultCurrency is used when a product does not carry a currency code.
const DefaultCurrency = "USD"

// Product is a single search result. Products are immutable once constructed
// and owned by whichever search request produced them.
type Product struct {
	// ID is unique within one response.
	ID string `json:"id"`

	// Title is the product's display name.
	Title string `json:"title"`

	// Price is the listed price in Currency units.
	Price float64 `json:"price"`

	// Currency is an ISO 4217 code. Defaults to [DefaultCurrency].
	Currency string `json:"currency"`

	// Source is the marketplace the product was found on.
	Source Source `json:"source"`

	ImageURL     string  `json:"image_url,omitempty"`
	Description  string  `json:"description,omitempty"`
	Brand        string  `json:"brand,omitempty"`
	Category     string  `json:"category,omitempty"`
	Rating       float64 `json:"rating,omitempty"`
	Availability string  `json:"availability,omitempty"`
	DetailURL    string  `json:"url,omitempty"`
}
