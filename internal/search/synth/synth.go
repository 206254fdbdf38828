// Package synth generates deterministic placeholder products shown when the
// real product search is unreachable or returns nothing.
//
// Output depends only on the query and the ordered source list, so identical
// inputs always produce identical products. One product is emitted per
// enabled source and never for a source absent from the input.
package synth

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/MrWong99/shopvox/pkg/types"
)

// Tier is a fixed price point used to differentiate synthesized products.
type Tier int

const (
	// TierPremium is the most expensive placeholder.
	TierPremium Tier = iota

	// TierValue is the mid-range placeholder.
	TierValue

	// TierBudget is the cheapest placeholder.
	TierBudget
)

// String returns the human-readable tier name.
func (t Tier) String() string {
	switch t {
	case TierPremium:
		return "premium"
	case TierValue:
		return "value"
	case TierBudget:
		return "budget"
	default:
		return "unknown"
	}
}

type tierSpec struct {
	label  string
	price  float64
	rating float64
}

var tiers = [...]tierSpec{
	TierPremium: {label: "Premium Edition", price: 199.99, rating: 4.7},
	TierValue:   {label: "Best Value", price: 99.99, rating: 4.3},
	TierBudget:  {label: "Budget Pick", price: 49.99, rating: 3.9},
}

// Availability is the availability string carried by every synthesized
// product so that consumers can tell them apart from real results.
const Availability = "demo"

// TierFor returns the tier assigned to the source at position i of the
// enabled-source list. Tiers cycle premium → value → budget.
func TierFor(i int) Tier {
	return Tier(i % len(tiers))
}

// Synthesizer produces placeholder products. The zero value is ready to use.
type Synthesizer struct{}

// New returns a Synthesizer.
func New() *Synthesizer { return &Synthesizer{} }

// Synthesize returns exactly one product per entry in sources, in the given
// order. Duplicate and unknown sources are skipped. An empty source list
// yields nil.
func (s *Synthesizer) Synthesize(query string, sources []types.Source) []types.Product {
	query = strings.TrimSpace(query)
	title := titleCase(query)
	if title == "" {
		title = "Popular Item"
	}
	slug := slugify(query)
	if slug == "" {
		slug = "item"
	}

	seen := make(map[types.Source]struct{}, len(sources))
	var out []types.Product
	for _, src := range sources {
		if !src.IsValid() {
			continue
		}
		if _, dup := seen[src]; dup {
			continue
		}
		seen[src] = struct{}{}

		spec := tiers[TierFor(len(out))]
		out = append(out, types.Product{
			ID:           fmt.Sprintf("demo-%s-%s", src, slug),
			Title:        fmt.Sprintf("%s - %s", title, spec.label),
			Price:        spec.price,
			Currency:     types.DefaultCurrency,
			Source:       src,
			Description:  fmt.Sprintf("Demo result for %q on %s.", query, src.DisplayName()),
			Rating:       spec.rating,
			Availability: Availability,
			DetailURL:    searchURL(src, query),
		})
	}
	return out
}

// searchURL returns the marketplace's own search page for query.
func searchURL(src types.Source, query string) string {
	q := url.QueryEscape(query)
	switch src {
	case types.SourceAmazon:
		return "https://www.amazon.com/s?k=" + q
	case types.SourceEbay:
		return "https://www.ebay.com/sch/i.html?_nkw=" + q
	case types.SourceWalmart:
		return "https://www.walmart.com/search?q=" + q
	default:
		return ""
	}
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
