package criteria

import (
	"slices"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/shopvox/pkg/types"
)

// Categories lists the general product categories understood by every
// marketplace.
var Categories = []string{
	"electronics", "smartphones", "laptops", "tablets", "headphones",
	"wearables", "smart_home", "cameras", "gaming", "audio", "tv",
	"computers", "appliances",
}

// SourceCategories lists categories that only exist on one marketplace.
var SourceCategories = map[types.Source][]string{
	types.SourceAmazon:  {"amazon_devices", "kindle", "prime_video"},
	types.SourceEbay:    {"collectibles", "antiques", "motors"},
	types.SourceWalmart: {"grocery", "pharmacy", "baby"},
}

// CategoriesFor returns the general categories followed by the
// marketplace-specific categories of every source in sources.
func CategoriesFor(sources []types.Source) []string {
	out := slices.Clone(Categories)
	for _, s := range types.SortSources(sources) {
		out = append(out, SourceCategories[s]...)
	}
	return out
}

// IsKnownCategory reports whether name appears in [Categories] or in any
// entry of [SourceCategories].
func IsKnownCategory(name string) bool {
	if slices.Contains(Categories, name) {
		return true
	}
	for _, cats := range SourceCategories {
		if slices.Contains(cats, name) {
			return true
		}
	}
	return false
}

// defaultCategoryThreshold is the minimum Jaro-Winkler similarity for a
// spoken token to be considered a category mention.
const defaultCategoryThreshold = 0.90

// InferCategory scans text for a token (or adjacent token pair) that matches
// a category in candidates. Matching is phonetic first (Double Metaphone)
// and confirmed by Jaro-Winkler similarity, so "head phones" and
// "headfones" both resolve to "headphones". Returns "" when nothing scores
// above the threshold.
func InferCategory(text string, candidates []string) string {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 || len(candidates) == 0 {
		return ""
	}

	// Unigrams plus joined bigrams catch spoken splits of compound words.
	grams := slices.Clone(tokens)
	for i := 0; i+1 < len(tokens); i++ {
		grams = append(grams, tokens[i]+tokens[i+1])
	}

	var (
		best      string
		bestScore float64
	)
	for _, cat := range candidates {
		name := strings.ReplaceAll(cat, "_", "")
		catCodes := metaphoneCodes(name)
		for _, g := range grams {
			g = strings.Trim(g, ".,!?;:'\"")
			if g == "" {
				continue
			}
			score := matchr.JaroWinkler(g, name, false)
			if score < defaultCategoryThreshold {
				continue
			}
			// Plural forms and near-spellings share a metaphone code; an
			// exact-ish string match without one is still accepted.
			if !overlaps(metaphoneCodes(g), catCodes) && score < 0.97 {
				continue
			}
			if score > bestScore {
				best, bestScore = cat, score
			}
		}
	}
	return best
}

func metaphoneCodes(word string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}
