// Package voice turns finished recordings into searches: it transcribes the
// audio, extracts a product query and price bounds from the transcript,
// applies them to the criteria store and submits the result to the search
// orchestrator.
package voice

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/MrWong99/shopvox/pkg/criteria"
)

// Intent is what a transcript asks for.
type Intent struct {
	// Transcript is the text the intent was parsed from.
	Transcript string

	// Query is the product query with price phrases and filler removed.
	Query string

	MinPrice *float64
	MaxPrice *float64

	// Category is set by [Intent.Actions] callers that infer one; the parser
	// leaves it empty.
	Category string
}

const amount = `\$?\s*(\d[\d,]*(?:\.\d+)?)\s*(k\b)?(?:\s*(?:dollars?|bucks|usd))?`

var (
	betweenRe = regexp.MustCompile(`(?i)\b(?:between|from)\s+` + amount + `\s*(?:and|to|-)\s*` + amount)
	maxRe     = regexp.MustCompile(`(?i)\b(?:under|below|less\s+than|cheaper\s+than|up\s+to|at\s+most|no\s+more\s+than|max(?:imum)?(?:\s+of)?)\s+` + amount)
	minRe     = regexp.MustCompile(`(?i)\b(?:over|above|more\s+than|at\s+least|starting\s+at|min(?:imum)?(?:\s+of)?)\s+` + amount)

	leadingFillerRe  = regexp.MustCompile(`(?i)^(?:(?:please|hey|ok(?:ay)?)[\s,]+)?(?:can\s+you\s+)?(?:show\s+me|find\s+me|find|search\s+for|look\s+for|i(?:'m|\s+am)\s+looking\s+for|i\s+want|i\s+need|get\s+me|buy)\s+(?:some\s+|an?\s+|the\s+)?`)
	trailingFillerRe = regexp.MustCompile(`(?i)\s+(?:for|priced|costing|at|that\s+costs?|which\s+costs?|that\s+are|please)$`)
	spaceRe          = regexp.MustCompile(`\s+`)
)

// ParseTranscript extracts an [Intent] from spoken text.
func ParseTranscript(text string) Intent {
	in := Intent{Transcript: text}
	rest := text

	if m := betweenRe.FindStringSubmatchIndex(rest); m != nil {
		lo, okLo := parseAmount(rest, m[2], m[3], m[4], m[5])
		hi, okHi := parseAmount(rest, m[6], m[7], m[8], m[9])
		if okLo && okHi {
			if lo > hi {
				lo, hi = hi, lo
			}
			in.MinPrice, in.MaxPrice = &lo, &hi
		}
		rest = rest[:m[0]] + " " + rest[m[1]:]
	}
	if m := maxRe.FindStringSubmatchIndex(rest); m != nil {
		if v, ok := parseAmount(rest, m[2], m[3], m[4], m[5]); ok && in.MaxPrice == nil {
			in.MaxPrice = &v
		}
		rest = rest[:m[0]] + " " + rest[m[1]:]
	}
	if m := minRe.FindStringSubmatchIndex(rest); m != nil {
		if v, ok := parseAmount(rest, m[2], m[3], m[4], m[5]); ok && in.MinPrice == nil {
			in.MinPrice = &v
		}
		rest = rest[:m[0]] + " " + rest[m[1]:]
	}

	in.Query = cleanQuery(rest)
	return in
}

func parseAmount(s string, numStart, numEnd, kStart, kEnd int) (float64, bool) {
	if numStart < 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s[numStart:numEnd], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	if kStart >= 0 && kEnd > kStart {
		v *= 1000
	}
	return v, true
}

func cleanQuery(s string) string {
	s = strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
	s = strings.Trim(s, ".,!?;: ")
	s = leadingFillerRe.ReplaceAllString(s, "")
	for {
		next := trailingFillerRe.ReplaceAllString(s, "")
		if next == s {
			break
		}
		s = next
	}
	return strings.Trim(strings.TrimSpace(s), ".,!?;: ")
}

// Actions returns the criteria actions that apply in. The query is only set
// when one was spoken; price bounds only when mentioned.
func (in Intent) Actions() []criteria.Action {
	var actions []criteria.Action
	if in.Query != "" {
		actions = append(actions, criteria.SetQuery{Query: in.Query})
	}
	if in.MinPrice != nil {
		actions = append(actions, criteria.SetMinPrice{Price: criteria.Price(*in.MinPrice)})
	}
	if in.MaxPrice != nil {
		actions = append(actions, criteria.SetMaxPrice{Price: criteria.Price(*in.MaxPrice)})
	}
	if in.Category != "" {
		actions = append(actions, criteria.SetCategory{Category: in.Category})
	}
	return actions
}
