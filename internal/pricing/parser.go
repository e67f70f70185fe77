package pricing

import (
	"math"
	"strconv"

	"github.com/tidwall/gjson"
)

// ParseEntry validates one catalog entry into a Quote.
//
// A quote is produced only when the entry carries a usable pricing block:
// either "sats_pricing" (prices already in sats, max_cost expected) or the
// OpenRouter-style "pricing" block (USD strings, converted at SatsPerUSD).
// The prompt cost is required; completion and max_cost default to zero when
// absent. Any present field that fails numeric parsing rejects the entry.
//
// Rejection is silent by design: the caller filters, it never errors. One
// malformed entry must not poison the rest of the catalog.
func ParseEntry(e Entry) (Quote, bool) {
	if sats := gjson.GetBytes(e.Raw, "sats_pricing"); sats.Exists() {
		return parseBlock(e, sats, 1)
	}
	if usd := gjson.GetBytes(e.Raw, "pricing"); usd.Exists() {
		return parseBlock(e, usd, SatsPerUSD)
	}
	return Quote{}, false
}

// ParseCatalog applies ParseEntry across a catalog, keeping only valid quotes
// in catalog order.
func ParseCatalog(entries []Entry) []Quote {
	quotes := make([]Quote, 0, len(entries))
	for _, e := range entries {
		if q, ok := ParseEntry(e); ok {
			quotes = append(quotes, q)
		}
	}
	return quotes
}

func parseBlock(e Entry, block gjson.Result, scale float64) (Quote, bool) {
	prompt, ok := parsePrice(block.Get("prompt"), scale)
	if !ok {
		return Quote{}, false
	}

	completion, ok := parseOptionalPrice(block.Get("completion"), scale)
	if !ok {
		return Quote{}, false
	}
	maxCost, ok := parseOptionalPrice(block.Get("max_cost"), scale)
	if !ok {
		return Quote{}, false
	}

	return Quote{
		Entry:          e,
		PromptCost:     prompt,
		CompletionCost: completion,
		MaxCost:        maxCost,
	}, true
}

// parseOptionalPrice treats a missing field as zero but a present,
// unparseable field as a rejection.
func parseOptionalPrice(v gjson.Result, scale float64) (float64, bool) {
	if !v.Exists() {
		return 0, true
	}
	return parsePrice(v, scale)
}

// parsePrice accepts JSON numbers and numeric strings; both appear in the
// wild. Negative, NaN, and infinite values are rejected.
func parsePrice(v gjson.Result, scale float64) (float64, bool) {
	var f float64
	switch v.Type {
	case gjson.Number:
		f = v.Num
	case gjson.String:
		parsed, err := strconv.ParseFloat(v.Str, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	f *= scale
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	return f, true
}
