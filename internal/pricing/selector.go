package pricing

import "math"

// fallbackRange is effectively unbounded; [0, fallbackRange) admits every
// non-negative advertised max cost.
const fallbackRange = math.MaxFloat64

// Select picks the probe model for one cycle.
//
// Candidates are quotes whose advertised MaxCost falls in bracket
// [Floor, Floor+Range). Among candidates the lowest total marginal cost
// (prompt + completion) wins; equal totals keep the first-encountered quote,
// so the result is stable in catalog order.
//
// When the bracket is empty and fallback is enabled, selection retries
// exactly once with floor 0 and an unbounded range, i.e. the globally
// cheapest quote by total cost. The retry never retries again.
func Select(quotes []Quote, bracket Bracket, fallback bool) (Quote, bool) {
	if q, ok := cheapestWithin(quotes, bracket); ok {
		return q, true
	}
	if fallback {
		return cheapestWithin(quotes, Bracket{Floor: 0, Range: fallbackRange})
	}
	return Quote{}, false
}

func cheapestWithin(quotes []Quote, bracket Bracket) (Quote, bool) {
	var best Quote
	found := false
	for _, q := range quotes {
		if !bracket.Contains(q.MaxCost) {
			continue
		}
		// Strict < keeps the earlier quote on ties.
		if !found || q.TotalCost() < best.TotalCost() {
			best = q
			found = true
		}
	}
	return best, found
}
