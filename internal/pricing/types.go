// Package pricing implements catalog parsing, model selection, and probe
// budgeting for payment-gateway providers.
//
// DESIGN: Everything in this package is a pure function over provider-declared
// data. Advertised prices are planning hints, never billing guarantees; the
// reconciler (internal/reconcile) works from observed balance deltas instead.
package pricing

// SatsPerUSD is the conversion rate applied to catalogs that quote prices
// in USD rather than sats.
const SatsPerUSD = 100_000_000

// Entry is one raw, untrusted model record from a provider catalog.
// Raw holds the original JSON object so the parser can probe pricing blocks
// that may be absent, partial, or malformed.
type Entry struct {
	ID   string
	Name string
	Raw  []byte
}

// Quote is a validated pricing tuple derived from exactly one Entry.
// All costs are denominated in sats. MaxCost is the provider's advertised
// per-request ceiling; it is trusted for bracket membership only.
type Quote struct {
	Entry Entry

	// PromptCost and CompletionCost are per-token marginal costs.
	PromptCost     float64
	CompletionCost float64

	// MaxCost is the advertised upper bound for one request under this model.
	// Zero when the catalog omits it.
	MaxCost float64
}

// TotalCost is the total marginal cost used for tie-breaking in selection.
func (q Quote) TotalCost() float64 {
	return q.PromptCost + q.CompletionCost
}

// Bracket is a half-open price interval [Floor, Floor+Range) in sats,
// matched against a quote's advertised MaxCost.
type Bracket struct {
	Floor float64
	Range float64
}

// Contains reports whether cost falls inside the bracket.
func (b Bracket) Contains(cost float64) bool {
	return cost >= b.Floor && cost < b.Floor+b.Range
}
