package pricing

import "math"

// Ceiling computes the spending ceiling, in whole sats, authorized for one
// probe request under the selected quote: the advertised max cost rounded up
// to the next whole sat, plus a fixed safety margin covering estimation error
// and minor-unit rounding at the payment layer.
//
// This is the amount a payment credential is sized to, never the amount
// expected to be spent.
func Ceiling(q Quote, safetyMargin int64) int64 {
	return int64(math.Ceil(q.MaxCost)) + safetyMargin
}

// EstimateCost computes the provider's own estimate of what a completed
// request cost, in sats, from its reported token usage and the quote's
// marginal prices. Advisory only; reconciliation trusts balance deltas.
func EstimateCost(q Quote, promptTokens, completionTokens int64) float64 {
	return float64(promptTokens)*q.PromptCost + float64(completionTokens)*q.CompletionCost
}
