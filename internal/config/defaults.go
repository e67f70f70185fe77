// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined
// here. This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// PRICE SELECTION
// =============================================================================

// DefaultBracketFloor is the lower bound (sats, inclusive) of the target
// price bracket matched against a model's advertised max cost.
const DefaultBracketFloor = 5.0

// DefaultBracketRange is the width (sats) of the target price bracket.
// The bracket is half-open: [floor, floor+range).
const DefaultBracketRange = 10.0

// DefaultSafetyMargin is added (sats) on top of the rounded-up advertised
// max cost when sizing a payment credential.
const DefaultSafetyMargin = 15

// =============================================================================
// BALANCE RECONCILIATION
// =============================================================================

// MinorUnitsPerSat is the scale factor between sats and the minor units
// providers report wallet balances in.
const MinorUnitsPerSat = 1000

// DustThresholdMinor marks a residual balance as sweepable when
// balance % MinorUnitsPerSat falls below it.
const DustThresholdMinor = 21

// =============================================================================
// HTTP AND NETWORKING
// =============================================================================

// DefaultHTTPTimeout bounds every catalog, inference, and wallet call.
const DefaultHTTPTimeout = 10 * time.Second

// RelayPublishTimeout bounds one relay publish round-trip.
const RelayPublishTimeout = 6 * time.Second

// RelayFetchTimeout bounds one relay query round-trip.
const RelayFetchTimeout = 3 * time.Second

// DefaultWalletBaseURL is the local payment-wallet HTTP API.
const DefaultWalletBaseURL = "http://localhost:3000"

// =============================================================================
// PROBE CYCLE
// =============================================================================

// DefaultMaxProviders caps how many configured providers one cycle probes.
const DefaultMaxProviders = 5

// DefaultDataPath is the session store location.
const DefaultDataPath = "monitor.db"

// MaxResponseExcerpt is the longest AI response excerpt carried into a
// published report.
const MaxResponseExcerpt = 800
