// Package reconcile compares a provider's reported wallet balance before and
// after a paid request and infers the actual spend.
//
// DESIGN: Selection and budgeting trust provider-declared prices; this
// package deliberately does not. The only authoritative signal is the
// independently observed balance delta. The two must never be conflated.
package reconcile

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/routstr/gateway-monitor/internal/config"
	"github.com/routstr/gateway-monitor/internal/session"
)

// Result is the outcome of one reconciliation.
type Result struct {
	// ActualSpend is the observed balance delta in minor units.
	ActualSpend int64

	// SweepNeeded is true when the residual balance is dust: too small to be
	// usefully reused, worth reclaiming via a refund call.
	SweepNeeded bool

	// FirstSeen is true when this provider had no prior observed balance and
	// the prior was seeded synthetically from the authorized ceiling.
	FirstSeen bool
}

// Reconciler drives the per-provider balance state machine against the
// session store.
type Reconciler struct {
	store *session.Store
}

// New creates a Reconciler backed by the given store.
func New(store *session.Store) *Reconciler {
	return &Reconciler{store: store}
}

// Reconcile processes one observed post-request balance for a provider.
//
// Providers with no prior balance (state Unknown) get a synthetic prior equal
// to the authorized ceiling in minor units: the heuristic assumes a freshly
// funded credential starts at exactly the authorized amount. A provider could
// fund it with any amount, so first-cycle spend figures are approximate; the
// state is Tracked from then on and later deltas are exact.
//
// On every invocation the new balance is persisted and the usage counter
// incremented, atomically per provider. Callers that cannot observe a balance
// must skip reconciliation entirely rather than pass a guess.
func (r *Reconciler) Reconcile(ctx context.Context, providerURL string, observedBalance, authorizedCeiling int64) (Result, error) {
	unlock := r.store.Lock(providerURL)
	defer unlock()

	sess, found, err := r.store.Get(ctx, providerURL)
	if err != nil {
		return Result{}, fmt.Errorf("reconcile %s: %w", providerURL, err)
	}

	var res Result
	prior := authorizedCeiling * config.MinorUnitsPerSat
	if found && sess.HasBalance {
		prior = sess.Balance
	} else {
		res.FirstSeen = true
	}

	res.ActualSpend = prior - observedBalance
	res.SweepNeeded = observedBalance%config.MinorUnitsPerSat < config.DustThresholdMinor

	if err := r.store.RecordUsage(ctx, providerURL, observedBalance); err != nil {
		return Result{}, fmt.Errorf("reconcile %s: %w", providerURL, err)
	}

	log.Debug().
		Str("provider", providerURL).
		Int64("prior_balance", prior).
		Int64("observed_balance", observedBalance).
		Int64("actual_spend", res.ActualSpend).
		Bool("sweep_needed", res.SweepNeeded).
		Bool("first_seen", res.FirstSeen).
		Msg("balance reconciled")

	return res, nil
}
