// Package probe sequences one monitoring cycle: for each provider, fetch the
// catalog, select a model, authorize payment, run a paid inference request,
// reconcile the balance, and classify the provider's health.
//
// DESIGN: The orchestrator is a saga with no rollback. Every step failure
// short-circuits to a down verdict for that provider alone; nothing here
// panics or aborts the cycle. Reconciliation runs best-effort after the
// verdict is already up and can never downgrade it.
package probe

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/routstr/gateway-monitor/internal/pricing"
	"github.com/routstr/gateway-monitor/internal/provider"
	"github.com/routstr/gateway-monitor/internal/reconcile"
	"github.com/routstr/gateway-monitor/internal/session"
	"github.com/routstr/gateway-monitor/internal/utils"
	"github.com/routstr/gateway-monitor/internal/wallet"
)

// Outcome is one provider's probe result for the cycle report.
type Outcome struct {
	Provider string
	Up       bool
	ModelID  string
	Response string

	ModelsTotal   int     // catalog entries seen (pre-validation)
	EstimatedCost float64 // provider-declared estimate, sats

	ActualSpend      int64 // reconciled spend, minor units
	ReconcileSkipped bool
	SweepDone        bool
	FailReason       string // empty when Up
}

// Config holds the orchestrator's selection and budgeting policy.
type Config struct {
	Bracket      pricing.Bracket
	SafetyMargin int64
	Fallback     bool
	MaxProviders int
}

// Orchestrator drives probe cycles against a provider fleet.
type Orchestrator struct {
	providers *provider.Client
	wallet    *wallet.Client
	store     *session.Store
	rec       *reconcile.Reconciler
	cfg       Config
	counter   TokenCounter // optional, nil disables the local token audit
}

// New creates an Orchestrator.
func New(providers *provider.Client, w *wallet.Client, store *session.Store, cfg Config) *Orchestrator {
	return &Orchestrator{
		providers: providers,
		wallet:    w,
		store:     store,
		rec:       reconcile.New(store),
		cfg:       cfg,
	}
}

// SetTokenCounter enables the local prompt-token cross-check.
func (o *Orchestrator) SetTokenCounter(c TokenCounter) {
	o.counter = c
}

// BuildPrompt composes the inference prompt: a comment request about the
// bot's previous note, seasoned with a per-provider topic addon.
func BuildPrompt(noteContent, addon string) string {
	return fmt.Sprintf("Here's a nostr note someone made: '%s'. "+
		"Add a witty comment about how '%s'. "+
		"Keep it short and concise, within 2 sentences. No hashtags. ",
		noteContent, addon)
}

// RunCycle probes providers sequentially, at most cfg.MaxProviders of them.
// prompts rotate per provider. noteContent seeds the first prompt and is then
// replaced by each successful response, so every provider comments on the
// previous one's output. The chain doubles as proof the responses are live.
func (o *Orchestrator) RunCycle(ctx context.Context, providers, prompts []string, noteContent string) []Outcome {
	n := len(providers)
	if o.cfg.MaxProviders > 0 && n > o.cfg.MaxProviders {
		n = o.cfg.MaxProviders
	}

	outcomes := make([]Outcome, 0, n)
	for i := 0; i < n; i++ {
		addon := ""
		if len(prompts) > 0 {
			addon = prompts[i%len(prompts)]
		}

		out := o.ProbeProvider(ctx, providers[i], BuildPrompt(noteContent, addon))
		if out.Up && out.Response != "" {
			noteContent = out.Response
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// ProbeProvider runs the full saga against one provider.
func (o *Orchestrator) ProbeProvider(ctx context.Context, baseURL, prompt string) Outcome {
	out := Outcome{Provider: baseURL}

	entries, err := o.providers.FetchCatalog(ctx, baseURL)
	if err != nil {
		return o.down(out, "catalog fetch failed", err)
	}
	out.ModelsTotal = len(entries)

	quote, ok := pricing.Select(pricing.ParseCatalog(entries), o.cfg.Bracket, o.cfg.Fallback)
	if !ok {
		return o.down(out, "no model in price range", nil)
	}
	out.ModelID = quote.Entry.ID

	ceiling := pricing.Ceiling(quote, o.cfg.SafetyMargin)
	log.Info().
		Str("provider", baseURL).
		Str("model", quote.Entry.ID).
		Float64("max_cost", quote.MaxCost).
		Int64("ceiling", ceiling).
		Int("models_total", out.ModelsTotal).
		Msg("model selected")

	token, err := o.credential(ctx, baseURL, ceiling)
	if err != nil {
		return o.down(out, "payment credential unavailable", err)
	}

	resp, err := o.providers.ChatCompletion(ctx, baseURL, token, quote.Entry.ID, prompt)
	if err != nil {
		return o.down(out, "inference request failed", err)
	}

	// The provider answered a paid request; the verdict is up from here on.
	out.Up = true
	out.Response = resp.Content
	out.EstimatedCost = pricing.EstimateCost(quote, resp.PromptTokens, resp.CompletionTokens)
	o.auditTokenCount(baseURL, prompt, resp.PromptTokens)

	o.settle(ctx, &out, baseURL, token, resp.Change, ceiling)
	return out
}

// credential returns the provider's cached payment credential, issuing and
// persisting a new one only when none exists. Calling it twice for the same
// provider returns the identical token with no second issuance.
func (o *Orchestrator) credential(ctx context.Context, baseURL string, ceiling int64) (string, error) {
	unlock := o.store.Lock(baseURL)
	defer unlock()

	sess, found, err := o.store.Get(ctx, baseURL)
	if err != nil {
		return "", err
	}
	if found && sess.Token != "" {
		return sess.Token, nil
	}

	token, err := o.wallet.Send(ctx, ceiling)
	if err != nil {
		return "", err
	}
	if err := o.store.SaveToken(ctx, baseURL, token); err != nil {
		return "", err
	}

	log.Info().
		Str("provider", baseURL).
		Str("token", utils.MaskToken(token)).
		Int64("amount", ceiling).
		Msg("issued payment credential")
	return token, nil
}

// settle runs the post-success accounting: import per-request change when the
// provider returned any, otherwise reconcile the provider-side balance and
// sweep dust. Failures are logged and reported, never escalated.
func (o *Orchestrator) settle(ctx context.Context, out *Outcome, baseURL, token, change string, ceiling int64) {
	if change != "" {
		// Per-request settlement: the provider returned unspent ecash in the
		// response header. No balance to reconcile.
		if _, err := o.wallet.Receive(ctx, change); err != nil {
			log.Warn().Err(err).Str("provider", baseURL).Msg("failed to import change token")
		}
		out.ReconcileSkipped = true
		return
	}

	balance, err := o.providers.WalletInfo(ctx, baseURL, token)
	if err != nil {
		log.Warn().Err(err).Str("provider", baseURL).Msg("balance unavailable, skipping reconciliation")
		out.ReconcileSkipped = true
		return
	}

	res, err := o.rec.Reconcile(ctx, baseURL, balance, ceiling)
	if err != nil {
		log.Warn().Err(err).Str("provider", baseURL).Msg("reconciliation failed")
		out.ReconcileSkipped = true
		return
	}
	out.ActualSpend = res.ActualSpend

	log.Info().
		Str("provider", baseURL).
		Int64("actual_spend", res.ActualSpend).
		Float64("estimated_cost", out.EstimatedCost).
		Msg("spend reconciled")

	if res.SweepNeeded {
		if err := o.providers.Refund(ctx, baseURL, token); err != nil {
			log.Warn().Err(err).Str("provider", baseURL).Msg("refund failed")
		} else {
			out.SweepDone = true
			log.Info().Str("provider", baseURL).Int64("balance", balance).Msg("dust balance swept")
		}
	}
}

func (o *Orchestrator) auditTokenCount(baseURL, prompt string, billedPromptTokens int64) {
	if o.counter == nil || billedPromptTokens == 0 {
		return
	}
	local, err := o.counter.Count(prompt)
	if err != nil {
		return
	}
	log.Debug().
		Str("provider", baseURL).
		Int("local_prompt_tokens", local).
		Int64("billed_prompt_tokens", billedPromptTokens).
		Msg("prompt token audit")
	// A provider billing far beyond the local count is overcharging or
	// padding context; flag it in the log stream.
	if billedPromptTokens > int64(4*local) && billedPromptTokens > 1000 {
		log.Warn().
			Str("provider", baseURL).
			Int("local_prompt_tokens", local).
			Int64("billed_prompt_tokens", billedPromptTokens).
			Msg("billed prompt tokens far exceed local count")
	}
}

func (o *Orchestrator) down(out Outcome, reason string, err error) Outcome {
	out.Up = false
	out.FailReason = reason
	log.Warn().Err(err).Str("provider", out.Provider).Msg(reason)
	return out
}
