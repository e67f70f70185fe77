// Package report assembles the published status note from per-provider probe
// outcomes: an up/down summary, a proof section quoting the note the models
// were asked about, and the raw AI responses as an audit trail.
package report

import (
	"fmt"
	"strings"

	"github.com/routstr/gateway-monitor/internal/config"
	"github.com/routstr/gateway-monitor/internal/utils"
)

// ProviderResult is one provider's contribution to the cycle report.
type ProviderResult struct {
	URL      string
	Up       bool
	ModelID  string
	Response string

	// ActualSpend is the reconciled spend in minor units; meaningful only
	// when ReconcileSkipped is false.
	ActualSpend      int64
	EstimatedCost    float64 // provider-declared estimate, sats
	ReconcileSkipped bool
	SweepDone        bool
}

// Build renders the full note content for one cycle. quotedContent and
// quotedRef describe the previous note the models commented on; both may be
// empty on the bot's first ever cycle.
func Build(results []ProviderResult, quotedContent, quotedRef string) string {
	var up, down []string
	for _, r := range results {
		if r.Up {
			up = append(up, r.URL)
		} else {
			down = append(down, r.URL)
		}
	}

	var b strings.Builder
	if len(up) > 0 {
		b.WriteString("✅ Providers working as expected:")
		b.WriteString(strings.Join(up, "\n"))
	}
	if len(down) > 0 {
		b.WriteString("🔴 Providers with issues:")
		b.WriteString(strings.Join(down, "\n"))
	}

	b.WriteString("\nProof: \n")
	if quotedContent != "" {
		fmt.Fprintf(&b, "A recent Nostr note: '%s'\n", quotedContent)
	}
	if quotedRef != "" {
		fmt.Fprintf(&b, "Note ID: %s\n", quotedRef)
	}

	b.WriteString("\nAI responses: \n")
	for _, r := range results {
		fmt.Fprintf(&b, "Provider: %s (%s): \n", stripScheme(r.URL), modelLabel(r.ModelID))
		if r.Response != "" {
			b.WriteString(utils.Truncate(r.Response, config.MaxResponseExcerpt))
		} else {
			b.WriteString("AI Response Failed!")
		}
		b.WriteString("\n\n")
	}

	return b.String()
}

func modelLabel(id string) string {
	if id == "" {
		return "Not available"
	}
	return id
}

func stripScheme(url string) string {
	url = strings.TrimPrefix(url, "https://")
	return strings.TrimPrefix(url, "http://")
}
