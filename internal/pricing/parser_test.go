package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(id, raw string) Entry {
	return Entry{ID: id, Raw: []byte(raw)}
}

func TestParseEntry_SatsPricing(t *testing.T) {
	q, ok := ParseEntry(entry("b", `{"id":"b","sats_pricing":{"prompt":1,"completion":1,"max_cost":12}}`))
	require.True(t, ok)
	assert.Equal(t, 1.0, q.PromptCost)
	assert.Equal(t, 1.0, q.CompletionCost)
	assert.Equal(t, 12.0, q.MaxCost)
	assert.Equal(t, 2.0, q.TotalCost())
}

func TestParseEntry_StringPrices(t *testing.T) {
	// Providers serialize prices as strings as often as numbers.
	q, ok := ParseEntry(entry("m", `{"sats_pricing":{"prompt":"0.5","completion":"1.5","max_cost":"9.4"}}`))
	require.True(t, ok)
	assert.Equal(t, 0.5, q.PromptCost)
	assert.Equal(t, 1.5, q.CompletionCost)
	assert.Equal(t, 9.4, q.MaxCost)
}

func TestParseEntry_USDConversion(t *testing.T) {
	// USD catalogs convert at 1e8 sats per USD. Prompt-only blocks are
	// accepted; completion and max_cost default to zero.
	q, ok := ParseEntry(entry("z", `{"id":"z","pricing":{"prompt":"0.0000001"}}`))
	require.True(t, ok)
	assert.InDelta(t, 10.0, q.PromptCost, 1e-9)
	assert.Equal(t, 0.0, q.CompletionCost)
	assert.Equal(t, 0.0, q.MaxCost)
}

func TestParseEntry_Rejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no pricing block", `{"id":"x"}`},
		{"non-numeric prompt", `{"id":"y","pricing":{"prompt":"abc"}}`},
		{"missing prompt", `{"id":"p","sats_pricing":{"completion":1,"max_cost":5}}`},
		{"non-numeric max_cost", `{"sats_pricing":{"prompt":1,"completion":1,"max_cost":"lots"}}`},
		{"negative prompt", `{"sats_pricing":{"prompt":-1,"completion":1,"max_cost":5}}`},
		{"pricing is not an object", `{"pricing":"free"}`},
		{"empty object", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := ParseEntry(entry("r", tt.raw))
			assert.False(t, ok)
		})
	}
}

func TestParseCatalog_SkipsInvalidEntries(t *testing.T) {
	entries := []Entry{
		entry("good-1", `{"sats_pricing":{"prompt":1,"completion":2,"max_cost":8}}`),
		entry("bad", `{"sats_pricing":{"prompt":"oops"}}`),
		entry("no-pricing", `{"name":"mystery"}`),
		entry("good-2", `{"sats_pricing":{"prompt":0,"completion":0,"max_cost":3}}`),
	}

	quotes := ParseCatalog(entries)
	require.Len(t, quotes, 2)
	assert.Equal(t, "good-1", quotes[0].Entry.ID)
	assert.Equal(t, "good-2", quotes[1].Entry.ID)
}

func TestParseCatalog_Empty(t *testing.T) {
	assert.Empty(t, ParseCatalog(nil))
}
