// Package pricing maps model identifiers to per-token rates and computes
// metered-call costs.
package pricing

import (
	"math"
	"strings"
)

// Rate is one pricing-table row. Key matches model identifiers by
// case-insensitive substring containment, so a dated or suffixed model id
// still resolves to its family rate and an aggregator-style id with an
// organization prefix still matches the bare family key.
type Rate struct {
	Key         string  `json:"key" yaml:"key"`
	InputPer1M  float64 `json:"input_per_1m" yaml:"input_per_1m"`
	OutputPer1M float64 `json:"output_per_1m" yaml:"output_per_1m"`
}

// Table is an ordered list of rates.
type Table []Rate

// DefaultTable holds builtin per-million rates for common model families.
// Local and mock models are intentionally absent: an unmatched model prices
// at zero, which is not an error.
var DefaultTable = Table{
	{Key: "claude-3-5-sonnet", InputPer1M: 3.0, OutputPer1M: 15.0},
	{Key: "claude-sonnet-4", InputPer1M: 3.0, OutputPer1M: 15.0},
	{Key: "claude-3-5-haiku", InputPer1M: 1.0, OutputPer1M: 5.0},
	{Key: "claude-3-haiku", InputPer1M: 0.25, OutputPer1M: 1.25},
	{Key: "claude-3-opus", InputPer1M: 15.0, OutputPer1M: 75.0},
	{Key: "claude-opus-4", InputPer1M: 15.0, OutputPer1M: 75.0},

	{Key: "gpt-4o-mini", InputPer1M: 0.15, OutputPer1M: 0.60},
	{Key: "gpt-4o", InputPer1M: 2.50, OutputPer1M: 10.0},
	{Key: "gpt-4-turbo", InputPer1M: 10.0, OutputPer1M: 30.0},
	{Key: "gpt-4", InputPer1M: 30.0, OutputPer1M: 60.0},
	{Key: "gpt-3.5-turbo", InputPer1M: 0.50, OutputPer1M: 1.50},
	{Key: "o1-mini", InputPer1M: 3.0, OutputPer1M: 12.0},
	{Key: "o1", InputPer1M: 15.0, OutputPer1M: 60.0},
	{Key: "o3-mini", InputPer1M: 1.1, OutputPer1M: 4.4},

	{Key: "gemini-1.5-pro", InputPer1M: 1.25, OutputPer1M: 5.0},
	{Key: "gemini-1.5-flash", InputPer1M: 0.075, OutputPer1M: 0.30},
	{Key: "gemini-2.0-flash", InputPer1M: 0.10, OutputPer1M: 0.40},

	{Key: "deepseek-chat", InputPer1M: 0.27, OutputPer1M: 1.10},
	{Key: "deepseek-reasoner", InputPer1M: 0.55, OutputPer1M: 2.19},

	{Key: "grok-2", InputPer1M: 2.0, OutputPer1M: 10.0},

	{Key: "llama-3.1-405b", InputPer1M: 3.0, OutputPer1M: 3.0},
	{Key: "llama-3.1-70b", InputPer1M: 0.60, OutputPer1M: 0.60},
	{Key: "llama-3.1-8b", InputPer1M: 0.06, OutputPer1M: 0.06},
}

// Pricer prices metered usage against a custom table layered over the
// builtin defaults.
type Pricer struct {
	custom  Table
	builtin Table
}

// NewPricer creates a pricer. The custom table may be nil; when present it
// is consulted first and may override any default key.
func NewPricer(custom Table) *Pricer {
	return &Pricer{custom: custom, builtin: DefaultTable}
}

// Lookup returns the rate for a model id and whether any key matched.
// Matching is case-insensitive substring containment of the key in the model
// id; the longest matching key wins, with custom-table entries winning exact
// length ties.
func (p *Pricer) Lookup(modelID string) (Rate, bool) {
	id := strings.ToLower(strings.TrimSpace(modelID))
	if id == "" {
		return Rate{}, false
	}

	var best Rate
	found := false
	// Custom first so that an equally-long builtin key cannot displace it.
	for _, table := range []Table{p.custom, p.builtin} {
		for _, r := range table {
			key := strings.ToLower(r.Key)
			if key == "" || !strings.Contains(id, key) {
				continue
			}
			if !found || len(key) > len(strings.ToLower(best.Key)) {
				best = r
				found = true
			}
		}
	}
	return best, found
}

// Price computes the cost of a metered call. Unknown models cost zero:
// free, local, and mock backends are legitimate.
func (p *Pricer) Price(modelID string, inputTokens, outputTokens int64) float64 {
	rate, ok := p.Lookup(modelID)
	if !ok {
		return 0
	}
	total := (float64(inputTokens)*rate.InputPer1M + float64(outputTokens)*rate.OutputPer1M) / 1_000_000
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return 0
	}
	return total
}
