// Package pricing converts model token usage into monetary cost.
package pricing

import (
	"github.com/user/sandbench/internal/types"
)

// Rates holds per-million-token USD rates for one model.
type Rates struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheWrite float64 `json:"cache_write"`
	CacheRead  float64 `json:"cache_read"`
}

// Table maps model identifiers to rates. It is initialized once at process
// start and read-only after, so unsynchronized concurrent reads are safe.
type Table struct {
	models       map[string]Rates
	defaultModel string
}

// DefaultModel is the model whose rates are substituted for unknown model
// identifiers. The substitution is silent: cost reporting stays available
// for future model names at the risk of mispricing them.
const DefaultModel = "claude-sonnet-4-5"

// defaultRates covers the models the builder currently invokes.
var defaultRates = map[string]Rates{
	"claude-sonnet-4-5": {Input: 3, Output: 15, CacheWrite: 3.75, CacheRead: 0.30},
	"claude-opus-4-1":   {Input: 15, Output: 75, CacheWrite: 18.75, CacheRead: 1.50},
	"claude-haiku-4-5":  {Input: 1, Output: 5, CacheWrite: 1.25, CacheRead: 0.10},
}

// NewTable builds a Table from the given model rates. A nil or empty map
// falls back to the built-in defaults. The default model must be present.
func NewTable(models map[string]Rates, defaultModel string) *Table {
	if len(models) == 0 {
		models = defaultRates
	}
	if defaultModel == "" {
		defaultModel = DefaultModel
	}
	// Copy so later mutation of the caller's map cannot leak in.
	copied := make(map[string]Rates, len(models))
	for name, rates := range models {
		copied[name] = rates
	}
	if _, ok := copied[defaultModel]; !ok {
		copied[defaultModel] = defaultRates[DefaultModel]
	}
	return &Table{models: copied, defaultModel: defaultModel}
}

// Default returns a Table with the built-in rates.
func Default() *Table {
	return NewTable(nil, "")
}

// Rates returns the rates for the given model, substituting the default
// model's rates when the model is unknown.
func (t *Table) Rates(model string) Rates {
	if rates, ok := t.models[model]; ok {
		return rates
	}
	return t.models[t.defaultModel]
}

// Cost prices one model invocation. Each usage field contributes
// field/1e6 * rate; absent fields are zero. No rounding is applied here.
func (t *Table) Cost(usage types.TokenUsage, model string) float64 {
	rates := t.Rates(model)
	const million = 1_000_000
	return float64(usage.InputTokens)/million*rates.Input +
		float64(usage.OutputTokens)/million*rates.Output +
		float64(usage.CacheWriteTokens)/million*rates.CacheWrite +
		float64(usage.CacheReadTokens)/million*rates.CacheRead
}
