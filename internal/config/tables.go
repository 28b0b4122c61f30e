package config

import (
	"os"
	"strings"

	"github.com/Laisky/errors/v2"
	"gopkg.in/yaml.v3"

	"github.com/modelgate/modelgate/internal/domain"
)

// TransformerRule maps a family token found in a requested model name to an
// alternate provider consulted during resolver stage 3 (§4.2). Rules are
// data, not code, so they can be overridden without a rebuild.
type TransformerRule struct {
	Contains string          `yaml:"contains" json:"contains"`
	Provider domain.Provider `yaml:"provider" json:"provider"`
}

// PriceEntry is the (price_in, price_out) pair for one (provider, model) in
// the illustrative pricing table (§9). Units are USD per token.
type PriceEntry struct {
	PriceIn  float64 `yaml:"price_in" json:"price_in"`
	PriceOut float64 `yaml:"price_out" json:"price_out"`
}

// Tables is the full set of data-driven tables the pool and resolver consult.
type Tables struct {
	TransformerRules []TransformerRule            `yaml:"transformer_rules"`
	Pricing          map[string]map[string]PriceEntry `yaml:"pricing"` // provider -> model -> price
}

// defaultTables mirrors the three example rules documented in spec §4.2 and a
// minimal illustrative pricing table with a "default" fallback row per provider.
func defaultTables() *Tables {
	return &Tables{
		TransformerRules: []TransformerRule{
			{Contains: "claude", Provider: domain.ProviderDeepSeek},
			{Contains: "gpt", Provider: domain.ProviderDeepSeek},
			{Contains: "gemini", Provider: domain.ProviderDeepSeek},
		},
		Pricing: map[string]map[string]PriceEntry{
			string(domain.ProviderOpenAI): {
				"default": {PriceIn: 0.0000025, PriceOut: 0.00001},
				"gpt-4o":  {PriceIn: 0.0000025, PriceOut: 0.00001},
			},
			string(domain.ProviderAnthropic): {
				"default": {PriceIn: 0.000003, PriceOut: 0.000015},
			},
			string(domain.ProviderGemini): {
				"default": {PriceIn: 0.00000125, PriceOut: 0.000005},
			},
			string(domain.ProviderDeepSeek): {
				"default": {PriceIn: 0.00000027, PriceOut: 0.0000011},
			},
		},
	}
}

// LoadTables returns the compiled-in default tables, overridden by path if
// non-empty. A missing or unreadable override file is a configuration error;
// an empty path simply returns the defaults.
func LoadTables(path string) (*Tables, error) {
	tables := defaultTables()
	if path == "" {
		return tables, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config tables file: %s", path)
	}
	var override Tables
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, errors.Wrapf(err, "parse config tables file: %s", path)
	}
	if len(override.TransformerRules) > 0 {
		tables.TransformerRules = override.TransformerRules
	}
	if len(override.Pricing) > 0 {
		tables.Pricing = override.Pricing
	}
	return tables, nil
}

// PriceFor looks up the (price_in, price_out) pair for a provider/model,
// falling back to the provider's "default" row when the model is unlisted.
func (t *Tables) PriceFor(provider domain.Provider, model string) PriceEntry {
	byModel, ok := t.Pricing[string(provider)]
	if !ok {
		return PriceEntry{}
	}
	if entry, ok := byModel[model]; ok {
		return entry
	}
	if entry, ok := byModel["default"]; ok {
		return entry
	}
	return PriceEntry{}
}

// ResolveTransformerProvider returns the provider indicated by the first
// matching rule (case-insensitive substring match on requested), or "" if none match.
func (t *Tables) ResolveTransformerProvider(requested string) domain.Provider {
	lower := strings.ToLower(requested)
	for _, rule := range t.TransformerRules {
		if strings.Contains(lower, strings.ToLower(rule.Contains)) {
			return rule.Provider
		}
	}
	return ""
}
