// Package domain holds the persistent and transient data types shared across
// the resolver, credential pool, and adapters: ModelConfig, ApiKey,
// RequestContext, the canonical message shape, and the request log entry.
package domain

import (
	"strings"
	"time"
)

// Provider is a closed set of upstream vendors the proxy knows how to talk to.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderDeepSeek  Provider = "deepseek"
)

// Providers lists the registered provider set, used to validate ModelConfig.Provider.
var Providers = map[Provider]bool{
	ProviderOpenAI:    true,
	ProviderAnthropic: true,
	ProviderGemini:    true,
	ProviderDeepSeek:  true,
}

// ModelConfig is a persistent row mapping an externally visible route name to
// a concrete upstream (provider, target_model). route_key is unique among
// enabled rows; Provider must belong to the registered set.
type ModelConfig struct {
	ID             int64     `json:"id" gorm:"primaryKey"`
	RouteKey       string    `json:"route_key" gorm:"uniqueIndex:idx_route_key_enabled;not null"`
	TargetModel    string    `json:"target_model" gorm:"not null"`
	Provider       Provider  `json:"provider" gorm:"not null;index"`
	PromptKeywords string    `json:"prompt_keywords"`
	Enabled        bool      `json:"enabled" gorm:"default:true;index"`
	APIBase        string    `json:"api_base"`
	AuthHeader     string    `json:"auth_header"`
	AuthFormat     string    `json:"auth_format"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// KeywordList splits the comma-separated PromptKeywords into trimmed, non-empty tokens.
func (m *ModelConfig) KeywordList() []string {
	var out []string
	for _, tok := range strings.Split(m.PromptKeywords, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
