package models

import (
	"fmt"
	"strings"
)

// ProviderType names an upstream LLM vendor.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderGemini    ProviderType = "gemini"
)

// AllProviders lists the supported provider types.
var AllProviders = []ProviderType{ProviderOpenAI, ProviderAnthropic, ProviderGemini}

// Valid reports whether p is a supported provider type.
func (p ProviderType) Valid() bool {
	for _, known := range AllProviders {
		if p == known {
			return true
		}
	}
	return false
}

// ModelRef identifies a model on a specific provider.
type ModelRef struct {
	Provider ProviderType `json:"provider"`
	Model    string       `json:"model"`
}

func (m ModelRef) String() string {
	return string(m.Provider) + ":" + m.Model
}

var modelPrefixes = []struct {
	prefix   string
	provider ProviderType
}{
	{"gpt-", ProviderOpenAI},
	{"chatgpt-", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"claude-", ProviderAnthropic},
	{"gemini-", ProviderGemini},
}

// ParseModelRef accepts "provider:model" or a bare model name whose provider
// is inferred from well-known prefixes.
func ParseModelRef(s string) (ModelRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ModelRef{}, fmt.Errorf("model reference is empty")
	}

	if provider, model, ok := strings.Cut(s, ":"); ok {
		p := ProviderType(strings.ToLower(provider))
		if !p.Valid() {
			return ModelRef{}, fmt.Errorf("unknown provider %q", provider)
		}
		if model == "" {
			return ModelRef{}, fmt.Errorf("model name missing in %q", s)
		}
		return ModelRef{Provider: p, Model: model}, nil
	}

	lower := strings.ToLower(s)
	for _, mp := range modelPrefixes {
		if strings.HasPrefix(lower, mp.prefix) {
			return ModelRef{Provider: mp.provider, Model: s}, nil
		}
	}
	return ModelRef{}, fmt.Errorf("cannot infer provider for model %q", s)
}
