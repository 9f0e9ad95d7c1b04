package providers

import (
	"errors"
	"fmt"
	"sync"

	"llm_fanout/internal/models"
)

// ErrProviderNotFound is returned when no adapter is registered for a type
var ErrProviderNotFound = errors.New("provider not found")

// Registry maps provider types to adapters and manages their lifecycle
type Registry struct {
	mu        sync.RWMutex
	providers map[models.ProviderType]Provider
}

// RegistryConfig holds per-adapter configuration
type RegistryConfig struct {
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Gemini    GeminiConfig
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{providers: make(map[models.ProviderType]Provider)}
}

// NewDefaultRegistry creates a registry with the built-in adapters registered
func NewDefaultRegistry(cfg RegistryConfig) *Registry {
	r := NewRegistry()
	r.Register(NewOpenAIProvider(cfg.OpenAI))
	r.Register(NewAnthropicProvider(cfg.Anthropic))
	r.Register(NewGeminiProvider(cfg.Gemini))
	return r
}

// Register adds or replaces the adapter for its type
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Type()] = p
}

// Get returns the adapter for a provider type
func (r *Registry) Get(t models.ProviderType) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, t)
	}
	return p, nil
}

// Close closes all adapters
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
