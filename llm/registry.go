package llm

import (
	"context"
	"sync"
)

// Factory builds a provider from a per-call configuration
type Factory func(config Config) Provider

// Registry selects a provider implementation by discriminator
type Registry struct {
	mu        sync.RWMutex
	factories map[ProviderKind]Factory
	base      Config
}

// NewRegistry returns a registry with the openai, anthropic and ollama
// factories installed. base supplies the settings shared by every provider
// (max tokens, timeout, API version, HTTP client); credentials are layered
// on top per call.
func NewRegistry(base Config) *Registry {
	r := &Registry{
		factories: make(map[ProviderKind]Factory),
		base:      base,
	}
	r.Register(OpenAI, func(c Config) Provider { return NewOpenAIProvider(c) })
	r.Register(Anthropic, func(c Config) Provider { return NewClaudeProvider(c) })
	r.Register(Ollama, func(c Config) Provider { return NewOllamaProvider(c) })
	return r
}

// Register installs or replaces the factory for kind
func (r *Registry) Register(kind ProviderKind, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalizeKind(string(kind))] = factory
}

// Provider returns the provider named by discriminator, configured with
// creds. The discriminator is matched case-insensitively.
func (r *Registry) Provider(discriminator string, creds Credentials) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[normalizeKind(discriminator)]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnsupportedProviderError{Name: discriminator}
	}

	config := r.base
	config.APIKey = creds.APIKey
	config.BaseURL = creds.BaseURL
	return factory(config), nil
}

// ListModels lists the models of one provider. The only hard error is an
// unknown discriminator.
func (r *Registry) ListModels(ctx context.Context, discriminator string, creds Credentials) (ModelList, error) {
	p, err := r.Provider(discriminator, creds)
	if err != nil {
		return ModelList{}, err
	}
	return p.ListModels(ctx), nil
}
