package llm

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message in the provider-neutral shape
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// ProviderKind identifies one of the supported providers
type ProviderKind string

const (
	OpenAI    ProviderKind = "openai"
	Anthropic ProviderKind = "anthropic"
	Ollama    ProviderKind = "ollama"
)

// Kinds returns every supported provider in display order
func Kinds() []ProviderKind {
	return []ProviderKind{OpenAI, Anthropic, Ollama}
}

// ParseProviderKind maps a discriminator string onto a ProviderKind
func ParseProviderKind(name string) (ProviderKind, error) {
	kind := normalizeKind(name)
	for _, k := range Kinds() {
		if k == kind {
			return kind, nil
		}
	}
	return "", &UnsupportedProviderError{Name: name}
}

func normalizeKind(name string) ProviderKind {
	return ProviderKind(strings.ToLower(strings.TrimSpace(name)))
}

// Provider interface defines the common interface for all LLM providers
type Provider interface {
	// Kind returns the provider discriminator
	Kind() ProviderKind

	// Complete sends the full message list and returns the reply text
	Complete(ctx context.Context, messages []Message, model string) (string, error)

	// ListModels returns the models the provider offers. It never fails hard;
	// problems are reported through ModelList.Fallback and ModelList.Err.
	ListModels(ctx context.Context) ModelList
}

// Credentials is the decrypted, per-call view of what a provider needs
type Credentials struct {
	APIKey  string
	BaseURL string
}

// Config represents provider configuration
type Config struct {
	APIKey     string
	BaseURL    string
	MaxTokens  int
	APIVersion string        // anthropic-version header
	Timeout    time.Duration // applied to the HTTP client
	HTTPClient *http.Client  // overrides the client built from Timeout
}

const (
	defaultMaxTokens = 1000
	defaultTimeout   = 120 * time.Second
)

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func (c Config) maxTokens() int {
	if c.MaxTokens <= 0 {
		return defaultMaxTokens
	}
	return c.MaxTokens
}

// DefaultModel returns the model used when a request names none
func DefaultModel(kind ProviderKind) string {
	switch kind {
	case OpenAI:
		return "gpt-3.5-turbo"
	case Anthropic:
		return "claude-3-sonnet-20240229"
	case Ollama:
		return "llama2"
	}
	return ""
}

func modelOrDefault(kind ProviderKind, model string) string {
	if model = strings.TrimSpace(model); model != "" {
		return model
	}
	return DefaultModel(kind)
}
