package llm

import (
	"context"
	"net/http"
	"strings"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	defaultAnthropicVersion = "2023-06-01"
)

// ClaudeProvider implements the Provider interface for Anthropic Claude
type ClaudeProvider struct {
	apiKey  string
	baseURL string
	config  Config
	client  *http.Client
}

// ClaudeMessage represents a message in Claude's format
type ClaudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ClaudeRequest represents a request to Claude API
type ClaudeRequest struct {
	Model     string          `json:"model"`
	Messages  []ClaudeMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
}

// ClaudeResponse represents a response from Claude API
type ClaudeResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewClaudeProvider creates a new Claude provider
func NewClaudeProvider(config Config) *ClaudeProvider {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	if config.APIVersion == "" {
		config.APIVersion = defaultAnthropicVersion
	}

	return &ClaudeProvider{
		apiKey:  config.APIKey,
		baseURL: baseURL,
		config:  config,
		client:  config.httpClient(),
	}
}

// Kind returns the provider discriminator
func (p *ClaudeProvider) Kind() ProviderKind {
	return Anthropic
}

// Complete implements non-streaming chat
func (p *ClaudeProvider) Complete(ctx context.Context, messages []Message, model string) (string, error) {
	if p.apiKey == "" {
		return "", &AuthError{Provider: Anthropic}
	}

	claudeMessages, systemPrompt := convertClaudeMessages(messages)
	req := ClaudeRequest{
		Model:     modelOrDefault(Anthropic, model),
		Messages:  claudeMessages,
		MaxTokens: p.config.maxTokens(),
		System:    systemPrompt,
	}

	var claudeResp ClaudeResponse
	if err := doJSON(ctx, p.client, Anthropic, http.MethodPost, p.baseURL+"/messages", p.headers(), req, &claudeResp); err != nil {
		return "", err
	}

	if len(claudeResp.Content) == 0 {
		return "", &ProviderError{Provider: Anthropic, StatusCode: http.StatusOK, Message: "no content in response"}
	}

	return claudeResp.Content[0].Text, nil
}

// claudeModels is the fixed list Anthropic chat models are offered from
var claudeModels = []string{
	"claude-3-5-sonnet-20241022",
	"claude-3-5-sonnet-20240620",
	"claude-3-opus-20240229",
	"claude-3-sonnet-20240229",
	"claude-3-haiku-20240307",
}

// ListModels returns the known Claude models. There is no remote call.
func (p *ClaudeProvider) ListModels(ctx context.Context) ModelList {
	return ModelList{Models: append([]string(nil), claudeModels...)}
}

// convertClaudeMessages lifts the leading run of system messages into the
// top-level system prompt. Everything after it, including later system
// messages, is passed through in order.
func convertClaudeMessages(messages []Message) ([]ClaudeMessage, string) {
	var system []string
	i := 0
	for ; i < len(messages) && messages[i].Role == RoleSystem; i++ {
		system = append(system, messages[i].Content)
	}

	claudeMessages := make([]ClaudeMessage, 0, len(messages)-i)
	for _, msg := range messages[i:] {
		claudeMessages = append(claudeMessages, ClaudeMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	return claudeMessages, strings.Join(system, "\n\n")
}

func (p *ClaudeProvider) headers() map[string]string {
	return map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": p.config.APIVersion,
	}
}
