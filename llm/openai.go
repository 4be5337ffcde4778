package llm

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements the Provider interface for OpenAI
type OpenAIProvider struct {
	client *openai.Client
	config Config
}

// NewOpenAIProvider creates a new OpenAI provider. An empty API key is
// accepted here and reported as an AuthError on use.
func NewOpenAIProvider(config Config) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}
	clientConfig.HTTPClient = config.httpClient()

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}
}

// Kind returns the provider discriminator
func (p *OpenAIProvider) Kind() ProviderKind {
	return OpenAI
}

// Complete implements non-streaming chat
func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message, model string) (string, error) {
	if p.config.APIKey == "" {
		return "", &AuthError{Provider: OpenAI}
	}

	openaiMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		openaiMessages = append(openaiMessages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     modelOrDefault(OpenAI, model),
		Messages:  openaiMessages,
		MaxTokens: p.config.maxTokens(),
	})
	if err != nil {
		return "", openAIError(err)
	}

	if len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: OpenAI, StatusCode: 200, Message: "no choices in response"}
	}

	return resp.Choices[0].Message.Content, nil
}

// openAIFallbackModels is served whenever the live model list is unavailable
var openAIFallbackModels = []string{"gpt-3.5-turbo", "gpt-4", "gpt-4-turbo", "gpt-4o", "gpt-4o-mini"}

// openAIExcluded marks model ids that are not chat models
var openAIExcluded = []string{"instruct", "edit", "embedding", "whisper", "tts", "dall-e", "audio", "image"}

// ListModels fetches chat-capable models, falling back to a fixed list
func (p *OpenAIProvider) ListModels(ctx context.Context) ModelList {
	if p.config.APIKey == "" {
		return fallback(openAIFallbackModels, &AuthError{Provider: OpenAI})
	}

	resp, err := p.client.ListModels(ctx)
	if err != nil {
		return fallback(openAIFallbackModels, openAIError(err))
	}

	var models []string
	for _, m := range resp.Models {
		if isOpenAIChatModel(m.ID) {
			models = append(models, m.ID)
		}
	}
	if len(models) == 0 {
		return fallback(openAIFallbackModels, nil)
	}

	sort.Strings(models)
	return ModelList{Models: models}
}

func isOpenAIChatModel(id string) bool {
	if !strings.Contains(id, "gpt") {
		return false
	}
	for _, word := range openAIExcluded {
		if strings.Contains(id, word) {
			return false
		}
	}
	return true
}

// openAIError maps go-openai errors onto ProviderError
func openAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: OpenAI, StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{Provider: OpenAI, StatusCode: reqErr.HTTPStatusCode, Err: err}
	}

	return &ProviderError{Provider: OpenAI, Err: err}
}
