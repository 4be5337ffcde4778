package llm

import (
	"context"
	"net/http"
	"sort"
	"strings"
)

// DefaultOllamaBaseURL is where a local Ollama listens unless configured otherwise
const DefaultOllamaBaseURL = "http://localhost:11434"

// OllamaProvider implements the Provider interface for Ollama
type OllamaProvider struct {
	baseURL string
	client  *http.Client
}

// NewOllamaProvider creates a new Ollama provider
func NewOllamaProvider(config Config) *OllamaProvider {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}

	return &OllamaProvider{
		baseURL: baseURL,
		client:  config.httpClient(),
	}
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Model     string        `json:"model"`
	CreatedAt string        `json:"created_at"`
	Message   ollamaMessage `json:"message"`
	Done      bool          `json:"done"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Kind returns the provider discriminator
func (p *OllamaProvider) Kind() ProviderKind {
	return Ollama
}

// Complete implements non-streaming chat
func (p *OllamaProvider) Complete(ctx context.Context, messages []Message, model string) (string, error) {
	ollamaMessages := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		ollamaMessages = append(ollamaMessages, ollamaMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	reqBody := ollamaChatRequest{
		Model:    modelOrDefault(Ollama, model),
		Messages: ollamaMessages,
		Stream:   false,
	}

	var chatResp ollamaChatResponse
	if err := doJSON(ctx, p.client, Ollama, http.MethodPost, p.baseURL+"/api/chat", nil, reqBody, &chatResp); err != nil {
		return "", err
	}

	return chatResp.Message.Content, nil
}

// ollamaFallbackModels is served when the local daemon cannot be reached
var ollamaFallbackModels = []string{"codellama", "llama2", "llama2:13b", "llama2:70b", "mistral", "mixtral"}

// ListModels returns the locally installed models
func (p *OllamaProvider) ListModels(ctx context.Context) ModelList {
	var tags ollamaTagsResponse
	if err := doJSON(ctx, p.client, Ollama, http.MethodGet, p.baseURL+"/api/tags", nil, nil, &tags); err != nil {
		return fallback(ollamaFallbackModels, err)
	}

	models := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, m.Name)
	}
	sort.Strings(models)

	return ModelList{Models: models}
}
