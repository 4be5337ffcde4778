package db

import "time"

// Schema defaults for conversations created without an explicit provider or model.
const (
	DefaultProvider = "openai"
	DefaultModel    = "gpt-3.5-turbo"
)

// Conversation represents a chat conversation bound to one provider/model pair
type Conversation struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message represents a single message in a conversation
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Role           string    `json:"role"` // "system", "user" or "assistant"
	Content        string    `json:"content"`
	Provider       string    `json:"provider"` // set on assistant replies
	Model          string    `json:"model"`
	TokensUsed     int       `json:"tokens_used"`
	CreatedAt      time.Time `json:"timestamp"`
}

// Settings is the singleton settings record. API keys hold ciphertext when
// read from or written to the database.
type Settings struct {
	OpenAIAPIKey     string `json:"openai_api_key"`
	AnthropicAPIKey  string `json:"anthropic_api_key"`
	OpenAIBaseURL    string `json:"openai_base_url"`
	AnthropicBaseURL string `json:"anthropic_base_url"`
	OllamaBaseURL    string `json:"ollama_base_url"`
	DefaultProvider  string `json:"default_provider"`
	DefaultModel     string `json:"default_model"`
}

// DeleteCounts reports how many rows a bulk delete removed
type DeleteCounts struct {
	Conversations int64 `json:"conversations"`
	Messages      int64 `json:"messages"`
}
