package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AuthError is returned when a provider needs an API key and none is configured
type AuthError struct {
	Provider ProviderKind
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s API key not configured", e.Provider)
}

// ProviderError is returned when a provider is unreachable or answers with a
// non-success status
type ProviderError struct {
	Provider   ProviderKind
	StatusCode int // 0 when no response was received
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s request failed: %s", e.Provider, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// UnsupportedProviderError is returned for an unknown provider discriminator
type UnsupportedProviderError struct {
	Name string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported provider: %q", e.Name)
}

const maxErrorBody = 512

// errorMessage pulls a human-readable message out of an error response body.
// Both {"error": {"message": ...}} and {"error": "..."} shapes are understood.
func errorMessage(body []byte) string {
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &nested) == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}

	var flat struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &flat) == nil && flat.Error != "" {
		return flat.Error
	}

	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	return text
}
