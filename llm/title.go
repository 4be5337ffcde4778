package llm

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	titleSystemPrompt = "You are a helpful assistant that generates short, concise titles for conversations. " +
		"Generate a title in the same language as the conversation. The title should be 3-8 words, " +
		"descriptive, and capture the main topic. Only output the title, nothing else."
	titleUserPrompt  = "Based on the above conversation, generate a short title (3-8 words):"
	titleMaxMessages = 4
	titleMaxRunes    = 100

	// DefaultTitle is used when a generated title comes back empty
	DefaultTitle = "New Chat"
)

// GenerateTitle asks p for a short title summarising the first few messages
func GenerateTitle(ctx context.Context, p Provider, messages []Message, model string) (string, error) {
	prompt := []Message{{Role: RoleSystem, Content: titleSystemPrompt}}
	for i, msg := range messages {
		if i >= titleMaxMessages {
			break
		}
		if msg.Role == RoleSystem {
			continue
		}
		prompt = append(prompt, msg)
	}
	prompt = append(prompt, Message{Role: RoleUser, Content: titleUserPrompt})

	title, err := p.Complete(ctx, prompt, model)
	if err != nil {
		return "", fmt.Errorf("failed to generate title: %w", err)
	}

	return cleanTitle(title), nil
}

// cleanTitle cleans up a generated title by removing quotes and extra whitespace
func cleanTitle(title string) string {
	title = strings.TrimSpace(title)
	title = strings.Trim(title, "\"'")
	title = strings.TrimSpace(title)

	if utf8.RuneCountInString(title) > titleMaxRunes {
		title = string([]rune(title)[:titleMaxRunes]) + "..."
	}

	if title == "" {
		title = DefaultTitle
	}

	return title
}
