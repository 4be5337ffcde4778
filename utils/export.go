package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"chatui/db"
)

// ExportFormat represents the export format
type ExportFormat string

const (
	FormatJSON     ExportFormat = "json"
	FormatMarkdown ExportFormat = "markdown"
)

// ParseExportFormat maps a query value onto an ExportFormat. Empty means JSON.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	}
	return "", NewValidationError("format", "unsupported export format %q", s)
}

// ContentType returns the MIME type of an export document
func (f ExportFormat) ContentType() string {
	if f == FormatMarkdown {
		return "text/markdown; charset=utf-8"
	}
	return "application/json; charset=utf-8"
}

// ConversationExport represents a conversation export structure
type ConversationExport struct {
	ID        int64             `json:"id"`
	Title     string            `json:"title"`
	Provider  string            `json:"provider"`
	Model     string            `json:"model"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Messages  []MessageExport   `json:"messages"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// MessageExport represents a message export structure
type MessageExport struct {
	ID         int64     `json:"id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	Provider   string    `json:"provider,omitempty"`
	Model      string    `json:"model,omitempty"`
	TokensUsed int       `json:"tokens_used,omitempty"`
	CreatedAt  time.Time `json:"timestamp"`
}

// NewConversationExport builds the export structure for a conversation
func NewConversationExport(conv *db.Conversation, messages []*db.Message, exportedAt time.Time) ConversationExport {
	export := ConversationExport{
		ID:        conv.ID,
		Title:     conv.Title,
		Provider:  conv.Provider,
		Model:     conv.Model,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
		Messages:  make([]MessageExport, 0, len(messages)),
		Metadata: map[string]string{
			"export_version": "1.0",
			"export_date":    exportedAt.Format(time.RFC3339),
		},
	}

	for _, msg := range messages {
		export.Messages = append(export.Messages, MessageExport{
			ID:         msg.ID,
			Role:       msg.Role,
			Content:    msg.Content,
			Provider:   msg.Provider,
			Model:      msg.Model,
			TokensUsed: msg.TokensUsed,
			CreatedAt:  msg.CreatedAt,
		})
	}

	return export
}

// WriteExport renders a conversation in the requested format
func WriteExport(w io.Writer, format ExportFormat, export ConversationExport) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(export); err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return nil
	case FormatMarkdown:
		_, err := io.WriteString(w, renderMarkdown(export))
		return err
	}
	return NewValidationError("format", "unsupported export format %q", format)
}

func renderMarkdown(export ConversationExport) string {
	var sb strings.Builder

	// Header
	fmt.Fprintf(&sb, "# %s\n\n", export.Title)
	fmt.Fprintf(&sb, "**Provider**: %s / %s\n", export.Provider, export.Model)
	fmt.Fprintf(&sb, "**Created**: %s\n", export.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "**Updated**: %s\n\n", export.UpdatedAt.Format("2006-01-02 15:04:05"))
	sb.WriteString("---\n\n")

	for i, msg := range export.Messages {
		roleName := "User"
		switch msg.Role {
		case "assistant":
			roleName = "Assistant"
		case "system":
			roleName = "System"
		}

		fmt.Fprintf(&sb, "## %s\n\n", roleName)
		if msg.Provider != "" || msg.Model != "" {
			fmt.Fprintf(&sb, "*%s - %s*\n\n", msg.Provider, msg.Model)
		}

		sb.WriteString(msg.Content)
		sb.WriteString("\n\n")

		if i < len(export.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	// Footer
	sb.WriteString("\n---\n\n")
	fmt.Fprintf(&sb, "*Exported: %s*\n", export.Metadata["export_date"])

	return sb.String()
}

// ImportConversation creates a new conversation from a JSON export. The
// exported ids are not reused.
func ImportConversation(ctx context.Context, database *db.DB, r io.Reader) (*db.Conversation, error) {
	var export ConversationExport
	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return nil, NewValidationError("body", "invalid export document: %v", err)
	}

	// Validate
	if strings.TrimSpace(export.Title) == "" {
		return nil, NewValidationError("title", "missing title")
	}
	if len(export.Messages) == 0 {
		return nil, NewValidationError("messages", "no messages")
	}
	for i, msg := range export.Messages {
		switch msg.Role {
		case "system", "user", "assistant":
		default:
			return nil, NewValidationError(fmt.Sprintf("messages[%d].role", i), "unknown role %q", msg.Role)
		}
	}

	msgs := make([]db.NewMessage, 0, len(export.Messages))
	for _, msg := range export.Messages {
		tokens := msg.TokensUsed
		if tokens == 0 {
			tokens = CountTokens(msg.Content)
		}
		msgs = append(msgs, db.NewMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			Provider:   msg.Provider,
			Model:      msg.Model,
			TokensUsed: tokens,
		})
	}

	conv, err := database.ImportConversation(ctx, export.Title, export.Provider, export.Model, msgs)
	if err != nil {
		return nil, fmt.Errorf("failed to import conversation: %w", err)
	}
	return conv, nil
}

// GenerateExportFilename generates a filename for export
func GenerateExportFilename(title string, format ExportFormat, now time.Time) string {
	// Sanitize title for filename
	sanitized := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|' {
			return '_'
		}
		return r
	}, title)

	if runes := []rune(sanitized); len(runes) > 50 {
		sanitized = string(runes[:50])
	}

	ext := string(format)
	if format == FormatMarkdown {
		ext = "md"
	}

	return fmt.Sprintf("%s_%s.%s", sanitized, now.Format("20060102_150405"), ext)
}
