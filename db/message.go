package db

import (
	"context"
	"database/sql"
	"strings"
	"time"
	"unicode"

	"github.com/pkg/errors"
)

const messageColumns = "id, conversation_id, role, content, provider, model, tokens_used, created_at"

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var msg Message
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.Provider, &msg.Model, &msg.TokensUsed, &msg.CreatedAt); err != nil {
		return nil, err
	}
	return &msg, nil
}

// NewMessage holds the fields of a message about to be appended
type NewMessage struct {
	ConversationID int64
	Role           string
	Content        string
	Provider       string
	Model          string
	TokensUsed     int
}

// CreateMessage appends a message to a conversation and bumps the
// conversation's updated_at, both in one transaction
func (db *DB) CreateMessage(ctx context.Context, m NewMessage) (*Message, error) {
	var msg *Message
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		msg, err = insertMessage(ctx, tx, m, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// insertMessage stores m and bumps its conversation's updated_at
func insertMessage(ctx context.Context, tx *sql.Tx, m NewMessage, now time.Time) (*Message, error) {
	now, err := touchConversation(ctx, tx, m.ConversationID, now)
	if err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx,
		"INSERT INTO messages (conversation_id, role, content, provider, model, tokens_used, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		m.ConversationID, m.Role, m.Content, m.Provider, m.Model, m.TokensUsed, now,
	)
	if err != nil {
		return nil, storageError("create message", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, storageError("get message id", err)
	}

	return &Message{
		ID:             id,
		ConversationID: m.ConversationID,
		Role:           m.Role,
		Content:        m.Content,
		Provider:       m.Provider,
		Model:          m.Model,
		TokensUsed:     m.TokensUsed,
		CreatedAt:      now,
	}, nil
}

// GetMessage retrieves a message by ID
func (db *DB) GetMessage(ctx context.Context, id int64) (*Message, error) {
	msg, err := scanMessage(db.conn.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = ?", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("message", id)
	}
	if err != nil {
		return nil, storageError("get message", err)
	}
	return msg, nil
}

// ListMessages retrieves all messages in a conversation in send order
func (db *DB) ListMessages(ctx context.Context, conversationID int64) ([]*Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC",
		conversationID,
	)
	if err != nil {
		return nil, storageError("list messages", err)
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, storageError("scan message", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list messages", err)
	}

	return messages, nil
}

// SearchResult represents a search result
type SearchResult struct {
	Message *Message `json:"message"`
	Snippet string   `json:"snippet"`
}

// snippetRadius is how many runes of context a snippet keeps on each side of the match
const snippetRadius = 32

// SearchMessages finds messages whose content contains query, newest first
func (db *DB) SearchMessages(ctx context.Context, query string, limit int) ([]*SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+` FROM messages WHERE content LIKE ? ESCAPE '\' ORDER BY created_at DESC, id DESC LIMIT ?`,
		"%"+escapeLike(query)+"%", limit,
	)
	if err != nil {
		return nil, storageError("search messages", err)
	}
	defer rows.Close()

	results := []*SearchResult{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, storageError("scan search result", err)
		}
		results = append(results, &SearchResult{
			Message: msg,
			Snippet: snippet(msg.Content, query),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("search messages", err)
	}

	return results, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// snippet cuts content down to the first match of query plus some context,
// wrapping the match in <mark> tags
func snippet(content, query string) string {
	runes := []rune(content)
	lower := []rune(strings.Map(unicode.ToLower, content))
	needle := []rune(strings.Map(unicode.ToLower, query))

	at := indexRunes(lower, needle)
	if at < 0 || len(needle) == 0 {
		if len(runes) > 2*snippetRadius {
			return string(runes[:2*snippetRadius]) + "..."
		}
		return content
	}

	start := max(at-snippetRadius, 0)
	end := min(at+len(needle)+snippetRadius, len(runes))

	var sb strings.Builder
	if start > 0 {
		sb.WriteString("...")
	}
	sb.WriteString(string(runes[start:at]))
	sb.WriteString("<mark>")
	sb.WriteString(string(runes[at : at+len(needle)]))
	sb.WriteString("</mark>")
	sb.WriteString(string(runes[at+len(needle) : end]))
	if end < len(runes) {
		sb.WriteString("...")
	}
	return sb.String()
}

func indexRunes(haystack, needle []rune) int {
	if len(needle) == 0 {
		return -1
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j := range needle {
			if haystack[i+j] != needle[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}
