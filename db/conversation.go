package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

const conversationColumns = "id, title, provider, model, created_at, updated_at"

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var conv Conversation
	if err := row.Scan(&conv.ID, &conv.Title, &conv.Provider, &conv.Model, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}
	return &conv, nil
}

// CreateConversation creates a new conversation. Empty provider or model
// fall back to the schema defaults.
func (db *DB) CreateConversation(ctx context.Context, title, provider, model string) (*Conversation, error) {
	var conv *Conversation
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		conv, err = insertConversation(ctx, tx, title, provider, model, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// ImportConversation creates a conversation together with its messages in
// one transaction. Either everything is stored or nothing is.
func (db *DB) ImportConversation(ctx context.Context, title, provider, model string, msgs []NewMessage) (*Conversation, error) {
	var conv *Conversation
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		var err error
		if conv, err = insertConversation(ctx, tx, title, provider, model, now); err != nil {
			return err
		}
		for _, m := range msgs {
			m.ConversationID = conv.ID
			if _, err := insertMessage(ctx, tx, m, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func insertConversation(ctx context.Context, tx *sql.Tx, title, provider, model string, now time.Time) (*Conversation, error) {
	if provider == "" {
		provider = DefaultProvider
	}
	if model == "" {
		model = DefaultModel
	}

	result, err := tx.ExecContext(ctx,
		"INSERT INTO conversations (title, provider, model, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		title, provider, model, now, now,
	)
	if err != nil {
		return nil, storageError("create conversation", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, storageError("get conversation id", err)
	}

	return &Conversation{
		ID:        id,
		Title:     title,
		Provider:  provider,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetConversation retrieves a conversation by ID
func (db *DB) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	conv, err := scanConversation(db.conn.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE id = ?", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("conversation", id)
	}
	if err != nil {
		return nil, storageError("get conversation", err)
	}
	return conv, nil
}

// ListConversations retrieves all conversations, most recently updated first
func (db *DB) ListConversations(ctx context.Context) ([]*Conversation, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations ORDER BY updated_at DESC, id DESC",
	)
	if err != nil {
		return nil, storageError("list conversations", err)
	}
	defer rows.Close()

	conversations := []*Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, storageError("scan conversation", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list conversations", err)
	}

	return conversations, nil
}

// UpdateConversation replaces a conversation's title, provider and model
func (db *DB) UpdateConversation(ctx context.Context, id int64, title, provider, model string) error {
	result, err := db.conn.ExecContext(ctx,
		"UPDATE conversations SET title = ?, provider = ?, model = ? WHERE id = ?",
		title, provider, model, id,
	)
	if err != nil {
		return storageError("update conversation", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return storageError("update conversation", err)
	}
	if affected == 0 {
		return notFound("conversation", id)
	}
	return nil
}

// UpdateConversationTitle changes only the title
func (db *DB) UpdateConversationTitle(ctx context.Context, id int64, title string) error {
	result, err := db.conn.ExecContext(ctx, "UPDATE conversations SET title = ? WHERE id = ?", title, id)
	if err != nil {
		return storageError("update conversation title", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storageError("update conversation title", err)
	}
	if affected == 0 {
		return notFound("conversation", id)
	}
	return nil
}

// DeleteConversation deletes a conversation and all its messages in one
// transaction. A missing conversation rolls back and returns ErrNotFound.
func (db *DB) DeleteConversation(ctx context.Context, id int64) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
			return storageError("delete conversation messages", err)
		}

		result, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
		if err != nil {
			return storageError("delete conversation", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return storageError("delete conversation", err)
		}
		if affected == 0 {
			return notFound("conversation", id)
		}
		return nil
	})
}

// DeleteAllConversations removes every message and conversation in one
// transaction and reports how many rows of each were deleted
func (db *DB) DeleteAllConversations(ctx context.Context) (DeleteCounts, error) {
	var counts DeleteCounts

	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, "DELETE FROM messages")
		if err != nil {
			return storageError("delete all messages", err)
		}
		messages, err := result.RowsAffected()
		if err != nil {
			return storageError("delete all messages", err)
		}

		result, err = tx.ExecContext(ctx, "DELETE FROM conversations")
		if err != nil {
			return storageError("delete all conversations", err)
		}
		conversations, err := result.RowsAffected()
		if err != nil {
			return storageError("delete all conversations", err)
		}

		counts = DeleteCounts{Conversations: conversations, Messages: messages}
		return nil
	})
	if err != nil {
		return DeleteCounts{}, err
	}

	return counts, nil
}

// CountConversations returns the total number of conversations
func (db *DB) CountConversations(ctx context.Context) (int64, error) {
	var count int64
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM conversations").Scan(&count); err != nil {
		return 0, storageError("count conversations", err)
	}
	return count, nil
}

// touchConversation moves updated_at forward to now, never backwards
func touchConversation(ctx context.Context, tx *sql.Tx, id int64, now time.Time) (time.Time, error) {
	var previous time.Time
	err := tx.QueryRowContext(ctx, "SELECT updated_at FROM conversations WHERE id = ?", id).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, notFound("conversation", id)
	}
	if err != nil {
		return time.Time{}, storageError("read conversation timestamp", err)
	}

	if previous.After(now) {
		now = previous
	}
	if _, err := tx.ExecContext(ctx, "UPDATE conversations SET updated_at = ? WHERE id = ?", now, id); err != nil {
		return time.Time{}, storageError("touch conversation", err)
	}
	return now, nil
}
