package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=10000&_journal_mode=WAL")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", dbPath)
	}

	// SQLite works best with a single connection; it also serializes our writes.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn}

	if err := db.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// WithTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back when it returns an error or panics.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageError("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return storageError("rollback transaction", errors.Wrapf(rbErr, "after %v", err))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageError("commit transaction", err)
	}
	return nil
}

// migrate creates the schema and applies additive column migrations
func (db *DB) migrate(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			provider TEXT DEFAULT 'openai',
			model TEXT DEFAULT 'gpt-3.5-turbo',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			provider TEXT DEFAULT '',
			model TEXT DEFAULT '',
			tokens_used INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(conversation_id) REFERENCES conversations(id)
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			openai_api_key TEXT,
			anthropic_api_key TEXT,
			openai_base_url TEXT DEFAULT '',
			anthropic_base_url TEXT DEFAULT '',
			ollama_base_url TEXT DEFAULT 'http://localhost:11434',
			default_provider TEXT DEFAULT 'openai',
			default_model TEXT DEFAULT 'gpt-3.5-turbo'
		)`,
	}

	for _, migration := range tables {
		if _, err := db.conn.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, migration)
		}
	}

	if err := db.runAdditionalMigrations(ctx); err != nil {
		return errors.Wrap(err, "additional migration failed")
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages(conversation_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC)`,
	}
	for _, migration := range indexes {
		if _, err := db.conn.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, migration)
		}
	}

	return nil
}

// additiveColumn is a column that older databases may lack. Existing rows
// pick up the column default; backfill, if set, runs once after the add.
type additiveColumn struct {
	table    string
	column   string
	ddl      string
	backfill string
}

// runAdditionalMigrations brings databases created by earlier versions up to
// the current schema without rewriting any existing row
func (db *DB) runAdditionalMigrations(ctx context.Context) error {
	columns := []additiveColumn{
		{table: "conversations", column: "provider", ddl: `ALTER TABLE conversations ADD COLUMN provider TEXT DEFAULT 'openai'`},
		{table: "conversations", column: "model", ddl: `ALTER TABLE conversations ADD COLUMN model TEXT DEFAULT 'gpt-3.5-turbo'`},
		{table: "messages", column: "provider", ddl: `ALTER TABLE messages ADD COLUMN provider TEXT DEFAULT ''`},
		{table: "messages", column: "model", ddl: `ALTER TABLE messages ADD COLUMN model TEXT DEFAULT ''`},
		{table: "messages", column: "tokens_used", ddl: `ALTER TABLE messages ADD COLUMN tokens_used INTEGER DEFAULT 0`},
		{
			table:    "messages",
			column:   "created_at",
			ddl:      `ALTER TABLE messages ADD COLUMN created_at DATETIME`,
			backfill: `UPDATE messages SET created_at = COALESCE(timestamp, CURRENT_TIMESTAMP) WHERE created_at IS NULL`,
		},
		{table: "settings", column: "openai_base_url", ddl: `ALTER TABLE settings ADD COLUMN openai_base_url TEXT DEFAULT ''`},
		{table: "settings", column: "anthropic_base_url", ddl: `ALTER TABLE settings ADD COLUMN anthropic_base_url TEXT DEFAULT ''`},
	}

	for _, c := range columns {
		exists, err := db.columnExists(ctx, c.table, c.column)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := db.conn.ExecContext(ctx, c.ddl); err != nil {
			return errors.Wrapf(err, "failed to add %s.%s column", c.table, c.column)
		}
		if c.backfill != "" {
			if _, err := db.conn.ExecContext(ctx, c.backfill); err != nil {
				return errors.Wrapf(err, "failed to backfill %s.%s", c.table, c.column)
			}
		}
	}

	return nil
}

func (db *DB) columnExists(ctx context.Context, table, column string) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column,
	).Scan(&count)
	if err != nil {
		return false, errors.Wrapf(err, "failed to check if %s.%s exists", table, column)
	}
	return count > 0, nil
}

// DBStats represents database statistics
type DBStats struct {
	ConversationCount int64 `json:"conversations"`
	MessageCount      int64 `json:"messages"`
	DBSizeBytes       int64 `json:"db_size_bytes"`
}

// GetStats returns database statistics
func (db *DB) GetStats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{}

	var err error
	if stats.ConversationCount, err = db.CountConversations(ctx); err != nil {
		return nil, err
	}

	err = db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&stats.MessageCount)
	if err != nil {
		return nil, storageError("count messages", err)
	}

	// Database size is page_count * page_size
	var pageCount, pageSize int64
	if err := db.conn.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, storageError("read page count", err)
	}
	if err := db.conn.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, storageError("read page size", err)
	}
	stats.DBSizeBytes = pageCount * pageSize

	return stats, nil
}

// Vacuum optimizes the database file
func (db *DB) Vacuum(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, "VACUUM"); err != nil {
		return storageError("vacuum database", err)
	}
	return nil
}
