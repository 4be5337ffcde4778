package db

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// settingsID is the primary key of the singleton settings row
const settingsID = 1

// GetSettings returns the stored settings row. When nothing has been saved
// yet it returns an empty Settings and no error.
func (db *DB) GetSettings(ctx context.Context) (*Settings, error) {
	var (
		openAIKey, anthropicKey           sql.NullString
		openAIURL, anthropicURL, localURL sql.NullString
		defaultProvider, defaultModel     sql.NullString
	)

	err := db.conn.QueryRowContext(ctx, `
		SELECT openai_api_key, anthropic_api_key, openai_base_url, anthropic_base_url,
		       ollama_base_url, default_provider, default_model
		FROM settings ORDER BY id DESC LIMIT 1
	`).Scan(&openAIKey, &anthropicKey, &openAIURL, &anthropicURL, &localURL, &defaultProvider, &defaultModel)
	if errors.Is(err, sql.ErrNoRows) {
		return &Settings{}, nil
	}
	if err != nil {
		return nil, storageError("get settings", err)
	}

	return &Settings{
		OpenAIAPIKey:     openAIKey.String,
		AnthropicAPIKey:  anthropicKey.String,
		OpenAIBaseURL:    openAIURL.String,
		AnthropicBaseURL: anthropicURL.String,
		OllamaBaseURL:    localURL.String,
		DefaultProvider:  defaultProvider.String,
		DefaultModel:     defaultModel.String,
	}, nil
}

// SaveSettings overwrites the singleton settings row. Every column is
// replaced, so fields left empty in s are cleared.
func (db *DB) SaveSettings(ctx context.Context, s *Settings) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		// Rows other than the singleton can exist in databases written by
		// older versions; they would shadow id 1 in GetSettings.
		if _, err := tx.ExecContext(ctx, "DELETE FROM settings WHERE id <> ?", settingsID); err != nil {
			return storageError("save settings", err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO settings
				(id, openai_api_key, anthropic_api_key, openai_base_url, anthropic_base_url,
				 ollama_base_url, default_provider, default_model)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, settingsID, s.OpenAIAPIKey, s.AnthropicAPIKey, s.OpenAIBaseURL, s.AnthropicBaseURL,
			s.OllamaBaseURL, s.DefaultProvider, s.DefaultModel)
		if err != nil {
			return storageError("save settings", err)
		}
		return nil
	})
}
