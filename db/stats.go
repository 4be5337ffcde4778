package db

import (
	"context"
)

// UsageStats represents token usage statistics
type UsageStats struct {
	TotalTokens   int64              `json:"total_tokens"`
	TotalMessages int64              `json:"total_messages"`
	Models        []*ModelUsageStats `json:"models"`
}

// ModelUsageStats represents assistant usage for one provider/model pair
type ModelUsageStats struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	TotalTokens  int64  `json:"total_tokens"`
	MessageCount int64  `json:"message_count"`
}

// GetUsageStats sums token usage over all messages and breaks assistant
// replies down by the provider and model that produced them
func (db *DB) GetUsageStats(ctx context.Context) (*UsageStats, error) {
	stats := &UsageStats{Models: []*ModelUsageStats{}}

	err := db.conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(tokens_used), 0), COUNT(*) FROM messages
	`).Scan(&stats.TotalTokens, &stats.TotalMessages)
	if err != nil {
		return nil, storageError("get total usage", err)
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT provider, model, COALESCE(SUM(tokens_used), 0) AS total_tokens, COUNT(*)
		FROM messages
		WHERE provider <> ''
		GROUP BY provider, model
		ORDER BY total_tokens DESC, provider, model
	`)
	if err != nil {
		return nil, storageError("get model usage", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m ModelUsageStats
		if err := rows.Scan(&m.Provider, &m.Model, &m.TotalTokens, &m.MessageCount); err != nil {
			return nil, storageError("scan model usage", err)
		}
		stats.Models = append(stats.Models, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("get model usage", err)
	}

	return stats, nil
}
