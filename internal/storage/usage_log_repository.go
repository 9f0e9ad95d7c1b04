package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"llm_fanout/internal/models"
)

// UsageLogRepository handles the append-only usage_log table
type UsageLogRepository struct {
	db *DB
}

// NewUsageLogRepository creates a new usage log repository
func NewUsageLogRepository(db *DB) *UsageLogRepository {
	return &UsageLogRepository{db: db}
}

// Append inserts one usage entry
func (r *UsageLogRepository) Append(ctx context.Context, entry *models.UsageLogEntry) error {
	query := `
		INSERT INTO usage_log (
			id, user_id, provider, model, input_tokens, output_tokens,
			total_tokens, interaction_id, slot_number, key_type, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.conn.ExecContext(ctx, query,
		entry.ID, entry.UserID, entry.Provider, entry.Model,
		entry.InputTokens, entry.OutputTokens, entry.TotalTokens,
		entry.InteractionID, entry.SlotNumber, entry.KeyType, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append usage log: %w", err)
	}

	return nil
}

// ListByUser returns a user's usage entries, newest first
func (r *UsageLogRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.UsageLogEntry, error) {
	query := `
		SELECT id, user_id, provider, model, input_tokens, output_tokens,
		       total_tokens, interaction_id, slot_number, key_type, created_at
		FROM usage_log
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	var entries []*models.UsageLogEntry
	if err := r.db.conn.SelectContext(ctx, &entries, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list usage log: %w", err)
	}

	return entries, nil
}
