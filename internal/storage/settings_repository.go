package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"llm_fanout/internal/models"
)

// SettingsRepository handles user_settings database operations
type SettingsRepository struct {
	db *DB
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db *DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get retrieves the settings row of a user
func (r *SettingsRepository) Get(ctx context.Context, userID string) (*models.UserSettings, error) {
	var settings models.UserSettings
	query := `
		SELECT user_id, use_provided_keys, encrypted_keys, slot_models, summary_model, updated_at
		FROM user_settings
		WHERE user_id = $1
	`

	err := r.db.conn.GetContext(ctx, &settings, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSettingsNotFound
		}
		return nil, fmt.Errorf("failed to get user settings: %w", err)
	}

	return &settings, nil
}

// SetEncryptedKey stores an encrypted credential blob for one provider
func (r *SettingsRepository) SetEncryptedKey(ctx context.Context, userID string, provider models.ProviderType, blob string) error {
	query := `
		INSERT INTO user_settings (user_id, encrypted_keys)
		VALUES ($1, jsonb_build_object($2::text, $3::text))
		ON CONFLICT (user_id) DO UPDATE
		SET encrypted_keys = user_settings.encrypted_keys || jsonb_build_object($2::text, $3::text),
		    updated_at = now()
	`

	if _, err := r.db.conn.ExecContext(ctx, query, userID, string(provider), blob); err != nil {
		return fmt.Errorf("failed to store encrypted key: %w", err)
	}
	return nil
}

// RemoveEncryptedKey deletes the stored credential for one provider
func (r *SettingsRepository) RemoveEncryptedKey(ctx context.Context, userID string, provider models.ProviderType) error {
	query := `
		UPDATE user_settings
		SET encrypted_keys = encrypted_keys - $2::text, updated_at = now()
		WHERE user_id = $1
	`

	if _, err := r.db.conn.ExecContext(ctx, query, userID, string(provider)); err != nil {
		return fmt.Errorf("failed to remove encrypted key: %w", err)
	}
	return nil
}

// UpdatePreferences upserts the non-secret preferences of a user
func (r *SettingsRepository) UpdatePreferences(ctx context.Context, userID string, useProvidedKeys bool, slotModels []string, summaryModel *string) (*models.UserSettings, error) {
	query := `
		INSERT INTO user_settings (user_id, use_provided_keys, slot_models, summary_model)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET use_provided_keys = EXCLUDED.use_provided_keys,
		    slot_models = EXCLUDED.slot_models,
		    summary_model = EXCLUDED.summary_model,
		    updated_at = now()
		RETURNING user_id, use_provided_keys, encrypted_keys, slot_models, summary_model, updated_at
	`

	if slotModels == nil {
		slotModels = []string{}
	}

	var settings models.UserSettings
	err := r.db.conn.QueryRowxContext(ctx, query, userID, useProvidedKeys, pq.StringArray(slotModels), summaryModel).StructScan(&settings)
	if err != nil {
		return nil, fmt.Errorf("failed to update preferences: %w", err)
	}

	return &settings, nil
}
