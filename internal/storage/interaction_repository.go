package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"llm_fanout/internal/models"
)

// InteractionRepository handles interaction database operations.
// Every query is scoped by owner_id.
type InteractionRepository struct {
	db *DB
}

// NewInteractionRepository creates a new interaction repository
func NewInteractionRepository(db *DB) *InteractionRepository {
	return &InteractionRepository{db: db}
}

// Create inserts an interaction together with its slots
func (r *InteractionRepository) Create(ctx context.Context, interaction *models.Interaction) error {
	if interaction.ID == uuid.Nil {
		interaction.ID = uuid.New()
	}
	now := time.Now().UTC()
	interaction.CreatedAt = now
	interaction.UpdatedAt = now

	for _, slot := range interaction.Slots {
		if !slot.Conversation.Balanced() {
			return fmt.Errorf("%w: slot %d", ErrInvalidTurn, slot.SlotNumber)
		}
	}

	return r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO interactions (id, owner_id, initial_prompt, title, summary, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		_, err := tx.ExecContext(ctx, query,
			interaction.ID, interaction.OwnerID, interaction.InitialPrompt,
			interaction.Title, interaction.Summary, interaction.CreatedAt, interaction.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create interaction: %w", err)
		}

		for i := range interaction.Slots {
			slot := &interaction.Slots[i]
			slot.InteractionID = interaction.ID
			slot.UpdatedAt = now
			if err := insertSlot(ctx, tx, slot); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertSlot(ctx context.Context, tx *sqlx.Tx, slot *models.Slot) error {
	query := `
		INSERT INTO interaction_slots (
			interaction_id, slot_number, provider, model, conversation,
			input_tokens, output_tokens, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.ExecContext(ctx, query,
		slot.InteractionID, slot.SlotNumber, slot.Provider, slot.Model, slot.Conversation,
		slot.InputTokens, slot.OutputTokens, slot.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create slot %d: %w", slot.SlotNumber, err)
	}
	return nil
}

// GetByID retrieves an interaction and its slots for the given owner
func (r *InteractionRepository) GetByID(ctx context.Context, ownerID string, id uuid.UUID) (*models.Interaction, error) {
	var interaction models.Interaction
	query := `
		SELECT id, owner_id, initial_prompt, title, summary, created_at, updated_at
		FROM interactions
		WHERE id = $1 AND owner_id = $2
	`

	err := r.db.conn.GetContext(ctx, &interaction, query, id, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInteractionNotFound
		}
		return nil, fmt.Errorf("failed to get interaction: %w", err)
	}

	slotQuery := `
		SELECT interaction_id, slot_number, provider, model, conversation,
		       input_tokens, output_tokens, updated_at
		FROM interaction_slots
		WHERE interaction_id = $1
		ORDER BY slot_number
	`
	if err := r.db.conn.SelectContext(ctx, &interaction.Slots, slotQuery, id); err != nil {
		return nil, fmt.Errorf("failed to get interaction slots: %w", err)
	}

	return &interaction, nil
}

// ListByOwner returns the owner's interactions, newest first, without slots
func (r *InteractionRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*models.Interaction, error) {
	query := `
		SELECT id, owner_id, initial_prompt, title, summary, created_at, updated_at
		FROM interactions
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	var interactions []*models.Interaction
	if err := r.db.conn.SelectContext(ctx, &interactions, query, ownerID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list interactions: %w", err)
	}

	return interactions, nil
}

// AppendTurns adds one completed turn to each listed slot. Slots that do not
// exist yet are created. The whole append is a single transaction.
func (r *InteractionRepository) AppendTurns(ctx context.Context, ownerID string, id uuid.UUID, turns []models.SlotTurn) error {
	if len(turns) == 0 {
		return nil
	}

	return r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var found uuid.UUID
		err := tx.GetContext(ctx, &found,
			`SELECT id FROM interactions WHERE id = $1 AND owner_id = $2 FOR UPDATE`, id, ownerID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrInteractionNotFound
			}
			return fmt.Errorf("failed to lock interaction: %w", err)
		}

		now := time.Now().UTC()
		for _, turn := range turns {
			if err := appendTurn(ctx, tx, id, turn, now); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `UPDATE interactions SET updated_at = $2 WHERE id = $1`, id, now)
		if err != nil {
			return fmt.Errorf("failed to touch interaction: %w", err)
		}
		return nil
	})
}

func appendTurn(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, turn models.SlotTurn, now time.Time) error {
	var slot models.Slot
	query := `
		SELECT interaction_id, slot_number, provider, model, conversation,
		       input_tokens, output_tokens, updated_at
		FROM interaction_slots
		WHERE interaction_id = $1 AND slot_number = $2
		FOR UPDATE
	`
	err := tx.GetContext(ctx, &slot, query, id, turn.SlotNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return insertSlot(ctx, tx, &models.Slot{
			InteractionID: id,
			SlotNumber:    turn.SlotNumber,
			Provider:      turn.Provider,
			Model:         turn.Model,
			Conversation:  models.Conversation{}.Append(turn.Prompt, turn.Answer),
			InputTokens:   turn.InputTokens,
			OutputTokens:  turn.OutputTokens,
			UpdatedAt:     now,
		})
	}
	if err != nil {
		return fmt.Errorf("failed to load slot %d: %w", turn.SlotNumber, err)
	}

	if !slot.Conversation.Balanced() {
		return fmt.Errorf("%w: slot %d has an unbalanced history", ErrInvalidTurn, turn.SlotNumber)
	}

	update := `
		UPDATE interaction_slots
		SET conversation = $3, provider = $4, model = $5,
		    input_tokens = input_tokens + $6, output_tokens = output_tokens + $7,
		    updated_at = $8
		WHERE interaction_id = $1 AND slot_number = $2
	`
	_, err = tx.ExecContext(ctx, update,
		id, turn.SlotNumber, slot.Conversation.Append(turn.Prompt, turn.Answer),
		turn.Provider, turn.Model, turn.InputTokens, turn.OutputTokens, now,
	)
	if err != nil {
		return fmt.Errorf("failed to append to slot %d: %w", turn.SlotNumber, err)
	}
	return nil
}

// SetSummary stores the summary text of an interaction
func (r *InteractionRepository) SetSummary(ctx context.Context, ownerID string, id uuid.UUID, summary string) error {
	query := `
		UPDATE interactions
		SET summary = $3, updated_at = now()
		WHERE id = $1 AND owner_id = $2
	`

	result, err := r.db.conn.ExecContext(ctx, query, id, ownerID, summary)
	if err != nil {
		return fmt.Errorf("failed to set summary: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrInteractionNotFound
	}

	return nil
}

// Delete removes an interaction and its slots
func (r *InteractionRepository) Delete(ctx context.Context, ownerID string, id uuid.UUID) error {
	result, err := r.db.conn.ExecContext(ctx, `DELETE FROM interactions WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete interaction: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrInteractionNotFound
	}

	return nil
}
