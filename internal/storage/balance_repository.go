package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"llm_fanout/internal/models"
)

// BalanceRepository keeps token balances in Postgres. Every mutation is a
// single conditional UPDATE on a locked row, so concurrent debits never
// overdraw and concurrent credits with the same reference apply once.
type BalanceRepository struct {
	db            *DB
	freeAllowance int64
	now           func() time.Time
}

// NewBalanceRepository creates a new balance repository
func NewBalanceRepository(db *DB, freeAllowance int64) *BalanceRepository {
	return &BalanceRepository{
		db:            db,
		freeAllowance: freeAllowance,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

const balanceColumns = `user_id, free_remaining, paid_remaining, total_used_overall, free_last_reset_at, updated_at`

// ensureBalance creates the row with the monthly allowance on first touch.
func (r *BalanceRepository) ensureBalance(ctx context.Context, tx *sqlx.Tx, userID string, now time.Time) error {
	query := `
		INSERT INTO balances (user_id, free_remaining, paid_remaining, total_used_overall, free_last_reset_at, updated_at)
		VALUES ($1, $2, 0, 0, $3, $3)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, query, userID, r.freeAllowance, now); err != nil {
		return fmt.Errorf("failed to initialize balance: %w", err)
	}
	return nil
}

// Get returns the balance, applying a pending monthly reset
func (r *BalanceRepository) Get(ctx context.Context, userID string) (*models.Balance, error) {
	now := r.now()
	var balance models.Balance

	err := r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := r.ensureBalance(ctx, tx, userID, now); err != nil {
			return err
		}

		query := `
			UPDATE balances
			SET free_remaining = CASE WHEN free_last_reset_at < $2 THEN $3 ELSE free_remaining END,
			    free_last_reset_at = CASE WHEN free_last_reset_at < $2 THEN $4 ELSE free_last_reset_at END
			WHERE user_id = $1
			RETURNING ` + balanceColumns

		return tx.QueryRowxContext(ctx, query, userID, models.MonthStart(now), r.freeAllowance, now).StructScan(&balance)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	return &balance, nil
}

// Debit consumes free tokens first, then paid tokens, never going below zero.
// The full request is counted in total_used_overall.
func (r *BalanceRepository) Debit(ctx context.Context, userID string, tokens int64) (*models.DebitResult, error) {
	if tokens < 0 {
		return nil, fmt.Errorf("debit amount must not be negative: %d", tokens)
	}

	now := r.now()
	var row struct {
		models.Balance
		Debited int64 `db:"debited"`
	}

	err := r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := r.ensureBalance(ctx, tx, userID, now); err != nil {
			return err
		}

		query := `
			WITH cur AS (
				SELECT user_id,
				       CASE WHEN free_last_reset_at < $3 THEN $4::bigint ELSE free_remaining END AS free,
				       paid_remaining AS paid,
				       CASE WHEN free_last_reset_at < $3 THEN $5::timestamptz ELSE free_last_reset_at END AS reset_at
				FROM balances
				WHERE user_id = $1
				FOR UPDATE
			), amt AS (
				SELECT user_id, free, paid, reset_at,
				       LEAST(free, $2::bigint) AS from_free,
				       LEAST(paid, GREATEST($2::bigint - free, 0)) AS from_paid
				FROM cur
			)
			UPDATE balances b
			SET free_remaining = amt.free - amt.from_free,
			    paid_remaining = amt.paid - amt.from_paid,
			    total_used_overall = b.total_used_overall + $2::bigint,
			    free_last_reset_at = amt.reset_at,
			    updated_at = $5
			FROM amt
			WHERE b.user_id = amt.user_id
			RETURNING b.user_id, b.free_remaining, b.paid_remaining, b.total_used_overall,
			          b.free_last_reset_at, b.updated_at, amt.from_free + amt.from_paid AS debited
		`

		return tx.QueryRowxContext(ctx, query, userID, tokens, models.MonthStart(now), r.freeAllowance, now).StructScan(&row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to debit balance: %w", err)
	}

	return &models.DebitResult{
		Requested: tokens,
		Debited:   row.Debited,
		Balance:   row.Balance,
	}, nil
}

// AddUnmetered records usage paid for with the user's own key
func (r *BalanceRepository) AddUnmetered(ctx context.Context, userID string, tokens int64) error {
	now := r.now()

	err := r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := r.ensureBalance(ctx, tx, userID, now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE balances SET total_used_overall = total_used_overall + $2, updated_at = $3 WHERE user_id = $1`,
			userID, tokens, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to record unmetered usage: %w", err)
	}

	return nil
}

// Credit adds purchased tokens once per payment reference. It returns false
// when the reference was already processed.
func (r *BalanceRepository) Credit(ctx context.Context, payment *models.ProcessedPayment) (bool, error) {
	now := r.now()
	applied := false

	err := r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO processed_payments (reference, event_id, user_id, tokens, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (reference) DO NOTHING
		`, payment.Reference, payment.EventID, payment.UserID, payment.Tokens, now)
		if err != nil {
			return fmt.Errorf("failed to record payment: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return nil
		}

		if err := r.ensureBalance(ctx, tx, payment.UserID, now); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE balances SET paid_remaining = paid_remaining + $2, updated_at = $3 WHERE user_id = $1`,
			payment.UserID, payment.Tokens, now)
		if err != nil {
			return fmt.Errorf("failed to credit balance: %w", err)
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return applied, nil
}
