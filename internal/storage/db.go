package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// DB is the Postgres handle shared by the repositories.
type DB struct {
	conn *sqlx.DB
}

// DBConfig holds the DSN and pool limits
type DBConfig struct {
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultDBConfig points at a local database with a small pool.
func DefaultDBConfig() DBConfig {
	return DBConfig{
		DSN:             "postgres://postgres@localhost:5432/llmfanout?sslmode=disable",
		MaxOpenConns:    20,
		MaxIdleConns:    4,
		ConnMaxLifetime: 10 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
	}
}

// NewDB connects and applies the pool limits.
func NewDB(cfg DBConfig) (*DB, error) {
	conn, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return &DB{conn: conn}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Health pings the server and runs a trivial query.
func (db *DB) Health(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}

	var one int
	if err := db.conn.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// withTx commits when fn returns nil and rolls back otherwise.
func (db *DB) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (db *DB) NewInteractionRepository() *InteractionRepository {
	return NewInteractionRepository(db)
}

func (db *DB) NewSettingsRepository() *SettingsRepository {
	return NewSettingsRepository(db)
}

func (db *DB) NewUsageLogRepository() *UsageLogRepository {
	return NewUsageLogRepository(db)
}

func (db *DB) NewBalanceRepository(freeAllowance int64) *BalanceRepository {
	return NewBalanceRepository(db, freeAllowance)
}
