package repository

import (
	"context"
	"errors"
	"fmt"

	"stock-tracker/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is an interface that both pgxpool.Pool and pgx.Tx satisfy.
// This allows store methods to work with either a connection pool
// or a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresStore persists the series in PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
	db   DBTX // The actual executor (pool or transaction)
	inTx bool
}

// NewPostgresStore connects to PostgreSQL and creates the schema if needed
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to create connection pool: %w", models.ErrStorageUnavailable, err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: unable to ping database: %w", models.ErrStorageUnavailable, err)
	}

	s := &PostgresStore{pool: pool, db: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// WithTx returns a new PostgresStore that uses the given transaction.
func (s *PostgresStore) WithTx(tx pgx.Tx) *PostgresStore {
	return &PostgresStore{pool: s.pool, db: tx, inTx: true}
}

// BeginTx starts a new transaction and returns a store that uses it.
// The caller is responsible for calling Commit() or Rollback() on the transaction.
func (s *PostgresStore) BeginTx(ctx context.Context) (pgx.Tx, *PostgresStore, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to begin transaction: %w", models.ErrStorageUnavailable, err)
	}
	return tx, s.WithTx(tx), nil
}

// InTx runs fn inside a single transaction. Nested calls reuse the
// enclosing transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx SeriesStore) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, txStore, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: failed to commit: %w", models.ErrStorageUnavailable, err)
	}
	return nil
}

// Close closes the database connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil && !s.inTx {
		s.pool.Close()
	}
}

// Health checks if the database connection is healthy
func (s *PostgresStore) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pool returns the underlying connection pool for advanced operations.
// This is primarily intended for testing and cleanup operations.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS tracked_symbols (
		symbol     TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS raw_bars (
		symbol            TEXT NOT NULL REFERENCES tracked_symbols(symbol),
		entry_date        DATE NOT NULL,
		close_value       NUMERIC NOT NULL,
		split_coefficient NUMERIC NOT NULL DEFAULT 1,
		PRIMARY KEY (symbol, entry_date)
	)`,
	`CREATE TABLE IF NOT EXISTS adjusted_bars (
		symbol            TEXT NOT NULL REFERENCES tracked_symbols(symbol),
		entry_date        DATE NOT NULL,
		close_value       NUMERIC NOT NULL,
		split_coefficient NUMERIC NOT NULL DEFAULT 1,
		PRIMARY KEY (symbol, entry_date)
	)`,
	`CREATE TABLE IF NOT EXISTS rolling_averages (
		symbol      TEXT NOT NULL REFERENCES tracked_symbols(symbol),
		entry_date  DATE NOT NULL,
		close_value NUMERIC NOT NULL,
		PRIMARY KEY (symbol, entry_date)
	)`,
	`CREATE TABLE IF NOT EXISTS sync_runs (
		id                  UUID PRIMARY KEY,
		symbol              TEXT NOT NULL,
		mode                TEXT NOT NULL DEFAULT '',
		status              TEXT NOT NULL,
		new_bars            INTEGER NOT NULL DEFAULT 0,
		splits              INTEGER NOT NULL DEFAULT 0,
		averages_recomputed INTEGER NOT NULL DEFAULT 0,
		error_message       TEXT,
		duration_ms         INTEGER,
		started_at          TIMESTAMPTZ NOT NULL,
		completed_at        TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_runs_symbol ON sync_runs(symbol, started_at DESC)`,
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: migrate: %w", models.ErrStorageUnavailable, err)
		}
	}
	return nil
}

// storageError classifies a driver error. Unique violations mean a bar was
// written twice, which only happens when the series disagree.
func storageError(action string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s: %s", models.ErrConsistencyViolation, action, pgErr.Detail)
	}
	return fmt.Errorf("%w: %s: %w", models.ErrStorageUnavailable, action, err)
}
