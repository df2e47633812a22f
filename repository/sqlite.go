package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"stock-tracker/models"
	"stock-tracker/observability"
	"stock-tracker/timeseries"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// sqlExecutor is satisfied by both *sql.DB and *sql.Tx
type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore persists the series in a local SQLite file. Dates are stored
// as YYYY-MM-DD text and prices as decimal text, so values round-trip
// exactly.
type SQLiteStore struct {
	db   *sql.DB
	exec sqlExecutor
	inTx bool
}

// NewSQLiteStore opens (or creates) the SQLite database and runs migrations.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %w", models.ErrStorageUnavailable, err)
	}
	// a single connection keeps transactions and pragmas on one handle
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: set WAL mode: %w", models.ErrStorageUnavailable, err)
	}

	s := &SQLiteStore{db: db, exec: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	observability.Info("sqlite store opened", "path", dbPath)
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tracked_symbols (
			symbol     TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS raw_bars (
			symbol            TEXT NOT NULL,
			entry_date        TEXT NOT NULL,
			close_value       TEXT NOT NULL,
			split_coefficient TEXT NOT NULL,
			PRIMARY KEY (symbol, entry_date)
		)`,
		`CREATE TABLE IF NOT EXISTS adjusted_bars (
			symbol            TEXT NOT NULL,
			entry_date        TEXT NOT NULL,
			close_value       TEXT NOT NULL,
			split_coefficient TEXT NOT NULL,
			PRIMARY KEY (symbol, entry_date)
		)`,
		`CREATE TABLE IF NOT EXISTS rolling_averages (
			symbol      TEXT NOT NULL,
			entry_date  TEXT NOT NULL,
			close_value TEXT NOT NULL,
			PRIMARY KEY (symbol, entry_date)
		)`,
		`CREATE TABLE IF NOT EXISTS sync_runs (
			id                  TEXT PRIMARY KEY,
			symbol              TEXT NOT NULL,
			mode                TEXT NOT NULL,
			status              TEXT NOT NULL,
			new_bars            INTEGER NOT NULL,
			splits              INTEGER NOT NULL,
			averages_recomputed INTEGER NOT NULL,
			error_message       TEXT,
			duration_ms         INTEGER,
			started_at          INTEGER NOT NULL,
			completed_at        INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_runs_symbol ON sync_runs(symbol, started_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.exec.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: migrate: %w", models.ErrStorageUnavailable, err)
		}
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() {
	if !s.inTx {
		s.db.Close()
	}
}

// Health pings the database
func (s *SQLiteStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn inside a single SQLite transaction
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx SeriesStore) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", models.ErrStorageUnavailable, err)
	}
	if err := fn(&SQLiteStore{db: s.db, exec: tx, inTx: true}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", models.ErrStorageUnavailable, err)
	}
	return nil
}

func sqliteError(action string, err error) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s: %v", models.ErrConsistencyViolation, action, err)
	}
	return fmt.Errorf("%w: %s: %w", models.ErrStorageUnavailable, action, err)
}

// EnsureSymbol registers the symbol
func (s *SQLiteStore) EnsureSymbol(ctx context.Context, symbol string) error {
	_, err := s.exec.ExecContext(ctx,
		`INSERT OR IGNORE INTO tracked_symbols (symbol, created_at) VALUES (?, ?)`,
		symbol, time.Now().Unix())
	if err != nil {
		return sqliteError("register symbol", err)
	}
	return nil
}

// ListSymbols returns the tracked symbols in name order
func (s *SQLiteStore) ListSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.exec.QueryContext(ctx, `SELECT symbol FROM tracked_symbols ORDER BY symbol`)
	if err != nil {
		return nil, sqliteError("query symbols", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, sqliteError("scan symbol", err)
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// CountRaw returns the number of raw bars
func (s *SQLiteStore) CountRaw(ctx context.Context, symbol string) (int, error) {
	var n int
	if err := s.exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_bars WHERE symbol = ?`, symbol).Scan(&n); err != nil {
		return 0, sqliteError("count raw bars", err)
	}
	return n, nil
}

// MaxRawDate returns the newest raw date
func (s *SQLiteStore) MaxRawDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	var maxDate sql.NullString
	if err := s.exec.QueryRowContext(ctx, `SELECT MAX(entry_date) FROM raw_bars WHERE symbol = ?`, symbol).Scan(&maxDate); err != nil {
		return time.Time{}, false, sqliteError("query max raw date", err)
	}
	if !maxDate.Valid {
		return time.Time{}, false, nil
	}
	d, err := models.ParseDate(maxDate.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %w", models.ErrStorageUnavailable, err)
	}
	return d, true, nil
}

// InsertRaw appends raw bars
func (s *SQLiteStore) InsertRaw(ctx context.Context, symbol string, bars models.Series) error {
	return s.writeBars(ctx, `INSERT INTO raw_bars (symbol, entry_date, close_value, split_coefficient) VALUES (?, ?, ?, ?)`, symbol, bars)
}

// InsertAdjusted appends adjusted bars
func (s *SQLiteStore) InsertAdjusted(ctx context.Context, symbol string, bars models.Series) error {
	return s.writeBars(ctx, `INSERT INTO adjusted_bars (symbol, entry_date, close_value, split_coefficient) VALUES (?, ?, ?, ?)`, symbol, bars)
}

// UpsertAdjusted inserts or replaces adjusted bars
func (s *SQLiteStore) UpsertAdjusted(ctx context.Context, symbol string, bars models.Series) error {
	return s.writeBars(ctx, `INSERT OR REPLACE INTO adjusted_bars (symbol, entry_date, close_value, split_coefficient) VALUES (?, ?, ?, ?)`, symbol, bars)
}

func (s *SQLiteStore) writeBars(ctx context.Context, query, symbol string, bars models.Series) error {
	for _, b := range bars {
		_, err := s.exec.ExecContext(ctx, query, symbol, models.FormatDate(b.Date), b.Close.String(), b.SplitCoefficient.String())
		if err != nil {
			return sqliteError("write bar "+models.FormatDate(b.Date), err)
		}
	}
	return nil
}

// RescaleAdjustedBefore divides every adjusted close dated before date
func (s *SQLiteStore) RescaleAdjustedBefore(ctx context.Context, symbol string, date time.Time, divisor decimal.Decimal) error {
	rows, err := s.exec.QueryContext(ctx, `
		SELECT entry_date, close_value, split_coefficient FROM adjusted_bars
		WHERE symbol = ? AND entry_date < ? ORDER BY entry_date`,
		symbol, models.FormatDate(date))
	if err != nil {
		return sqliteError("query adjusted prefix", err)
	}
	prefix, err := scanSQLiteBars(rows)
	if err != nil {
		return err
	}
	return s.UpsertAdjusted(ctx, symbol, timeseries.ApplySplit(prefix, date, divisor))
}

// UpsertRollingAverages inserts or replaces rolling-average points
func (s *SQLiteStore) UpsertRollingAverages(ctx context.Context, symbol string, points models.AverageSeries) error {
	for _, p := range points {
		_, err := s.exec.ExecContext(ctx,
			`INSERT OR REPLACE INTO rolling_averages (symbol, entry_date, close_value) VALUES (?, ?, ?)`,
			symbol, models.FormatDate(p.Date), p.Value.String())
		if err != nil {
			return sqliteError("write rolling average", err)
		}
	}
	return nil
}

// WindowAverage loads the window ending at date and averages it with
// decimal arithmetic, since closes are stored as text.
func (s *SQLiteStore) WindowAverage(ctx context.Context, symbol string, date time.Time) (decimal.Decimal, bool, error) {
	var count int
	err := s.exec.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM adjusted_bars WHERE symbol = ? AND entry_date <= ?`,
		symbol, models.FormatDate(date)).Scan(&count)
	if err != nil {
		return decimal.Zero, false, sqliteError("count window", err)
	}
	if count <= timeseries.Window {
		return decimal.Zero, false, nil
	}

	rows, err := s.exec.QueryContext(ctx, `
		SELECT entry_date, close_value, split_coefficient FROM adjusted_bars
		WHERE symbol = ? AND entry_date <= ?
		ORDER BY entry_date DESC LIMIT ?`,
		symbol, models.FormatDate(date), timeseries.Window+1)
	if err != nil {
		return decimal.Zero, false, sqliteError("query window", err)
	}
	window, err := scanSQLiteBars(rows)
	if err != nil {
		return decimal.Zero, false, err
	}
	window.Sort()
	avg, ok := timeseries.WindowAverage(window, date)
	return avg, ok, nil
}

// ReadBars returns raw or adjusted bars within [start, end]
func (s *SQLiteStore) ReadBars(ctx context.Context, symbol string, kind models.SeriesKind, start, end time.Time) (models.Series, error) {
	table, err := barTable(kind)
	if err != nil {
		return nil, err
	}
	lo, hi := sqliteBounds(start, end)
	rows, err := s.exec.QueryContext(ctx, `
		SELECT entry_date, close_value, split_coefficient FROM `+table+`
		WHERE symbol = ? AND entry_date >= ? AND entry_date <= ?
		ORDER BY entry_date`, symbol, lo, hi)
	if err != nil {
		return nil, sqliteError("query "+table, err)
	}
	return scanSQLiteBars(rows)
}

// ReadAverages returns rolling-average points within [start, end]
func (s *SQLiteStore) ReadAverages(ctx context.Context, symbol string, start, end time.Time) (models.AverageSeries, error) {
	lo, hi := sqliteBounds(start, end)
	rows, err := s.exec.QueryContext(ctx, `
		SELECT entry_date, close_value FROM rolling_averages
		WHERE symbol = ? AND entry_date >= ? AND entry_date <= ?
		ORDER BY entry_date`, symbol, lo, hi)
	if err != nil {
		return nil, sqliteError("query rolling averages", err)
	}
	defer rows.Close()

	var out models.AverageSeries
	for rows.Next() {
		var date, value string
		if err := rows.Scan(&date, &value); err != nil {
			return nil, sqliteError("scan rolling average", err)
		}
		p, err := parseAveragePoint(date, value)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountAverages returns the number of rolling-average points
func (s *SQLiteStore) CountAverages(ctx context.Context, symbol string) (int, error) {
	var n int
	if err := s.exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM rolling_averages WHERE symbol = ?`, symbol).Scan(&n); err != nil {
		return 0, sqliteError("count rolling averages", err)
	}
	return n, nil
}

// RecordSyncRun creates or replaces a sync run record
func (s *SQLiteStore) RecordSyncRun(ctx context.Context, run *models.SyncRun) error {
	var completedAt sql.NullInt64
	if run.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: run.CompletedAt.UnixMilli(), Valid: true}
	}
	_, err := s.exec.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_runs
			(id, symbol, mode, status, new_bars, splits, averages_recomputed, error_message, duration_ms, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.Symbol, string(run.Mode), string(run.Status), run.NewBars, run.Splits,
		run.AveragesRecomputed, run.ErrorMessage, run.DurationMs, run.StartedAt.UnixMilli(), completedAt)
	if err != nil {
		return sqliteError("record sync run", err)
	}
	return nil
}

// GetSyncRuns returns recent sync runs, newest first
func (s *SQLiteStore) GetSyncRuns(ctx context.Context, symbol string, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.exec.QueryContext(ctx, `
		SELECT id, symbol, mode, status, new_bars, splits, averages_recomputed, error_message, duration_ms, started_at, completed_at
		FROM sync_runs
		WHERE (? = '' OR symbol = ?)
		ORDER BY started_at DESC
		LIMIT ?`, symbol, symbol, limit)
	if err != nil {
		return nil, sqliteError("query sync runs", err)
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		var (
			run         models.SyncRun
			id          string
			mode        string
			status      string
			errMsg      sql.NullString
			durationMs  sql.NullInt64
			startedAt   int64
			completedAt sql.NullInt64
		)
		err := rows.Scan(&id, &run.Symbol, &mode, &status, &run.NewBars, &run.Splits, &run.AveragesRecomputed,
			&errMsg, &durationMs, &startedAt, &completedAt)
		if err != nil {
			return nil, sqliteError("scan sync run", err)
		}
		if err := run.ID.UnmarshalText([]byte(id)); err != nil {
			return nil, fmt.Errorf("invalid sync run id %q: %w", id, err)
		}
		run.Mode = models.SyncMode(mode)
		run.Status = models.SyncRunStatus(status)
		run.ErrorMessage = errMsg.String
		run.DurationMs = int(durationMs.Int64)
		run.StartedAt = time.UnixMilli(startedAt)
		if completedAt.Valid {
			t := time.UnixMilli(completedAt.Int64)
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// sqliteBounds turns an optional date range into inclusive text bounds
func sqliteBounds(start, end time.Time) (string, string) {
	lo, hi := "0000-01-01", "9999-12-31"
	if !start.IsZero() {
		lo = models.FormatDate(start)
	}
	if !end.IsZero() {
		hi = models.FormatDate(end)
	}
	return lo, hi
}

func scanSQLiteBars(rows *sql.Rows) (models.Series, error) {
	defer rows.Close()

	var bars models.Series
	for rows.Next() {
		var date, closeValue, coef string
		if err := rows.Scan(&date, &closeValue, &coef); err != nil {
			return nil, sqliteError("scan bar", err)
		}
		d, err := models.ParseDate(date)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrStorageUnavailable, err)
		}
		c, err := decimal.NewFromString(closeValue)
		if err != nil {
			return nil, fmt.Errorf("%w: bad close %q: %w", models.ErrStorageUnavailable, closeValue, err)
		}
		k, err := decimal.NewFromString(coef)
		if err != nil {
			return nil, fmt.Errorf("%w: bad split coefficient %q: %w", models.ErrStorageUnavailable, coef, err)
		}
		bars = append(bars, models.PriceBar{Date: d, Close: c, SplitCoefficient: k})
	}
	if err := rows.Err(); err != nil {
		return nil, sqliteError("read bars", err)
	}
	return bars, nil
}

func parseAveragePoint(date, value string) (models.AveragePoint, error) {
	d, err := models.ParseDate(date)
	if err != nil {
		return models.AveragePoint{}, fmt.Errorf("%w: %w", models.ErrStorageUnavailable, err)
	}
	v, err := decimal.NewFromString(value)
	if err != nil {
		return models.AveragePoint{}, fmt.Errorf("%w: bad average %q: %w", models.ErrStorageUnavailable, value, err)
	}
	return models.AveragePoint{Date: d, Value: v}, nil
}
