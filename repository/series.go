package repository

import (
	"context"
	"fmt"
	"time"

	"stock-tracker/models"
	"stock-tracker/observability"
	"stock-tracker/timeseries"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// barTable maps a series kind to its table. Only these names are ever
// interpolated into SQL.
func barTable(kind models.SeriesKind) (string, error) {
	switch kind {
	case models.SeriesRaw:
		return "raw_bars", nil
	case models.SeriesAdjusted:
		return "adjusted_bars", nil
	default:
		return "", fmt.Errorf("unknown series kind %q", kind)
	}
}

// nullableDate turns a zero time into SQL NULL so open range bounds match
// every row.
func nullableDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// EnsureSymbol registers the symbol so its series can be written
func (s *PostgresStore) EnsureSymbol(ctx context.Context, symbol string) error {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("insert", "tracked_symbols")

	_, err := s.db.Exec(ctx, `
		INSERT INTO tracked_symbols (symbol) VALUES ($1)
		ON CONFLICT (symbol) DO NOTHING
	`, symbol)
	if err != nil {
		metrics.RecordDBError("insert", "tracked_symbols")
		return storageError("failed to register symbol", err)
	}
	return nil
}

// ListSymbols returns the tracked symbols in name order
func (s *PostgresStore) ListSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT symbol FROM tracked_symbols ORDER BY symbol`)
	if err != nil {
		return nil, storageError("failed to query symbols", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, storageError("failed to scan symbol", err)
		}
		symbols = append(symbols, sym)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("failed to read symbols", err)
	}
	return symbols, nil
}

// CountRaw returns the number of raw bars stored for symbol
func (s *PostgresStore) CountRaw(ctx context.Context, symbol string) (int, error) {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("count", "raw_bars")

	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM raw_bars WHERE symbol = $1`, symbol).Scan(&n)
	if err != nil {
		metrics.RecordDBError("count", "raw_bars")
		return 0, storageError("failed to count raw bars", err)
	}
	return n, nil
}

// MaxRawDate returns the newest raw date, false when no bars are stored
func (s *PostgresStore) MaxRawDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	var maxDate *time.Time
	err := s.db.QueryRow(ctx, `SELECT MAX(entry_date) FROM raw_bars WHERE symbol = $1`, symbol).Scan(&maxDate)
	if err != nil {
		return time.Time{}, false, storageError("failed to query max raw date", err)
	}
	if maxDate == nil {
		return time.Time{}, false, nil
	}
	return models.Date(*maxDate), true, nil
}

// InsertRaw appends raw bars; a date that already exists fails the call
func (s *PostgresStore) InsertRaw(ctx context.Context, symbol string, bars models.Series) error {
	return s.writeBars(ctx, "insert", "raw_bars", `
		INSERT INTO raw_bars (symbol, entry_date, close_value, split_coefficient)
		VALUES ($1, $2, $3, $4)
	`, symbol, bars)
}

// InsertAdjusted appends adjusted bars; a date that already exists fails the call
func (s *PostgresStore) InsertAdjusted(ctx context.Context, symbol string, bars models.Series) error {
	return s.writeBars(ctx, "insert", "adjusted_bars", `
		INSERT INTO adjusted_bars (symbol, entry_date, close_value, split_coefficient)
		VALUES ($1, $2, $3, $4)
	`, symbol, bars)
}

// UpsertAdjusted inserts or replaces adjusted bars
func (s *PostgresStore) UpsertAdjusted(ctx context.Context, symbol string, bars models.Series) error {
	return s.writeBars(ctx, "upsert", "adjusted_bars", `
		INSERT INTO adjusted_bars (symbol, entry_date, close_value, split_coefficient)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (symbol, entry_date)
		DO UPDATE SET close_value = EXCLUDED.close_value, split_coefficient = EXCLUDED.split_coefficient
	`, symbol, bars)
}

func (s *PostgresStore) writeBars(ctx context.Context, operation, table, query, symbol string, bars models.Series) error {
	if len(bars) == 0 {
		return nil
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB(operation, table)

	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(query, symbol, b.Date, b.Close, b.SplitCoefficient)
	}
	if err := s.sendBatch(ctx, batch); err != nil {
		metrics.RecordDBError(operation, table)
		return storageError(fmt.Sprintf("failed to %s %s", operation, table), err)
	}
	return nil
}

// RescaleAdjustedBefore divides every adjusted close dated before date by
// divisor. The division runs in Go so stored values match the in-memory
// transform digit for digit.
func (s *PostgresStore) RescaleAdjustedBefore(ctx context.Context, symbol string, date time.Time, divisor decimal.Decimal) error {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("rescale", "adjusted_bars")

	rows, err := s.db.Query(ctx, `
		SELECT entry_date, close_value, split_coefficient
		FROM adjusted_bars
		WHERE symbol = $1 AND entry_date < $2
		ORDER BY entry_date
	`, symbol, date)
	if err != nil {
		metrics.RecordDBError("rescale", "adjusted_bars")
		return storageError("failed to query adjusted bars", err)
	}
	prefix, err := scanBars(rows)
	if err != nil {
		metrics.RecordDBError("rescale", "adjusted_bars")
		return err
	}

	rescaled := timeseries.ApplySplit(prefix, date, divisor)
	batch := &pgx.Batch{}
	for _, b := range rescaled {
		batch.Queue(`UPDATE adjusted_bars SET close_value = $3 WHERE symbol = $1 AND entry_date = $2`, symbol, b.Date, b.Close)
	}
	if err := s.sendBatch(ctx, batch); err != nil {
		metrics.RecordDBError("rescale", "adjusted_bars")
		return storageError("failed to rescale adjusted bars", err)
	}
	return nil
}

// UpsertRollingAverages inserts or replaces rolling-average points
func (s *PostgresStore) UpsertRollingAverages(ctx context.Context, symbol string, points models.AverageSeries) error {
	if len(points) == 0 {
		return nil
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("upsert", "rolling_averages")

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(`
			INSERT INTO rolling_averages (symbol, entry_date, close_value)
			VALUES ($1, $2, $3)
			ON CONFLICT (symbol, entry_date) DO UPDATE SET close_value = EXCLUDED.close_value
		`, symbol, p.Date, p.Value)
	}
	if err := s.sendBatch(ctx, batch); err != nil {
		metrics.RecordDBError("upsert", "rolling_averages")
		return storageError("failed to upsert rolling averages", err)
	}
	return nil
}

// WindowAverage averages the timeseries.Window most recent adjusted closes
// dated on or before date directly in SQL. It reports false while at most
// timeseries.Window bars are dated on or before date.
func (s *PostgresStore) WindowAverage(ctx context.Context, symbol string, date time.Time) (decimal.Decimal, bool, error) {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("window_average", "adjusted_bars")

	var (
		count int
		avg   decimal.NullDecimal
	)
	err := s.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM adjusted_bars WHERE symbol = $1 AND entry_date <= $2),
			(SELECT AVG(close_value) FROM (
				SELECT close_value FROM adjusted_bars
				WHERE symbol = $1 AND entry_date <= $2
				ORDER BY entry_date DESC
				LIMIT $3
			) w)
	`, symbol, date, timeseries.Window).Scan(&count, &avg)
	if err != nil {
		metrics.RecordDBError("window_average", "adjusted_bars")
		return decimal.Zero, false, storageError("failed to query window average", err)
	}
	if count <= timeseries.Window || !avg.Valid {
		return decimal.Zero, false, nil
	}
	return avg.Decimal, true, nil
}

// ReadBars returns raw or adjusted bars within [start, end]
func (s *PostgresStore) ReadBars(ctx context.Context, symbol string, kind models.SeriesKind, start, end time.Time) (models.Series, error) {
	table, err := barTable(kind)
	if err != nil {
		return nil, err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", table)

	rows, err := s.db.Query(ctx, `
		SELECT entry_date, close_value, split_coefficient
		FROM `+table+`
		WHERE symbol = $1
		  AND ($2::date IS NULL OR entry_date >= $2::date)
		  AND ($3::date IS NULL OR entry_date <= $3::date)
		ORDER BY entry_date
	`, symbol, nullableDate(start), nullableDate(end))
	if err != nil {
		metrics.RecordDBError("select", table)
		return nil, storageError("failed to query "+table, err)
	}
	return scanBars(rows)
}

// ReadAverages returns rolling-average points within [start, end]
func (s *PostgresStore) ReadAverages(ctx context.Context, symbol string, start, end time.Time) (models.AverageSeries, error) {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "rolling_averages")

	rows, err := s.db.Query(ctx, `
		SELECT entry_date, close_value
		FROM rolling_averages
		WHERE symbol = $1
		  AND ($2::date IS NULL OR entry_date >= $2::date)
		  AND ($3::date IS NULL OR entry_date <= $3::date)
		ORDER BY entry_date
	`, symbol, nullableDate(start), nullableDate(end))
	if err != nil {
		metrics.RecordDBError("select", "rolling_averages")
		return nil, storageError("failed to query rolling averages", err)
	}
	defer rows.Close()

	var points models.AverageSeries
	for rows.Next() {
		var p models.AveragePoint
		if err := rows.Scan(&p.Date, &p.Value); err != nil {
			return nil, storageError("failed to scan rolling average", err)
		}
		p.Date = models.Date(p.Date)
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("failed to read rolling averages", err)
	}
	return points, nil
}

// CountAverages returns the number of rolling-average points for symbol
func (s *PostgresStore) CountAverages(ctx context.Context, symbol string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM rolling_averages WHERE symbol = $1`, symbol).Scan(&n)
	if err != nil {
		return 0, storageError("failed to count rolling averages", err)
	}
	return n, nil
}

func (s *PostgresStore) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	br := s.db.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	return br.Close()
}

func scanBars(rows pgx.Rows) (models.Series, error) {
	defer rows.Close()

	var bars models.Series
	for rows.Next() {
		var b models.PriceBar
		if err := rows.Scan(&b.Date, &b.Close, &b.SplitCoefficient); err != nil {
			return nil, storageError("failed to scan bar", err)
		}
		b.Date = models.Date(b.Date)
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("failed to read bars", err)
	}
	return bars, nil
}
