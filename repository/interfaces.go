package repository

import (
	"context"
	"time"

	"stock-tracker/models"

	"github.com/shopspring/decimal"
)

// SeriesStore persists the raw, adjusted and rolling-average series of every
// tracked symbol. Dates are calendar dates; each (symbol, date) pair appears
// at most once per series.
type SeriesStore interface {
	// Health and lifecycle
	Close()
	Health(ctx context.Context) error

	// InTx runs fn against a store whose writes commit together or not at all
	InTx(ctx context.Context, fn func(tx SeriesStore) error) error

	// Symbols
	EnsureSymbol(ctx context.Context, symbol string) error
	ListSymbols(ctx context.Context) ([]string, error)

	// Raw series
	CountRaw(ctx context.Context, symbol string) (int, error)
	MaxRawDate(ctx context.Context, symbol string) (time.Time, bool, error)
	InsertRaw(ctx context.Context, symbol string, bars models.Series) error

	// Adjusted series
	InsertAdjusted(ctx context.Context, symbol string, bars models.Series) error
	UpsertAdjusted(ctx context.Context, symbol string, bars models.Series) error
	RescaleAdjustedBefore(ctx context.Context, symbol string, date time.Time, divisor decimal.Decimal) error

	// Rolling averages
	UpsertRollingAverages(ctx context.Context, symbol string, points models.AverageSeries) error
	WindowAverage(ctx context.Context, symbol string, date time.Time) (decimal.Decimal, bool, error)

	// Reads, ordered oldest first. A zero start or end leaves that side open.
	ReadBars(ctx context.Context, symbol string, kind models.SeriesKind, start, end time.Time) (models.Series, error)
	ReadAverages(ctx context.Context, symbol string, start, end time.Time) (models.AverageSeries, error)
	CountAverages(ctx context.Context, symbol string) (int, error)

	// Sync runs
	RecordSyncRun(ctx context.Context, run *models.SyncRun) error
	GetSyncRuns(ctx context.Context, symbol string, limit int) ([]models.SyncRun, error)
}

// Compile-time interface verification
var _ SeriesStore = (*PostgresStore)(nil)
var _ SeriesStore = (*SQLiteStore)(nil)
var _ SeriesStore = (*MemoryStore)(nil)
