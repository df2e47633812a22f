package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"stock-tracker/models"
	"stock-tracker/timeseries"

	"github.com/shopspring/decimal"
)

type memorySymbol struct {
	raw      models.Series
	adjusted models.Series
	averages models.AverageSeries
}

func (m *memorySymbol) clone() *memorySymbol {
	return &memorySymbol{
		raw:      m.raw.Clone(),
		adjusted: m.adjusted.Clone(),
		averages: append(models.AverageSeries(nil), m.averages...),
	}
}

// MemoryStore is an in-process SeriesStore. It backs DATABASE_DRIVER=memory
// and the engine tests.
type MemoryStore struct {
	mu      sync.RWMutex
	symbols map[string]*memorySymbol
	runs    []models.SyncRun

	// set on transaction views only
	parent *MemoryStore
	dirty  map[string]bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{symbols: make(map[string]*memorySymbol)}
}

// Close is a no-op
func (s *MemoryStore) Close() {}

// Health always succeeds
func (s *MemoryStore) Health(ctx context.Context) error {
	return ctx.Err()
}

// InTx runs fn against a private copy of the store and publishes the symbols
// it touched only when fn succeeds.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx SeriesStore) error) error {
	if s.parent != nil {
		return fn(s)
	}

	s.mu.RLock()
	view := &MemoryStore{
		symbols: make(map[string]*memorySymbol, len(s.symbols)),
		parent:  s,
		dirty:   make(map[string]bool),
	}
	for sym, data := range s.symbols {
		view.symbols[sym] = data.clone()
	}
	s.mu.RUnlock()

	if err := fn(view); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for sym := range view.dirty {
		s.symbols[sym] = view.symbols[sym]
	}
	s.runs = append(s.runs, view.runs...)
	return nil
}

// symbol returns the state of sym for writing, creating it when create is set
func (s *MemoryStore) symbol(sym string, create bool) (*memorySymbol, error) {
	data, ok := s.symbols[sym]
	if !ok {
		if !create {
			return nil, fmt.Errorf("%w: symbol %s is not tracked", models.ErrStorageUnavailable, sym)
		}
		data = &memorySymbol{}
		s.symbols[sym] = data
	}
	if s.dirty != nil {
		s.dirty[sym] = true
	}
	return data, nil
}

// EnsureSymbol registers sym
func (s *MemoryStore) EnsureSymbol(ctx context.Context, sym string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.symbol(sym, true)
	return err
}

// ListSymbols returns the tracked symbols in name order
func (s *MemoryStore) ListSymbols(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out, nil
}

// CountRaw returns the number of raw bars
func (s *MemoryStore) CountRaw(ctx context.Context, sym string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if data, ok := s.symbols[sym]; ok {
		return len(data.raw), nil
	}
	return 0, nil
}

// MaxRawDate returns the newest raw date
func (s *MemoryStore) MaxRawDate(ctx context.Context, sym string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if data, ok := s.symbols[sym]; ok {
		if last, ok := data.raw.Last(); ok {
			return last.Date, true, nil
		}
	}
	return time.Time{}, false, nil
}

// InsertRaw adds bars to the raw series; existing dates are rejected
func (s *MemoryStore) InsertRaw(ctx context.Context, sym string, bars models.Series) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.symbol(sym, false)
	if err != nil {
		return err
	}
	merged, err := mergeBars(data.raw, bars, false)
	if err != nil {
		return fmt.Errorf("failed to insert raw bars: %w", err)
	}
	data.raw = merged
	return nil
}

// InsertAdjusted adds bars to the adjusted series; existing dates are rejected
func (s *MemoryStore) InsertAdjusted(ctx context.Context, sym string, bars models.Series) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.symbol(sym, false)
	if err != nil {
		return err
	}
	merged, err := mergeBars(data.adjusted, bars, false)
	if err != nil {
		return fmt.Errorf("failed to insert adjusted bars: %w", err)
	}
	data.adjusted = merged
	return nil
}

// UpsertAdjusted inserts or replaces adjusted bars
func (s *MemoryStore) UpsertAdjusted(ctx context.Context, sym string, bars models.Series) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.symbol(sym, false)
	if err != nil {
		return err
	}
	merged, err := mergeBars(data.adjusted, bars, true)
	if err != nil {
		return fmt.Errorf("failed to upsert adjusted bars: %w", err)
	}
	data.adjusted = merged
	return nil
}

// RescaleAdjustedBefore divides every adjusted close dated before date
func (s *MemoryStore) RescaleAdjustedBefore(ctx context.Context, sym string, date time.Time, divisor decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.symbol(sym, false)
	if err != nil {
		return err
	}
	data.adjusted = timeseries.ApplySplit(data.adjusted, date, divisor)
	return nil
}

// UpsertRollingAverages inserts or replaces rolling-average points
func (s *MemoryStore) UpsertRollingAverages(ctx context.Context, sym string, points models.AverageSeries) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.symbol(sym, false)
	if err != nil {
		return err
	}
	byDate := data.averages.Lookup()
	for _, p := range points {
		byDate[p.Date] = p.Value
	}
	out := make(models.AverageSeries, 0, len(byDate))
	for d, v := range byDate {
		out = append(out, models.AveragePoint{Date: d, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	data.averages = out
	return nil
}

// WindowAverage averages the stored adjusted window ending at date
func (s *MemoryStore) WindowAverage(ctx context.Context, sym string, date time.Time) (decimal.Decimal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.symbols[sym]
	if !ok {
		return decimal.Zero, false, nil
	}
	avg, ok := timeseries.WindowAverage(data.adjusted, date)
	return avg, ok, nil
}

// ReadBars returns raw or adjusted bars within [start, end]
func (s *MemoryStore) ReadBars(ctx context.Context, sym string, kind models.SeriesKind, start, end time.Time) (models.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.symbols[sym]
	if !ok {
		return nil, nil
	}
	var series models.Series
	switch kind {
	case models.SeriesRaw:
		series = data.raw
	case models.SeriesAdjusted:
		series = data.adjusted
	default:
		return nil, fmt.Errorf("unknown series kind %q", kind)
	}
	var out models.Series
	for _, b := range series {
		if inRange(b.Date, start, end) {
			out = append(out, b)
		}
	}
	return out, nil
}

// ReadAverages returns rolling-average points within [start, end]
func (s *MemoryStore) ReadAverages(ctx context.Context, sym string, start, end time.Time) (models.AverageSeries, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.symbols[sym]
	if !ok {
		return nil, nil
	}
	var out models.AverageSeries
	for _, p := range data.averages {
		if inRange(p.Date, start, end) {
			out = append(out, p)
		}
	}
	return out, nil
}

// CountAverages returns the number of rolling-average points
func (s *MemoryStore) CountAverages(ctx context.Context, sym string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if data, ok := s.symbols[sym]; ok {
		return len(data.averages), nil
	}
	return 0, nil
}

// RecordSyncRun stores or replaces a sync run
func (s *MemoryStore) RecordSyncRun(ctx context.Context, run *models.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs {
		if s.runs[i].ID == run.ID {
			s.runs[i] = *run
			return nil
		}
	}
	s.runs = append(s.runs, *run)
	return nil
}

// GetSyncRuns returns the most recent runs for sym, newest first
func (s *MemoryStore) GetSyncRuns(ctx context.Context, sym string, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.SyncRun
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		if sym == "" || s.runs[i].Symbol == sym {
			out = append(out, s.runs[i])
		}
	}
	return out, nil
}

// mergeBars merges bars into series keeping date order. Without replace an
// existing date is a consistency violation.
func mergeBars(series, bars models.Series, replace bool) (models.Series, error) {
	out := series.Clone()
	for _, b := range bars {
		i := sort.Search(len(out), func(i int) bool { return !out[i].Date.Before(b.Date) })
		if i < len(out) && out[i].Date.Equal(b.Date) {
			if !replace {
				return nil, fmt.Errorf("%w: duplicate bar for %s", models.ErrConsistencyViolation, models.FormatDate(b.Date))
			}
			out[i] = b
			continue
		}
		out = append(out, models.PriceBar{})
		copy(out[i+1:], out[i:])
		out[i] = b
	}
	return out, nil
}

func inRange(d, start, end time.Time) bool {
	if !start.IsZero() && d.Before(start) {
		return false
	}
	if !end.IsZero() && d.After(end) {
		return false
	}
	return true
}
