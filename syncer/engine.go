// Package syncer keeps a symbol's raw, adjusted and rolling-average series in
// step with the daily price feed.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stock-tracker/models"
	"stock-tracker/observability"
	"stock-tracker/repository"
	"stock-tracker/timeseries"
)

// Feed supplies daily bars for a symbol in ascending date order
type Feed interface {
	FetchDaily(ctx context.Context, symbol string, size models.OutputSize) ([]models.PriceBar, error)
}

// Engine ingests new bars for one symbol at a time. It does not retry and
// does not serialize callers; concurrent syncs of the same symbol must be
// prevented by the caller.
type Engine struct {
	feed  Feed
	store repository.SeriesStore
}

// NewEngine creates a sync engine
func NewEngine(feed Feed, store repository.SeriesStore) *Engine {
	return &Engine{feed: feed, store: store}
}

// state is the persisted view of a symbol before it is extended
type state struct {
	rawCount int
	maxDate  time.Time
	adjusted models.Series
}

// Sync brings symbol up to date with the feed. On failure nothing of this
// sync is persisted and the returned error is a *SyncError. The returned run
// describes what happened either way.
func (e *Engine) Sync(ctx context.Context, symbol string) (*models.SyncRun, error) {
	run := models.NewSyncRun(symbol)
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	log := observability.WithSyncRun(symbol, run.ID.String())

	err := e.sync(ctx, symbol, run)
	if err != nil {
		run.Fail(err)
		var syncErr *SyncError
		if errors.As(err, &syncErr) {
			metrics.RecordSyncError(symbol, string(syncErr.Stage))
		}
		log.Error("sync failed", "mode", run.Mode, "error", err)
	} else {
		run.Complete()
		metrics.RecordSyncVolume(symbol, run.NewBars, run.Splits, run.AveragesRecomputed)
		log.Info("sync completed",
			"mode", run.Mode,
			"new_bars", run.NewBars,
			"splits", run.Splits,
			"averages", run.AveragesRecomputed,
			"duration_ms", run.DurationMs)
	}
	timer.ObserveSync(symbol, string(run.Mode), string(run.Status))

	if recErr := e.store.RecordSyncRun(ctx, run); recErr != nil {
		log.Warn("failed to record sync run", "error", recErr)
	}
	return run, err
}

func (e *Engine) sync(ctx context.Context, symbol string, run *models.SyncRun) error {
	if err := e.store.EnsureSymbol(ctx, symbol); err != nil {
		return &SyncError{Symbol: symbol, Stage: StageStore, Err: err}
	}

	st, err := e.load(ctx, symbol)
	if err != nil {
		return &SyncError{Symbol: symbol, Stage: StageCheck, Err: err}
	}

	if st.rawCount == 0 {
		run.Mode = models.SyncModeInitial
		return e.initial(ctx, symbol, run)
	}
	run.Mode = models.SyncModeIncremental
	return e.incremental(ctx, symbol, st, run)
}

// load reads the persisted state and checks that adjusted and rolling
// averages still line up with raw.
func (e *Engine) load(ctx context.Context, symbol string) (*state, error) {
	n, err := e.store.CountRaw(ctx, symbol)
	if err != nil {
		return nil, err
	}
	maxDate, _, err := e.store.MaxRawDate(ctx, symbol)
	if err != nil {
		return nil, err
	}
	adjusted, err := e.store.ReadBars(ctx, symbol, models.SeriesAdjusted, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	averages, err := e.store.CountAverages(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if len(adjusted) != n {
		return nil, fmt.Errorf("%w: %d raw bars but %d adjusted", models.ErrConsistencyViolation, n, len(adjusted))
	}
	if last, ok := adjusted.Last(); ok && !last.Date.Equal(maxDate) {
		return nil, fmt.Errorf("%w: raw ends %s but adjusted ends %s",
			models.ErrConsistencyViolation, models.FormatDate(maxDate), models.FormatDate(last.Date))
	}
	if want := timeseries.ExpectedAverages(n); averages != want {
		return nil, fmt.Errorf("%w: %d rolling averages, want %d", models.ErrConsistencyViolation, averages, want)
	}

	return &state{rawCount: n, maxDate: maxDate, adjusted: adjusted}, nil
}

func (e *Engine) fetch(ctx context.Context, symbol string, size models.OutputSize) (models.Series, error) {
	bars, err := e.feed.FetchDaily(ctx, symbol, size)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s fetch for %s", models.ErrFeedEmpty, size, symbol)
	}
	series := models.Series(bars).Clone()
	series.Sort()
	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrMalformedFeedPayload, err)
	}
	return series, nil
}

// initial stores the full history of a symbol seen for the first time
func (e *Engine) initial(ctx context.Context, symbol string, run *models.SyncRun) error {
	raw, err := e.fetch(ctx, symbol, models.OutputSizeFull)
	if err != nil {
		return &SyncError{Symbol: symbol, Stage: StageFetch, Err: err}
	}

	adjusted := timeseries.Adjust(raw)
	first, _ := adjusted.First()
	averages := timeseries.RecomputeFrom(adjusted, first.Date)

	err = e.store.InTx(ctx, func(tx repository.SeriesStore) error {
		if err := tx.InsertRaw(ctx, symbol, raw); err != nil {
			return err
		}
		if err := tx.InsertAdjusted(ctx, symbol, adjusted); err != nil {
			return err
		}
		if len(averages) == 0 {
			return nil
		}
		return tx.UpsertRollingAverages(ctx, symbol, averages)
	})
	if err != nil {
		return &SyncError{Symbol: symbol, Stage: StageStore, Err: err}
	}

	run.NewBars = len(raw)
	run.Splits = len(timeseries.Splits(raw))
	run.AveragesRecomputed = len(averages)
	return nil
}

// incremental appends the bars newer than the last stored date
func (e *Engine) incremental(ctx context.Context, symbol string, st *state, run *models.SyncRun) error {
	bars, err := e.fetch(ctx, symbol, models.OutputSizeCompact)
	if err != nil {
		return &SyncError{Symbol: symbol, Stage: StageFetch, Err: err}
	}
	if oldest, _ := bars.First(); oldest.Date.After(st.maxDate) {
		observability.WithSymbol(symbol).Info("compact window does not reach stored history, fetching full",
			"max_raw_date", models.FormatDate(st.maxDate),
			"oldest_compact", models.FormatDate(oldest.Date))
		bars, err = e.fetch(ctx, symbol, models.OutputSizeFull)
		if err != nil {
			return &SyncError{Symbol: symbol, Stage: StageFetch, Err: err}
		}
	}

	fresh := bars.After(st.maxDate)
	if len(fresh) == 0 {
		run.Mode = models.SyncModeNoop
		return nil
	}

	// new bars enter the adjusted series at their raw close; splits among
	// them then rescale everything dated before the split
	splits := timeseries.Splits(fresh)
	extended := append(st.adjusted.Clone(), fresh...)
	for _, s := range splits {
		extended = timeseries.ApplySplit(extended, s.Date, s.Coefficient)
	}

	from := fresh[0].Date
	if len(splits) > 0 {
		from = extended[0].Date
	}
	averages := timeseries.RecomputeFrom(extended, from)

	err = e.store.InTx(ctx, func(tx repository.SeriesStore) error {
		if err := tx.InsertRaw(ctx, symbol, fresh); err != nil {
			return err
		}
		if err := tx.InsertAdjusted(ctx, symbol, fresh); err != nil {
			return err
		}
		for _, s := range splits {
			if err := tx.RescaleAdjustedBefore(ctx, symbol, s.Date, s.Coefficient); err != nil {
				return err
			}
		}
		if len(averages) == 0 {
			return nil
		}
		return tx.UpsertRollingAverages(ctx, symbol, averages)
	})
	if err != nil {
		return &SyncError{Symbol: symbol, Stage: StageStore, Err: err}
	}

	run.NewBars = len(fresh)
	run.Splits = len(splits)
	run.AveragesRecomputed = len(averages)
	return nil
}
