package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"stock-tracker/backtest"
	"stock-tracker/config"
	"stock-tracker/models"
	"stock-tracker/observability"
	"stock-tracker/repository"
	"stock-tracker/services"
	"stock-tracker/syncer"

	"golang.org/x/sync/errgroup"
)

// App struct holds application dependencies using interfaces for testability
type App struct {
	cfg       *config.Config
	store     repository.SeriesStore
	engine    *syncer.Engine
	evaluator *backtest.Evaluator
	retry     services.RetryConfig

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a new App. feed may be nil when only stored data is read.
func New(cfg *config.Config, store repository.SeriesStore, feed syncer.Feed) *App {
	retry := services.DefaultRetryConfig
	retry.MaxRetries = cfg.Sync.MaxRetries

	a := &App{
		cfg:       cfg,
		store:     store,
		evaluator: backtest.NewEvaluator(store, cfg.Backtest.StartCash, cfg.Backtest.Band),
		retry:     retry,
		locks:     make(map[string]*sync.Mutex),
	}
	if feed != nil {
		a.engine = syncer.NewEngine(feed, store)
	}
	return a
}

// Shutdown releases the store
func (a *App) Shutdown() {
	if a.store != nil {
		a.store.Close()
	}
}

// Store returns the series store for API handlers
func (a *App) Store() repository.SeriesStore {
	return a.store
}

// Config returns the application configuration
func (a *App) Config() *config.Config {
	return a.cfg
}

// NormalizeSymbol trims and upper-cases a ticker
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// symbolLock returns the mutex serializing syncs of symbol
func (a *App) symbolLock(symbol string) *sync.Mutex {
	a.locksMu.Lock()
	defer a.locksMu.Unlock()
	mu, ok := a.locks[symbol]
	if !ok {
		mu = &sync.Mutex{}
		a.locks[symbol] = mu
	}
	return mu
}

// Symbols returns the configured symbols, or every tracked symbol when none
// are configured.
func (a *App) Symbols(ctx context.Context) ([]string, error) {
	if len(a.cfg.Sync.Symbols) > 0 {
		return a.cfg.Sync.Symbols, nil
	}
	if a.store == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return a.store.ListSymbols(ctx)
}

// SyncSymbol syncs one symbol, retrying transient feed and storage failures.
// Syncs of the same symbol never overlap.
func (a *App) SyncSymbol(ctx context.Context, symbol string) (*models.SyncRun, error) {
	if a.engine == nil {
		return nil, fmt.Errorf("price feed not configured")
	}
	symbol = NormalizeSymbol(symbol)

	mu := a.symbolLock(symbol)
	mu.Lock()
	defer mu.Unlock()

	var run *models.SyncRun
	err := services.WithRetry(ctx, a.retry, func() error {
		var err error
		run, err = a.engine.Sync(ctx, symbol)
		return err
	})
	return run, err
}

// SymbolResult is the outcome of syncing one symbol in a batch
type SymbolResult struct {
	Symbol string          `json:"symbol"`
	Run    *models.SyncRun `json:"run,omitempty"`
	Err    error           `json:"-"`
}

// SyncAll syncs every symbol with bounded parallelism. A failing symbol does
// not stop the others; the returned error joins every failure.
func (a *App) SyncAll(ctx context.Context) ([]SymbolResult, error) {
	symbols, err := a.Symbols(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]SymbolResult, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Sync.Concurrency)

	for i, symbol := range symbols {
		g.Go(func() error {
			run, err := a.SyncSymbol(gctx, symbol)
			results[i] = SymbolResult{Symbol: symbol, Run: run, Err: err}
			// per-symbol failures are collected, not propagated
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	observability.Info("sync batch finished",
		"symbols", len(symbols),
		"failed", len(errs))
	return results, errors.Join(errs...)
}

// dateRange fills a zero start or end with the configured backtest range
func (a *App) dateRange(start, end time.Time) (time.Time, time.Time) {
	if start.IsZero() {
		start = a.cfg.Backtest.StartDate
	}
	if end.IsZero() {
		end = a.cfg.Backtest.EndDate
	}
	return start, end
}

// Backtest runs every strategy for symbol over [start, end]. Zero bounds fall
// back to the configured range.
func (a *App) Backtest(ctx context.Context, symbol string, start, end time.Time) (*models.BacktestResult, error) {
	if a.store == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	start, end = a.dateRange(start, end)
	return a.evaluator.Run(ctx, NormalizeSymbol(symbol), start, end)
}

// BacktestAll backtests every symbol, skipping those without data
func (a *App) BacktestAll(ctx context.Context) ([]*models.BacktestResult, error) {
	symbols, err := a.Symbols(ctx)
	if err != nil {
		return nil, err
	}

	var (
		results []*models.BacktestResult
		errs    []error
	)
	for _, symbol := range symbols {
		res, err := a.Backtest(ctx, symbol, time.Time{}, time.Time{})
		if err != nil {
			if errors.Is(err, backtest.ErrNoData) {
				observability.Warn("skipping backtest", "symbol", symbol, "error", err)
				continue
			}
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// ReadAdjusted returns the adjusted series of symbol within [start, end]
func (a *App) ReadAdjusted(ctx context.Context, symbol string, start, end time.Time) (models.Series, error) {
	if a.store == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return a.store.ReadBars(ctx, NormalizeSymbol(symbol), models.SeriesAdjusted, start, end)
}

// ReadAverages returns the rolling averages of symbol within [start, end]
func (a *App) ReadAverages(ctx context.Context, symbol string, start, end time.Time) (models.AverageSeries, error) {
	if a.store == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return a.store.ReadAverages(ctx, NormalizeSymbol(symbol), start, end)
}

// Verify recomputes symbol's derived series from raw and reports differences
func (a *App) Verify(ctx context.Context, symbol string) (*syncer.VerifyReport, error) {
	if a.store == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	// Verify only reads, so it runs without a feed
	engine := a.engine
	if engine == nil {
		engine = syncer.NewEngine(nil, a.store)
	}

	symbol = NormalizeSymbol(symbol)
	mu := a.symbolLock(symbol)
	mu.Lock()
	defer mu.Unlock()
	return engine.Verify(ctx, symbol)
}

// GetSyncRuns returns recent sync runs; an empty symbol selects all
func (a *App) GetSyncRuns(ctx context.Context, symbol string, limit int) ([]models.SyncRun, error) {
	if a.store == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return a.store.GetSyncRuns(ctx, NormalizeSymbol(symbol), limit)
}

// ListSymbols returns the tracked symbols in name order
func (a *App) ListSymbols(ctx context.Context) ([]string, error) {
	if a.store == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	symbols, err := a.store.ListSymbols(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(symbols)
	return symbols, nil
}
