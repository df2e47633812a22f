// Package backtest replays simple rolling-average strategies over a symbol's
// adjusted series.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stock-tracker/models"
	"stock-tracker/observability"

	"github.com/shopspring/decimal"
)

// ErrNoData is returned when the requested range holds no adjusted closes
var ErrNoData = errors.New("no adjusted closes in backtest range")

// Reader is the read side of the series store a backtest needs
type Reader interface {
	ReadBars(ctx context.Context, symbol string, kind models.SeriesKind, start, end time.Time) (models.Series, error)
	ReadAverages(ctx context.Context, symbol string, start, end time.Time) (models.AverageSeries, error)
}

// Evaluator runs every strategy over the same range, each with its own depot
type Evaluator struct {
	store        Reader
	StartingCash decimal.Decimal
	Band         decimal.Decimal
}

// NewEvaluator creates an evaluator
func NewEvaluator(store Reader, startingCash, band decimal.Decimal) *Evaluator {
	return &Evaluator{store: store, StartingCash: startingCash, Band: band}
}

// Run backtests symbol over [start, end]. A zero start or end leaves that
// side of the range open.
func (e *Evaluator) Run(ctx context.Context, symbol string, start, end time.Time) (*models.BacktestResult, error) {
	closes, err := e.store.ReadBars(ctx, symbol, models.SeriesAdjusted, start, end)
	if err != nil {
		return nil, fmt.Errorf("backtest %s: read adjusted series: %w", symbol, err)
	}
	if len(closes) == 0 {
		return nil, fmt.Errorf("backtest %s: %w", symbol, ErrNoData)
	}
	points, err := e.store.ReadAverages(ctx, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("backtest %s: read rolling averages: %w", symbol, err)
	}

	averages := NewAverages(points)

	strategies := map[models.Strategy]StrategyFunc{
		models.StrategyBuyAndHold: BuyAndHold,
		models.StrategyAvg200:     Avg200,
		models.StrategyAvg200Band: Avg200Band(e.Band),
	}

	first, _ := closes.First()
	last, _ := closes.Last()
	result := &models.BacktestResult{
		Symbol:       symbol,
		Start:        first.Date,
		End:          last.Date,
		StartingCash: e.StartingCash,
	}
	finalValues := make(map[string]float64, len(strategies))
	for _, name := range models.Strategies {
		depot := NewDepot(e.StartingCash)
		strategies[name](closes, averages, depot)
		value := depot.Value(last.Close)
		result.Results = append(result.Results, models.StrategyResult{
			Strategy:   name,
			FinalValue: value,
			Trades:     depot.Trades,
		})
		finalValues[string(name)] = value.InexactFloat64()
	}

	observability.GetMetrics().RecordBacktest(symbol, finalValues)
	observability.WithSymbol(symbol).Info("backtest completed",
		"start", models.FormatDate(result.Start),
		"end", models.FormatDate(result.End),
		"bars", len(closes),
		"averages", len(points))
	return result, nil
}
