package backtest

import (
	"time"

	"stock-tracker/models"

	"github.com/shopspring/decimal"
)

// Averages maps a calendar day to its rolling average
type Averages map[string]decimal.Decimal

// NewAverages indexes points by day
func NewAverages(points models.AverageSeries) Averages {
	out := make(Averages, len(points))
	for _, p := range points {
		out[models.FormatDate(p.Date)] = p.Value
	}
	return out
}

// At returns the average for the day of t
func (a Averages) At(t time.Time) (decimal.Decimal, bool) {
	v, ok := a[models.FormatDate(t)]
	return v, ok
}

// StrategyFunc simulates one strategy over closes and their rolling averages
// starting from a fresh depot. closes is never empty.
type StrategyFunc func(closes models.Series, averages Averages, depot *Depot)

// BuyAndHold buys at the first close and sells at the last
func BuyAndHold(closes models.Series, _ Averages, depot *Depot) {
	first, _ := closes.First()
	last, _ := closes.Last()
	depot.FullBuy(first.Date, first.Close)
	depot.FullSell(last.Date, last.Close)
}

// Avg200 holds the stock while it closes above its rolling average
func Avg200(closes models.Series, averages Averages, depot *Depot) {
	for _, bar := range closes {
		avg, ok := averages.At(bar.Date)
		if !ok {
			continue
		}
		if bar.Close.GreaterThan(avg) {
			depot.FullBuy(bar.Date, bar.Close)
		} else {
			depot.FullSell(bar.Date, bar.Close)
		}
	}
	liquidate(closes, depot)
}

// Avg200Band compares close/average against band: above buys, below sells,
// equal holds.
func Avg200Band(band decimal.Decimal) StrategyFunc {
	return func(closes models.Series, averages Averages, depot *Depot) {
		for _, bar := range closes {
			avg, ok := averages.At(bar.Date)
			if !ok || avg.IsZero() {
				continue
			}
			switch bar.Close.Div(avg).Cmp(band) {
			case 1:
				depot.FullBuy(bar.Date, bar.Close)
			case -1:
				depot.FullSell(bar.Date, bar.Close)
			}
		}
		liquidate(closes, depot)
	}
}

func liquidate(closes models.Series, depot *Depot) {
	last, _ := closes.Last()
	depot.FullSell(last.Date, last.Close)
}
