// Package timeseries holds the pure transforms that derive the adjusted and
// rolling-average series from raw daily bars.
package timeseries

import (
	"time"

	"stock-tracker/models"

	"github.com/shopspring/decimal"
)

// Adjust computes the split-adjusted series for raw. Every split divides all
// earlier closes by its coefficient, so bars preceding several splits are
// divided by their product. The bar on which a split takes effect keeps its
// close.
//
// Splits are applied oldest first, the same order in which an incremental
// sync discovers them, so both paths round identically.
func Adjust(raw models.Series) models.Series {
	adjusted := raw.Clone()
	for i := range raw {
		if !raw[i].IsSplit() {
			continue
		}
		coef := raw[i].SplitCoefficient
		for j := 0; j < i; j++ {
			adjusted[j].Close = adjusted[j].Close.Div(coef)
		}
	}
	return adjusted
}

// ApplySplit returns a copy of adjusted with every close dated before at
// divided by coef.
func ApplySplit(adjusted models.Series, at time.Time, coef decimal.Decimal) models.Series {
	out := adjusted.Clone()
	if coef.IsZero() || coef.Equal(decimal.NewFromInt(1)) {
		return out
	}
	for i := range out {
		if !out[i].Date.Before(at) {
			break
		}
		out[i].Close = out[i].Close.Div(coef)
	}
	return out
}

// SplitEvent is a split discovered in newly ingested bars
type SplitEvent struct {
	Date        time.Time
	Coefficient decimal.Decimal
}

// Splits lists the split events contained in bars, oldest first
func Splits(bars models.Series) []SplitEvent {
	var events []SplitEvent
	for _, b := range bars {
		if b.IsSplit() {
			events = append(events, SplitEvent{Date: b.Date, Coefficient: b.SplitCoefficient})
		}
	}
	return events
}
