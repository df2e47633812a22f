package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar date format used by the feed, storage and API
const DateLayout = "2006-01-02"

// PriceBar is one trading day's close for a symbol
type PriceBar struct {
	Date             time.Time       `json:"date"`
	Close            decimal.Decimal `json:"close"`
	SplitCoefficient decimal.Decimal `json:"split_coefficient"`
}

// NewPriceBar creates a bar with the default split coefficient of 1
func NewPriceBar(date time.Time, close decimal.Decimal) PriceBar {
	return PriceBar{
		Date:             Date(date),
		Close:            close,
		SplitCoefficient: decimal.NewFromInt(1),
	}
}

// IsSplit reports whether the feed recorded a split taking effect on this bar
func (b PriceBar) IsSplit() bool {
	return !b.SplitCoefficient.IsZero() && !b.SplitCoefficient.Equal(decimal.NewFromInt(1))
}

// WithClose returns a copy of the bar carrying a different close
func (b PriceBar) WithClose(close decimal.Decimal) PriceBar {
	b.Close = close
	return b
}

// AveragePoint is one entry of the rolling-average series
type AveragePoint struct {
	Date  time.Time       `json:"date"`
	Value decimal.Decimal `json:"value"`
}

// SeriesKind names a persisted bar series
type SeriesKind string

const (
	SeriesRaw      SeriesKind = "raw"
	SeriesAdjusted SeriesKind = "adjusted"
)

// OutputSize selects how much history the feed returns
type OutputSize string

const (
	OutputSizeCompact OutputSize = "compact"
	OutputSizeFull    OutputSize = "full"
)

// Date truncates t to its calendar date in UTC
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// FormatDate formats a date as YYYY-MM-DD
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
