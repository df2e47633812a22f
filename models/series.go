package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Series is an ordered run of bars for one symbol, oldest first.
// Dates are unique and strictly increasing.
type Series []PriceBar

// Clone returns an independent copy of the series
func (s Series) Clone() Series {
	if s == nil {
		return nil
	}
	out := make(Series, len(s))
	copy(out, s)
	return out
}

// Sort orders the series by date, oldest first
func (s Series) Sort() {
	sort.Slice(s, func(i, j int) bool { return s[i].Date.Before(s[j].Date) })
}

// First returns the oldest bar
func (s Series) First() (PriceBar, bool) {
	if len(s) == 0 {
		return PriceBar{}, false
	}
	return s[0], true
}

// Last returns the newest bar
func (s Series) Last() (PriceBar, bool) {
	if len(s) == 0 {
		return PriceBar{}, false
	}
	return s[len(s)-1], true
}

// IndexOf returns the position of date in the series or -1
func (s Series) IndexOf(date time.Time) int {
	i := sort.Search(len(s), func(i int) bool { return !s[i].Date.Before(date) })
	if i < len(s) && s[i].Date.Equal(date) {
		return i
	}
	return -1
}

// After returns the bars dated strictly after date
func (s Series) After(date time.Time) Series {
	i := sort.Search(len(s), func(i int) bool { return s[i].Date.After(date) })
	return s[i:]
}

// Between returns the bars with start <= date <= end
func (s Series) Between(start, end time.Time) Series {
	var out Series
	for _, b := range s {
		if b.Date.Before(start) || b.Date.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// Validate checks that dates are strictly increasing
func (s Series) Validate() error {
	for i := 1; i < len(s); i++ {
		if !s[i].Date.After(s[i-1].Date) {
			return &SeriesOrderError{Prev: s[i-1].Date, Next: s[i].Date}
		}
	}
	return nil
}

// MaxClose returns the highest close in the series
func (s Series) MaxClose() decimal.Decimal {
	maxClose := decimal.Zero
	for i, b := range s {
		if i == 0 || b.Close.GreaterThan(maxClose) {
			maxClose = b.Close
		}
	}
	return maxClose
}

// SeriesOrderError reports a date that does not follow its predecessor
type SeriesOrderError struct {
	Prev time.Time
	Next time.Time
}

func (e *SeriesOrderError) Error() string {
	return "series dates not strictly increasing: " + FormatDate(e.Prev) + " then " + FormatDate(e.Next)
}

// AverageSeries is an ordered rolling-average series, oldest first
type AverageSeries []AveragePoint

// Last returns the newest point
func (a AverageSeries) Last() (AveragePoint, bool) {
	if len(a) == 0 {
		return AveragePoint{}, false
	}
	return a[len(a)-1], true
}

// Lookup indexes the series by date
func (a AverageSeries) Lookup() map[time.Time]decimal.Decimal {
	m := make(map[time.Time]decimal.Decimal, len(a))
	for _, p := range a {
		m[p.Date] = p.Value
	}
	return m
}
