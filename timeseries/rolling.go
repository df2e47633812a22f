package timeseries

import (
	"sort"
	"time"

	"stock-tracker/models"

	"github.com/shopspring/decimal"
)

// Window is the number of samples in a rolling average
const Window = 200

var windowDivisor = decimal.NewFromInt(Window)

// WindowAverage returns the mean of the Window most recent adjusted closes
// dated on or before date, so a weekend or holiday resolves to the last
// trading day. It reports false until more than Window such samples exist,
// matching the first average at index Window.
func WindowAverage(series models.Series, date time.Time) (decimal.Decimal, bool) {
	n := sort.Search(len(series), func(i int) bool { return series[i].Date.After(date) })
	if n <= Window {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, b := range series[n-Window : n] {
		sum = sum.Add(b.Close)
	}
	return sum.Div(windowDivisor), true
}

// RecomputeFrom computes every window average for dates >= from. The first
// defined average sits at index Window (the 201st sample).
func RecomputeFrom(series models.Series, from time.Time) models.AverageSeries {
	start := Window
	for start < len(series) && series[start].Date.Before(from) {
		start++
	}
	if start >= len(series) {
		return nil
	}

	sum := decimal.Zero
	for _, b := range series[start-Window+1 : start+1] {
		sum = sum.Add(b.Close)
	}

	out := make(models.AverageSeries, 0, len(series)-start)
	out = append(out, models.AveragePoint{Date: series[start].Date, Value: sum.Div(windowDivisor)})
	for i := start + 1; i < len(series); i++ {
		sum = sum.Sub(series[i-Window].Close).Add(series[i].Close)
		out = append(out, models.AveragePoint{Date: series[i].Date, Value: sum.Div(windowDivisor)})
	}
	return out
}

// ExpectedAverages is the number of rolling-average entries a series of n
// samples carries.
func ExpectedAverages(n int) int {
	if n <= Window {
		return 0
	}
	return n - Window
}
