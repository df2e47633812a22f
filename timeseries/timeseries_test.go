package timeseries

import (
	"testing"
	"time"

	"stock-tracker/models"

	"github.com/shopspring/decimal"
)

var baseDate = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func dayN(n int) time.Time {
	return baseDate.AddDate(0, 0, n)
}

func bar(n int, close, coef string) models.PriceBar {
	return models.PriceBar{
		Date:             dayN(n),
		Close:            decimal.RequireFromString(close),
		SplitCoefficient: decimal.RequireFromString(coef),
	}
}

// rampSeries builds n bars with closes 1..n and no splits
func rampSeries(n int) models.Series {
	s := make(models.Series, n)
	for i := range s {
		s[i] = models.NewPriceBar(dayN(i), decimal.NewFromInt(int64(i+1)))
	}
	return s
}

func assertCloses(t *testing.T, got models.Series, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d bars, want %d", len(got), len(want))
	}
	for i, w := range want {
		if !got[i].Close.Equal(decimal.RequireFromString(w)) {
			t.Errorf("bar %d close = %v, want %v", i, got[i].Close, w)
		}
	}
}

func TestAdjust_NoSplits(t *testing.T) {
	raw := models.Series{bar(0, "10.5", "1"), bar(1, "11.25", "1"), bar(2, "9.75", "1")}
	adjusted := Adjust(raw)
	assertCloses(t, adjusted, []string{"10.5", "11.25", "9.75"})
}

func TestAdjust_SplitExample(t *testing.T) {
	raw := models.Series{bar(0, "100", "1"), bar(1, "100", "1"), bar(2, "50", "2")}
	adjusted := Adjust(raw)
	assertCloses(t, adjusted, []string{"50", "50", "50"})

	// raw must be untouched
	if !raw[0].Close.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Adjust mutated its input: %v", raw[0].Close)
	}
}

func TestAdjust_SingleSplit(t *testing.T) {
	raw := models.Series{
		bar(0, "400", "1"),
		bar(1, "420", "1"),
		bar(2, "105", "4"),
		bar(3, "110", "1"),
	}
	adjusted := Adjust(raw)
	assertCloses(t, adjusted, []string{"100", "105", "105", "110"})
}

func TestAdjust_TwoSplitsCompound(t *testing.T) {
	raw := models.Series{
		bar(0, "600", "1"),
		bar(1, "300", "2"),
		bar(2, "310", "1"),
		bar(3, "100", "3"),
		bar(4, "102", "1"),
	}
	adjusted := Adjust(raw)
	// before s1: 600 / (2*3); between s1 and s2: / 3; from s2: unchanged
	assertCloses(t, adjusted, []string{"100", "100", "103.3333333333333333", "100", "102"})
}

func TestApplySplit(t *testing.T) {
	adjusted := models.Series{bar(0, "100", "1"), bar(1, "100", "1"), bar(2, "50", "2")}
	got := ApplySplit(adjusted, dayN(2), decimal.NewFromInt(2))
	assertCloses(t, got, []string{"50", "50", "50"})

	unchanged := ApplySplit(adjusted, dayN(2), decimal.NewFromInt(1))
	assertCloses(t, unchanged, []string{"100", "100", "50"})
}

func TestApplySplit_OrderIndependent(t *testing.T) {
	adjusted := models.Series{bar(0, "800", "1"), bar(1, "400", "2"), bar(2, "100", "4"), bar(3, "101", "1")}

	a := ApplySplit(ApplySplit(adjusted, dayN(1), decimal.NewFromInt(2)), dayN(2), decimal.NewFromInt(4))
	b := ApplySplit(ApplySplit(adjusted, dayN(2), decimal.NewFromInt(4)), dayN(1), decimal.NewFromInt(2))

	for i := range a {
		if !a[i].Close.Equal(b[i].Close) {
			t.Errorf("bar %d: %v != %v", i, a[i].Close, b[i].Close)
		}
	}
	assertCloses(t, a, []string{"100", "100", "100", "101"})

	full := Adjust(adjusted)
	for i := range a {
		if !a[i].Close.Equal(full[i].Close) {
			t.Errorf("incremental bar %d = %v, full pass = %v", i, a[i].Close, full[i].Close)
		}
	}
}

func TestSplits(t *testing.T) {
	bars := models.Series{bar(0, "1", "1"), bar(1, "1", "2"), bar(2, "1", "1"), bar(3, "1", "0.5")}
	events := Splits(bars)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if !events[0].Date.Equal(dayN(1)) || !events[1].Coefficient.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestWindowAverage(t *testing.T) {
	ramp := rampSeries(Window + 5)

	// one bar every other calendar day, closes 1..250
	sparse := make(models.Series, 250)
	for i := range sparse {
		sparse[i] = models.NewPriceBar(dayN(2*i), decimal.NewFromInt(int64(i+1)))
	}

	tests := []struct {
		name   string
		series models.Series
		date   time.Time
		want   string
		ok     bool
	}{
		{"200th sample", ramp, dayN(Window - 1), "", false},
		{"201st sample averages closes 2..201", ramp, dayN(Window), "101.5", true},
		{"last sample", ramp, dayN(Window + 4), "105.5", true},
		{"after the last sample", ramp, dayN(10_000), "105.5", true},
		{"before the first sample", ramp, dayN(-3), "", false},
		{"empty series", nil, dayN(0), "", false},
		{"last trading day", sparse, dayN(2 * 249), "150.5", true},
		{"day without a bar uses the earlier window", sparse, dayN(2*249 + 1), "150.5", true},
		{"gap inside the series", sparse, dayN(2*220 + 1), "121.5", true},
		{"gap right after the 200th sample", sparse, dayN(2*199 + 1), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			avg, ok := WindowAverage(tt.series, tt.date)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && !avg.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("average = %v, want %s", avg, tt.want)
			}
		})
	}
}

func TestRecomputeFrom(t *testing.T) {
	s := rampSeries(Window + 10)

	all := RecomputeFrom(s, dayN(0))
	if len(all) != 10 {
		t.Fatalf("got %d averages, want 10", len(all))
	}
	if len(all) != ExpectedAverages(len(s)) {
		t.Errorf("ExpectedAverages = %d, want %d", ExpectedAverages(len(s)), len(all))
	}
	for _, p := range all {
		want, ok := WindowAverage(s, p.Date)
		if !ok {
			t.Fatalf("no direct average for %v", p.Date)
		}
		if !p.Value.Equal(want) {
			t.Errorf("%v: sliding = %v, direct = %v", p.Date, p.Value, want)
		}
	}

	tail := RecomputeFrom(s, dayN(Window+7))
	if len(tail) != 3 {
		t.Fatalf("got %d tail averages, want 3", len(tail))
	}
	if !tail[0].Date.Equal(dayN(Window + 7)) {
		t.Errorf("first tail date = %v, want %v", tail[0].Date, dayN(Window+7))
	}

	if got := RecomputeFrom(rampSeries(Window), dayN(0)); got != nil {
		t.Errorf("expected no averages for %d samples, got %d", Window, len(got))
	}
}

func TestExpectedAverages(t *testing.T) {
	tests := []struct{ n, want int }{{0, 0}, {200, 0}, {201, 1}, {450, 250}}
	for _, tt := range tests {
		if got := ExpectedAverages(tt.n); got != tt.want {
			t.Errorf("ExpectedAverages(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestAdjust_MatchesIncrementalRounding(t *testing.T) {
	raw := models.Series{
		bar(0, "100", "1"),
		bar(1, "100", "3"),
		bar(2, "50", "1"),
		bar(3, "25", "2"),
	}

	// history up to the first split, then the second split discovered later
	incremental := Adjust(raw[:3])
	incremental = append(incremental, raw[3])
	incremental = ApplySplit(incremental, dayN(3), decimal.NewFromInt(2))

	full := Adjust(raw)
	for i := range full {
		if !full[i].Close.Equal(incremental[i].Close) {
			t.Errorf("bar %d: full = %v, incremental = %v", i, full[i].Close, incremental[i].Close)
		}
	}
}
