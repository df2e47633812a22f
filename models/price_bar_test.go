package models

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func day(s string) time.Time {
	t, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNewPriceBar(t *testing.T) {
	bar := NewPriceBar(time.Date(2024, 3, 5, 15, 30, 0, 0, time.Local), decimal.NewFromInt(100))

	if !bar.Date.Equal(day("2024-03-05")) {
		t.Errorf("Date = %v, want 2024-03-05", bar.Date)
	}
	if !bar.SplitCoefficient.Equal(decimal.NewFromInt(1)) {
		t.Errorf("SplitCoefficient = %v, want 1", bar.SplitCoefficient)
	}
	if bar.IsSplit() {
		t.Error("default bar should not be a split")
	}
}

func TestPriceBar_IsSplit(t *testing.T) {
	tests := []struct {
		coef string
		want bool
	}{
		{"1", false},
		{"1.0", false},
		{"2", true},
		{"0.5", true},
		{"0", false},
	}

	for _, tt := range tests {
		t.Run(tt.coef, func(t *testing.T) {
			bar := PriceBar{Date: day("2024-01-02"), Close: decimal.NewFromInt(10), SplitCoefficient: decimal.RequireFromString(tt.coef)}
			if got := bar.IsSplit(); got != tt.want {
				t.Errorf("IsSplit() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2021-08-31")
	if err != nil {
		t.Fatalf("ParseDate failed: %v", err)
	}
	if FormatDate(d) != "2021-08-31" {
		t.Errorf("FormatDate = %v, want 2021-08-31", FormatDate(d))
	}

	if _, err := ParseDate("31.08.2021"); err == nil {
		t.Error("expected error for malformed date")
	}
}

func testSeries() Series {
	return Series{
		NewPriceBar(day("2024-01-02"), decimal.NewFromInt(100)),
		NewPriceBar(day("2024-01-03"), decimal.NewFromInt(105)),
		NewPriceBar(day("2024-01-04"), decimal.NewFromInt(98)),
		NewPriceBar(day("2024-01-05"), decimal.NewFromInt(101)),
	}
}

func TestSeries_IndexOfAndAfter(t *testing.T) {
	s := testSeries()

	if i := s.IndexOf(day("2024-01-04")); i != 2 {
		t.Errorf("IndexOf = %d, want 2", i)
	}
	if i := s.IndexOf(day("2024-01-06")); i != -1 {
		t.Errorf("IndexOf missing date = %d, want -1", i)
	}

	after := s.After(day("2024-01-03"))
	if len(after) != 2 {
		t.Fatalf("After returned %d bars, want 2", len(after))
	}
	if !after[0].Date.Equal(day("2024-01-04")) {
		t.Errorf("After[0].Date = %v, want 2024-01-04", after[0].Date)
	}
	if len(s.After(day("2024-01-05"))) != 0 {
		t.Error("After last date should be empty")
	}
}

func TestSeries_Between(t *testing.T) {
	s := testSeries()
	got := s.Between(day("2024-01-03"), day("2024-01-04"))
	if len(got) != 2 {
		t.Errorf("Between returned %d bars, want 2", len(got))
	}
}

func TestSeries_MaxClose(t *testing.T) {
	if got := testSeries().MaxClose(); !got.Equal(decimal.NewFromInt(105)) {
		t.Errorf("MaxClose = %v, want 105", got)
	}
	if got := (Series{}).MaxClose(); !got.IsZero() {
		t.Errorf("MaxClose of empty = %v, want 0", got)
	}
}

func TestSeries_Validate(t *testing.T) {
	s := testSeries()
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}

	s[2].Date = day("2024-01-03")
	err := s.Validate()
	var orderErr *SeriesOrderError
	if !errors.As(err, &orderErr) {
		t.Fatalf("Validate() = %v, want SeriesOrderError", err)
	}
}

func TestSeries_SortAndClone(t *testing.T) {
	s := Series{testSeries()[2], testSeries()[0], testSeries()[1]}
	s.Sort()
	if err := s.Validate(); err != nil {
		t.Errorf("sorted series invalid: %v", err)
	}

	c := s.Clone()
	c[0].Close = decimal.NewFromInt(1)
	if s[0].Close.Equal(decimal.NewFromInt(1)) {
		t.Error("Clone should not share the backing array")
	}
}
