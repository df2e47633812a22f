package syncer

import (
	"context"
	"fmt"
	"time"

	"stock-tracker/models"
	"stock-tracker/timeseries"
)

// maxMismatches caps how many differences a report lists
const maxMismatches = 10

// VerifyReport compares the persisted adjusted and rolling series with the
// values recomputed from raw.
type VerifyReport struct {
	Symbol           string   `json:"symbol"`
	RawBars          int      `json:"raw_bars"`
	AdjustedBars     int      `json:"adjusted_bars"`
	Averages         int      `json:"averages"`
	ExpectedAverages int      `json:"expected_averages"`
	Mismatches       []string `json:"mismatches,omitempty"`
	Consistent       bool     `json:"consistent"`
}

func (r *VerifyReport) mismatch(format string, args ...any) {
	if len(r.Mismatches) < maxMismatches {
		r.Mismatches = append(r.Mismatches, fmt.Sprintf(format, args...))
	}
	r.Consistent = false
}

// Err returns ErrConsistencyViolation describing the first mismatch, or nil
func (r *VerifyReport) Err() error {
	if r.Consistent {
		return nil
	}
	first := "series diverge"
	if len(r.Mismatches) > 0 {
		first = r.Mismatches[0]
	}
	return fmt.Errorf("%w: %s: %s", models.ErrConsistencyViolation, r.Symbol, first)
}

// Verify recomputes the adjusted and rolling series from the stored raw bars
// and reports every place the persisted values differ. It never writes.
func (e *Engine) Verify(ctx context.Context, symbol string) (*VerifyReport, error) {
	raw, err := e.store.ReadBars(ctx, symbol, models.SeriesRaw, time.Time{}, time.Time{})
	if err != nil {
		return nil, &SyncError{Symbol: symbol, Stage: StageCheck, Err: err}
	}
	adjusted, err := e.store.ReadBars(ctx, symbol, models.SeriesAdjusted, time.Time{}, time.Time{})
	if err != nil {
		return nil, &SyncError{Symbol: symbol, Stage: StageCheck, Err: err}
	}
	averages, err := e.store.ReadAverages(ctx, symbol, time.Time{}, time.Time{})
	if err != nil {
		return nil, &SyncError{Symbol: symbol, Stage: StageCheck, Err: err}
	}

	report := &VerifyReport{
		Symbol:           symbol,
		RawBars:          len(raw),
		AdjustedBars:     len(adjusted),
		Averages:         len(averages),
		ExpectedAverages: timeseries.ExpectedAverages(len(raw)),
		Consistent:       true,
	}

	if err := raw.Validate(); err != nil {
		report.mismatch("raw series: %v", err)
	}
	if len(adjusted) != len(raw) {
		report.mismatch("%d raw bars but %d adjusted", len(raw), len(adjusted))
	}
	if len(averages) != report.ExpectedAverages {
		report.mismatch("%d rolling averages, want %d", len(averages), report.ExpectedAverages)
	}
	if !report.Consistent {
		return report, nil
	}

	want := timeseries.Adjust(raw)
	for i := range want {
		if !want[i].Date.Equal(adjusted[i].Date) {
			report.mismatch("adjusted entry %d dated %s, raw dated %s",
				i, models.FormatDate(adjusted[i].Date), models.FormatDate(want[i].Date))
			continue
		}
		if !want[i].Close.Equal(adjusted[i].Close) {
			report.mismatch("adjusted close on %s is %s, want %s",
				models.FormatDate(want[i].Date), adjusted[i].Close, want[i].Close)
		}
	}

	if first, ok := want.First(); ok {
		wantAvg := timeseries.RecomputeFrom(want, first.Date)
		for i := range wantAvg {
			got := averages[i]
			if !got.Date.Equal(wantAvg[i].Date) || !got.Value.Equal(wantAvg[i].Value) {
				report.mismatch("rolling average on %s is %s, want %s on %s",
					models.FormatDate(got.Date), got.Value, wantAvg[i].Value, models.FormatDate(wantAvg[i].Date))
			}
		}
	}

	// the store's own window query must agree with the newest stored average
	if last, ok := averages.Last(); ok {
		avg, ok, err := e.store.WindowAverage(ctx, symbol, last.Date)
		if err != nil {
			return nil, &SyncError{Symbol: symbol, Stage: StageCheck, Err: err}
		}
		switch {
		case !ok:
			report.mismatch("store has no window average on %s", models.FormatDate(last.Date))
		case !avg.Equal(last.Value):
			report.mismatch("store window average on %s is %s, stored %s",
				models.FormatDate(last.Date), avg, last.Value)
		}
	}

	return report, nil
}
