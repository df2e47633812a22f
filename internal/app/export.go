package app

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"stock-tracker/models"

	"github.com/shopspring/decimal"
)

// ExportRow is one day of the adjusted series with its rolling average
type ExportRow struct {
	Date             time.Time        `json:"date"`
	RawClose         decimal.Decimal  `json:"raw_close"`
	SplitCoefficient decimal.Decimal  `json:"split_coefficient"`
	AdjustedClose    decimal.Decimal  `json:"adjusted_close"`
	Average          *decimal.Decimal `json:"average_200,omitempty"`
}

// Export is the hand-off of a symbol's series for plotting or analysis
type Export struct {
	Symbol   string          `json:"symbol"`
	Start    time.Time       `json:"start"`
	End      time.Time       `json:"end"`
	MaxClose decimal.Decimal `json:"max_close"`
	Rows     []ExportRow     `json:"rows"`
}

// Export joins the raw, adjusted and rolling-average series of symbol over
// [start, end]. Zero bounds fall back to the configured backtest range.
func (a *App) Export(ctx context.Context, symbol string, start, end time.Time) (*Export, error) {
	if a.store == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	symbol = NormalizeSymbol(symbol)
	start, end = a.dateRange(start, end)

	adjusted, err := a.store.ReadBars(ctx, symbol, models.SeriesAdjusted, start, end)
	if err != nil {
		return nil, fmt.Errorf("export %s: read adjusted series: %w", symbol, err)
	}
	raw, err := a.store.ReadBars(ctx, symbol, models.SeriesRaw, start, end)
	if err != nil {
		return nil, fmt.Errorf("export %s: read raw series: %w", symbol, err)
	}
	averages, err := a.store.ReadAverages(ctx, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("export %s: read rolling averages: %w", symbol, err)
	}

	// keyed by formatted date since drivers may differ in time.Location
	rawByDate := make(map[string]models.PriceBar, len(raw))
	for _, b := range raw {
		rawByDate[models.FormatDate(b.Date)] = b
	}
	avgByDate := make(map[string]decimal.Decimal, len(averages))
	for _, p := range averages {
		avgByDate[models.FormatDate(p.Date)] = p.Value
	}

	out := &Export{Symbol: symbol, MaxClose: adjusted.MaxClose()}
	if first, ok := adjusted.First(); ok {
		out.Start = first.Date
	}
	if last, ok := adjusted.Last(); ok {
		out.End = last.Date
	}

	out.Rows = make([]ExportRow, 0, len(adjusted))
	for _, b := range adjusted {
		key := models.FormatDate(b.Date)
		row := ExportRow{
			Date:             b.Date,
			RawClose:         rawByDate[key].Close,
			SplitCoefficient: rawByDate[key].SplitCoefficient,
			AdjustedClose:    b.Close,
		}
		if v, ok := avgByDate[key]; ok {
			row.Average = &v
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

var exportHeader = []string{"date", "raw_close", "split_coefficient", "adjusted_close", "average_200"}

// WriteCSV writes the export with a header row. Days without a rolling
// average leave the last column empty.
func (e *Export) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, row := range e.Rows {
		avg := ""
		if row.Average != nil {
			avg = row.Average.String()
		}
		record := []string{
			models.FormatDate(row.Date),
			row.RawClose.String(),
			row.SplitCoefficient.String(),
			row.AdjustedClose.String(),
			avg,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
