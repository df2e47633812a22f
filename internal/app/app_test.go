package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"stock-tracker/backtest"
	"stock-tracker/config"
	"stock-tracker/models"
	"stock-tracker/repository"

	"github.com/shopspring/decimal"
)

// stubFeed serves a fixed history per symbol and is safe for parallel syncs
type stubFeed struct {
	mu       sync.Mutex
	series   map[string]models.Series
	errs     map[string]error
	failures int // transient failures to return before serving
	calls    map[string]int
}

func newStubFeed() *stubFeed {
	return &stubFeed{
		series: make(map[string]models.Series),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (f *stubFeed) FetchDaily(ctx context.Context, symbol string, size models.OutputSize) ([]models.PriceBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[symbol]++
	if f.failures > 0 {
		f.failures--
		return nil, models.ErrFeedUnavailable
	}
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	return f.series[symbol].Clone(), nil
}

func (f *stubFeed) callCount(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

var baseDate = time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC)

// rising returns n daily bars with closes 100, 101, ...
func rising(n int) models.Series {
	out := make(models.Series, n)
	for i := range out {
		out[i] = models.NewPriceBar(baseDate.AddDate(0, 0, i), decimal.NewFromInt(int64(100+i)))
	}
	return out
}

// testApp creates an App on a memory store with fast retries
func testApp(feed *stubFeed) (*App, repository.SeriesStore) {
	cfg := config.NewTestConfig()
	store := repository.NewMemoryStore()
	var a *App
	if feed != nil {
		a = New(cfg, store, feed)
	} else {
		a = New(cfg, store, nil)
	}
	a.retry.InitialBackoff = time.Millisecond
	a.retry.MaxBackoff = time.Millisecond
	return a, store
}

func TestNew_RetryFromConfig(t *testing.T) {
	cfg := config.NewTestConfig()
	cfg.Sync.MaxRetries = 7
	a := New(cfg, repository.NewMemoryStore(), nil)

	if a.retry.MaxRetries != 7 {
		t.Errorf("expected MaxRetries 7, got %d", a.retry.MaxRetries)
	}
	if a.retry.Retryable == nil {
		t.Error("expected transient-only retry policy")
	}
}

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ibm", "IBM"},
		{"  msft ", "MSFT"},
		{"BRK.B", "BRK.B"},
	}
	for _, tt := range tests {
		if got := NormalizeSymbol(tt.in); got != tt.want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestApp_Symbols(t *testing.T) {
	ctx := context.Background()

	t.Run("configured symbols win", func(t *testing.T) {
		a, store := testApp(nil)
		a.cfg.Sync.Symbols = []string{"IBM", "MSFT"}
		store.EnsureSymbol(ctx, "TSLA")

		got, err := a.Symbols(ctx)
		if err != nil {
			t.Fatalf("Symbols failed: %v", err)
		}
		if len(got) != 2 || got[0] != "IBM" {
			t.Errorf("expected configured symbols, got %v", got)
		}
	})

	t.Run("falls back to tracked symbols", func(t *testing.T) {
		a, store := testApp(nil)
		store.EnsureSymbol(ctx, "TSLA")

		got, err := a.Symbols(ctx)
		if err != nil {
			t.Fatalf("Symbols failed: %v", err)
		}
		if len(got) != 1 || got[0] != "TSLA" {
			t.Errorf("expected [TSLA], got %v", got)
		}
	})
}

func TestApp_SyncSymbol(t *testing.T) {
	ctx := context.Background()

	t.Run("feed not configured", func(t *testing.T) {
		a, _ := testApp(nil)
		if _, err := a.SyncSymbol(ctx, "IBM"); err == nil {
			t.Error("expected error without a feed")
		}
	})

	t.Run("normalizes and syncs", func(t *testing.T) {
		feed := newStubFeed()
		feed.series["IBM"] = rising(210)
		a, store := testApp(feed)

		run, err := a.SyncSymbol(ctx, " ibm ")
		if err != nil {
			t.Fatalf("SyncSymbol failed: %v", err)
		}
		if run.Mode != models.SyncModeInitial || run.NewBars != 210 {
			t.Errorf("unexpected run: %+v", run)
		}
		n, _ := store.CountAverages(ctx, "IBM")
		if n != 10 {
			t.Errorf("expected 10 averages, got %d", n)
		}
	})

	t.Run("retries transient failures", func(t *testing.T) {
		feed := newStubFeed()
		feed.series["IBM"] = rising(5)
		feed.failures = 2
		a, _ := testApp(feed)

		run, err := a.SyncSymbol(ctx, "IBM")
		if err != nil {
			t.Fatalf("SyncSymbol failed: %v", err)
		}
		if run.Status != models.SyncRunStatusCompleted {
			t.Errorf("expected completed run, got %s", run.Status)
		}
		if got := feed.callCount("IBM"); got != 3 {
			t.Errorf("expected 3 feed calls, got %d", got)
		}
	})

	t.Run("does not retry an empty feed", func(t *testing.T) {
		feed := newStubFeed()
		feed.errs["NOPE"] = models.ErrFeedEmpty
		a, _ := testApp(feed)

		_, err := a.SyncSymbol(ctx, "NOPE")
		if !errors.Is(err, models.ErrFeedEmpty) {
			t.Fatalf("expected ErrFeedEmpty, got %v", err)
		}
		if got := feed.callCount("NOPE"); got != 1 {
			t.Errorf("expected a single feed call, got %d", got)
		}
	})
}

func TestApp_SyncAll(t *testing.T) {
	ctx := context.Background()
	feed := newStubFeed()
	feed.series["IBM"] = rising(205)
	feed.series["MSFT"] = rising(50)
	feed.errs["BAD"] = models.ErrMalformedFeedPayload

	a, store := testApp(feed)
	a.cfg.Sync.Symbols = []string{"IBM", "BAD", "MSFT"}

	results, err := a.SyncAll(ctx)
	if !errors.Is(err, models.ErrMalformedFeedPayload) {
		t.Errorf("expected joined ErrMalformedFeedPayload, got %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	for _, res := range results {
		switch res.Symbol {
		case "BAD":
			if res.Err == nil {
				t.Error("expected BAD to fail")
			}
		default:
			if res.Err != nil {
				t.Errorf("%s failed: %v", res.Symbol, res.Err)
			}
		}
	}

	if n, _ := store.CountRaw(ctx, "MSFT"); n != 50 {
		t.Errorf("expected MSFT synced despite BAD failing, got %d bars", n)
	}
}

func TestApp_Backtest(t *testing.T) {
	ctx := context.Background()
	feed := newStubFeed()
	feed.series["IBM"] = rising(260)
	a, _ := testApp(feed)

	if _, err := a.SyncSymbol(ctx, "IBM"); err != nil {
		t.Fatalf("SyncSymbol failed: %v", err)
	}

	res, err := a.Backtest(ctx, "ibm", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Backtest failed: %v", err)
	}
	if len(res.Results) != len(models.Strategies) {
		t.Errorf("expected %d strategy results, got %d", len(models.Strategies), len(res.Results))
	}
	if !res.StartingCash.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("expected configured start cash, got %s", res.StartingCash)
	}

	t.Run("configured range applies to zero bounds", func(t *testing.T) {
		a.cfg.Backtest.StartDate = baseDate.AddDate(0, 0, 250)
		defer func() { a.cfg.Backtest.StartDate = time.Time{} }()

		res, err := a.Backtest(ctx, "IBM", time.Time{}, time.Time{})
		if err != nil {
			t.Fatalf("Backtest failed: %v", err)
		}
		if !res.Start.Equal(baseDate.AddDate(0, 0, 250)) {
			t.Errorf("expected range to start at configured date, got %s", models.FormatDate(res.Start))
		}
	})

	t.Run("unknown symbol has no data", func(t *testing.T) {
		_, err := a.Backtest(ctx, "NONE", time.Time{}, time.Time{})
		if !errors.Is(err, backtest.ErrNoData) {
			t.Errorf("expected ErrNoData, got %v", err)
		}
	})

	t.Run("BacktestAll skips symbols without data", func(t *testing.T) {
		a.cfg.Sync.Symbols = []string{"IBM", "NONE"}
		defer func() { a.cfg.Sync.Symbols = nil }()

		results, err := a.BacktestAll(ctx)
		if err != nil {
			t.Fatalf("BacktestAll failed: %v", err)
		}
		if len(results) != 1 || results[0].Symbol != "IBM" {
			t.Errorf("expected only IBM, got %d results", len(results))
		}
	})
}

func TestApp_Export(t *testing.T) {
	ctx := context.Background()
	feed := newStubFeed()
	bars := rising(202)
	bars[100].SplitCoefficient = decimal.NewFromInt(2)
	feed.series["IBM"] = bars
	a, _ := testApp(feed)

	if _, err := a.SyncSymbol(ctx, "IBM"); err != nil {
		t.Fatalf("SyncSymbol failed: %v", err)
	}

	export, err := a.Export(ctx, "IBM", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if len(export.Rows) != 202 {
		t.Fatalf("expected 202 rows, got %d", len(export.Rows))
	}
	if !export.MaxClose.Equal(decimal.NewFromInt(301)) {
		t.Errorf("expected max close 301, got %s", export.MaxClose)
	}

	first := export.Rows[0]
	if !first.RawClose.Equal(decimal.NewFromInt(100)) || !first.AdjustedClose.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected raw 100 adjusted 50, got %s / %s", first.RawClose, first.AdjustedClose)
	}
	if first.Average != nil {
		t.Error("expected no average on the first row")
	}
	if export.Rows[201].Average == nil {
		t.Error("expected an average on the last row")
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("CSV does not parse: %v", err)
	}
	if len(records) != 203 {
		t.Fatalf("expected header plus 202 records, got %d", len(records))
	}
	if records[0][0] != "date" || records[0][4] != "average_200" {
		t.Errorf("unexpected header %v", records[0])
	}
	if records[1][0] != "2021-01-04" || records[1][3] != "50" || records[1][4] != "" {
		t.Errorf("unexpected first record %v", records[1])
	}
	if records[202][4] == "" {
		t.Error("expected average in the last record")
	}
}

func TestApp_Verify(t *testing.T) {
	ctx := context.Background()
	feed := newStubFeed()
	feed.series["IBM"] = rising(230)
	a, store := testApp(feed)

	if _, err := a.SyncSymbol(ctx, "IBM"); err != nil {
		t.Fatalf("SyncSymbol failed: %v", err)
	}

	// a read-only app verifies without a feed
	reader := New(config.NewTestConfig(), store, nil)
	report, err := reader.Verify(ctx, "IBM")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !report.Consistent {
		t.Errorf("expected consistent report, got %v", report.Mismatches)
	}
	if report.ExpectedAverages != 30 {
		t.Errorf("expected 30 averages, got %d", report.ExpectedAverages)
	}
}

func TestApp_GetSyncRuns(t *testing.T) {
	ctx := context.Background()
	feed := newStubFeed()
	feed.series["IBM"] = rising(10)
	a, _ := testApp(feed)

	a.SyncSymbol(ctx, "IBM")
	a.SyncSymbol(ctx, "IBM")

	runs, err := a.GetSyncRuns(ctx, "ibm", 10)
	if err != nil {
		t.Fatalf("GetSyncRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Mode != models.SyncModeNoop {
		t.Errorf("expected newest run to be a noop, got %s", runs[0].Mode)
	}
}

func TestApp_NilStore(t *testing.T) {
	a := New(config.NewTestConfig(), nil, nil)
	ctx := context.Background()

	if _, err := a.ReadAdjusted(ctx, "IBM", time.Time{}, time.Time{}); err == nil {
		t.Error("expected error from ReadAdjusted")
	}
	if _, err := a.ReadAverages(ctx, "IBM", time.Time{}, time.Time{}); err == nil {
		t.Error("expected error from ReadAverages")
	}
	if _, err := a.Backtest(ctx, "IBM", time.Time{}, time.Time{}); err == nil {
		t.Error("expected error from Backtest")
	}
	if _, err := a.Verify(ctx, "IBM"); err == nil {
		t.Error("expected error from Verify")
	}
	if _, err := a.ListSymbols(ctx); err == nil {
		t.Error("expected error from ListSymbols")
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg := config.NewTestConfig()
		store, err := OpenStore(ctx, cfg)
		if err != nil {
			t.Fatalf("OpenStore failed: %v", err)
		}
		defer store.Close()
		if _, ok := store.(*repository.MemoryStore); !ok {
			t.Errorf("expected *MemoryStore, got %T", store)
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := config.NewTestConfig()
		cfg.Database.Driver = config.DriverSQLite
		cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "prices.db")
		store, err := OpenStore(ctx, cfg)
		if err != nil {
			t.Fatalf("OpenStore failed: %v", err)
		}
		defer store.Close()
		if err := store.Health(ctx); err != nil {
			t.Errorf("Health failed: %v", err)
		}
	})

	t.Run("postgres without url", func(t *testing.T) {
		cfg := config.NewTestConfig()
		cfg.Database.Driver = config.DriverPostgres
		if _, err := OpenStore(ctx, cfg); err == nil {
			t.Error("expected error without DATABASE_URL")
		}
	})
}
