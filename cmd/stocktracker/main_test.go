package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stock-tracker/config"
)

// feedServer serves n daily bars with a 2:1 split on the last day
func feedServer(t *testing.T, n int) *httptest.Server {
	t.Helper()
	series := make(map[string]map[string]string, n)
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		coef := "1.0"
		close := fmt.Sprintf("%d.00", 100+i)
		if i == n-1 {
			coef = "2.0"
			close = "60.00"
		}
		series[start.AddDate(0, 0, i).Format("2006-01-02")] = map[string]string{
			"4. close":             close,
			"8. split coefficient": coef,
		}
	}
	body, err := json.Marshal(map[string]any{"Time Series (Daily)": series})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, feedURL string) *config.Config {
	t.Helper()
	cfg := config.NewTestConfig()
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "stocks.db")
	cfg.AlphaVantage.APIKey = "demo"
	cfg.AlphaVantage.BaseURL = feedURL
	cfg.Sync.MaxRetries = 0
	return cfg
}

func TestRun_SyncExportVerify(t *testing.T) {
	srv := feedServer(t, 205)
	cfg := testConfig(t, srv.URL)
	ctx := context.Background()

	var out bytes.Buffer
	if err := run(ctx, cfg, "sync", []string{"-symbols", "ibm"}, &out); err != nil {
		t.Fatalf("sync failed: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "IBM") || !strings.Contains(out.String(), "initial") {
		t.Errorf("expected initial sync of IBM in output, got:\n%s", out.String())
	}

	out.Reset()
	if err := run(ctx, cfg, "export", []string{"-symbols", "IBM", "-start", "2023-01-02", "-end", "2023-01-03"}, &out); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d lines:\n%s", len(lines), out.String())
	}
	// the split on the last day halves every earlier close
	if lines[1] != "2023-01-02,100,1,50," {
		t.Errorf("unexpected first row %q", lines[1])
	}

	out.Reset()
	if err := run(ctx, cfg, "verify", []string{"-symbols", "IBM"}, &out); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !strings.Contains(out.String(), "IBM: ok") {
		t.Errorf("expected IBM ok, got %q", out.String())
	}

	out.Reset()
	if err := run(ctx, cfg, "backtest", []string{"-symbols", "IBM"}, &out); err != nil {
		t.Fatalf("backtest failed: %v", err)
	}
	for _, strategy := range []string{"buy_and_hold", "avg200", "avg200_band"} {
		if !strings.Contains(out.String(), strategy) {
			t.Errorf("expected %s in backtest output:\n%s", strategy, out.String())
		}
	}
}

func TestRun_Errors(t *testing.T) {
	srv := feedServer(t, 3)
	ctx := context.Background()

	tests := []struct {
		name    string
		command string
		args    []string
	}{
		{"unknown command", "plot", nil},
		{"export without symbol", "export", nil},
		{"bad start date", "backtest", []string{"-start", "yesterday"}},
		{"unknown flag", "sync", []string{"-verbose"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := run(ctx, testConfig(t, srv.URL), tt.command, tt.args, &out); err == nil {
				t.Errorf("expected %s %v to fail", tt.command, tt.args)
			}
		})
	}
}

func TestParseRange(t *testing.T) {
	start, end, err := parseRange("2020-01-02", "")
	if err != nil {
		t.Fatalf("parseRange failed: %v", err)
	}
	if start.Format("2006-01-02") != "2020-01-02" || !end.IsZero() {
		t.Errorf("unexpected range %v..%v", start, end)
	}

	if _, _, err := parseRange("", "2020-13-01"); err == nil {
		t.Error("expected error for invalid end date")
	}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		argv    []string
		command string
		args    int
		ok      bool
	}{
		{[]string{"stocktracker"}, "", 0, false},
		{[]string{"stocktracker", "-h"}, "", 0, false},
		{[]string{"stocktracker", "help"}, "", 0, false},
		{[]string{"stocktracker", "sync"}, "sync", 0, true},
		{[]string{"stocktracker", "export", "-symbols", "IBM"}, "export", 2, true},
	}

	for _, tt := range tests {
		command, args, ok := splitCommand(tt.argv)
		if ok != tt.ok || command != tt.command || len(args) != tt.args {
			t.Errorf("splitCommand(%q) = %q, %v, %v; want %q, %d args, %v",
				tt.argv, command, args, ok, tt.command, tt.args, tt.ok)
		}
	}
}
