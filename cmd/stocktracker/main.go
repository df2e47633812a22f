// Package main is the stocktracker command: it syncs daily closes from Alpha
// Vantage, keeps the split-adjusted and 200-day average series, backtests
// them and serves them over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"stock-tracker/config"
	"stock-tracker/internal/api"
	"stock-tracker/internal/app"
	"stock-tracker/internal/scheduler"
	"stock-tracker/models"
	"stock-tracker/observability"
	"stock-tracker/services"

	"github.com/joho/godotenv"
)

const usage = `usage: stocktracker <command> [flags]

commands:
  run       sync every symbol, then backtest each one
  sync      sync symbols from the price feed
  backtest  backtest symbols over the configured range
  export    write a symbol's adjusted series and averages as CSV
  verify    recompute derived series from raw and report differences
  serve     start the HTTP API and the sync scheduler
`

func main() {
	command, args, ok := splitCommand(os.Args)
	if !ok {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	observability.InitLogger(os.Stderr, cfg.JSONLogs(), observability.ParseLevel(cfg.Log.Level))
	observability.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, command, args, os.Stdout); err != nil {
		observability.Error("command failed", "command", command, "error", err)
		stop()
		os.Exit(1)
	}
}

// splitCommand separates the subcommand from its flags. It reports false
// when no command is given or help is asked for, before any configuration
// is read.
func splitCommand(argv []string) (string, []string, bool) {
	if len(argv) < 2 {
		return "", nil, false
	}
	switch argv[1] {
	case "", "-h", "-help", "--help", "help":
		return "", nil, false
	}
	return argv[1], argv[2:], true
}

func run(ctx context.Context, cfg *config.Config, command string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	symbols := fs.String("symbols", "", "comma separated symbols (overrides STOCK_SYMBOLS)")
	start := fs.String("start", "", "range start, YYYY-MM-DD")
	end := fs.String("end", "", "range end, YYYY-MM-DD")
	addr := fs.String("addr", cfg.HTTP.Addr, "HTTP listen address (serve)")
	runOnStart := fs.Bool("run-on-start", false, "sync once before the first scheduled run (serve)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *symbols != "" {
		cfg.Sync.Symbols = nil
		for _, s := range strings.Split(*symbols, ",") {
			if s = app.NormalizeSymbol(s); s != "" {
				cfg.Sync.Symbols = append(cfg.Sync.Symbols, s)
			}
		}
	}
	startDate, endDate, err := parseRange(*start, *end)
	if err != nil {
		return err
	}

	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}

	var feed *services.AlphaVantageService
	if cfg.HasAlphaVantage() {
		feed = services.NewAlphaVantageService(cfg.AlphaVantage.APIKey, cfg.AlphaVantage.BaseURL)
	}

	var application *app.App
	if feed != nil {
		application = app.New(cfg, store, feed)
	} else {
		observability.Warn("ALPHA_VANTAGE_API_KEY not set, syncing disabled")
		application = app.New(cfg, store, nil)
	}
	defer application.Shutdown()

	switch command {
	case "run":
		syncErr := runSync(ctx, application, out)
		backtestErr := runBacktest(ctx, application, startDate, endDate, out)
		return errors.Join(syncErr, backtestErr)
	case "sync":
		return runSync(ctx, application, out)
	case "backtest":
		return runBacktest(ctx, application, startDate, endDate, out)
	case "export":
		return runExport(ctx, application, startDate, endDate, out)
	case "verify":
		return runVerify(ctx, application, out)
	case "serve":
		return serve(ctx, cfg, application, *addr, *runOnStart)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func parseRange(start, end string) (time.Time, time.Time, error) {
	var s, e time.Time
	var err error
	if start != "" {
		if s, err = models.ParseDate(start); err != nil {
			return s, e, fmt.Errorf("invalid -start: %w", err)
		}
	}
	if end != "" {
		if e, err = models.ParseDate(end); err != nil {
			return s, e, fmt.Errorf("invalid -end: %w", err)
		}
	}
	return s, e, nil
}

func runSync(ctx context.Context, a *app.App, out io.Writer) error {
	results, err := a.SyncAll(ctx)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tMODE\tNEW BARS\tSPLITS\tAVERAGES\tSTATUS")
	for _, res := range results {
		if res.Run == nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\t%v\n", res.Symbol, res.Err)
			continue
		}
		status := string(res.Run.Status)
		if res.Err != nil {
			status = res.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
			res.Symbol, res.Run.Mode, res.Run.NewBars, res.Run.Splits, res.Run.AveragesRecomputed, status)
	}
	tw.Flush()
	return err
}

func runBacktest(ctx context.Context, a *app.App, start, end time.Time, out io.Writer) error {
	symbols, err := a.Symbols(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tFROM\tTO\tSTRATEGY\tFINAL VALUE")
	var errs []error
	for _, symbol := range symbols {
		res, err := a.Backtest(ctx, symbol, start, end)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, r := range res.Results {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				res.Symbol, models.FormatDate(res.Start), models.FormatDate(res.End),
				r.Strategy, r.FinalValue.StringFixed(2))
		}
	}
	tw.Flush()
	return errors.Join(errs...)
}

func runExport(ctx context.Context, a *app.App, start, end time.Time, out io.Writer) error {
	symbols := a.Config().Sync.Symbols
	if len(symbols) != 1 {
		return fmt.Errorf("export needs exactly one symbol, use -symbols")
	}

	export, err := a.Export(ctx, symbols[0], start, end)
	if err != nil {
		return err
	}
	if err := export.WriteCSV(out); err != nil {
		return err
	}
	observability.Info("export written",
		"symbol", export.Symbol,
		"rows", len(export.Rows),
		"max_close", export.MaxClose.String())
	return nil
}

func runVerify(ctx context.Context, a *app.App, out io.Writer) error {
	symbols, err := a.Symbols(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, symbol := range symbols {
		report, err := a.Verify(ctx, symbol)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if report.Consistent {
			fmt.Fprintf(out, "%s: ok (%d bars, %d averages)\n", symbol, report.RawBars, report.Averages)
			continue
		}
		fmt.Fprintf(out, "%s: INCONSISTENT\n", symbol)
		for _, m := range report.Mismatches {
			fmt.Fprintf(out, "  %s\n", m)
		}
		errs = append(errs, report.Err())
	}
	return errors.Join(errs...)
}

func serve(ctx context.Context, cfg *config.Config, a *app.App, addr string, runOnStart bool) error {
	handler := api.NewHandler(a, cfg)
	router := api.NewRouter(handler, cfg)

	// Create HTTP server
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Minute,
	}

	var sched *scheduler.Scheduler
	if cfg.HasSchedule() && cfg.HasAlphaVantage() {
		sched = scheduler.NewScheduler(ctx, a)
		if err := sched.Register(cfg.Sync.Schedule); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
		if runOnStart {
			go sched.RunNow()
		}
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		observability.Info("starting HTTP server", "addr", addr, "driver", cfg.Database.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	observability.Info("shutting down HTTP server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	observability.Info("HTTP server stopped")
	return nil
}
