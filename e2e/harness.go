// Package e2e runs the whole stock-tracker stack against a mock price feed.
package e2e

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"stock-tracker/config"
	"stock-tracker/e2e/mocks"
	"stock-tracker/internal/api"
	"stock-tracker/internal/app"
	"stock-tracker/repository"
	"stock-tracker/services"
)

// Env is one isolated stack: a mock feed, a fresh store, the application
// and its router. It is torn down by t.Cleanup.
type Env struct {
	Feed   *mocks.MockServer
	Store  repository.SeriesStore
	App    *app.App
	Config *config.Config

	router http.Handler
}

// Start brings up an Env. E2E_DATABASE_URL selects PostgreSQL; otherwise
// a SQLite file under the test's temp dir backs the store.
func Start(t *testing.T) *Env {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	t.Cleanup(cancel)

	env := &Env{Feed: mocks.NewMockServer()}
	t.Cleanup(env.Feed.Close)

	cfg := config.NewTestConfig()
	cfg.AlphaVantage.APIKey = "e2e-key"
	cfg.AlphaVantage.BaseURL = env.Feed.URL()
	cfg.Sync.MaxRetries = 0
	if dsn := os.Getenv("E2E_DATABASE_URL"); dsn != "" {
		cfg.Database.Driver = config.DriverPostgres
		cfg.Database.URL = dsn
	} else {
		cfg.Database.Driver = config.DriverSQLite
		cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "e2e.db")
	}
	env.Config = cfg

	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	env.Store = store

	feed := services.NewAlphaVantageService(cfg.AlphaVantage.APIKey, cfg.AlphaVantage.BaseURL)
	env.App = app.New(cfg, store, feed)
	env.router = api.NewRouter(api.NewHandler(env.App, cfg), cfg)

	t.Cleanup(func() {
		truncate(t, store)
		env.App.Shutdown()
	})
	return env
}

// Do sends a bodiless request through the router
func (e *Env) Do(method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

// truncate empties a shared PostgreSQL database between tests. SQLite
// files go away with the temp dir.
func truncate(t *testing.T, store repository.SeriesStore) {
	pg, ok := store.(*repository.PostgresStore)
	if !ok {
		return
	}
	for _, table := range []string{"rolling_averages", "adjusted_bars", "raw_bars", "sync_runs", "tracked_symbols"} {
		if _, err := pg.Pool().Exec(context.Background(), "DELETE FROM "+table); err != nil {
			t.Logf("truncate %s: %v", table, err)
		}
	}
}
