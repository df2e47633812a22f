package repository

import (
	"context"
	"os"
	"testing"
	"time"
)

// getTestDB returns a store connected to the test database.
// If DATABASE_URL is not set, the test is skipped.
func getTestDB(t *testing.T) SeriesStore {
	t.Helper()

	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := NewPostgresStore(ctx, connString)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	cleanupTestSymbols(t, store)
	t.Cleanup(func() {
		cleanupTestSymbols(t, store)
		store.Close()
	})
	return store
}

// cleanupTestSymbols removes every row written for TEST symbols
func cleanupTestSymbols(t *testing.T, store *PostgresStore) {
	t.Helper()
	ctx := context.Background()
	for _, table := range []string{"rolling_averages", "adjusted_bars", "raw_bars", "sync_runs", "tracked_symbols"} {
		if _, err := store.Pool().Exec(ctx, "DELETE FROM "+table+" WHERE symbol LIKE 'TEST%'"); err != nil {
			t.Fatalf("cleanup %s: %v", table, err)
		}
	}
}

func TestPostgresStore(t *testing.T) {
	runStoreTests(t, "TESTPG", getTestDB)
}

func TestPostgresStore_Health(t *testing.T) {
	store := getTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := store.Health(ctx); err != nil {
		t.Errorf("Health failed: %v", err)
	}
}
