package app

import (
	"context"
	"fmt"

	"stock-tracker/config"
	"stock-tracker/repository"
)

// OpenStore connects the series store selected by DATABASE_DRIVER
func OpenStore(ctx context.Context, cfg *config.Config) (repository.SeriesStore, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		if !cfg.HasDatabase() {
			return nil, fmt.Errorf("DATABASE_URL is required when DATABASE_DRIVER=postgres")
		}
		store, err := repository.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverSQLite:
		store, err := repository.NewSQLiteStore(ctx, cfg.Database.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverMemory:
		return repository.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
