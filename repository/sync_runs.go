package repository

import (
	"context"
	"fmt"

	"stock-tracker/models"

	"github.com/jackc/pgx/v5"
)

// RecordSyncRun creates or updates a sync run record
func (s *PostgresStore) RecordSyncRun(ctx context.Context, run *models.SyncRun) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO sync_runs (id, symbol, mode, status, new_bars, splits, averages_recomputed, error_message, duration_ms, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE
		SET mode = EXCLUDED.mode, status = EXCLUDED.status, new_bars = EXCLUDED.new_bars,
		    splits = EXCLUDED.splits, averages_recomputed = EXCLUDED.averages_recomputed,
		    error_message = EXCLUDED.error_message, duration_ms = EXCLUDED.duration_ms,
		    completed_at = EXCLUDED.completed_at
	`, run.ID, run.Symbol, run.Mode, run.Status, run.NewBars, run.Splits, run.AveragesRecomputed,
		run.ErrorMessage, run.DurationMs, run.StartedAt, run.CompletedAt)

	if err != nil {
		return storageError("failed to record sync run", err)
	}

	return nil
}

// GetSyncRuns returns recent sync runs, optionally for a single symbol
func (s *PostgresStore) GetSyncRuns(ctx context.Context, symbol string, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows pgx.Rows
	var err error

	if symbol == "" {
		rows, err = s.db.Query(ctx, `
			SELECT id, symbol, mode, status, new_bars, splits, averages_recomputed, error_message, duration_ms, started_at, completed_at
			FROM sync_runs
			ORDER BY started_at DESC
			LIMIT $1
		`, limit)
	} else {
		rows, err = s.db.Query(ctx, `
			SELECT id, symbol, mode, status, new_bars, splits, averages_recomputed, error_message, duration_ms, started_at, completed_at
			FROM sync_runs
			WHERE symbol = $1
			ORDER BY started_at DESC
			LIMIT $2
		`, symbol, limit)
	}

	if err != nil {
		return nil, storageError("failed to query sync runs", err)
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		var run models.SyncRun
		var errorMessage *string
		var durationMs *int

		err := rows.Scan(&run.ID, &run.Symbol, &run.Mode, &run.Status, &run.NewBars, &run.Splits, &run.AveragesRecomputed,
			&errorMessage, &durationMs, &run.StartedAt, &run.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}

		if errorMessage != nil {
			run.ErrorMessage = *errorMessage
		}
		if durationMs != nil {
			run.DurationMs = *durationMs
		}

		runs = append(runs, run)
	}

	return runs, nil
}
