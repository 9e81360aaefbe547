package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nhle/mailgateway/internal/model"
)

// RecordSyncRun inserts a finished run. Generates a UUID if ID is empty.
func (s *SQLiteStore) RecordSyncRun(ctx context.Context, run model.SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (
			id, trigger, started_at, finished_at,
			processed, updated, skipped, pages, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Trigger), run.StartedAt.UTC(), run.FinishedAt.UTC(),
		run.Processed, run.Updated, run.Skipped, run.Pages, run.Error,
	)
	if err != nil {
		return storeErr("record sync run", fmt.Errorf("inserting run %s: %w", run.ID, err))
	}
	return nil
}

// RecentSyncRuns returns up to limit runs, most recent first.
func (s *SQLiteStore) RecentSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}

	runs := []model.SyncRun{}
	err := s.db.SelectContext(ctx, &runs, `
		SELECT id, trigger, started_at, finished_at,
			processed, updated, skipped, pages, error
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, storeErr("recent sync runs", err)
	}

	for i := range runs {
		runs[i].StartedAt = runs[i].StartedAt.UTC()
		runs[i].FinishedAt = runs[i].FinishedAt.UTC()
	}
	return runs, nil
}
