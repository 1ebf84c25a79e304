package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/support-triage/internal/types"
)

// CreateRun records a pipeline run under its registry-assigned id
func (db *DB) CreateRun(ctx context.Context, runID int64, dryRun bool) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, status, dry_run)
		 VALUES ($1, 'running', $2)
		 ON CONFLICT (id) DO NOTHING`,
		runID, dryRun,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// MaxRunID returns the highest persisted run id, or 0 when no runs exist.
// The registry seeds its id sequence from this at startup so a restarted
// process never reuses an id that already has history.
func (db *DB) MaxRunID(ctx context.Context) (int64, error) {
	var max int64
	err := db.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM pipeline_runs`,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to read max run id: %w", err)
	}
	return max, nil
}

// UpdateRunProgress persists the current phase and counter snapshot.
// Called after each phase so a crash loses at most one phase of counters.
func (db *DB) UpdateRunProgress(ctx context.Context, runID int64, phase string, counters types.PhaseCounters) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("failed to marshal counters: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`UPDATE pipeline_runs SET current_phase = $1, counters = $2 WHERE id = $3`,
		phase, countersJSON, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run progress: %w", err)
	}
	return nil
}

// CompleteRun marks a pipeline run terminal with its final counters and errors
func (db *DB) CompleteRun(ctx context.Context, runID int64, status types.RunStatus, counters types.PhaseCounters, errors []string) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("failed to marshal counters: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`UPDATE pipeline_runs
		 SET status = $1, counters = $2, errors = $3, completed_at = NOW()
		 WHERE id = $4`,
		string(status), countersJSON, errors, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// GetRun retrieves a pipeline run by ID. Returns nil when not found.
func (db *DB) GetRun(ctx context.Context, runID int64) (*types.PipelineRun, error) {
	var (
		run          types.PipelineRun
		status       string
		phase        *string
		countersJSON []byte
		completedAt  *time.Time
	)
	err := db.pool.QueryRow(ctx,
		`SELECT id, status, current_phase, counters, dry_run, started_at, completed_at, errors
		 FROM pipeline_runs WHERE id = $1`,
		runID,
	).Scan(&run.ID, &status, &phase, &countersJSON, &run.DryRun, &run.StartedAt, &completedAt, &run.Errors)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run.Status = types.RunStatus(status)
	if phase != nil {
		run.CurrentPhase = *phase
	}
	if completedAt != nil {
		run.CompletedAt = *completedAt
	}
	if len(countersJSON) > 0 {
		if err := json.Unmarshal(countersJSON, &run.Counters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal counters for run %d: %w", runID, err)
		}
	}
	return &run, nil
}

// ListRuns retrieves recent pipeline runs, newest first
func (db *DB) ListRuns(ctx context.Context, limit int) ([]types.PipelineRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, status, current_phase, counters, dry_run, started_at, completed_at, errors
		 FROM pipeline_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []types.PipelineRun
	for rows.Next() {
		var (
			run          types.PipelineRun
			status       string
			phase        *string
			countersJSON []byte
			completedAt  *time.Time
		)
		if err := rows.Scan(&run.ID, &status, &phase, &countersJSON, &run.DryRun, &run.StartedAt, &completedAt, &run.Errors); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Status = types.RunStatus(status)
		if phase != nil {
			run.CurrentPhase = *phase
		}
		if completedAt != nil {
			run.CompletedAt = *completedAt
		}
		if len(countersJSON) > 0 {
			if err := json.Unmarshal(countersJSON, &run.Counters); err != nil {
				return nil, fmt.Errorf("failed to unmarshal counters for run %d: %w", run.ID, err)
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
