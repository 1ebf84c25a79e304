package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/support-triage/internal/types"
)

// UpsertThemes merges a session's theme snapshot into the themes table.
// The signature is the natural key; counts accumulate across runs and the
// first label wins, mirroring the in-session dedupe semantics.
func (db *DB) UpsertThemes(ctx context.Context, themes []types.Theme) error {
	if len(themes) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, theme := range themes {
		batch.Queue(
			`INSERT INTO themes (signature, label, first_seen, last_seen, count)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (signature) DO UPDATE
			 SET count = themes.count + $5, last_seen = $4, updated_at = NOW()`,
			theme.Signature, theme.Label, theme.FirstSeen, theme.LastSeen, theme.Count,
		)
	}

	results := db.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range themes {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert theme: %w", err)
		}
	}
	return nil
}

// GetTheme retrieves a theme by signature. Returns nil when not found.
func (db *DB) GetTheme(ctx context.Context, signature string) (*types.Theme, error) {
	var theme types.Theme
	err := db.pool.QueryRow(ctx,
		`SELECT signature, label, first_seen, last_seen, count
		 FROM themes WHERE signature = $1`,
		signature,
	).Scan(&theme.Signature, &theme.Label, &theme.FirstSeen, &theme.LastSeen, &theme.Count)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get theme: %w", err)
	}
	return &theme, nil
}

// ListThemes retrieves themes ordered by accumulated count, largest first
func (db *DB) ListThemes(ctx context.Context, limit int) ([]types.Theme, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT signature, label, first_seen, last_seen, count
		 FROM themes ORDER BY count DESC, signature ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list themes: %w", err)
	}
	defer rows.Close()

	var themes []types.Theme
	for rows.Next() {
		var theme types.Theme
		if err := rows.Scan(&theme.Signature, &theme.Label, &theme.FirstSeen, &theme.LastSeen, &theme.Count); err != nil {
			return nil, fmt.Errorf("failed to scan theme: %w", err)
		}
		themes = append(themes, theme)
	}
	return themes, rows.Err()
}
