package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/support-triage/internal/types"
)

// SaveClusters stores the clusters formed by a run
func (db *DB) SaveClusters(ctx context.Context, runID int64, clusters []types.Cluster) error {
	if len(clusters) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range clusters {
		c := &clusters[i]
		batch.Queue(
			`INSERT INTO clusters (id, run_id, member_ids, action_type, direction, signature, fallback, intents, symptoms)
			 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9)
			 ON CONFLICT (id, run_id) DO UPDATE
			 SET member_ids = $3, intents = $8, symptoms = $9`,
			c.ID, runID, c.MemberIDs, c.ActionType, c.Direction, c.Signature, c.Fallback, c.Intents, c.Symptoms,
		)
	}

	results := db.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range clusters {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to save cluster: %w", err)
		}
	}
	return nil
}

// ListClusters retrieves the clusters formed by a run
func (db *DB) ListClusters(ctx context.Context, runID int64) ([]types.Cluster, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, member_ids, COALESCE(action_type, ''), COALESCE(direction, ''),
		        COALESCE(signature, ''), fallback, intents, symptoms
		 FROM clusters WHERE run_id = $1 ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	defer rows.Close()

	var clusters []types.Cluster
	for rows.Next() {
		var c types.Cluster
		if err := rows.Scan(&c.ID, &c.MemberIDs, &c.ActionType, &c.Direction, &c.Signature, &c.Fallback, &c.Intents, &c.Symptoms); err != nil {
			return nil, fmt.Errorf("failed to scan cluster: %w", err)
		}
		clusters = append(clusters, c)
	}
	return clusters, rows.Err()
}
