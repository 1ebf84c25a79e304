package db

import (
	"context"
	"fmt"

	"github.com/jonathan/support-triage/internal/types"
)

// InsertWorkItem stores a promoted work item
func (db *DB) InsertWorkItem(ctx context.Context, item *types.WorkItem) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO work_items (id, title, cluster_id, member_ids, run_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		item.ID, item.Title, item.ClusterID, item.MemberIDs, item.RunID, nullableTime(item.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert work item: %w", err)
	}
	return nil
}

// ListWorkItems retrieves work items, optionally filtered by run
func (db *DB) ListWorkItems(ctx context.Context, runID int64, limit int) ([]types.WorkItem, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, title, cluster_id, member_ids, run_id, created_at
		FROM work_items`
	args := []any{}
	if runID > 0 {
		query += ` WHERE run_id = $1`
		args = append(args, runID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list work items: %w", err)
	}
	defer rows.Close()

	var items []types.WorkItem
	for rows.Next() {
		var item types.WorkItem
		if err := rows.Scan(&item.ID, &item.Title, &item.ClusterID, &item.MemberIDs, &item.RunID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan work item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
