package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/support-triage/internal/types"
)

// UpsertOrphan merges an orphan into the orphans table, accumulating member
// ids and count on the signature key. Returns the accumulated row so callers
// can see whether the promotion threshold has been crossed.
func (db *DB) UpsertOrphan(ctx context.Context, orphan *types.Orphan) (types.Orphan, error) {
	var out types.Orphan
	err := db.pool.QueryRow(ctx,
		`INSERT INTO orphans (signature, reason, member_ids, count, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (signature) DO UPDATE
		 SET member_ids = orphans.member_ids || $3,
		     count = orphans.count + $4,
		     reason = $2,
		     updated_at = NOW()
		 RETURNING signature, reason, member_ids, count, updated_at`,
		orphan.Signature, orphan.Reason, orphan.MemberIDs, orphan.Count,
	).Scan(&out.Signature, &out.Reason, &out.MemberIDs, &out.Count, &out.UpdatedAt)
	if err != nil {
		return types.Orphan{}, fmt.Errorf("failed to upsert orphan: %w", err)
	}
	return out, nil
}

// PromotableOrphans returns orphans whose accumulated count reached the threshold
func (db *DB) PromotableOrphans(ctx context.Context, threshold int) ([]types.Orphan, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT signature, reason, member_ids, count, updated_at
		 FROM orphans WHERE count >= $1 ORDER BY count DESC`,
		threshold,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list promotable orphans: %w", err)
	}
	defer rows.Close()

	var orphans []types.Orphan
	for rows.Next() {
		var o types.Orphan
		if err := rows.Scan(&o.Signature, &o.Reason, &o.MemberIDs, &o.Count, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan orphan: %w", err)
		}
		orphans = append(orphans, o)
	}
	return orphans, rows.Err()
}

// ListOrphans retrieves held orphans ordered by accumulated count, largest first
func (db *DB) ListOrphans(ctx context.Context, limit int) ([]types.Orphan, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT signature, reason, member_ids, count, updated_at
		 FROM orphans ORDER BY count DESC, signature ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphans: %w", err)
	}
	defer rows.Close()

	var orphans []types.Orphan
	for rows.Next() {
		var o types.Orphan
		if err := rows.Scan(&o.Signature, &o.Reason, &o.MemberIDs, &o.Count, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan orphan: %w", err)
		}
		orphans = append(orphans, o)
	}
	return orphans, rows.Err()
}

// GetOrphan retrieves an orphan by signature. Returns nil when not found.
func (db *DB) GetOrphan(ctx context.Context, signature string) (*types.Orphan, error) {
	var o types.Orphan
	err := db.pool.QueryRow(ctx,
		`SELECT signature, reason, member_ids, count, updated_at
		 FROM orphans WHERE signature = $1`,
		signature,
	).Scan(&o.Signature, &o.Reason, &o.MemberIDs, &o.Count, &o.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get orphan: %w", err)
	}
	return &o, nil
}

// DeleteOrphan removes an orphan, typically after promotion
func (db *DB) DeleteOrphan(ctx context.Context, signature string) error {
	result, err := db.pool.Exec(ctx, `DELETE FROM orphans WHERE signature = $1`, signature)
	if err != nil {
		return fmt.Errorf("failed to delete orphan: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("orphan not found: %s", signature)
	}
	return nil
}
