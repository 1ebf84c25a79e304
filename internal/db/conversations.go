package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/support-triage/internal/types"
)

// UpsertConversations stores fetched conversations, keyed by their source id.
// Re-fetching an already stored conversation refreshes its content without
// touching pipeline enrichment columns.
func (db *DB) UpsertConversations(ctx context.Context, records []types.ConversationRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range records {
		rec := &records[i]
		messagesJSON, err := json.Marshal(rec.Messages)
		if err != nil {
			return fmt.Errorf("failed to marshal messages for %s: %w", rec.ID, err)
		}
		batch.Queue(
			`INSERT INTO conversations (id, subject, raw_text, messages, created_at)
			 VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))
			 ON CONFLICT (id) DO UPDATE SET subject = $2, raw_text = $3, messages = $4`,
			rec.ID, rec.Subject, rec.RawText, messagesJSON, nullableTime(rec.CreatedAt),
		)
	}

	results := db.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert conversation: %w", err)
		}
	}
	return nil
}

// ListUnprocessedConversations returns conversations not yet assigned to a
// cluster, oldest first
func (db *DB) ListUnprocessedConversations(ctx context.Context, limit int) ([]types.ConversationRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, subject, raw_text, messages, created_at
		 FROM conversations
		 WHERE cluster_id IS NULL
		 ORDER BY created_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed conversations: %w", err)
	}
	defer rows.Close()

	var records []types.ConversationRecord
	for rows.Next() {
		var (
			rec          types.ConversationRecord
			subject      *string
			messagesJSON []byte
		)
		if err := rows.Scan(&rec.ID, &subject, &rec.RawText, &messagesJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		if subject != nil {
			rec.Subject = *subject
		}
		if len(messagesJSON) > 0 {
			if err := json.Unmarshal(messagesJSON, &rec.Messages); err != nil {
				return nil, fmt.Errorf("failed to unmarshal messages for %s: %w", rec.ID, err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveEnrichment persists the per-conversation pipeline outputs: the
// classification, resolution signal, embedding, theme signature and cluster
// assignment. Batched so a run's write load is one round trip per batch.
func (db *DB) SaveEnrichment(ctx context.Context, records []types.ConversationRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range records {
		rec := &records[i]
		var classificationJSON []byte
		if rec.Classification != nil {
			var err error
			classificationJSON, err = json.Marshal(rec.Classification)
			if err != nil {
				return fmt.Errorf("failed to marshal classification for %s: %w", rec.ID, err)
			}
		}
		batch.Queue(
			`UPDATE conversations
			 SET classification = $1, resolution = NULLIF($2, ''), embedding = $3,
			     signature = NULLIF($4, ''), cluster_id = NULLIF($5, '')
			 WHERE id = $6`,
			classificationJSON, string(rec.Resolution), rec.Embedding, rec.Signature, rec.ClusterID, rec.ID,
		)
	}

	results := db.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to save enrichment: %w", err)
		}
	}
	return nil
}
