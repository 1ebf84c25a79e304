package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonathan/support-triage/internal/types"
)

// Source supplies raw conversations for a pipeline run.
// Implementations are read-only collaborators; the pipeline never writes back
// through this interface.
type Source interface {
	// FetchBatch returns up to limit conversations that have not yet been
	// processed by a completed run.
	FetchBatch(ctx context.Context, limit int) ([]types.ConversationRecord, error)
}

// ConversationStore is the storage surface Source implementations read from.
// *db.DB satisfies this.
type ConversationStore interface {
	ListUnprocessedConversations(ctx context.Context, limit int) ([]types.ConversationRecord, error)
}

// StoreSource reads conversations from persisted storage and normalizes
// message bodies to plain text.
type StoreSource struct {
	store ConversationStore
}

// NewStoreSource creates a Source backed by persisted storage.
func NewStoreSource(store ConversationStore) *StoreSource {
	return &StoreSource{store: store}
}

// FetchBatch loads conversations and reduces each HTML message body to plain
// text. A conversation whose every body fails to parse is returned with its
// raw text untouched rather than dropped; classification decides its fate.
func (s *StoreSource) FetchBatch(ctx context.Context, limit int) ([]types.ConversationRecord, error) {
	records, err := s.store.ListUnprocessedConversations(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversations: %w", err)
	}

	for i := range records {
		Normalize(&records[i])
	}
	return records, nil
}

// Normalize extracts plain text from every message body and rebuilds the
// conversation's raw text transcript.
func Normalize(rec *types.ConversationRecord) {
	for j := range rec.Messages {
		text, err := ExtractMessageText(rec.Messages[j].Body)
		if err != nil || text == "" {
			continue
		}
		rec.Messages[j].Body = text
	}
	if transcript := BuildTranscript(rec); transcript != "" {
		rec.RawText = transcript
	}
}

// BuildTranscript renders a conversation as a labeled plain-text transcript,
// the canonical input for classification and theme extraction.
func BuildTranscript(rec *types.ConversationRecord) string {
	var sb strings.Builder
	if rec.Subject != "" {
		sb.WriteString("Subject: ")
		sb.WriteString(rec.Subject)
		sb.WriteString("\n\n")
	}
	for _, m := range rec.Messages {
		if m.Body == "" {
			continue
		}
		if m.FromSupport {
			sb.WriteString("Support: ")
		} else {
			sb.WriteString("User: ")
		}
		sb.WriteString(m.Body)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}
