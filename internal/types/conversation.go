// Package types provides type definitions for structured data used throughout the support-triage system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import "time"

// Message represents a single message within a support conversation
type Message struct {
	ID          string    `json:"id"`
	Body        string    `json:"body"`
	FromSupport bool      `json:"from_support"`
	SentAt      time.Time `json:"sent_at,omitempty"`
}

// ConversationRecord represents one support conversation as it moves through the pipeline.
// Each phase enriches its own fields additively; no two phases write the same record
// concurrently within a run.
type ConversationRecord struct {
	ID             string                `json:"id"`
	Subject        string                `json:"subject,omitempty"`
	RawText        string                `json:"raw_text"`
	Messages       []Message             `json:"messages,omitempty"`
	Classification *ClassificationResult `json:"classification,omitempty"`
	Resolution     ResolutionSignal      `json:"resolution,omitempty"`
	Embedding      []float32             `json:"embedding,omitempty"`
	Signature      string                `json:"signature,omitempty"`
	ClusterID      string                `json:"cluster_id,omitempty"`
	CreatedAt      time.Time             `json:"created_at,omitempty"`
}

// SupportMessages returns the support-side messages of the conversation.
// Stage-2 classification only runs when at least one exists.
func (c *ConversationRecord) SupportMessages() []Message {
	var out []Message
	for _, m := range c.Messages {
		if m.FromSupport {
			out = append(out, m)
		}
	}
	return out
}

// HasEmbedding reports whether the conversation carries a usable embedding vector.
func (c *ConversationRecord) HasEmbedding() bool {
	return len(c.Embedding) > 0
}
