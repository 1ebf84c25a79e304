package types

import (
	"time"

	"github.com/google/uuid"
)

// WorkItem represents an actionable item created from a qualifying cluster
type WorkItem struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	ClusterID string    `json:"cluster_id"`
	MemberIDs []string  `json:"member_ids"`
	RunID     int64     `json:"run_id"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Orphan represents a below-threshold grouping held for future accumulation.
// It is keyed by signature and accumulates conversations across calls and runs;
// once Count crosses the promotion threshold it becomes eligible for a WorkItem.
type Orphan struct {
	Signature string    `json:"signature"`
	Reason    string    `json:"reason"`
	MemberIDs []string  `json:"member_ids"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}
