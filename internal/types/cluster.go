package types

// Cluster represents a candidate grouping of conversations proposed for
// promotion to a work item. The id is derived from the embedding similarity
// bucket plus categorical facets, or a per-signature fallback id.
type Cluster struct {
	ID         string   `json:"id"`
	MemberIDs  []string `json:"member_ids"`
	ActionType string   `json:"action_type,omitempty"`
	Direction  string   `json:"direction,omitempty"`
	Signature  string   `json:"signature,omitempty"`
	Fallback   bool     `json:"fallback,omitempty"`
	// Aggregate metadata carried forward for title generation
	Intents  []string `json:"intents,omitempty"`
	Symptoms []string `json:"symptoms,omitempty"`
}

// Size returns the number of member conversations.
func (c *Cluster) Size() int {
	return len(c.MemberIDs)
}
