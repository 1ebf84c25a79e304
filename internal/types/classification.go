package types

// ConversationType is the coarse category assigned by stage-1 triage
type ConversationType string

// Conversation type constants assigned by the classifier
const (
	TypeBugReport      ConversationType = "bug_report"
	TypeFeatureRequest ConversationType = "feature_request"
	TypeHowTo          ConversationType = "how_to"
	TypeBilling        ConversationType = "billing"
	TypeOther          ConversationType = "other"
)

// ResolutionSignal summarizes how the support side left the conversation,
// derived from lightweight pattern matching over support messages.
type ResolutionSignal string

// Resolution signal constants
const (
	ResolutionFixed      ResolutionSignal = "fixed"
	ResolutionWorkaround ResolutionSignal = "workaround"
	ResolutionEscalated  ResolutionSignal = "escalated"
	ResolutionDeclined   ResolutionSignal = "declined"
	ResolutionUnknown    ResolutionSignal = "unknown"
)

// Stage1Result holds the fast triage output
type Stage1Result struct {
	Type       ConversationType `json:"type"`
	Confidence float64          `json:"confidence"`
	Summary    string           `json:"summary,omitempty"`
	Keywords   []string         `json:"keywords,omitempty"`
}

// Stage2Result holds the deep analysis output, produced only when
// support-side messages exist
type Stage2Result struct {
	Intent     string   `json:"intent,omitempty"`
	Symptom    string   `json:"symptom,omitempty"`
	ActionType string   `json:"action_type,omitempty"`
	Direction  string   `json:"direction,omitempty"`
	Summary    string   `json:"summary,omitempty"`
	Components []string `json:"components,omitempty"`
}

// ClassificationResult is the combined two-stage classification output for one conversation
type ClassificationResult struct {
	Type       ConversationType `json:"type"`
	Confidence float64          `json:"confidence"`
	Stage1     *Stage1Result    `json:"stage1,omitempty"`
	Stage2     *Stage2Result    `json:"stage2,omitempty"`
}

// ActionType returns the stage-2 action type, or empty when deep analysis did not run.
func (r *ClassificationResult) ActionType() string {
	if r == nil || r.Stage2 == nil {
		return ""
	}
	return r.Stage2.ActionType
}

// Direction returns the stage-2 direction facet, or empty when deep analysis did not run.
func (r *ClassificationResult) Direction() string {
	if r == nil || r.Stage2 == nil {
		return ""
	}
	return r.Stage2.Direction
}
