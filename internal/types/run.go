package types

import "time"

// RunStatus represents the lifecycle state of a pipeline run
type RunStatus string

// Run status constants. Transitions are monotonic: once a run reaches a
// terminal status (completed, failed, stopped) it never re-enters running.
const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunStopped   RunStatus = "stopped"
)

// Terminal reports whether the status is a terminal state.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunStopped
}

// Phase name constants, in execution order
const (
	PhaseFetch    = "fetch"
	PhaseClassify = "classify"
	PhaseEmbed    = "embed"
	PhaseThemes   = "themes"
	PhaseCluster  = "cluster"
	PhaseItems    = "items"
)

// PhaseCounters holds the per-phase progress counters for one run
type PhaseCounters struct {
	Fetched         int `json:"fetched"`
	Classified      int `json:"classified"`
	ClassifyFailed  int `json:"classify_failed"`
	Embedded        int `json:"embedded"`
	EmbedFailed     int `json:"embed_failed"`
	ThemesExtracted int `json:"themes_extracted"`
	ThemesNew       int `json:"themes_new"`
	ThemesFiltered  int `json:"themes_filtered"`
	ThemesFailed    int `json:"themes_failed"`
	ClustersFormed  int `json:"clusters_formed"`
	ItemsCreated    int `json:"items_created"`
	OrphansCreated  int `json:"orphans_created"`
}

// PipelineRun represents the state of one multi-phase pipeline run.
// Mutated only by the orchestrator goroutine handling that run; readers
// obtain copies through the run registry.
type PipelineRun struct {
	ID           int64         `json:"id"`
	Status       RunStatus     `json:"status"`
	CurrentPhase string        `json:"current_phase,omitempty"`
	Counters     PhaseCounters `json:"counters"`
	DryRun       bool          `json:"dry_run,omitempty"`
	StartedAt    time.Time     `json:"started_at,omitempty"`
	CompletedAt  time.Time     `json:"completed_at,omitempty"`
	Errors       []string      `json:"errors,omitempty"`
}
