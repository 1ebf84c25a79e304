// Package registry tracks in-flight and recently finished pipeline runs in
// memory. The registry is bounded: when full, the oldest terminal run is
// evicted together with its preview data, so memory use stays proportional to
// the cap rather than to process uptime.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonathan/support-triage/internal/types"
)

// DefaultMaxRuns caps the number of runs held in memory
const DefaultMaxRuns = 50

// Preview holds the would-be outputs of a dry run. Nothing in a preview is
// persisted; it exists only for inspection through the registry.
type Preview struct {
	Clusters []types.Cluster   `json:"clusters"`
	Titles   map[string]string `json:"titles"` // cluster id -> proposed title
	Themes   []types.Theme     `json:"themes"`
}

type entry struct {
	run     types.PipelineRun
	preview *Preview
	cancel  func()
}

// Registry is a bounded, concurrency-safe store of pipeline runs.
// All reads return copies; the orchestrator mutates runs only through
// registry methods.
type Registry struct {
	mu      sync.Mutex
	maxRuns int
	entries map[int64]*entry
	order   []int64 // registration order, oldest first
	nextID  int64
}

// New creates a Registry holding at most maxRuns runs
func New(maxRuns int) *Registry {
	if maxRuns <= 0 {
		maxRuns = DefaultMaxRuns
	}
	return &Registry{
		maxRuns: maxRuns,
		entries: make(map[int64]*entry),
	}
}

// Seed advances the id sequence past lastID, typically the highest run id
// already persisted. Ids restart at 1 on process start; without seeding, a
// restarted process would assign ids that collide with persisted history and
// overwrite those rows. Seeding backwards is a no-op.
func (r *Registry) Seed(lastID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lastID > r.nextID {
		r.nextID = lastID
	}
}

// Register creates a new pending run and returns its id. When the registry is
// full, the oldest terminal run is evicted to make room; if every held run is
// still active, registration fails rather than growing without bound.
func (r *Registry) Register(dryRun bool) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) >= r.maxRuns {
		if !r.evictOldestTerminalLocked() {
			return 0, fmt.Errorf("run registry is full with %d active runs", len(r.entries))
		}
	}

	r.nextID++
	id := r.nextID
	r.entries[id] = &entry{
		run: types.PipelineRun{
			ID:        id,
			Status:    types.RunPending,
			DryRun:    dryRun,
			StartedAt: time.Now().UTC(),
		},
	}
	r.order = append(r.order, id)
	return id, nil
}

// evictOldestTerminalLocked removes the oldest terminal run and its preview.
// Returns false when no run is evictable.
func (r *Registry) evictOldestTerminalLocked() bool {
	for i, id := range r.order {
		e, ok := r.entries[id]
		if !ok || !e.run.Status.Terminal() {
			continue
		}
		delete(r.entries, id)
		r.order = append(r.order[:i], r.order[i+1:]...)
		return true
	}
	return false
}

// Get returns a copy of the run
func (r *Registry) Get(id int64) (types.PipelineRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return types.PipelineRun{}, false
	}
	return copyRun(&e.run), true
}

// List returns copies of all held runs, newest first
func (r *Registry) List() []types.PipelineRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.PipelineRun, 0, len(r.entries))
	for i := len(r.order) - 1; i >= 0; i-- {
		if e, ok := r.entries[r.order[i]]; ok {
			out = append(out, copyRun(&e.run))
		}
	}
	return out
}

// Len returns the number of held runs
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// SetStatus transitions a run's status. Transitions are monotonic: a run in a
// terminal state never changes status again.
func (r *Registry) SetStatus(id int64, status types.RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("run %d not found", id)
	}
	if e.run.Status.Terminal() {
		return fmt.Errorf("run %d is already %s", id, e.run.Status)
	}
	e.run.Status = status
	if status.Terminal() {
		e.run.CompletedAt = time.Now().UTC()
		e.cancel = nil
	}
	return nil
}

// SetPhase records the phase a run is currently executing
func (r *Registry) SetPhase(id int64, phase string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("run %d not found", id)
	}
	e.run.CurrentPhase = phase
	return nil
}

// UpdateCounters replaces the run's counters with the given snapshot
func (r *Registry) UpdateCounters(id int64, counters types.PhaseCounters) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("run %d not found", id)
	}
	e.run.Counters = counters
	return nil
}

// AppendError records a non-fatal error message on the run
func (r *Registry) AppendError(id int64, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.run.Errors = append(e.run.Errors, msg)
	}
}

// SetCancel attaches the orchestrator's cancel function so Stop can reach
// the run's context
func (r *Registry) SetCancel(id int64, cancel func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("run %d not found", id)
	}
	e.cancel = cancel
	return nil
}

// Stop requests cancellation of an active run. Stopping an already terminal
// run is an error; the in-flight phase drains before the run reports stopped.
func (r *Registry) Stop(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("run %d not found", id)
	}
	if e.run.Status.Terminal() {
		return fmt.Errorf("run %d is already %s", id, e.run.Status)
	}
	if e.cancel != nil {
		e.cancel()
	}
	return nil
}

// SetPreview stores dry-run preview data for the run
func (r *Registry) SetPreview(id int64, preview *Preview) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("run %d not found", id)
	}
	e.preview = preview
	return nil
}

// GetPreview returns a copy of the run's preview data, if any. Like every
// other read path, the stored value never escapes the mutex.
func (r *Registry) GetPreview(id int64) (*Preview, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.preview == nil {
		return nil, false
	}
	return copyPreview(e.preview), true
}

func copyRun(run *types.PipelineRun) types.PipelineRun {
	out := *run
	out.Errors = append([]string(nil), run.Errors...)
	return out
}

func copyPreview(p *Preview) *Preview {
	out := &Preview{
		Clusters: append([]types.Cluster(nil), p.Clusters...),
		Themes:   append([]types.Theme(nil), p.Themes...),
		Titles:   make(map[string]string, len(p.Titles)),
	}
	for k, v := range p.Titles {
		out.Titles[k] = v
	}
	return out
}
