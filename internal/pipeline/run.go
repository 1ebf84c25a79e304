// Package pipeline provides the high-level orchestration for the support
// triage process: fetch, classify, embed, extract themes, cluster, and create
// work items, in that order.
package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/jonathan/support-triage/internal/classify"
	"github.com/jonathan/support-triage/internal/clustering"
	"github.com/jonathan/support-triage/internal/embedding"
	"github.com/jonathan/support-triage/internal/ingest"
	"github.com/jonathan/support-triage/internal/observability"
	"github.com/jonathan/support-triage/internal/registry"
	"github.com/jonathan/support-triage/internal/themes"
	"github.com/jonathan/support-triage/internal/types"
	"github.com/jonathan/support-triage/internal/workitems"
)

// ProgressEvent represents a progress update during pipeline execution
type ProgressEvent struct {
	Phase   string `json:"phase"`
	Message string `json:"message"`
	RunID   int64  `json:"run_id,omitempty"`
	Content any    `json:"content,omitempty"`
}

// ProgressCallback is called when pipeline progress occurs
type ProgressCallback func(event ProgressEvent)

// Store is the persistence surface the orchestrator writes run outputs
// through. *db.DB satisfies this; a nil Store runs the pipeline without
// persistence.
type Store interface {
	CreateRun(ctx context.Context, runID int64, dryRun bool) error
	UpdateRunProgress(ctx context.Context, runID int64, phase string, counters types.PhaseCounters) error
	CompleteRun(ctx context.Context, runID int64, status types.RunStatus, counters types.PhaseCounters, errs []string) error
	SaveEnrichment(ctx context.Context, records []types.ConversationRecord) error
	UpsertThemes(ctx context.Context, themes []types.Theme) error
	SaveClusters(ctx context.Context, runID int64, clusters []types.Cluster) error
}

// Options holds per-run configuration
type Options struct {
	FetchLimit int
	DryRun     bool
	Verbose    bool
	OnProgress ProgressCallback
}

// Orchestrator wires the pipeline phases together and drives one run at a
// time through them. Phases execute sequentially; concurrency lives inside
// each phase.
type Orchestrator struct {
	source     ingest.Source
	store      Store
	reg        *registry.Registry
	classifier *classify.Classifier
	embedder   *embedding.Generator
	extractor  *themes.Extractor
	engine     *clustering.Engine
	items      *workitems.Service
}

// Deps holds the orchestrator's collaborators
type Deps struct {
	Source     ingest.Source
	Store      Store
	Registry   *registry.Registry
	Classifier *classify.Classifier
	Embedder   *embedding.Generator
	Extractor  *themes.Extractor
	Engine     *clustering.Engine
	Items      *workitems.Service
}

// New creates an Orchestrator from its collaborators
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		source:     deps.Source,
		store:      deps.Store,
		reg:        deps.Registry,
		classifier: deps.Classifier,
		embedder:   deps.Embedder,
		extractor:  deps.Extractor,
		engine:     deps.Engine,
		items:      deps.Items,
	}
}

// Start registers a run and executes it on a background goroutine.
// Returns the run id immediately; progress is observable through the registry.
func (o *Orchestrator) Start(ctx context.Context, opts Options) (int64, error) {
	runID, err := o.reg.Register(opts.DryRun)
	if err != nil {
		return 0, err
	}

	go func() {
		if err := o.Run(ctx, runID, opts); err != nil {
			fmt.Printf("Run %d failed: %v\n", runID, err)
		}
	}()
	return runID, nil
}

// Run executes a registered run to completion. Cancellation is requested
// through the registry; the in-flight batch drains, no further batch starts,
// and the run reports stopped with the counters accumulated so far.
func (o *Orchestrator) Run(ctx context.Context, runID int64, opts Options) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := o.reg.SetCancel(runID, cancel); err != nil {
		return err
	}
	cancelled := func() bool { return runCtx.Err() != nil }

	if err := o.reg.SetStatus(runID, types.RunRunning); err != nil {
		return err
	}

	persisting := o.store != nil && !opts.DryRun
	if persisting {
		if err := o.store.CreateRun(ctx, runID, opts.DryRun); err != nil {
			fmt.Printf("Warning: failed to record run in database: %v\n", err)
			fmt.Printf("Continuing without database persistence...\n")
			persisting = false
		}
	}

	printer := observability.NewPrinter(os.Stdout)
	var counters types.PhaseCounters
	var runErrors []string

	fail := func(phase string, err error) error {
		runErrors = append(runErrors, fmt.Sprintf("%s: %v", phase, err))
		o.reg.AppendError(runID, fmt.Sprintf("%s: %v", phase, err))
		_ = o.reg.UpdateCounters(runID, counters)
		_ = o.reg.SetStatus(runID, types.RunFailed)
		if persisting {
			_ = o.store.CompleteRun(ctx, runID, types.RunFailed, counters, runErrors)
		}
		return fmt.Errorf("%s phase failed: %w", phase, err)
	}

	stop := func() error {
		fmt.Printf("Run %d stopped after draining in-flight work.\n", runID)
		_ = o.reg.UpdateCounters(runID, counters)
		_ = o.reg.SetStatus(runID, types.RunStopped)
		if persisting {
			_ = o.store.CompleteRun(ctx, runID, types.RunStopped, counters, runErrors)
		}
		return nil
	}

	complete := func() error {
		_ = o.reg.UpdateCounters(runID, counters)
		_ = o.reg.SetStatus(runID, types.RunCompleted)
		if persisting {
			_ = o.store.CompleteRun(ctx, runID, types.RunCompleted, counters, runErrors)
		}
		return nil
	}

	// checkpoint records phase completion in the registry and, when
	// persisting, the database. A crash loses at most one phase of progress.
	checkpoint := func(phase string, records []types.ConversationRecord) {
		_ = o.reg.SetPhase(runID, phase)
		_ = o.reg.UpdateCounters(runID, counters)
		if persisting {
			_ = o.store.UpdateRunProgress(ctx, runID, phase, counters)
			if records != nil {
				if err := o.store.SaveEnrichment(ctx, records); err != nil {
					fmt.Printf("Warning: failed to persist enrichment: %v\n", err)
				}
			}
		}
	}

	// Phase 1: fetch
	fmt.Printf("Phase 1/6: Fetching conversations...\n")
	records, err := o.source.FetchBatch(runCtx, opts.FetchLimit)
	if err != nil {
		return fail(types.PhaseFetch, err)
	}
	counters.Fetched = len(records)
	checkpoint(types.PhaseFetch, nil)
	o.emitProgress(opts, types.PhaseFetch, runID,
		fmt.Sprintf("Fetched %d conversations", len(records)), nil)

	if len(records) == 0 {
		fmt.Printf("No conversations to process.\n")
		return complete()
	}
	if cancelled() {
		return stop()
	}

	// Phase 2: classify
	fmt.Printf("Phase 2/6: Classifying %d conversations...\n", len(records))
	classifyRes := o.classifier.ClassifyAll(runCtx, records, cancelled)
	counters.Classified = classifyRes.Classified
	counters.ClassifyFailed = classifyRes.Failed
	if classifyRes.Failed > 0 {
		msg := fmt.Sprintf("classify: %d conversations failed", classifyRes.Failed)
		runErrors = append(runErrors, msg)
		o.reg.AppendError(runID, msg)
	}
	checkpoint(types.PhaseClassify, records)
	o.emitProgress(opts, types.PhaseClassify, runID,
		fmt.Sprintf("Classified %d conversations (%d failed)", classifyRes.Classified, classifyRes.Failed), nil)
	if classifyRes.Cancelled || cancelled() {
		return stop()
	}

	// Phase 3: embed
	fmt.Printf("Phase 3/6: Generating embeddings...\n")
	embedRes := o.embedder.EmbedAll(runCtx, records, cancelled)
	counters.Embedded = embedRes.Embedded
	counters.EmbedFailed = embedRes.Failed
	for category, n := range embedRes.FailureCategories {
		msg := fmt.Sprintf("embed: %d failures (%s)", n, category)
		runErrors = append(runErrors, msg)
		o.reg.AppendError(runID, msg)
	}
	checkpoint(types.PhaseEmbed, records)
	o.emitProgress(opts, types.PhaseEmbed, runID,
		fmt.Sprintf("Embedded %d conversations (%d failed)", embedRes.Embedded, embedRes.Failed), nil)
	if embedRes.Cancelled || cancelled() {
		return stop()
	}

	// Phase 4: themes. The session is created here so each run dedupes
	// signatures against its own cache; persisted counts are run-local deltas.
	fmt.Printf("Phase 4/6: Extracting themes...\n")
	session := themes.NewSession()
	themeRes := o.extractor.ForSession(session).ExtractAll(runCtx, records, cancelled)
	counters.ThemesExtracted = themeRes.Extracted
	counters.ThemesNew = themeRes.New
	counters.ThemesFiltered = themeRes.Filtered
	counters.ThemesFailed = themeRes.Failed
	if themeRes.Failed > 0 {
		msg := fmt.Sprintf("themes: %d extractions failed", themeRes.Failed)
		runErrors = append(runErrors, msg)
		o.reg.AppendError(runID, msg)
	}
	checkpoint(types.PhaseThemes, records)
	if persisting {
		if err := o.store.UpsertThemes(ctx, session.Snapshot()); err != nil {
			fmt.Printf("Warning: failed to persist themes: %v\n", err)
		}
	}
	o.emitProgress(opts, types.PhaseThemes, runID,
		fmt.Sprintf("Extracted %d themes (%d new, %d filtered)", themeRes.Extracted, themeRes.New, themeRes.Filtered), nil)
	if themeRes.Cancelled || cancelled() {
		return stop()
	}

	// Phase 5: cluster
	fmt.Printf("Phase 5/6: Clustering conversations...\n")
	clusters, leftover := o.engine.Cluster(records)
	allClusters := append(clusters, o.engine.RouteFallback(leftover)...)
	counters.ClustersFormed = len(allClusters)
	checkpoint(types.PhaseCluster, records)
	if persisting {
		if err := o.store.SaveClusters(ctx, runID, allClusters); err != nil {
			fmt.Printf("Warning: failed to persist clusters: %v\n", err)
		}
	}
	if opts.Verbose {
		printer.PrintClusters(allClusters)
	}
	o.emitProgress(opts, types.PhaseCluster, runID,
		fmt.Sprintf("Formed %d clusters (%d from embeddings)", len(allClusters), len(clusters)), nil)
	if cancelled() {
		return stop()
	}

	// Phase 6: work items
	if opts.DryRun || o.items == nil {
		fmt.Printf("Phase 6/6: Previewing work items (dry run)...\n")
		preview := o.buildPreview(session, allClusters)
		_ = o.reg.SetPreview(runID, preview)
		counters.ItemsCreated = len(preview.Titles)
		o.emitProgress(opts, types.PhaseItems, runID,
			fmt.Sprintf("Previewed %d work items, nothing persisted", len(preview.Titles)), preview)
	} else {
		fmt.Printf("Phase 6/6: Creating work items...\n")
		itemRes := o.items.ProcessClusters(runCtx, allClusters, runID, cancelled)
		counters.ItemsCreated = itemRes.ItemsCreated
		counters.OrphansCreated = itemRes.OrphansCreated
		if itemRes.Failed > 0 {
			msg := fmt.Sprintf("items: %d clusters failed", itemRes.Failed)
			runErrors = append(runErrors, msg)
			o.reg.AppendError(runID, msg)
		}
		if itemRes.Cancelled {
			checkpoint(types.PhaseItems, nil)
			return stop()
		}

		// Sweep: orphans whose accumulated count crossed the threshold
		promoted, err := o.items.PromoteReadyOrphans(runCtx, runID)
		if err != nil {
			fmt.Printf("Warning: orphan promotion sweep failed: %v\n", err)
		} else if promoted > 0 {
			if opts.Verbose {
				fmt.Printf("[VERBOSE] Promoted %d accumulated orphans\n", promoted)
			}
			counters.ItemsCreated += promoted
		}
		o.emitProgress(opts, types.PhaseItems, runID,
			fmt.Sprintf("Created %d work items, %d orphans", counters.ItemsCreated, counters.OrphansCreated), nil)
	}
	checkpoint(types.PhaseItems, nil)

	if opts.Verbose {
		if run, ok := o.reg.Get(runID); ok {
			run.Counters = counters
			printer.PrintRunSummary(&run)
		}
	}

	fmt.Printf("Done! Run %d complete.\n", runID)
	return complete()
}

// buildPreview assembles the dry-run view: this run's themes, the clusters
// that formed, and the title each promotable cluster would receive.
func (o *Orchestrator) buildPreview(session *themes.Session, clusters []types.Cluster) *registry.Preview {
	preview := &registry.Preview{
		Clusters: clusters,
		Titles:   make(map[string]string),
	}
	if session != nil {
		preview.Themes = session.Snapshot()
	}
	minSize := clustering.DefaultMinClusterSize
	if o.engine != nil {
		minSize = o.engine.MinClusterSize()
	}
	for i := range clusters {
		c := &clusters[i]
		if c.Fallback || c.Size() < minSize {
			continue
		}
		preview.Titles[c.ID] = workitems.FallbackTitle(c)
	}
	return preview
}

// emitProgress calls the progress callback if configured
func (o *Orchestrator) emitProgress(opts Options, phase string, runID int64, message string, content any) {
	if opts.OnProgress != nil {
		opts.OnProgress(ProgressEvent{
			Phase:   phase,
			Message: message,
			RunID:   runID,
			Content: content,
		})
	}
}
