package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/support-triage/internal/classify"
	"github.com/jonathan/support-triage/internal/clustering"
	"github.com/jonathan/support-triage/internal/embedding"
	"github.com/jonathan/support-triage/internal/ingest"
	"github.com/jonathan/support-triage/internal/llm"
	"github.com/jonathan/support-triage/internal/registry"
	"github.com/jonathan/support-triage/internal/themes"
	"github.com/jonathan/support-triage/internal/types"
	"github.com/jonathan/support-triage/internal/workitems"
)

// scriptedLLM answers each prompt kind with canned valid output. Conversations
// whose transcript contains a failing marker get a provider error on stage-1.
type scriptedLLM struct {
	failClassify map[string]bool // conversation marker -> fail stage 1
}

func (s *scriptedLLM) GenerateJSON(_ context.Context, prompt string, _ llm.ModelTier) (string, error) {
	switch {
	case strings.Contains(prompt, "triage assistant"):
		for marker := range s.failClassify {
			if strings.Contains(prompt, marker) {
				return "", fmt.Errorf("provider error")
			}
		}
		return `{"type": "bug_report", "confidence": 0.9, "summary": "exports hang", "keywords": ["export"]}`, nil
	case strings.Contains(prompt, "senior support engineer"):
		return `{"intent": "export data", "symptom": "timeout", "action_type": "bug_fix", "direction": "inbound", "summary": "CSV exports time out.", "components": ["export"]}`, nil
	case strings.Contains(prompt, "theme normalizer"):
		return `{"signature": "export_csv_timeout", "label": "CSV export times out"}`, nil
	}
	return "", fmt.Errorf("unexpected prompt")
}

func (s *scriptedLLM) GenerateContent(context.Context, string, llm.ModelTier) (string, error) {
	return "Fix CSV export timeouts for large datasets", nil
}

func (s *scriptedLLM) EmbedBatch(_ context.Context, texts []string) ([]llm.EmbeddingResult, error) {
	out := make([]llm.EmbeddingResult, len(texts))
	for i := range texts {
		out[i] = llm.EmbeddingResult{Index: i, Values: []float32{1, 0, 0}}
	}
	return out, nil
}

func (s *scriptedLLM) GetModel(llm.ModelTier) string { return "fake" }
func (s *scriptedLLM) Close() error                  { return nil }

// fakeSource serves a fixed set of conversations
type fakeSource struct {
	records []types.ConversationRecord
	err     error
}

func (f *fakeSource) FetchBatch(context.Context, int) ([]types.ConversationRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]types.ConversationRecord, len(f.records))
	copy(out, f.records)
	return out, nil
}

// memStore records every persistence call so tests can assert phase boundaries
type memStore struct {
	mu          sync.Mutex
	created     []int64
	progress    []string // phases in checkpoint order
	enrichments int
	themes      [][]types.Theme
	clusters    []types.Cluster
	finalStatus types.RunStatus
	finalErrors []string
}

func (m *memStore) CreateRun(_ context.Context, runID int64, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, runID)
	return nil
}

func (m *memStore) UpdateRunProgress(_ context.Context, _ int64, phase string, _ types.PhaseCounters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = append(m.progress, phase)
	return nil
}

func (m *memStore) CompleteRun(_ context.Context, _ int64, status types.RunStatus, _ types.PhaseCounters, errs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalStatus = status
	m.finalErrors = errs
	return nil
}

func (m *memStore) SaveEnrichment(_ context.Context, _ []types.ConversationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrichments++
	return nil
}

func (m *memStore) UpsertThemes(_ context.Context, t []types.Theme) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.themes = append(m.themes, t)
	return nil
}

func (m *memStore) SaveClusters(_ context.Context, _ int64, clusters []types.Cluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clusters = append(m.clusters, clusters...)
	return nil
}

// itemsStore is an in-memory workitems.Store
type itemsStore struct {
	mu      sync.Mutex
	items   []types.WorkItem
	orphans map[string]types.Orphan
}

func newItemsStore() *itemsStore {
	return &itemsStore{orphans: make(map[string]types.Orphan)}
}

func (s *itemsStore) InsertWorkItem(_ context.Context, item *types.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, *item)
	return nil
}

func (s *itemsStore) UpsertOrphan(_ context.Context, orphan *types.Orphan) (types.Orphan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.orphans[orphan.Signature]
	if ok {
		existing.Count += orphan.Count
		existing.MemberIDs = append(existing.MemberIDs, orphan.MemberIDs...)
		s.orphans[orphan.Signature] = existing
		return existing, nil
	}
	s.orphans[orphan.Signature] = *orphan
	return *orphan, nil
}

func (s *itemsStore) PromotableOrphans(_ context.Context, threshold int) ([]types.Orphan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Orphan
	for _, o := range s.orphans {
		if o.Count >= threshold {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *itemsStore) DeleteOrphan(_ context.Context, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orphans, signature)
	return nil
}

func conversation(id string) types.ConversationRecord {
	return types.ConversationRecord{
		ID:      id,
		Subject: "Export broken",
		RawText: fmt.Sprintf("User: conversation %s, my CSV exports hang forever", id),
		Messages: []types.Message{
			{ID: id + "-1", Body: fmt.Sprintf("conversation %s, my CSV exports hang forever", id)},
			{ID: id + "-2", Body: "We reproduced it, a fix is deployed.", FromSupport: true},
		},
	}
}

type testHarness struct {
	orch  *Orchestrator
	reg   *registry.Registry
	store *memStore
	items *itemsStore
}

func newHarness(source ingest.Source, client llm.Client) *testHarness {
	reg := registry.New(10)
	store := &memStore{}
	items := newItemsStore()
	engine := clustering.New(clustering.Config{})

	orch := New(Deps{
		Source:     source,
		Store:      store,
		Registry:   reg,
		Classifier: classify.New(client, classify.WithConcurrency(2)),
		Embedder:   embedding.New(client),
		Extractor:  themes.New(client, themes.NewSession(), themes.WithConcurrency(2)),
		Engine:     engine,
		Items:      workitems.New(items, engine.MinClusterSize()),
	})
	return &testHarness{orch: orch, reg: reg, store: store, items: items}
}

func TestRun_PartialClassifyFailuresStillComplete(t *testing.T) {
	records := make([]types.ConversationRecord, 10)
	for i := range records {
		records[i] = conversation(fmt.Sprintf("c%d", i))
	}
	client := &scriptedLLM{failClassify: map[string]bool{
		"conversation c8,": true,
		"conversation c9,": true,
	}}
	h := newHarness(&fakeSource{records: records}, client)

	runID, err := h.reg.Register(false)
	require.NoError(t, err)
	require.NoError(t, h.orch.Run(context.Background(), runID, Options{FetchLimit: 100}))

	run, ok := h.reg.Get(runID)
	require.True(t, ok)
	assert.Equal(t, types.RunCompleted, run.Status)
	assert.Equal(t, 10, run.Counters.Fetched)
	assert.Equal(t, 8, run.Counters.Classified)
	assert.Equal(t, 2, run.Counters.ClassifyFailed)
	assert.Equal(t, 8, run.Counters.Embedded)
	assert.Contains(t, run.Errors, "classify: 2 conversations failed")

	// The 8 classified conversations share one embedding bucket and facets;
	// the 2 failures route through the unthemed fallback cluster
	assert.Equal(t, 2, run.Counters.ClustersFormed)
	assert.Equal(t, 1, run.Counters.ItemsCreated)
	assert.Equal(t, 1, run.Counters.OrphansCreated)

	require.Len(t, h.items.items, 1)
	assert.Len(t, h.items.items[0].MemberIDs, 8)
	assert.Equal(t, types.RunCompleted, h.store.finalStatus)
	require.Len(t, h.store.themes, 1)
	require.Len(t, h.store.themes[0], 1)
	assert.Equal(t, "export_csv_timeout", h.store.themes[0][0].Signature)
}

func TestRun_StopAfterClassifyWritesNothingDownstream(t *testing.T) {
	records := make([]types.ConversationRecord, 4)
	for i := range records {
		records[i] = conversation(fmt.Sprintf("c%d", i))
	}
	h := newHarness(&fakeSource{records: records}, &scriptedLLM{})

	runID, err := h.reg.Register(false)
	require.NoError(t, err)

	opts := Options{
		FetchLimit: 100,
		OnProgress: func(event ProgressEvent) {
			if event.Phase == types.PhaseClassify {
				require.NoError(t, h.reg.Stop(runID))
			}
		},
	}
	require.NoError(t, h.orch.Run(context.Background(), runID, opts))

	run, _ := h.reg.Get(runID)
	assert.Equal(t, types.RunStopped, run.Status)
	assert.Equal(t, types.RunStopped, h.store.finalStatus)

	assert.Equal(t, []string{types.PhaseFetch, types.PhaseClassify}, h.store.progress)
	assert.Empty(t, h.store.themes, "no theme writes after the stop point")
	assert.Empty(t, h.store.clusters, "no cluster writes after the stop point")
	assert.Empty(t, h.items.items)
	assert.Equal(t, 0, run.Counters.Embedded)
}

func TestRun_FetchErrorFailsRun(t *testing.T) {
	h := newHarness(&fakeSource{err: fmt.Errorf("store unreachable")}, &scriptedLLM{})

	runID, err := h.reg.Register(false)
	require.NoError(t, err)

	err = h.orch.Run(context.Background(), runID, Options{})
	require.Error(t, err)

	run, _ := h.reg.Get(runID)
	assert.Equal(t, types.RunFailed, run.Status)
	require.NotEmpty(t, run.Errors)
	assert.Contains(t, run.Errors[0], "store unreachable")
	assert.Equal(t, types.RunFailed, h.store.finalStatus)
}

func TestRun_EmptyFetchCompletesImmediately(t *testing.T) {
	h := newHarness(&fakeSource{}, &scriptedLLM{})

	runID, err := h.reg.Register(false)
	require.NoError(t, err)
	require.NoError(t, h.orch.Run(context.Background(), runID, Options{}))

	run, _ := h.reg.Get(runID)
	assert.Equal(t, types.RunCompleted, run.Status)
	assert.Equal(t, 0, run.Counters.Fetched)
	assert.Empty(t, h.items.items)
}

func TestRun_DryRunPersistsNothing(t *testing.T) {
	records := make([]types.ConversationRecord, 5)
	for i := range records {
		records[i] = conversation(fmt.Sprintf("c%d", i))
	}
	h := newHarness(&fakeSource{records: records}, &scriptedLLM{})

	runID, err := h.reg.Register(true)
	require.NoError(t, err)
	require.NoError(t, h.orch.Run(context.Background(), runID, Options{DryRun: true}))

	run, _ := h.reg.Get(runID)
	assert.Equal(t, types.RunCompleted, run.Status)

	// Nothing touched persistence
	assert.Empty(t, h.store.created)
	assert.Empty(t, h.store.progress)
	assert.Empty(t, h.store.themes)
	assert.Empty(t, h.store.clusters)
	assert.Empty(t, h.items.items)

	// The preview carries the clusters and would-be titles
	preview, ok := h.reg.GetPreview(runID)
	require.True(t, ok)
	require.NotEmpty(t, preview.Clusters)
	require.Len(t, preview.Titles, 1)
	for _, title := range preview.Titles {
		assert.Equal(t, "Fix: export data", title)
	}
	assert.Equal(t, 1, run.Counters.ItemsCreated)
}

func TestRun_ThemeDedupeIsScopedToOneRun(t *testing.T) {
	records := make([]types.ConversationRecord, 3)
	for i := range records {
		records[i] = conversation(fmt.Sprintf("c%d", i))
	}
	h := newHarness(&fakeSource{records: records}, &scriptedLLM{})

	firstID, err := h.reg.Register(false)
	require.NoError(t, err)
	require.NoError(t, h.orch.Run(context.Background(), firstID, Options{FetchLimit: 100}))

	secondID, err := h.reg.Register(false)
	require.NoError(t, err)
	require.NoError(t, h.orch.Run(context.Background(), secondID, Options{FetchLimit: 100}))

	// The second run must not see the first run's signatures as pre-existing
	second, ok := h.reg.Get(secondID)
	require.True(t, ok)
	assert.Equal(t, 1, second.Counters.ThemesNew)

	// Each run persists its own occurrence count, never an accumulated total;
	// the store is what adds deltas across runs
	require.Len(t, h.store.themes, 2)
	for _, upserted := range h.store.themes {
		require.Len(t, upserted, 1)
		assert.Equal(t, "export_csv_timeout", upserted[0].Signature)
		assert.Equal(t, 3, upserted[0].Count)
	}
}

func TestRun_DryRunPreviewThemesAreRunLocal(t *testing.T) {
	records := []types.ConversationRecord{conversation("c1"), conversation("c2")}
	h := newHarness(&fakeSource{records: records}, &scriptedLLM{})

	firstID, err := h.reg.Register(true)
	require.NoError(t, err)
	require.NoError(t, h.orch.Run(context.Background(), firstID, Options{DryRun: true}))

	secondID, err := h.reg.Register(true)
	require.NoError(t, err)
	require.NoError(t, h.orch.Run(context.Background(), secondID, Options{DryRun: true}))

	preview, ok := h.reg.GetPreview(secondID)
	require.True(t, ok)
	require.Len(t, preview.Themes, 1)
	assert.Equal(t, 2, preview.Themes[0].Count, "preview carries this run's occurrences only")
}

func TestStart_RunsInBackground(t *testing.T) {
	records := []types.ConversationRecord{conversation("c1")}
	h := newHarness(&fakeSource{records: records}, &scriptedLLM{})

	runID, err := h.orch.Start(context.Background(), Options{FetchLimit: 10})
	require.NoError(t, err)

	// Poll until the background run reaches a terminal state
	for i := 0; i < 200; i++ {
		if run, ok := h.reg.Get(runID); ok && run.Status.Terminal() {
			assert.Equal(t, types.RunCompleted, run.Status)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run never reached a terminal state")
}
