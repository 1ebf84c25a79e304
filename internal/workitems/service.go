// Package workitems converts qualifying clusters into persisted work items and
// routes sub-threshold or ambiguous groups to the orphan path for future
// accumulation.
package workitems

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/support-triage/internal/llm"
	"github.com/jonathan/support-triage/internal/prompts"
	"github.com/jonathan/support-triage/internal/types"
)

// Hold reasons recorded on orphans
const (
	ReasonBelowThreshold = "below_threshold"
	ReasonMissingData    = "missing_data"
	ReasonReviewRejected = "review_rejected"
)

// ReviewDecision is the outcome of an external quality gate
type ReviewDecision struct {
	Approved bool
	Reason   string
}

// ReviewHook is an optional external quality gate consulted before promotion.
// A nil hook degrades to direct promotion (fail-open, to preserve pipeline
// throughput), with an observable marker so the absence is detectable.
type ReviewHook interface {
	Review(ctx context.Context, cluster *types.Cluster) (ReviewDecision, error)
}

// Store is the persistence surface the service writes through.
// *db.DB satisfies this.
type Store interface {
	InsertWorkItem(ctx context.Context, item *types.WorkItem) error
	UpsertOrphan(ctx context.Context, orphan *types.Orphan) (types.Orphan, error)
	PromotableOrphans(ctx context.Context, threshold int) ([]types.Orphan, error)
	DeleteOrphan(ctx context.Context, signature string) error
}

// Service creates work items and orphans from clusters
type Service struct {
	store      Store
	client     llm.Client // optional; nil falls back to the deterministic title chain
	hook       ReviewHook // optional
	minMembers int
}

// Option configures a Service
type Option func(*Service)

// WithLLM enables LLM-backed title synthesis
func WithLLM(client llm.Client) Option {
	return func(s *Service) { s.client = client }
}

// WithReviewHook installs the external quality gate
func WithReviewHook(hook ReviewHook) Option {
	return func(s *Service) { s.hook = hook }
}

// New creates a Service with the given promotion threshold
func New(store Store, minMembers int, opts ...Option) *Service {
	s := &Service{store: store, minMembers: minMembers}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result summarizes a ProcessClusters pass
type Result struct {
	ItemsCreated   int
	OrphansCreated int
	Failed         int
	HookAbsent     int
	Cancelled      bool
}

// ProcessClusters routes each cluster to promotion or the orphan path.
// Clusters below the minimum member threshold are never promoted directly;
// they hold so future runs can accumulate more evidence. A failed write is
// logged and counted; the pass continues.
func (s *Service) ProcessClusters(ctx context.Context, clusters []types.Cluster, runID int64, cancelled func() bool) Result {
	var res Result

	for i := range clusters {
		if cancelled != nil && cancelled() {
			res.Cancelled = true
			return res
		}
		cluster := &clusters[i]

		switch {
		case cluster.Fallback:
			if _, err := s.Hold(ctx, cluster, ReasonMissingData); err != nil {
				log.Printf("failed to hold fallback cluster %s: %v", cluster.ID, err)
				res.Failed++
				continue
			}
			res.OrphansCreated++

		case cluster.Size() < s.minMembers:
			if _, err := s.Hold(ctx, cluster, ReasonBelowThreshold); err != nil {
				log.Printf("failed to hold cluster %s: %v", cluster.ID, err)
				res.Failed++
				continue
			}
			res.OrphansCreated++

		default:
			item, held, err := s.promoteWithReview(ctx, cluster, runID, &res)
			if err != nil {
				log.Printf("failed to promote cluster %s: %v", cluster.ID, err)
				res.Failed++
				continue
			}
			if held {
				res.OrphansCreated++
				continue
			}
			_ = item
			res.ItemsCreated++
		}
	}
	return res
}

// promoteWithReview consults the review hook (when present) before promoting.
func (s *Service) promoteWithReview(ctx context.Context, cluster *types.Cluster, runID int64, res *Result) (*types.WorkItem, bool, error) {
	if s.hook == nil {
		// Observable marker: the quality gate is absent, not silently skipped
		log.Printf("review hook absent; promoting cluster %s directly", cluster.ID)
		res.HookAbsent++
	} else {
		decision, err := s.hook.Review(ctx, cluster)
		if err != nil {
			// Fail-open: an unavailable gate never blocks the pipeline
			log.Printf("review hook unavailable for cluster %s, promoting directly: %v", cluster.ID, err)
		} else if !decision.Approved {
			reason := ReasonReviewRejected
			if decision.Reason != "" {
				reason = reason + ": " + decision.Reason
			}
			if _, err := s.Hold(ctx, cluster, reason); err != nil {
				return nil, false, err
			}
			return nil, true, nil
		}
	}

	item, err := s.Promote(ctx, cluster, runID)
	if err != nil {
		return nil, false, err
	}
	return item, false, nil
}

// Promote converts a cluster into a persisted work item.
func (s *Service) Promote(ctx context.Context, cluster *types.Cluster, runID int64) (*types.WorkItem, error) {
	item := &types.WorkItem{
		ID:        uuid.New(),
		Title:     s.titleFor(ctx, cluster),
		ClusterID: cluster.ID,
		MemberIDs: cluster.MemberIDs,
		RunID:     runID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertWorkItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to insert work item: %w", err)
	}
	return item, nil
}

// Hold routes a cluster's conversations to the orphan path, keyed by
// signature. The orphan accumulates members across calls rather than being
// created fresh each time.
func (s *Service) Hold(ctx context.Context, cluster *types.Cluster, reason string) (*types.Orphan, error) {
	signature := cluster.Signature
	if signature == "" {
		signature = cluster.ID
	}
	orphan := &types.Orphan{
		Signature: signature,
		Reason:    reason,
		MemberIDs: cluster.MemberIDs,
		Count:     len(cluster.MemberIDs),
		UpdatedAt: time.Now().UTC(),
	}
	updated, err := s.store.UpsertOrphan(ctx, orphan)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert orphan: %w", err)
	}
	return &updated, nil
}

// PromoteReadyOrphans promotes orphans whose accumulated count crossed the
// threshold. Returns the number of work items created.
func (s *Service) PromoteReadyOrphans(ctx context.Context, runID int64) (int, error) {
	ready, err := s.store.PromotableOrphans(ctx, s.minMembers)
	if err != nil {
		return 0, fmt.Errorf("failed to list promotable orphans: %w", err)
	}

	created := 0
	for i := range ready {
		orphan := &ready[i]
		cluster := &types.Cluster{
			ID:        "sig_" + orphan.Signature,
			Signature: orphan.Signature,
			MemberIDs: orphan.MemberIDs,
			Fallback:  true,
		}
		if _, err := s.Promote(ctx, cluster, runID); err != nil {
			log.Printf("failed to promote orphan %s: %v", orphan.Signature, err)
			continue
		}
		if err := s.store.DeleteOrphan(ctx, orphan.Signature); err != nil {
			log.Printf("failed to delete promoted orphan %s: %v", orphan.Signature, err)
		}
		created++
	}
	return created, nil
}

// titleFor generates the work-item title. When an LLM client is configured
// and the cluster carries enough context, synthesis is attempted first; any
// failure falls back to the deterministic chain.
func (s *Service) titleFor(ctx context.Context, cluster *types.Cluster) string {
	if s.client != nil && (len(cluster.Intents) > 0 || len(cluster.Symptoms) > 0) {
		if title, err := s.synthesizeTitle(ctx, cluster); err == nil && title != "" {
			return title
		}
	}
	return FallbackTitle(cluster)
}

func (s *Service) synthesizeTitle(ctx context.Context, cluster *types.Cluster) (string, error) {
	template := prompts.MustGet("workitems.json", "synthesize-title")
	prompt := prompts.Format(template, map[string]string{
		"ActionType": cluster.ActionType,
		"Direction":  cluster.Direction,
		"Intents":    strings.Join(cluster.Intents, "; "),
		"Symptoms":   strings.Join(cluster.Symptoms, "; "),
	})

	title, err := s.client.GenerateContent(ctx, prompt, llm.TierAdvanced)
	if err != nil {
		return "", err
	}
	title = strings.TrimSpace(strings.Trim(strings.TrimSpace(title), `"`))
	if title == "" || isBareLabel(title, cluster) {
		return "", fmt.Errorf("synthesized title is a bare label")
	}
	return title, nil
}

// FallbackTitle derives a title from cluster facts: specific user intent,
// then symptom plus action, then action plus direction, then action alone.
// A title that is only a bare category label is non-actionable, so the
// cluster id is appended as a disambiguator when the chain bottoms out.
func FallbackTitle(cluster *types.Cluster) string {
	verb := actionVerb(cluster.ActionType)

	if len(cluster.Intents) > 0 {
		return fmt.Sprintf("%s: %s", verb, cluster.Intents[0])
	}
	if len(cluster.Symptoms) > 0 {
		return fmt.Sprintf("%s %s", verb, cluster.Symptoms[0])
	}
	if cluster.Direction != "" && cluster.Direction != "neutral" {
		return fmt.Sprintf("%s %s issues", verb, cluster.Direction)
	}
	if cluster.Signature != "" {
		return fmt.Sprintf("Recurring issue: %s", cluster.Signature)
	}
	// Chain bottomed out: a bare category label with no run-specific context
	// would be non-actionable
	return fmt.Sprintf("%s (%s)", humanizeAction(cluster.ActionType), cluster.ID)
}

func actionVerb(actionType string) string {
	switch actionType {
	case "bug_fix":
		return "Fix"
	case "feature":
		return "Build"
	case "docs":
		return "Document"
	case "config":
		return "Configure"
	case "billing_ops":
		return "Resolve billing issue"
	default:
		return "Investigate"
	}
}

func humanizeAction(actionType string) string {
	switch actionType {
	case "":
		return "Unclassified group"
	default:
		return strings.Title(strings.ReplaceAll(actionType, "_", " ")) //nolint:staticcheck // ASCII labels only
	}
}

// isBareLabel reports whether a title is just the category label restated
func isBareLabel(title string, cluster *types.Cluster) bool {
	normalized := strings.ToLower(strings.TrimSpace(title))
	return normalized == cluster.ActionType ||
		normalized == strings.ReplaceAll(cluster.ActionType, "_", " ")
}
