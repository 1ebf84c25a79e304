// Package classify runs the two-phase LLM classification of support conversations.
// Stage 1 is a fast triage over the transcript; stage 2 runs a deeper analysis
// only when support-side messages exist, fed the triage output plus a
// pattern-matched resolution signal.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/support-triage/internal/llm"
	"github.com/jonathan/support-triage/internal/prompts"
	"github.com/jonathan/support-triage/internal/schemas"
	"github.com/jonathan/support-triage/internal/types"
)

const (
	// defaultConcurrency caps simultaneous in-flight LLM calls to stay
	// under provider rate limits
	defaultConcurrency = 4
	// defaultCallTimeout bounds a single classification call; exceeding it
	// is a per-item failure, not a run-level abort
	defaultCallTimeout = 60 * time.Second
	// maxTranscriptChars bounds prompt size for very long conversations
	maxTranscriptChars = 8000
)

// Classifier runs the two-stage classification with bounded concurrency
type Classifier struct {
	client      llm.Client
	concurrency int
	callTimeout time.Duration
}

// Option configures a Classifier
type Option func(*Classifier)

// WithConcurrency sets the maximum number of in-flight LLM calls
func WithConcurrency(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithCallTimeout sets the per-conversation call timeout
func WithCallTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// New creates a Classifier using the given LLM client
func New(client llm.Client, opts ...Option) *Classifier {
	c := &Classifier{
		client:      client,
		concurrency: defaultConcurrency,
		callTimeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BatchResult summarizes a ClassifyAll pass
type BatchResult struct {
	Classified int
	Failed     int
	Cancelled  bool
}

// ClassifyAll classifies records in place with bounded concurrency.
// The cancelled callable is polled once per batch; an observed cancellation
// lets in-flight calls finish and starts no further batches. A failed
// conversation is logged, counted, and left without a classification so
// downstream phases exclude it; it never aborts the batch.
func (c *Classifier) ClassifyAll(ctx context.Context, records []types.ConversationRecord, cancelled func() bool) BatchResult {
	var res BatchResult

	for start := 0; start < len(records); start += c.concurrency {
		if cancelled != nil && cancelled() {
			res.Cancelled = true
			return res
		}

		end := start + c.concurrency
		if end > len(records) {
			end = len(records)
		}

		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(c.concurrency)

		outcomes := make([]error, end-start)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				result, err := c.Classify(gCtx, &records[i])
				if err != nil {
					outcomes[i-start] = err
					return nil // per-item failures never escalate
				}
				records[i].Classification = result
				return nil
			})
		}
		_ = g.Wait()

		for i, err := range outcomes {
			if err != nil {
				log.Printf("classification failed for conversation %s: %v", records[start+i].ID, err)
				res.Failed++
			} else {
				res.Classified++
			}
		}
	}
	return res
}

// Classify runs both stages for one conversation. The returned result always
// carries stage 1; stage 2 is present only when support-side messages exist.
func (c *Classifier) Classify(ctx context.Context, rec *types.ConversationRecord) (*types.ClassificationResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	stage1, err := c.classifyStage1(callCtx, rec)
	if err != nil {
		return nil, fmt.Errorf("stage 1 failed: %w", err)
	}

	result := &types.ClassificationResult{
		Type:       stage1.Type,
		Confidence: stage1.Confidence,
		Stage1:     stage1,
	}

	supportMessages := rec.SupportMessages()
	if len(supportMessages) == 0 {
		return result, nil
	}

	rec.Resolution = DetectResolution(rec.Messages)

	stage2, err := c.classifyStage2(callCtx, rec, stage1)
	if err != nil {
		return nil, fmt.Errorf("stage 2 failed: %w", err)
	}
	result.Stage2 = stage2

	return result, nil
}

// classifyStage1 runs the fast triage stage
func (c *Classifier) classifyStage1(ctx context.Context, rec *types.ConversationRecord) (*types.Stage1Result, error) {
	template := prompts.MustGet("classification.json", "stage1-triage")
	prompt := prompts.Format(template, map[string]string{
		"Conversation": truncateTranscript(rec.RawText),
	})

	responseText, err := c.client.GenerateJSON(ctx, prompt, llm.TierLite)
	if err != nil {
		return nil, fmt.Errorf("failed to generate triage: %w", err)
	}

	var stage1 types.Stage1Result
	if err := json.Unmarshal([]byte(responseText), &stage1); err != nil {
		return nil, fmt.Errorf("failed to parse triage JSON: %w", err)
	}

	// The provider occasionally omits or mangles fields; schema-invalid but
	// parseable output degrades to defined fallbacks instead of failing
	if err := schemas.Validate(schemas.Stage1Classification, responseText); err != nil {
		var ve *schemas.ValidationError
		if !errors.As(err, &ve) {
			return nil, err
		}
		applyStage1Fallbacks(&stage1)
	}

	return &stage1, nil
}

// classifyStage2 runs the deep analysis stage
func (c *Classifier) classifyStage2(ctx context.Context, rec *types.ConversationRecord, stage1 *types.Stage1Result) (*types.Stage2Result, error) {
	template := prompts.MustGet("classification.json", "stage2-deep")
	prompt := prompts.Format(template, map[string]string{
		"Type":         string(stage1.Type),
		"Summary":      stage1.Summary,
		"Resolution":   string(rec.Resolution),
		"Conversation": truncateTranscript(rec.RawText),
	})

	responseText, err := c.client.GenerateJSON(ctx, prompt, llm.TierStandard)
	if err != nil {
		return nil, fmt.Errorf("failed to generate deep analysis: %w", err)
	}

	var stage2 types.Stage2Result
	if err := json.Unmarshal([]byte(responseText), &stage2); err != nil {
		return nil, fmt.Errorf("failed to parse deep analysis JSON: %w", err)
	}

	if err := schemas.Validate(schemas.Stage2Classification, responseText); err != nil {
		var ve *schemas.ValidationError
		if !errors.As(err, &ve) {
			return nil, err
		}
		applyStage2Fallbacks(&stage2)
	}

	return &stage2, nil
}

// applyStage1Fallbacks fills schema-invalid stage-1 fields with defined defaults
func applyStage1Fallbacks(s *types.Stage1Result) {
	switch s.Type {
	case types.TypeBugReport, types.TypeFeatureRequest, types.TypeHowTo, types.TypeBilling, types.TypeOther:
	default:
		s.Type = types.TypeOther
	}
	if s.Confidence < 0 {
		s.Confidence = 0
	}
	if s.Confidence > 1 {
		s.Confidence = 1
	}
}

// applyStage2Fallbacks fills schema-invalid stage-2 facets with neutral defaults
func applyStage2Fallbacks(s *types.Stage2Result) {
	switch s.ActionType {
	case "bug_fix", "feature", "docs", "config", "billing_ops", "none":
	default:
		s.ActionType = "none"
	}
	switch s.Direction {
	case "inbound", "outbound", "internal", "neutral":
	default:
		s.Direction = "neutral"
	}
}

// truncateTranscript bounds transcript length deterministically, keeping the head
func truncateTranscript(text string) string {
	if len(text) <= maxTranscriptChars {
		return text
	}
	truncated := text[:maxTranscriptChars]
	// Cut at the last line boundary so the prompt never ends mid-word
	if idx := strings.LastIndex(truncated, "\n"); idx > maxTranscriptChars/2 {
		truncated = truncated[:idx]
	}
	return truncated
}
