// Package themes derives a normalized signature per conversation and
// deduplicates signatures within a run's session.
package themes

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/support-triage/internal/llm"
	"github.com/jonathan/support-triage/internal/prompts"
	"github.com/jonathan/support-triage/internal/schemas"
	"github.com/jonathan/support-triage/internal/types"
)

const (
	defaultConcurrency = 4
	defaultCallTimeout = 45 * time.Second
	// maxExcerptChars bounds the transcript excerpt in the prompt
	maxExcerptChars = 1500
)

var nonSignatureChars = regexp.MustCompile(`[^a-z0-9_]+`)
var multiUnderscore = regexp.MustCompile(`_{2,}`)

// Extractor derives theme signatures via the LLM and dedupes them in a Session
type Extractor struct {
	client      llm.Client
	session     *Session
	concurrency int
	callTimeout time.Duration
}

// Option configures an Extractor
type Option func(*Extractor)

// WithConcurrency sets the maximum number of in-flight LLM calls
func WithConcurrency(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// New creates an Extractor bound to a session cache. The orchestrator rebinds
// the extractor to a fresh session per run through ForSession.
func New(client llm.Client, session *Session, opts ...Option) *Extractor {
	e := &Extractor{
		client:      client,
		session:     session,
		concurrency: defaultConcurrency,
		callTimeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ForSession returns a copy of the extractor bound to the given session.
// Each run gets its own session so dedupe state and occurrence counts never
// leak across runs.
func (e *Extractor) ForSession(session *Session) *Extractor {
	clone := *e
	clone.session = session
	return &clone
}

// BatchResult summarizes an ExtractAll pass
type BatchResult struct {
	Extracted int
	New       int
	Filtered  int
	Failed    int
	Cancelled bool
}

// ExtractAll extracts themes for classified records in place, concurrently
// within batches. Conversations classified as "other" are filtered rather
// than themed. A failed extraction is logged and counted; the batch continues.
func (e *Extractor) ExtractAll(ctx context.Context, records []types.ConversationRecord, cancelled func() bool) BatchResult {
	var res BatchResult

	var eligible []int
	for i := range records {
		c := records[i].Classification
		if c == nil {
			continue // excluded by an earlier phase failure
		}
		if c.Type == types.TypeOther {
			res.Filtered++
			continue
		}
		eligible = append(eligible, i)
	}

	for start := 0; start < len(eligible); start += e.concurrency {
		if cancelled != nil && cancelled() {
			res.Cancelled = true
			return res
		}

		end := start + e.concurrency
		if end > len(eligible) {
			end = len(eligible)
		}
		batch := eligible[start:end]

		type outcome struct {
			isNew bool
			err   error
		}
		outcomes := make([]outcome, len(batch))

		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(e.concurrency)
		for bi, ri := range batch {
			bi, ri := bi, ri
			g.Go(func() error {
				_, isNew, err := e.Extract(gCtx, &records[ri])
				outcomes[bi] = outcome{isNew: isNew, err: err}
				return nil
			})
		}
		_ = g.Wait()

		for bi, o := range outcomes {
			if o.err != nil {
				log.Printf("theme extraction failed for conversation %s: %v", records[batch[bi]].ID, o.err)
				res.Failed++
				continue
			}
			res.Extracted++
			if o.isNew {
				res.New++
			}
		}
	}
	return res
}

// Extract derives the theme for one conversation and records it in the
// session. Safe to call concurrently; the session guarantees at most one
// entry per signature.
func (e *Extractor) Extract(ctx context.Context, rec *types.ConversationRecord) (types.Theme, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	summary, symptom := classificationContext(rec)
	template := prompts.MustGet("themes.json", "extract-signature")
	prompt := prompts.Format(template, map[string]string{
		"Summary": summary,
		"Symptom": symptom,
		"Excerpt": excerpt(rec.RawText),
	})

	responseText, err := e.client.GenerateJSON(callCtx, prompt, llm.TierLite)
	if err != nil {
		return types.Theme{}, false, fmt.Errorf("failed to generate signature: %w", err)
	}

	var payload struct {
		Signature string `json:"signature"`
		Label     string `json:"label"`
	}
	if err := json.Unmarshal([]byte(responseText), &payload); err != nil {
		return types.Theme{}, false, fmt.Errorf("failed to parse signature JSON: %w", err)
	}

	// The signature is the theme's identity; normalize before validating so a
	// cosmetically off but recoverable response still dedupes correctly
	payload.Signature = NormalizeSignature(payload.Signature)
	if payload.Signature == "" {
		return types.Theme{}, false, fmt.Errorf("empty signature in response")
	}
	normalized, err := json.Marshal(payload)
	if err != nil {
		return types.Theme{}, false, err
	}
	if err := schemas.Validate(schemas.ThemeSignature, string(normalized)); err != nil {
		return types.Theme{}, false, fmt.Errorf("invalid signature payload: %w", err)
	}

	theme, isNew := e.session.Add(payload.Signature, payload.Label, rec.ID)
	rec.Signature = payload.Signature
	return theme, isNew, nil
}

// NormalizeSignature reduces a raw signature to lowercase snake_case.
func NormalizeSignature(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = nonSignatureChars.ReplaceAllString(s, "")
	s = multiUnderscore.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

func classificationContext(rec *types.ConversationRecord) (summary, symptom string) {
	c := rec.Classification
	if c == nil {
		return "", ""
	}
	if c.Stage2 != nil {
		if c.Stage2.Summary != "" {
			summary = c.Stage2.Summary
		}
		symptom = c.Stage2.Symptom
	}
	if summary == "" && c.Stage1 != nil {
		summary = c.Stage1.Summary
	}
	return summary, symptom
}

func excerpt(text string) string {
	if len(text) <= maxExcerptChars {
		return text
	}
	return text[:maxExcerptChars]
}
