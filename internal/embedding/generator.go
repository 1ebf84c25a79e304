// Package embedding generates fixed-dimension vectors for classified conversations.
// The provider is treated as unordered: results are re-sorted by their declared
// index before being paired back to conversation ids. Pairing by position
// without that sort would silently corrupt every mapping after the first
// out-of-order response.
package embedding

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/jonathan/support-triage/internal/llm"
	"github.com/jonathan/support-triage/internal/types"
)

const (
	// defaultBatchSize bounds texts per provider call
	defaultBatchSize = 32
	// defaultMaxTextLen caps characters per embedded text
	defaultMaxTextLen = 2000
	// defaultCallTimeout bounds one provider call; exceeding it fails the
	// batch's items, never the run
	defaultCallTimeout = 90 * time.Second
)

// Generator batches conversations to the embedding provider. One Generator
// may serve concurrent runs; the established dimension is the only mutable
// field and sits behind its own mutex.
type Generator struct {
	client      llm.Client
	batchSize   int
	maxTextLen  int
	callTimeout time.Duration

	dimMu     sync.Mutex
	dimension int // expected vector dimension; 0 until first batch establishes it
}

// Option configures a Generator
type Option func(*Generator)

// WithBatchSize sets texts per provider call
func WithBatchSize(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.batchSize = n
		}
	}
}

// WithMaxTextLen sets the per-text character cap
func WithMaxTextLen(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxTextLen = n
		}
	}
}

// WithDimension pins the expected vector dimension up front
func WithDimension(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.dimension = n
		}
	}
}

// New creates a Generator using the given LLM client
func New(client llm.Client, opts ...Option) *Generator {
	g := &Generator{
		client:      client,
		batchSize:   defaultBatchSize,
		maxTextLen:  defaultMaxTextLen,
		callTimeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// BatchResult summarizes an EmbedAll pass
type BatchResult struct {
	Embedded  int
	Failed    int
	Cancelled bool
	// FailureCategories counts sanitized provider error categories
	FailureCategories map[Category]int
}

// EmbedAll embeds classified records in place. Records without a
// classification are skipped (excluded upstream). Cancellation is polled once
// per batch. A failed provider call fails that batch's items with a sanitized
// category and the pass continues.
func (g *Generator) EmbedAll(ctx context.Context, records []types.ConversationRecord, cancelled func() bool) BatchResult {
	res := BatchResult{FailureCategories: make(map[Category]int)}

	// Collect indices of records eligible for embedding
	var eligible []int
	for i := range records {
		if records[i].Classification != nil {
			eligible = append(eligible, i)
		}
	}

	for start := 0; start < len(eligible); start += g.batchSize {
		if cancelled != nil && cancelled() {
			res.Cancelled = true
			return res
		}

		end := start + g.batchSize
		if end > len(eligible) {
			end = len(eligible)
		}
		batch := eligible[start:end]

		texts := make([]string, len(batch))
		for bi, ri := range batch {
			texts[bi] = g.excerptFor(&records[ri])
		}

		vectors, err := g.embedBatch(ctx, texts)
		if err != nil {
			category := Categorize(err)
			log.Printf("embedding batch of %d failed: %s", len(batch), category)
			res.Failed += len(batch)
			res.FailureCategories[category] += len(batch)
			continue
		}

		for bi, ri := range batch {
			records[ri].Embedding = vectors[bi]
		}
		res.Embedded += len(batch)
	}
	return res
}

// embedBatch calls the provider for one batch and restores input order.
func (g *Generator) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	results, err := g.client.EmbedBatch(callCtx, texts)
	if err != nil {
		return nil, err
	}
	if len(results) != len(texts) {
		return nil, fmt.Errorf("result count mismatch: sent %d, got %d", len(texts), len(results))
	}

	// Restore input order before pairing vectors back to texts
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })

	vectors := make([][]float32, len(texts))
	for pos, r := range results {
		if r.Index != pos {
			return nil, fmt.Errorf("index mismatch: expected %d, got %d", pos, r.Index)
		}
		if err := g.checkDimension(r.Values); err != nil {
			return nil, err
		}
		vectors[pos] = r.Values
	}
	return vectors, nil
}

// checkDimension rejects vectors that do not match the established dimension.
// Storing a mismatched vector would corrupt downstream clustering. The first
// vector seen pins the dimension for the process unless WithDimension pinned
// it at construction.
func (g *Generator) checkDimension(values []float32) error {
	if len(values) == 0 {
		return fmt.Errorf("dimension mismatch: empty vector")
	}
	g.dimMu.Lock()
	defer g.dimMu.Unlock()
	if g.dimension == 0 {
		g.dimension = len(values)
		return nil
	}
	if len(values) != g.dimension {
		return fmt.Errorf("dimension mismatch: expected %d, got %d", g.dimension, len(values))
	}
	return nil
}

// excerptFor picks the most semantically focused text available for a record:
// stage-2 summary, then stage-1 summary, then the head of the raw transcript.
func (g *Generator) excerptFor(rec *types.ConversationRecord) string {
	c := rec.Classification
	if c != nil && c.Stage2 != nil && c.Stage2.Summary != "" {
		return truncate(c.Stage2.Summary, g.maxTextLen)
	}
	if c != nil && c.Stage1 != nil && c.Stage1.Summary != "" {
		return truncate(c.Stage1.Summary, g.maxTextLen)
	}
	return truncate(rec.RawText, g.maxTextLen)
}

// truncate cuts text at the cap deterministically
func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit]
}
