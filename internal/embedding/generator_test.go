package embedding

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/support-triage/internal/llm"
	"github.com/jonathan/support-triage/internal/types"
)

// permutingLLM returns vectors whose first component encodes the input index,
// shuffled so results arrive out of input order.
type permutingLLM struct {
	dim     int
	err     error
	badDims map[int]int // input index -> wrong dimension
	calls   int
}

func (p *permutingLLM) EmbedBatch(_ context.Context, texts []string) ([]llm.EmbeddingResult, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}

	dim := p.dim
	if dim == 0 {
		dim = 4
	}

	results := make([]llm.EmbeddingResult, len(texts))
	for i := range texts {
		d := dim
		if wrong, ok := p.badDims[i]; ok {
			d = wrong
		}
		values := make([]float32, d)
		values[0] = float32(i)
		results[i] = llm.EmbeddingResult{Index: i, Values: values}
	}

	rand.Shuffle(len(results), func(i, j int) {
		results[i], results[j] = results[j], results[i]
	})
	return results, nil
}

func (p *permutingLLM) GenerateContent(context.Context, string, llm.ModelTier) (string, error) {
	return "", fmt.Errorf("not scripted")
}

func (p *permutingLLM) GenerateJSON(context.Context, string, llm.ModelTier) (string, error) {
	return "", fmt.Errorf("not scripted")
}

func (p *permutingLLM) GetModel(llm.ModelTier) string { return "fake" }
func (p *permutingLLM) Close() error                  { return nil }

func classifiedRecords(n int) []types.ConversationRecord {
	records := make([]types.ConversationRecord, n)
	for i := range records {
		records[i] = types.ConversationRecord{
			ID:      fmt.Sprintf("c%d", i),
			RawText: fmt.Sprintf("conversation %d", i),
			Classification: &types.ClassificationResult{
				Type:   types.TypeBugReport,
				Stage1: &types.Stage1Result{Summary: fmt.Sprintf("summary %d", i)},
			},
		}
	}
	return records
}

func TestEmbedAll_RestoresOrderFromPermutedResults(t *testing.T) {
	client := &permutingLLM{}
	g := New(client, WithBatchSize(8))

	records := classifiedRecords(20)
	res := g.EmbedAll(context.Background(), records, nil)

	assert.Equal(t, 20, res.Embedded)
	assert.Equal(t, 0, res.Failed)

	// Round-trip property: vector i belongs to conversation i regardless of
	// the order the provider returned results in. Each batch's vectors encode
	// the within-batch index in component 0.
	for i, rec := range records {
		require.NotNil(t, rec.Embedding, "record %d missing embedding", i)
		assert.Equal(t, float32(i%8), rec.Embedding[0], "record %d paired with wrong vector", i)
	}
}

func TestEmbedAll_SkipsUnclassified(t *testing.T) {
	client := &permutingLLM{}
	g := New(client)

	records := classifiedRecords(3)
	records[1].Classification = nil

	res := g.EmbedAll(context.Background(), records, nil)
	assert.Equal(t, 2, res.Embedded)
	assert.Nil(t, records[1].Embedding)
}

// fixedDimLLM returns constant-dimension vectors and holds no mutable state,
// so it is safe for concurrent callers.
type fixedDimLLM struct{ dim int }

func (f *fixedDimLLM) EmbedBatch(_ context.Context, texts []string) ([]llm.EmbeddingResult, error) {
	out := make([]llm.EmbeddingResult, len(texts))
	for i := range texts {
		out[i] = llm.EmbeddingResult{Index: i, Values: make([]float32, f.dim)}
	}
	return out, nil
}

func (f *fixedDimLLM) GenerateContent(context.Context, string, llm.ModelTier) (string, error) {
	return "", fmt.Errorf("not scripted")
}

func (f *fixedDimLLM) GenerateJSON(context.Context, string, llm.ModelTier) (string, error) {
	return "", fmt.Errorf("not scripted")
}

func (f *fixedDimLLM) GetModel(llm.ModelTier) string { return "fake" }
func (f *fixedDimLLM) Close() error                  { return nil }

func TestEmbedAll_ConcurrentRunsShareOneGenerator(t *testing.T) {
	g := New(&fixedDimLLM{dim: 4}, WithBatchSize(3))

	const goroutines = 4
	results := make([]BatchResult, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			records := classifiedRecords(10)
			results[i] = g.EmbedAll(context.Background(), records, nil)
		}()
	}
	wg.Wait()

	// The lazily established dimension is shared state; concurrent passes must
	// all succeed with no spurious mismatch
	for i, res := range results {
		assert.Equal(t, 10, res.Embedded, "pass %d", i)
		assert.Equal(t, 0, res.Failed, "pass %d", i)
	}
}

func TestEmbedAll_DimensionMismatchFailsBatch(t *testing.T) {
	client := &permutingLLM{dim: 4, badDims: map[int]int{2: 7}}
	g := New(client, WithDimension(4))

	records := classifiedRecords(5)
	res := g.EmbedAll(context.Background(), records, nil)

	assert.Equal(t, 0, res.Embedded)
	assert.Equal(t, 5, res.Failed)
	assert.Equal(t, 5, res.FailureCategories[CategoryInvalidInput])
	for _, rec := range records {
		assert.Nil(t, rec.Embedding, "mismatched vectors must never be stored")
	}
}

func TestEmbedAll_ProviderErrorSanitized(t *testing.T) {
	client := &permutingLLM{err: fmt.Errorf("googleapi: Error 429: quota exceeded for key AIzaSyFAKEKEY")}
	g := New(client)

	records := classifiedRecords(3)
	res := g.EmbedAll(context.Background(), records, nil)

	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, 3, res.FailureCategories[CategoryRateLimited])
}

func TestEmbedAll_CancellationBetweenBatches(t *testing.T) {
	client := &permutingLLM{}
	g := New(client, WithBatchSize(2))

	records := classifiedRecords(10)
	polls := 0
	cancelled := func() bool {
		polls++
		return polls > 1
	}

	res := g.EmbedAll(context.Background(), records, cancelled)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 2, res.Embedded)
	assert.Equal(t, 1, client.calls)
}

func TestExcerptFor_PrefersMostFocusedText(t *testing.T) {
	g := New(&permutingLLM{})

	rec := &types.ConversationRecord{
		RawText: "raw transcript",
		Classification: &types.ClassificationResult{
			Stage1: &types.Stage1Result{Summary: "stage1 summary"},
			Stage2: &types.Stage2Result{Summary: "stage2 summary"},
		},
	}
	assert.Equal(t, "stage2 summary", g.excerptFor(rec))

	rec.Classification.Stage2 = nil
	assert.Equal(t, "stage1 summary", g.excerptFor(rec))

	rec.Classification.Stage1 = nil
	assert.Equal(t, "raw transcript", g.excerptFor(rec))
}

func TestExcerptFor_TruncatesDeterministically(t *testing.T) {
	g := New(&permutingLLM{}, WithMaxTextLen(10))

	rec := &types.ConversationRecord{
		RawText:        "a very long transcript that exceeds the cap",
		Classification: &types.ClassificationResult{},
	}
	first := g.excerptFor(rec)
	assert.Len(t, first, 10)
	assert.Equal(t, first, g.excerptFor(rec))
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		msg  string
		want Category
	}{
		{"googleapi: Error 429: rate limit exceeded", CategoryRateLimited},
		{"quota exhausted", CategoryRateLimited},
		{"googleapi: Error 401: invalid API key", CategoryAuthFailed},
		{"rpc error: permission denied", CategoryAuthFailed},
		{"googleapi: Error 400: invalid argument", CategoryInvalidInput},
		{"dimension mismatch: expected 768, got 512", CategoryInvalidInput},
		{"connection reset by peer", CategoryTransient},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(fmt.Errorf("%s", tt.msg)))
		})
	}
}
