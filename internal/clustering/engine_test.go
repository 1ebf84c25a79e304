package clustering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/support-triage/internal/types"
)

func record(id string, embedding []float32, actionType, direction, signature string) types.ConversationRecord {
	rec := types.ConversationRecord{
		ID:        id,
		Embedding: embedding,
		Signature: signature,
		Classification: &types.ClassificationResult{
			Type: types.TypeBugReport,
		},
	}
	if actionType != "" || direction != "" {
		rec.Classification.Stage2 = &types.Stage2Result{
			ActionType: actionType,
			Direction:  direction,
		}
	}
	return rec
}

func TestCluster_GroupsSimilarEmbeddingsWithSameFacets(t *testing.T) {
	e := New(Config{BucketWidth: 0.15})

	records := []types.ConversationRecord{
		record("c1", []float32{1, 0, 0}, "bug_fix", "inbound", "sig_a"),
		record("c2", []float32{0.99, 0.05, 0}, "bug_fix", "inbound", "sig_a"),
		record("c3", []float32{0, 1, 0}, "bug_fix", "inbound", "sig_b"),
	}

	clusters, fallback := e.Cluster(records)
	require.Empty(t, fallback)
	require.Len(t, clusters, 2)

	assert.ElementsMatch(t, []string{"c1", "c2"}, clusters[0].MemberIDs)
	assert.ElementsMatch(t, []string{"c3"}, clusters[1].MemberIDs)

	// Records carry their assigned cluster id
	assert.Equal(t, clusters[0].ID, records[0].ClusterID)
	assert.Equal(t, clusters[0].ID, records[1].ClusterID)
	assert.Equal(t, clusters[1].ID, records[2].ClusterID)
}

func TestCluster_FacetsSplitIdenticalEmbeddings(t *testing.T) {
	e := New(Config{})

	records := []types.ConversationRecord{
		record("c1", []float32{1, 0, 0}, "bug_fix", "inbound", ""),
		record("c2", []float32{1, 0, 0}, "feature", "inbound", ""),
		record("c3", []float32{1, 0, 0}, "bug_fix", "outbound", ""),
	}

	clusters, fallback := e.Cluster(records)
	require.Empty(t, fallback)
	assert.Len(t, clusters, 3, "different facets never share a cluster")
}

func TestCluster_RoutesMissingDataToFallback(t *testing.T) {
	e := New(Config{})

	records := []types.ConversationRecord{
		record("c1", []float32{1, 0, 0}, "bug_fix", "inbound", ""),
		record("c2", nil, "bug_fix", "inbound", "sig_a"),        // no embedding
		record("c3", []float32{0, 1, 0}, "", "", "sig_a"),       // no facets
		record("c4", []float32{0, 0, 1}, "none", "neutral", ""), // action "none" is not a facet
	}

	clusters, fallback := e.Cluster(records)
	assert.Len(t, clusters, 1)
	require.Len(t, fallback, 3)
	assert.Equal(t, "c2", fallback[0].ID)
	assert.Equal(t, "c3", fallback[1].ID)
	assert.Equal(t, "c4", fallback[2].ID)
}

func TestCluster_IDEncodesBucketAndFacets(t *testing.T) {
	e := New(Config{})

	records := []types.ConversationRecord{
		record("c1", []float32{1, 0, 0}, "bug_fix", "neutral", ""),
		record("c2", []float32{0, 1, 0}, "bug_fix", "inbound", ""),
	}

	clusters, _ := e.Cluster(records)
	require.Len(t, clusters, 2)
	assert.Equal(t, "emb_0_facet_bug_fix", clusters[0].ID, "neutral direction is omitted")
	assert.Equal(t, "emb_1_facet_bug_fix_inbound", clusters[1].ID)
}

func TestCluster_CollectsIntentsAndSymptoms(t *testing.T) {
	e := New(Config{})

	records := []types.ConversationRecord{
		record("c1", []float32{1, 0, 0}, "bug_fix", "inbound", ""),
		record("c2", []float32{1, 0, 0}, "bug_fix", "inbound", ""),
	}
	records[0].Classification.Stage2.Intent = "export data"
	records[0].Classification.Stage2.Symptom = "timeout"
	records[1].Classification.Stage2.Intent = "export data" // duplicate
	records[1].Classification.Stage2.Symptom = "hang"

	clusters, _ := e.Cluster(records)
	require.Len(t, clusters, 1)
	assert.Equal(t, []string{"export data"}, clusters[0].Intents)
	assert.ElementsMatch(t, []string{"timeout", "hang"}, clusters[0].Symptoms)
}

func TestRouteFallback_GroupsBySignature(t *testing.T) {
	e := New(Config{})

	records := []types.ConversationRecord{
		record("c1", nil, "", "", "export_csv_timeout"),
		record("c2", nil, "", "", "export_csv_timeout"),
		record("c3", nil, "", "", "login_redirect_loop"),
	}

	clusters := e.RouteFallback(records)
	require.Len(t, clusters, 2, "one routing group per signature, not per conversation")

	byID := make(map[string]types.Cluster)
	for _, c := range clusters {
		byID[c.ID] = c
	}

	exportCluster, ok := byID["sig_export_csv_timeout"]
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"c1", "c2"}, exportCluster.MemberIDs)
	assert.True(t, exportCluster.Fallback)

	loginCluster, ok := byID["sig_login_redirect_loop"]
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"c3"}, loginCluster.MemberIDs)
}

func TestRouteFallback_UnthemedCollected(t *testing.T) {
	e := New(Config{})

	records := []types.ConversationRecord{
		record("c1", nil, "", "", ""),
		record("c2", nil, "", "", ""),
	}

	clusters := e.RouteFallback(records)
	require.Len(t, clusters, 1)
	assert.Equal(t, "sig_unthemed", clusters[0].ID)
	assert.ElementsMatch(t, []string{"c1", "c2"}, clusters[0].MemberIDs)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float64{1, 0}, []float64{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float64{1, 0}, []float64{1}), "mismatched lengths")
	assert.Equal(t, 0.0, cosineSimilarity([]float64{0, 0}, []float64{0, 0}), "zero vectors")
}

func TestNew_AppliesDefaults(t *testing.T) {
	e := New(Config{})
	assert.Equal(t, DefaultMinClusterSize, e.MinClusterSize())

	e = New(Config{MinClusterSize: 5})
	assert.Equal(t, 5, e.MinClusterSize())
}
