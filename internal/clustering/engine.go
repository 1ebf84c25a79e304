// Package clustering groups classified conversations into candidate work-item
// clusters. The clustering key is a composite of an embedding-similarity
// bucket and the categorical facets (action type, direction), which keeps
// clusters semantically coherent and explainable by a human reviewer.
package clustering

import (
	"fmt"
	"math"
	"sort"

	"github.com/jonathan/support-triage/internal/types"
)

const (
	// DefaultBucketWidth is a tuning parameter, not a normative constant;
	// the similarity threshold for joining a bucket is 1 - width
	DefaultBucketWidth = 0.15
	// DefaultMinClusterSize is the member count below which a cluster routes
	// to the orphan path instead of becoming a work item
	DefaultMinClusterSize = 3
)

// Config holds the clustering tuning parameters
type Config struct {
	BucketWidth    float64
	MinClusterSize int
}

// Engine clusters conversations by embedding similarity plus facets
type Engine struct {
	cfg Config
}

// New creates an Engine, applying defaults for unset config values
func New(cfg Config) *Engine {
	if cfg.BucketWidth <= 0 || cfg.BucketWidth >= 1 {
		cfg.BucketWidth = DefaultBucketWidth
	}
	if cfg.MinClusterSize <= 0 {
		cfg.MinClusterSize = DefaultMinClusterSize
	}
	return &Engine{cfg: cfg}
}

// MinClusterSize returns the promotion threshold the engine was built with.
func (e *Engine) MinClusterSize() int {
	return e.cfg.MinClusterSize
}

// bucket is an in-progress similarity bucket within one facet group
type bucket struct {
	index    int
	centroid []float64
	members  []int // indices into the input slice
}

// Cluster groups records that carry both an embedding and facet data.
// Records missing either are returned as fallback records for RouteFallback.
// Each record's ClusterID is set to its assigned cluster.
func (e *Engine) Cluster(records []types.ConversationRecord) ([]types.Cluster, []types.ConversationRecord) {
	threshold := 1 - e.cfg.BucketWidth

	// Partition into eligible facet groups and fallback
	type facetKey struct {
		actionType string
		direction  string
	}
	groups := make(map[facetKey][]int)
	var groupOrder []facetKey
	var fallback []types.ConversationRecord

	for i := range records {
		rec := &records[i]
		actionType := rec.Classification.ActionType()
		direction := rec.Classification.Direction()
		if !rec.HasEmbedding() || actionType == "" || actionType == "none" {
			fallback = append(fallback, *rec)
			continue
		}
		key := facetKey{actionType: actionType, direction: direction}
		if _, seen := groups[key]; !seen {
			groupOrder = append(groupOrder, key)
		}
		groups[key] = append(groups[key], i)
	}

	var clusters []types.Cluster
	nextBucket := 0

	for _, key := range groupOrder {
		indices := groups[key]
		var buckets []*bucket

		for _, ri := range indices {
			vec := toFloat64(records[ri].Embedding)

			var best *bucket
			bestSim := threshold
			for _, b := range buckets {
				if sim := cosineSimilarity(vec, b.centroid); sim >= bestSim {
					best = b
					bestSim = sim
				}
			}

			if best == nil {
				buckets = append(buckets, &bucket{
					index:    nextBucket,
					centroid: vec,
					members:  []int{ri},
				})
				nextBucket++
				continue
			}
			best.members = append(best.members, ri)
			best.centroid = updateCentroid(best.centroid, vec, len(best.members))
		}

		for _, b := range buckets {
			cluster := types.Cluster{
				ID:         clusterID(b.index, key.actionType, key.direction),
				ActionType: key.actionType,
				Direction:  key.direction,
			}
			for _, ri := range b.members {
				rec := &records[ri]
				cluster.MemberIDs = append(cluster.MemberIDs, rec.ID)
				rec.ClusterID = cluster.ID
				if rec.Classification.Stage2 != nil {
					if intent := rec.Classification.Stage2.Intent; intent != "" {
						cluster.Intents = appendUnique(cluster.Intents, intent)
					}
					if symptom := rec.Classification.Stage2.Symptom; symptom != "" {
						cluster.Symptoms = appendUnique(cluster.Symptoms, symptom)
					}
				}
			}
			clusters = append(clusters, cluster)
		}
	}

	return clusters, fallback
}

// RouteFallback groups conversations missing embedding or facet data by their
// pre-existing signature, one cluster per signature. Routing them individually
// would defeat deduplication and cause redundant orphan churn. Conversations
// without a signature are collected under a single unthemed cluster.
func (e *Engine) RouteFallback(records []types.ConversationRecord) []types.Cluster {
	bySignature := make(map[string][]types.ConversationRecord)
	var order []string
	for _, rec := range records {
		sig := rec.Signature
		if sig == "" {
			sig = "unthemed"
		}
		if _, seen := bySignature[sig]; !seen {
			order = append(order, sig)
		}
		bySignature[sig] = append(bySignature[sig], rec)
	}
	sort.Strings(order)

	clusters := make([]types.Cluster, 0, len(order))
	for _, sig := range order {
		cluster := types.Cluster{
			ID:        "sig_" + sig,
			Signature: sig,
			Fallback:  true,
		}
		for _, rec := range bySignature[sig] {
			cluster.MemberIDs = append(cluster.MemberIDs, rec.ID)
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

// clusterID derives the composite cluster id from bucket index and facets
func clusterID(bucketIndex int, actionType, direction string) string {
	id := fmt.Sprintf("emb_%d_facet_%s", bucketIndex, actionType)
	if direction != "" && direction != "neutral" {
		id += "_" + direction
	}
	return id
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Returns 0 for zero-length or mismatched vectors.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// updateCentroid folds a new member vector into a running mean
func updateCentroid(centroid, vec []float64, n int) []float64 {
	out := make([]float64, len(centroid))
	for i := range centroid {
		out[i] = centroid[i] + (vec[i]-centroid[i])/float64(n)
	}
	return out
}

func toFloat64(values []float32) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
