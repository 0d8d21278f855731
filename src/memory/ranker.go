package memory

import (
	"math"
	"sort"
)

// rankEntries scores candidates against the query vector and returns the
// top-k by descending similarity, ties broken by recency. Candidates whose
// stored dimension does not match the query vector were written by an
// earlier engine; they are skipped, not an error.
func rankEntries(query []float32, candidates []SearchResult, topK int) []SearchResult {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}

	scored := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Entry.Embedding) != len(query) {
			continue
		}
		c.Score = cosineSimilarity(query, c.Entry.Embedding)
		if c.Score <= scoreThreshold {
			continue
		}
		scored = append(scored, c)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Entry.CreatedAt.After(scored[j].Entry.CreatedAt)
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
