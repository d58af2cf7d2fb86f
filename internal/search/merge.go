package search

import (
	"sort"

	"github.com/maxp/memexpert/internal/index"
)

// normalizeHits min-max normalizes backend scores into [0, 1] so the two
// backends become comparable. A list where every score is equal (including a
// single hit) maps everything to 1.0; rank order within the backend is what
// matters, not the raw magnitudes.
func normalizeHits(hits []index.Hit) map[string]float64 {
	if len(hits) == 0 {
		return map[string]float64{}
	}

	min, max := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		if h.Score < min {
			min = h.Score
		}
		if h.Score > max {
			max = h.Score
		}
	}

	out := make(map[string]float64, len(hits))
	for _, h := range hits {
		if max == min {
			out[h.ID] = 1.0
			continue
		}
		out[h.ID] = (h.Score - min) / (max - min)
	}
	return out
}

// mergeHits combines two ranked lists into one. Each id appears once; its
// combined score is the weighted sum of its normalized per-backend scores,
// with absence from a backend contributing zero. The result is sorted by
// combined score descending; equal scores keep a stable id order here and
// are re-broken by recency after enrichment.
func mergeHits(text, vector []index.Hit, textWeight, vectorWeight float64) []index.Hit {
	textScores := normalizeHits(text)
	vectorScores := normalizeHits(vector)

	combined := make(map[string]float64, len(textScores)+len(vectorScores))
	for id, s := range textScores {
		combined[id] += textWeight * s
	}
	for id, s := range vectorScores {
		combined[id] += vectorWeight * s
	}

	merged := make([]index.Hit, 0, len(combined))
	for id, score := range combined {
		merged = append(merged, index.Hit{ID: id, Score: score})
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ID < merged[j].ID
	})
	return merged
}
