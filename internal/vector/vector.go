// Package vector implements the scoring primitives for semantic routing:
// cosine similarity, word-boundary keyword matching, and the linear score
// fusion that blends the two.
package vector

import (
	"fmt"
	"math"
)

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value between -1 and 1. A zero-magnitude vector scores 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dotProduct, aMagnitude, bMagnitude float64
	for i := 0; i < len(a); i++ {
		dotProduct += float64(a[i]) * float64(b[i])
		aMagnitude += float64(a[i]) * float64(a[i])
		bMagnitude += float64(b[i]) * float64(b[i])
	}

	if aMagnitude == 0 || bMagnitude == 0 {
		return 0, nil
	}

	return dotProduct / (math.Sqrt(aMagnitude) * math.Sqrt(bMagnitude)), nil
}

// =============================================================================
// SCORE FUSION
// =============================================================================

// Weights holds the blend weights for combining keyword and embedding scores.
type Weights struct {
	Keyword   float64
	Embedding float64
}

// DefaultWeights returns the standard blend: embeddings dominate, keywords
// provide exact-match lift.
func DefaultWeights() Weights {
	return Weights{
		Keyword:   0.3,
		Embedding: 0.7,
	}
}

// Fuse combines a keyword score and an embedding score into one, clamped to
// [0, 1].
func Fuse(keywordScore, embeddingScore float64, w Weights) float64 {
	combined := w.Keyword*keywordScore + w.Embedding*embeddingScore
	if combined < 0 {
		return 0
	}
	if combined > 1 {
		return 1
	}
	return combined
}
