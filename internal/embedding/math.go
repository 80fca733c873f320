package embedding

import (
	"fmt"
	"math"

	"rankscope/internal/logging"
)

// =============================================================================
// COSINE GEOMETRY
// =============================================================================

// Cosine calculates the raw cosine similarity between two vectors in [-1,1].
// Zero-magnitude vectors yield 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		aMag += float64(a[i]) * float64(a[i])
		bMag += float64(b[i]) * float64(b[i])
	}

	if aMag == 0 || bMag == 0 {
		logging.EmbeddingWarn("cosine: zero magnitude vector")
		return 0, nil
	}

	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}

// Similarity maps cosine similarity into [0,1]: (cos+1)/2. All scoring and
// gap math runs on this mapped form.
func Similarity(a, b []float32) (float64, error) {
	cos, err := Cosine(a, b)
	if err != nil {
		return 0, err
	}
	return (cos + 1) / 2, nil
}

// SimilarityMatrix computes the full pairwise [0,1] similarity matrix.
// The diagonal is 1 by construction for unit vectors.
func SimilarityMatrix(vecs [][]float32) ([][]float64, error) {
	n := len(vecs)
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
		m[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s, err := Similarity(vecs[i], vecs[j])
			if err != nil {
				return nil, fmt.Errorf("matrix entry (%d,%d): %w", i, j, err)
			}
			m[i][j] = s
			m[j][i] = s
		}
	}
	return m, nil
}

// Normalize scales v to unit L2 norm in place. Zero vectors are left alone.
func Normalize(v []float32) {
	var mag float64
	for _, x := range v {
		mag += float64(x) * float64(x)
	}
	mag = math.Sqrt(mag)
	if mag == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / mag)
	}
}

// IsUnit reports whether v has unit L2 norm within tol.
func IsUnit(v []float32, tol float64) bool {
	var mag float64
	for _, x := range v {
		mag += float64(x) * float64(x)
	}
	return math.Abs(math.Sqrt(mag)-1) <= tol
}

// Centroid returns the normalized mean of the given vectors.
func Centroid(vecs [][]float32) ([]float32, error) {
	if len(vecs) == 0 {
		return nil, fmt.Errorf("centroid of empty set")
	}
	dim := len(vecs[0])
	sum := make([]float64, dim)
	for _, v := range vecs {
		if len(v) != dim {
			return nil, fmt.Errorf("dimension mismatch: %d != %d", len(v), dim)
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	out := make([]float32, dim)
	for i, s := range sum {
		out[i] = float32(s / float64(len(vecs)))
	}
	Normalize(out)
	return out, nil
}

// SimilarityResult represents a similarity search result.
type SimilarityResult struct {
	Index      int
	Similarity float64
}

// TopK returns the indices of the K vectors most similar to the query,
// sorted by similarity descending.
func TopK(query []float32, corpus [][]float32, k int) ([]SimilarityResult, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "TopK")
	defer timer.Stop()

	if k <= 0 {
		k = 10
	}

	results := make([]SimilarityResult, 0, len(corpus))
	skipped := 0
	for i, vec := range corpus {
		s, err := Similarity(query, vec)
		if err != nil {
			skipped++
			continue
		}
		results = append(results, SimilarityResult{Index: i, Similarity: s})
	}
	if skipped > 0 {
		logging.EmbeddingWarn("TopK: skipped %d vectors due to dimension mismatch", skipped)
	}

	// Partial selection sort; K is small.
	for i := 0; i < len(results) && i < k; i++ {
		for j := i + 1; j < len(results); j++ {
			if results[j].Similarity > results[i].Similarity {
				results[i], results[j] = results[j], results[i]
			}
		}
	}

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}
