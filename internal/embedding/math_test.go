package embedding

import (
	"math"
	"testing"
)

func TestCosineIdentical(t *testing.T) {
	v := []float32{1, 0, 0}
	cos, err := Cosine(v, v)
	if err != nil {
		t.Fatalf("Cosine: %v", err)
	}
	if math.Abs(cos-1) > 1e-9 {
		t.Errorf("cos=%v, want 1", cos)
	}
}

func TestCosineDimensionMismatch(t *testing.T) {
	if _, err := Cosine([]float32{1, 0}, []float32{1, 0, 0}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestCosineZeroVector(t *testing.T) {
	cos, err := Cosine([]float32{0, 0}, []float32{1, 0})
	if err != nil {
		t.Fatalf("Cosine: %v", err)
	}
	if cos != 0 {
		t.Errorf("cos=%v, want 0 for zero vector", cos)
	}
}

func TestSimilarityMapping(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.5},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Similarity(tt.a, tt.b)
			if err != nil {
				t.Fatalf("Similarity: %v", err)
			}
			if math.Abs(s-tt.want) > 1e-9 {
				t.Errorf("s=%v, want %v", s, tt.want)
			}
		})
	}
}

func TestSimilarityMatrixSymmetric(t *testing.T) {
	vecs := [][]float32{{1, 0}, {0, 1}, {1, 1}}
	for _, v := range vecs {
		Normalize(v)
	}
	m, err := SimilarityMatrix(vecs)
	if err != nil {
		t.Fatalf("SimilarityMatrix: %v", err)
	}
	for i := range m {
		if math.Abs(m[i][i]-1) > 1e-9 {
			t.Errorf("diagonal m[%d][%d]=%v", i, i, m[i][i])
		}
		for j := range m {
			if m[i][j] != m[j][i] {
				t.Errorf("asymmetric at (%d,%d)", i, j)
			}
			if m[i][j] < 0 || m[i][j] > 1 {
				t.Errorf("m[%d][%d]=%v out of [0,1]", i, j, m[i][j])
			}
		}
	}
}

func TestNormalizeAndIsUnit(t *testing.T) {
	v := []float32{3, 4}
	Normalize(v)
	if !IsUnit(v, 1e-4) {
		t.Errorf("normalized vector not unit: %v", v)
	}

	zero := []float32{0, 0}
	Normalize(zero)
	if zero[0] != 0 || zero[1] != 0 {
		t.Error("zero vector must stay zero")
	}
}

func TestCentroidIsUnit(t *testing.T) {
	vecs := [][]float32{{1, 0}, {0, 1}}
	c, err := Centroid(vecs)
	if err != nil {
		t.Fatalf("Centroid: %v", err)
	}
	if !IsUnit(c, 1e-4) {
		t.Errorf("centroid not unit: %v", c)
	}
	if math.Abs(float64(c[0]-c[1])) > 1e-6 {
		t.Errorf("centroid should be equidistant: %v", c)
	}
}

func TestCentroidEmpty(t *testing.T) {
	if _, err := Centroid(nil); err == nil {
		t.Fatal("expected error for empty set")
	}
}

func TestTopKOrderingAndTruncation(t *testing.T) {
	query := []float32{1, 0}
	corpus := [][]float32{
		{0, 1},  // 0.5
		{1, 0},  // 1.0
		{-1, 0}, // 0.0
		{1, 1},  // ~0.85
	}
	for _, v := range corpus {
		Normalize(v)
	}

	results, err := TopK(query, corpus, 2)
	if err != nil {
		t.Fatalf("TopK: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len=%d, want 2", len(results))
	}
	if results[0].Index != 1 {
		t.Errorf("top result index=%d, want 1", results[0].Index)
	}
	if results[1].Index != 3 {
		t.Errorf("second result index=%d, want 3", results[1].Index)
	}
	if results[0].Similarity < results[1].Similarity {
		t.Error("results not sorted descending")
	}
}
