package scoring

import (
	"context"
	"math"
	"strings"
	"testing"

	"rankscope/internal/types"
)

// constEncoder returns the same unit vector for every text, making every
// pairwise similarity exactly 1.
type constEncoder struct{}

func (constEncoder) EncodeAll(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

// hashEncoder gives each distinct text its own direction so similarities
// vary but stay deterministic.
type hashEncoder struct{}

func (hashEncoder) EncodeAll(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		h := 0
		for _, r := range text {
			h = (h*31 + int(r)) % 997
		}
		a := float64(h%100) + 1
		b := float64((h/100)%100) + 1
		v := []float32{float32(a), float32(b), 1}
		var mag float64
		for _, x := range v {
			mag += float64(x) * float64(x)
		}
		mag = math.Sqrt(mag)
		for j := range v {
			v[j] = float32(float64(v[j]) / mag)
		}
		out[i] = v
	}
	return out, nil
}

func multiChunkSnapshot() *types.PageSnapshot {
	para := strings.TrimSpace(strings.Repeat("Relevant content about search rankings and site health. ", 8))
	return &types.PageSnapshot{
		URL:             "https://example.com/a",
		Title:           "Search Ranking Guide",
		MetaDescription: "A practical guide to rankings.",
		Content:         para + "\n\n" + para + "\n\n" + para,
	}
}

func newScorer(t *testing.T, enc Encoder) *Scorer {
	t.Helper()
	s, err := NewScorer(enc, nil, DefaultParams())
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	return s
}

func TestWeightsMustSumToOne(t *testing.T) {
	bad := DefaultWeights()
	bad["balance"] = 0.5
	if _, err := NewScorer(constEncoder{}, bad, DefaultParams()); err == nil {
		t.Fatal("expected weight-sum error")
	}
	if _, err := NewScorer(constEncoder{}, DefaultWeights(), DefaultParams()); err != nil {
		t.Fatalf("default weights rejected: %v", err)
	}
}

func TestEmptyContentZeroScores(t *testing.T) {
	s := newScorer(t, constEncoder{})
	score, err := s.Score(context.Background(), &types.PageSnapshot{Content: "  "}, "query")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score.Error != "No content to analyze" {
		t.Errorf("Error=%q", score.Error)
	}
	for name, v := range score.Dimensions() {
		if v != 0 {
			t.Errorf("%s=%v, want 0", name, v)
		}
	}
	if score.CompositeScore != 0 || score.SEOScore != 0 {
		t.Errorf("composite=%v seo=%v, want 0", score.CompositeScore, score.SEOScore)
	}
}

func TestIdenticalChunksExactDimensions(t *testing.T) {
	s := newScorer(t, constEncoder{})
	score, err := s.Score(context.Background(), multiChunkSnapshot(), "search rankings")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	// All similarities are exactly 1.
	if math.Abs(score.MetadataAlignment-100) > 1e-9 {
		t.Errorf("MetadataAlignment=%v, want 100", score.MetadataAlignment)
	}
	if math.Abs(score.ThematicUnity-100) > 1e-9 {
		t.Errorf("ThematicUnity=%v, want 100", score.ThematicUnity)
	}
	if math.Abs(score.QueryIntent-100) > 1e-9 {
		t.Errorf("QueryIntent=%v, want 100", score.QueryIntent)
	}
	// seq mean 1, std 0: similarity sub-score 0, consistency 100.
	if math.Abs(score.HierarchicalDecomposition-40) > 1e-9 {
		t.Errorf("HierarchicalDecomposition=%v, want 40", score.HierarchicalDecomposition)
	}
	// flow 1*40 + consistency 1*30 + flat progression 0.
	if math.Abs(score.StructuralCoherence-70) > 1e-9 {
		t.Errorf("StructuralCoherence=%v, want 70", score.StructuralCoherence)
	}
}

func TestCompositeIsWeightedMean(t *testing.T) {
	s := newScorer(t, hashEncoder{})
	score, err := s.Score(context.Background(), multiChunkSnapshot(), "search rankings")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	want := 0.0
	for name, v := range score.Dimensions() {
		want += v * DefaultWeights()[name]
	}
	if math.Abs(score.CompositeScore-want) > 1e-9 {
		t.Errorf("CompositeScore=%v, want %v", score.CompositeScore, want)
	}
}

func TestAllScoresInRange(t *testing.T) {
	s := newScorer(t, hashEncoder{})
	score, err := s.Score(context.Background(), multiChunkSnapshot(), "search rankings")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	check := func(name string, v float64) {
		if v < 0 || v > 100 || math.IsNaN(v) {
			t.Errorf("%s=%v out of [0,100]", name, v)
		}
	}
	for name, v := range score.Dimensions() {
		check(name, v)
	}
	check("composite", score.CompositeScore)
	check("seo", score.SEOScore)
}

func TestFewChunksFallbackScores(t *testing.T) {
	s := newScorer(t, constEncoder{})
	snap := &types.PageSnapshot{
		URL:     "https://example.com/short",
		Content: "One short paragraph about a niche topic, just past the chunk threshold for analysis.",
	}
	score, err := s.Score(context.Background(), snap, "")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	if score.HierarchicalDecomposition != 50 {
		t.Errorf("HierarchicalDecomposition=%v, want 50 for <2 chunks", score.HierarchicalDecomposition)
	}
	if score.ThematicUnity != 50 {
		t.Errorf("ThematicUnity=%v, want 50", score.ThematicUnity)
	}
	if score.Balance != 50 {
		t.Errorf("Balance=%v, want 50 for <3 chunks", score.Balance)
	}
	if score.StructuralCoherence != 50 {
		t.Errorf("StructuralCoherence=%v, want 50", score.StructuralCoherence)
	}
	// No query: neutral 50 with a note.
	if score.QueryIntent != 50 {
		t.Errorf("QueryIntent=%v, want 50 without query", score.QueryIntent)
	}
	if _, ok := score.Details["query_intent_note"]; !ok {
		t.Error("missing query_intent_note detail")
	}
	// No metadata at all: zero with error detail.
	if score.MetadataAlignment != 0 {
		t.Errorf("MetadataAlignment=%v, want 0", score.MetadataAlignment)
	}
	if _, ok := score.Details["metadata_alignment_error"]; !ok {
		t.Error("missing metadata_alignment_error detail")
	}
}

func TestSEOBonuses(t *testing.T) {
	s := newScorer(t, constEncoder{})

	snap := multiChunkSnapshot() // title + description + content in 300..5000
	if n := len(snap.Content); n < 300 || n > 5000 {
		t.Fatalf("fixture content length %d outside bonus window", n)
	}
	score, err := s.Score(context.Background(), snap, "search rankings")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	sub := score.MetadataAlignment*0.25 + score.ThematicUnity*0.25 +
		score.QueryIntent*0.30 + score.StructuralCoherence*0.20
	want := sub + 15
	if want > 100 {
		want = 100
	}
	if math.Abs(score.SEOScore-want) > 1e-9 {
		t.Errorf("SEOScore=%v, want %v", score.SEOScore, want)
	}
}

func TestRecommendationsForWeakDimensions(t *testing.T) {
	s := newScorer(t, constEncoder{})
	score, err := s.Score(context.Background(), multiChunkSnapshot(), "search rankings")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	// HierarchicalDecomposition is 40, below its 65 threshold.
	found := false
	for _, r := range score.Recommendations {
		if strings.HasPrefix(r, "hierarchical_decomposition") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a hierarchy recommendation, got %v", score.Recommendations)
	}
}

func TestPraiseWhenAllStrong(t *testing.T) {
	s := newScorer(t, constEncoder{})
	params := DefaultParams()
	// Force every threshold to 0 and praise to below the weakest dimension.
	for k := range params.Thresholds {
		params.Thresholds[k] = 0
	}
	params.PraiseThreshold = 30
	s.params = params

	score, err := s.Score(context.Background(), multiChunkSnapshot(), "search rankings")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if len(score.Recommendations) != 1 || !strings.Contains(score.Recommendations[0], "strong") {
		t.Errorf("Recommendations=%v, want single praise line", score.Recommendations)
	}
}
