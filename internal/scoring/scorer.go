// Package scoring computes the eight-dimension content quality profile:
// six embedding-based dimension scores, their weighted composite, and a
// traditional SEO score.
package scoring

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"rankscope/internal/embedding"
	"rankscope/internal/logging"
	"rankscope/internal/types"
)

// Encoder is the slice of the embedding layer the scorer needs.
type Encoder interface {
	EncodeAll(ctx context.Context, texts []string) ([][]float32, error)
}

// Params holds the tuned constants of the dimension formulas. Defaults
// reproduce the reference scoring profile; they are exposed so recalibration
// does not require a code change.
type Params struct {
	// HierarchicalDecomposition: ideal sequential similarity and tolerances.
	SeqSimTarget    float64 // 0.6
	SeqSimTolerance float64 // 0.3
	SeqStdTolerance float64 // 0.2

	// ThematicUnity outlier cutoff in row-mean standard deviations.
	OutlierStdFactor float64 // 1.5

	// StructuralCoherence component weights.
	FlowWeight        float64 // 40
	ConsistencyWeight float64 // 30
	ProgressionWeight float64 // 0.3
	ProgressionScale  float64 // 200

	// Recommendation thresholds per dimension, and the praise threshold.
	Thresholds      map[string]float64
	PraiseThreshold float64 // 75
}

// DefaultParams returns the reference constants.
func DefaultParams() Params {
	return Params{
		SeqSimTarget:      0.6,
		SeqSimTolerance:   0.3,
		SeqStdTolerance:   0.2,
		OutlierStdFactor:  1.5,
		FlowWeight:        40,
		ConsistencyWeight: 30,
		ProgressionWeight: 0.3,
		ProgressionScale:  200,
		Thresholds: map[string]float64{
			"metadata_alignment":         70,
			"hierarchical_decomposition": 65,
			"thematic_unity":             60,
			"balance":                    65,
			"query_intent":               70,
			"structural_coherence":       65,
		},
		PraiseThreshold: 75,
	}
}

// DefaultWeights returns the composite weights.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		"metadata_alignment":         0.15,
		"hierarchical_decomposition": 0.15,
		"thematic_unity":             0.20,
		"balance":                    0.10,
		"query_intent":               0.20,
		"structural_coherence":       0.20,
	}
}

// Scorer computes ContentScores.
type Scorer struct {
	encoder Encoder
	weights map[string]float64
	params  Params
}

// NewScorer creates a scorer. Nil weights use the defaults.
func NewScorer(encoder Encoder, weights map[string]float64, params Params) (*Scorer, error) {
	if weights == nil {
		weights = DefaultWeights()
	}
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-6 {
		return nil, types.E(types.KindScoring, "composite weights must sum to 1.0, got %.6f", sum)
	}
	return &Scorer{encoder: encoder, weights: weights, params: params}, nil
}

// Score computes the full eight-value profile for one snapshot. An empty
// document yields all zeros with an error reason rather than a failure.
func (s *Scorer) Score(ctx context.Context, snap *types.PageSnapshot, query string) (*types.ContentScore, error) {
	timer := logging.StartTimer(logging.CategoryScoring, fmt.Sprintf("score %s", snap.URL))
	defer timer.Stop()

	if strings.TrimSpace(snap.Content) == "" {
		return &types.ContentScore{Error: "No content to analyze"}, nil
	}

	chunks := Chunk(snap.Content)
	details := map[string]any{"chunk_count": len(chunks)}

	// One encode call covers chunks, metadata, and the query.
	var meta []string
	if strings.TrimSpace(snap.Title) != "" {
		meta = append(meta, snap.Title)
	}
	if strings.TrimSpace(snap.MetaDescription) != "" {
		meta = append(meta, snap.MetaDescription)
	}
	texts := append(append([]string{}, chunks...), meta...)
	hasQuery := strings.TrimSpace(query) != ""
	if hasQuery {
		texts = append(texts, query)
	}

	vecs, err := s.encoder.EncodeAll(ctx, texts)
	if err != nil {
		return nil, types.Wrap(types.KindScoring, err, "encode %d texts for %s", len(texts), snap.URL)
	}
	E := vecs[:len(chunks)]
	metaVecs := vecs[len(chunks) : len(chunks)+len(meta)]
	var queryVec []float32
	if hasQuery {
		queryVec = vecs[len(vecs)-1]
	}

	// Shared geometry.
	seq := sequentialSims(E)
	S, err := embedding.SimilarityMatrix(E)
	if err != nil {
		return nil, types.Wrap(types.KindScoring, err, "similarity matrix for %s", snap.URL)
	}
	rowMeans := offDiagonalRowMeans(S)

	score := &types.ContentScore{Details: details}

	score.MetadataAlignment = s.metadataAlignment(E, metaVecs, details)
	score.HierarchicalDecomposition = s.hierarchicalDecomposition(seq, len(chunks))
	score.ThematicUnity = s.thematicUnity(S, rowMeans, len(chunks), details)
	score.Balance = s.balance(chunks, rowMeans)
	score.QueryIntent = s.queryIntent(queryVec, E, details)
	score.StructuralCoherence = s.structuralCoherence(seq, E)

	for name, value := range score.Dimensions() {
		if value < 0 || value > 100 || math.IsNaN(value) {
			return nil, types.E(types.KindScoring, "dimension %s out of range: %v", name, value)
		}
	}

	composite := 0.0
	for name, value := range score.Dimensions() {
		composite += value * s.weights[name]
	}
	score.CompositeScore = composite
	score.SEOScore = s.seoScore(score, snap)
	score.Recommendations = s.recommendations(score)

	logging.Scoring("%s: composite=%.1f seo=%.1f (%d chunks)", snap.URL, score.CompositeScore, score.SEOScore, len(chunks))
	return score, nil
}

// metadataAlignment scores how close title and description sit to the
// document centroid.
func (s *Scorer) metadataAlignment(E, metaVecs [][]float32, details map[string]any) float64 {
	if len(metaVecs) == 0 {
		details["metadata_alignment_error"] = "no title or meta description"
		return 0
	}
	c, err := embedding.Centroid(E)
	if err != nil {
		details["metadata_alignment_error"] = err.Error()
		return 0
	}
	sum := 0.0
	for _, mv := range metaVecs {
		sim, err := embedding.Similarity(mv, c)
		if err != nil {
			continue
		}
		sum += clamp01(sim)
	}
	return clamp01(sum/float64(len(metaVecs))) * 100
}

// hierarchicalDecomposition rewards moderate, steady sequential similarity.
func (s *Scorer) hierarchicalDecomposition(seq []float64, n int) float64 {
	if n < 2 {
		return 50
	}
	mu := mean(seq)
	sigma := std(seq)

	simScore := math.Max(0, 1-math.Abs(mu-s.params.SeqSimTarget)/s.params.SeqSimTolerance) * 100
	consistency := math.Max(0, 1-sigma/s.params.SeqStdTolerance) * 100
	return clampScore(0.6*simScore + 0.4*consistency)
}

// thematicUnity is the mean off-diagonal pairwise similarity; chunks whose
// row-mean falls well below the matrix mean are recorded as outliers.
func (s *Scorer) thematicUnity(S [][]float64, rowMeans []float64, n int, details map[string]any) float64 {
	if n < 2 {
		return 50
	}

	sum := 0.0
	count := 0
	for i := range S {
		for j := range S[i] {
			if i == j {
				continue
			}
			sum += S[i][j]
			count++
		}
	}
	matrixMean := sum / float64(count)

	cutoff := matrixMean - s.params.OutlierStdFactor*std(rowMeans)
	var outliers []int
	for i, rm := range rowMeans {
		if rm < cutoff {
			outliers = append(outliers, i)
		}
	}
	if len(outliers) > 0 {
		details["outlier_chunks"] = outliers
	}

	return clampScore(clamp01(matrixMean) * 100)
}

// balance combines chunk-size evenness with topical diversity.
func (s *Scorer) balance(chunks []string, rowMeans []float64) float64 {
	if len(chunks) < 3 {
		return 50
	}

	lengths := make([]float64, len(chunks))
	for i, c := range chunks {
		lengths[i] = float64(len(c))
	}
	mu := mean(lengths)
	sizeScore := 0.0
	if mu > 0 {
		sizeScore = math.Max(0, 1-std(lengths)/mu) * 100
	}

	diversity := clamp01(1-std(rowMeans)) * 100

	return clampScore(0.4*sizeScore + 0.6*diversity)
}

// queryIntent scores mean and peak chunk alignment with the query.
func (s *Scorer) queryIntent(queryVec []float32, E [][]float32, details map[string]any) float64 {
	if queryVec == nil {
		details["query_intent_note"] = "no query provided"
		return 50
	}

	sims := make([]float64, 0, len(E))
	for _, e := range E {
		sim, err := embedding.Similarity(queryVec, e)
		if err != nil {
			continue
		}
		sims = append(sims, clamp01(sim))
	}
	if len(sims) == 0 {
		return 50
	}

	maxSim := sims[0]
	for _, v := range sims {
		if v > maxSim {
			maxSim = v
		}
	}

	top, err := embedding.TopK(queryVec, E, 3)
	if err == nil {
		indices := make([]int, len(top))
		for i, r := range top {
			indices[i] = r.Index
		}
		details["top_query_chunks"] = indices
	}

	return clampScore((0.6*mean(sims) + 0.4*maxSim) * 100)
}

// structuralCoherence combines adjacent flow, flow consistency, and
// progressive development (similarity decaying with distance).
func (s *Scorer) structuralCoherence(seq []float64, E [][]float32) float64 {
	n := len(E)
	if n < 3 {
		return 50
	}

	avgFlow := clamp01(mean(seq))
	flowConsistency := clamp01(1 - std(seq))

	maxD := 4
	if n-1 < maxD {
		maxD = n - 1
	}
	ms := make([]float64, 0, maxD)
	for d := 1; d <= maxD; d++ {
		sum := 0.0
		count := 0
		for i := 0; i+d < n; i++ {
			sim, err := embedding.Similarity(E[i], E[i+d])
			if err != nil {
				continue
			}
			sum += clamp01(sim)
			count++
		}
		if count > 0 {
			ms = append(ms, sum/float64(count))
		}
	}

	progression := 0.0
	if len(ms) >= 2 {
		deltas := make([]float64, len(ms)-1)
		for i := 1; i < len(ms); i++ {
			deltas[i-1] = ms[i] - ms[i-1]
		}
		progression = clamp01(-mean(deltas)) * s.params.ProgressionScale
		if progression > 100 {
			progression = 100
		}
	}

	return clampScore(avgFlow*s.params.FlowWeight + flowConsistency*s.params.ConsistencyWeight + progression*s.params.ProgressionWeight)
}

// seoScore layers traditional signals over a dimension sub-composite.
func (s *Scorer) seoScore(score *types.ContentScore, snap *types.PageSnapshot) float64 {
	sub := score.MetadataAlignment*0.25 +
		score.ThematicUnity*0.25 +
		score.QueryIntent*0.30 +
		score.StructuralCoherence*0.20

	if strings.TrimSpace(snap.Title) != "" {
		sub += 5
	}
	if strings.TrimSpace(snap.MetaDescription) != "" {
		sub += 5
	}
	if n := len(snap.Content); n >= 300 && n <= 5000 {
		sub += 5
	}
	if sub > 100 {
		sub = 100
	}
	return sub
}

// recommendations emits one actionable line per weak dimension, or a praise
// line when everything is strong.
func (s *Scorer) recommendations(score *types.ContentScore) []string {
	advice := map[string]string{
		"metadata_alignment":         "Align the title and meta description with the main content themes",
		"hierarchical_decomposition": "Reorganize sections so adjacent passages build on each other",
		"thematic_unity":             "Tighten topical focus; remove or rework off-topic passages",
		"balance":                    "Even out section lengths and broaden subtopic coverage",
		"query_intent":               "Address the target query more directly in the body content",
		"structural_coherence":       "Improve transitions so the document progresses from general to specific",
	}

	dims := score.Dimensions()
	names := make([]string, 0, len(dims))
	for name := range dims {
		names = append(names, name)
	}
	sort.Strings(names)

	var recs []string
	allStrong := true
	for _, name := range names {
		if dims[name] <= s.params.PraiseThreshold {
			allStrong = false
		}
		if dims[name] < s.params.Thresholds[name] {
			recs = append(recs, fmt.Sprintf("%s (%.0f): %s", name, dims[name], advice[name]))
		}
	}
	if allStrong {
		recs = append(recs, "Content scores are strong across all dimensions; maintain the current structure")
	}
	return recs
}

// =============================================================================
// HELPERS
// =============================================================================

func sequentialSims(E [][]float32) []float64 {
	if len(E) < 2 {
		return nil
	}
	out := make([]float64, 0, len(E)-1)
	for i := 0; i+1 < len(E); i++ {
		sim, err := embedding.Similarity(E[i], E[i+1])
		if err != nil {
			continue
		}
		out = append(out, clamp01(sim))
	}
	return out
}

// offDiagonalRowMeans returns, per row, the mean similarity to every other
// chunk.
func offDiagonalRowMeans(S [][]float64) []float64 {
	n := len(S)
	out := make([]float64, n)
	if n < 2 {
		return out
	}
	for i := range S {
		sum := 0.0
		for j := range S[i] {
			if i != j {
				sum += S[i][j]
			}
		}
		out[i] = sum / float64(n-1)
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// std is the population standard deviation.
func std(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mu := mean(xs)
	sum := 0.0
	for _, x := range xs {
		sum += (x - mu) * (x - mu)
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// clamp01 maps NaN/inf and out-of-range values into [0,1].
func clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func clampScore(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	if x < 0 {
		return 0
	}
	if x > 100 {
		return 100
	}
	return x
}
