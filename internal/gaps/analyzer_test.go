package gaps

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"rankscope/internal/types"
)

// stubEncoder returns a fixed vector per text, defaulting to one orthogonal
// to the query direction.
type stubEncoder struct {
	vecs map[string][]float32
}

var (
	queryDir   = []float32{1, 0, 0}
	relatedDir = []float32{1, 0.1, 0} // high query similarity
	offDir     = []float32{0, 1, 0}   // 0.5 mapped similarity
)

func unit(v []float32) []float32 {
	var mag float64
	for _, x := range v {
		mag += float64(x) * float64(x)
	}
	mag = math.Sqrt(mag)
	out := make([]float32, len(v))
	for i := range v {
		out[i] = float32(float64(v[i]) / mag)
	}
	return out
}

func (s *stubEncoder) EncodeAll(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := s.vecs[text]; ok {
			out[i] = unit(v)
		} else {
			out[i] = unit(offDir)
		}
	}
	return out, nil
}

func phraseSet(url string, phrases ...string) *types.PhraseSet {
	ps := &types.PhraseSet{URL: url}
	for _, p := range phrases {
		ps.Phrases = append(ps.Phrases, types.Phrase{Key: p, Display: p})
	}
	return ps
}

func relatedEncoder(phrases ...string) *stubEncoder {
	vecs := map[string][]float32{"target query": queryDir}
	for _, p := range phrases {
		vecs[p] = relatedDir
	}
	return &stubEncoder{vecs: vecs}
}

func TestGapsExcludeTargetPhrases(t *testing.T) {
	target := phraseSet("https://me.test", "shared phrase")
	comps := []*types.PhraseSet{
		phraseSet("https://c1.test", "shared phrase", "missing phrase"),
		phraseSet("https://c2.test", "shared phrase", "missing phrase"),
		phraseSet("https://c3.test", "shared phrase", "missing phrase"),
	}

	a := NewAnalyzer(relatedEncoder("missing phrase", "shared phrase"))
	res, err := a.Analyze(context.Background(), target, comps, "target query")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	for _, g := range res.Gaps {
		if g.Phrase == "shared phrase" {
			t.Fatal("target phrase leaked into gaps")
		}
	}
	if len(res.Gaps) != 1 || res.Gaps[0].Phrase != "missing phrase" {
		t.Fatalf("Gaps=%v, want exactly the missing phrase", res.Gaps)
	}
}

func TestSignificanceFloor(t *testing.T) {
	target := phraseSet("https://me.test")
	// "rare" appears in 2 of 5 competitors, below the frequency floor of 3.
	comps := []*types.PhraseSet{
		phraseSet("https://c1.test", "common phrase", "rare"),
		phraseSet("https://c2.test", "common phrase", "rare"),
		phraseSet("https://c3.test", "common phrase"),
		phraseSet("https://c4.test", "common phrase"),
		phraseSet("https://c5.test", "common phrase"),
	}

	a := NewAnalyzer(relatedEncoder("common phrase", "rare"))
	res, err := a.Analyze(context.Background(), target, comps, "target query")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Gaps) != 1 || res.Gaps[0].Phrase != "common phrase" {
		t.Fatalf("Gaps=%+v, want only the common phrase", res.Gaps)
	}
	if res.Gaps[0].CompetitorUsage != 5 {
		t.Errorf("CompetitorUsage=%d, want 5", res.Gaps[0].CompetitorUsage)
	}
}

func TestRelaxedFloorsBelowThreeCompetitors(t *testing.T) {
	target := phraseSet("https://me.test")
	comps := []*types.PhraseSet{
		phraseSet("https://c1.test", "niche phrase"),
		phraseSet("https://c2.test", "other phrase"),
	}

	a := NewAnalyzer(relatedEncoder("niche phrase", "other phrase"))
	res, err := a.Analyze(context.Background(), target, comps, "target query")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	// K=2: significance floor 1 and usage floor 1 both apply.
	if len(res.Gaps) != 2 {
		t.Fatalf("len(Gaps)=%d, want 2", len(res.Gaps))
	}
}

func TestLowRelevanceFiltered(t *testing.T) {
	target := phraseSet("https://me.test")
	comps := []*types.PhraseSet{
		phraseSet("https://c1.test", "unrelated phrase"),
		phraseSet("https://c2.test", "unrelated phrase"),
		phraseSet("https://c3.test", "unrelated phrase"),
	}

	// Encoder maps "unrelated phrase" to the orthogonal direction: 0.5.
	a := NewAnalyzer(relatedEncoder())
	res, err := a.Analyze(context.Background(), target, comps, "target query")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Gaps) != 0 {
		t.Fatalf("Gaps=%v, want none below 0.6 relevance", res.Gaps)
	}
}

func TestImpactFormulaAndOrdering(t *testing.T) {
	target := phraseSet("https://me.test")
	comps := []*types.PhraseSet{
		phraseSet("https://c1.test", "everywhere phrase", "partial phrase"),
		phraseSet("https://c2.test", "everywhere phrase", "partial phrase"),
		phraseSet("https://c3.test", "everywhere phrase", "partial phrase"),
		phraseSet("https://c4.test", "everywhere phrase"),
	}

	a := NewAnalyzer(relatedEncoder("everywhere phrase", "partial phrase"))
	res, err := a.Analyze(context.Background(), target, comps, "target query")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Gaps) != 2 {
		t.Fatalf("len(Gaps)=%d, want 2", len(res.Gaps))
	}

	first, second := res.Gaps[0], res.Gaps[1]
	if first.Phrase != "everywhere phrase" {
		t.Errorf("top gap=%q, want the 4/4 usage phrase", first.Phrase)
	}
	if first.EstimatedImpact <= second.EstimatedImpact {
		t.Error("gaps not sorted by impact descending")
	}

	wantImpact := 10*first.QuerySimilarity + 5*(4.0/4.0)
	if math.Abs(first.EstimatedImpact-wantImpact) > 1e-9 {
		t.Errorf("impact=%v, want %v", first.EstimatedImpact, wantImpact)
	}
	if first.UsagePercent != 100 {
		t.Errorf("UsagePercent=%v, want 100", first.UsagePercent)
	}
}

func TestCompetitorOrderInvariance(t *testing.T) {
	target := phraseSet("https://me.test")
	c1 := phraseSet("https://c1.test", "alpha phrase", "beta phrase")
	c2 := phraseSet("https://c2.test", "alpha phrase")
	c3 := phraseSet("https://c3.test", "alpha phrase", "beta phrase")

	a := NewAnalyzer(relatedEncoder("alpha phrase", "beta phrase"))

	r1, err := a.Analyze(context.Background(), target, []*types.PhraseSet{c1, c2, c3}, "target query")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	r2, err := a.Analyze(context.Background(), target, []*types.PhraseSet{c3, c1, c2}, "target query")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if diff := cmp.Diff(r1, r2); diff != "" {
		t.Fatalf("results depend on competitor order (-a +b):\n%s", diff)
	}
}

func TestDuplicatePhrasesInOneCompetitorCountOnce(t *testing.T) {
	target := phraseSet("https://me.test")
	dup := &types.PhraseSet{URL: "https://c1.test", Phrases: []types.Phrase{
		{Key: "repeat phrase", Display: "repeat phrase"},
		{Key: "repeat phrase", Display: "Repeat Phrase"},
	}}
	comps := []*types.PhraseSet{dup, phraseSet("https://c2.test", "repeat phrase")}

	a := NewAnalyzer(relatedEncoder("repeat phrase"))
	res, err := a.Analyze(context.Background(), target, comps, "target query")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Gaps) != 1 {
		t.Fatalf("len(Gaps)=%d, want 1", len(res.Gaps))
	}
	if res.Gaps[0].CompetitorUsage != 2 {
		t.Errorf("CompetitorUsage=%d, want 2 documents not 3 occurrences", res.Gaps[0].CompetitorUsage)
	}
}

func TestNoCompetitors(t *testing.T) {
	a := NewAnalyzer(&stubEncoder{})
	res, err := a.Analyze(context.Background(), phraseSet("https://me.test", "p"), nil, "q")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Gaps) != 0 {
		t.Fatalf("Gaps=%v, want none", res.Gaps)
	}
	if res.Coverage.YourUniquePhrases != 1 {
		t.Errorf("YourUniquePhrases=%d, want 1", res.Coverage.YourUniquePhrases)
	}
}

func TestEstimatedImprovement(t *testing.T) {
	var gapsList []types.SemanticGap
	for i := 0; i < 12; i++ {
		gapsList = append(gapsList, types.SemanticGap{EstimatedImpact: 2})
	}
	if got := EstimatedImprovement(gapsList); got != 20 {
		t.Fatalf("EstimatedImprovement=%v, want 20 (top 10 only)", got)
	}
}
