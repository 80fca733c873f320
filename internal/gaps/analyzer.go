// Package gaps ranks the phrases competitors use that the target page does
// not, by estimated ranking impact relative to the query.
package gaps

import (
	"context"
	"math"
	"sort"

	"rankscope/internal/embedding"
	"rankscope/internal/logging"
	"rankscope/internal/types"
)

const (
	// significantFreq is the minimum competitor count for a phrase to enter
	// the analysis when at least that many competitors exist.
	significantFreq = 3
	// minRelevance gates gaps on query similarity.
	minRelevance = 0.6
	// maxGaps caps the returned list.
	maxGaps = 50
	// impact thresholds for recommendation labels.
	highImpact   = 10.0
	mediumImpact = 5.0
)

// Encoder is the slice of the embedding layer the analyzer needs.
type Encoder interface {
	EncodeAll(ctx context.Context, texts []string) ([][]float32, error)
}

// Result is the full gap analysis output.
type Result struct {
	Gaps     []types.SemanticGap `json:"semantic_gaps"`
	Coverage types.CoverageStats `json:"coverage_stats"`
}

// Analyzer finds semantic gaps between a target page and its competitors.
type Analyzer struct {
	encoder Encoder
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(encoder Encoder) *Analyzer {
	return &Analyzer{encoder: encoder}
}

// Analyze compares the target phrase set against competitor phrase sets for
// the given query. The result is invariant under competitor order and
// strictly sorted by estimated impact descending.
func (a *Analyzer) Analyze(ctx context.Context, target *types.PhraseSet, competitors []*types.PhraseSet, query string) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryGaps, "gap analysis")
	defer timer.Stop()

	k := len(competitors)
	if k == 0 {
		return &Result{Coverage: types.CoverageStats{YourUniquePhrases: len(target.Phrases)}}, nil
	}

	// freq(p) counts distinct competitor documents, never occurrences.
	freq := make(map[string]int)
	display := make(map[string]string)
	sources := make(map[string][]string)
	for _, c := range competitors {
		seen := make(map[string]bool)
		for _, p := range c.Phrases {
			if seen[p.Key] {
				continue
			}
			seen[p.Key] = true
			freq[p.Key]++
			if _, ok := display[p.Key]; !ok {
				display[p.Key] = p.Display
			}
			sources[p.Key] = append(sources[p.Key], c.URL)
		}
	}

	// Significant competitor phrases; the frequency floor relaxes when
	// fewer than 3 competitors exist.
	sigFloor := significantFreq
	if k < significantFreq {
		sigFloor = 1
	}

	targetKeys := make(map[string]bool, len(target.Phrases))
	for _, p := range target.Phrases {
		targetKeys[p.Key] = true
	}

	var missing []string
	significant := 0
	for key, f := range freq {
		if f < sigFloor {
			continue
		}
		significant++
		if !targetKeys[key] {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)

	coverage := types.CoverageStats{
		YourUniquePhrases:       len(target.Phrases),
		CompetitorCommonPhrases: significant,
	}

	if len(missing) == 0 {
		logging.Gaps("no missing phrases across %d competitors", k)
		return &Result{Coverage: coverage}, nil
	}

	// Embed the missing phrases and the query in a single call.
	texts := append(append([]string{}, missing...), query)
	vecs, err := a.encoder.EncodeAll(ctx, texts)
	if err != nil {
		return nil, types.Wrap(types.KindEmbedding, err, "encode %d gap candidates", len(missing))
	}
	queryVec := vecs[len(vecs)-1]

	// Usage floor: a phrase must appear in max(2, 25% of competitors)
	// documents, relaxed to 1 below 4 competitors.
	usageFloor := int(math.Ceil(0.25 * float64(k)))
	if usageFloor < 2 {
		usageFloor = 2
	}
	if k < 4 {
		usageFloor = 1
	}

	var gaps []types.SemanticGap
	for i, key := range missing {
		rel, err := embedding.Similarity(vecs[i], queryVec)
		if err != nil {
			continue
		}
		usage := freq[key]
		if rel <= minRelevance || usage < usageFloor {
			continue
		}
		impact := highImpact*rel + mediumImpact*(float64(usage)/float64(k))
		sort.Strings(sources[key])
		gaps = append(gaps, types.SemanticGap{
			Phrase:          display[key],
			QuerySimilarity: rel,
			CompetitorUsage: usage,
			UsagePercent:    100 * float64(usage) / float64(k),
			EstimatedImpact: impact,
			Sources:         sources[key],
			Recommendation:  recommendation(display[key], impact),
		})
	}

	// Strict ordering: impact descending, phrase key as tiebreak so the
	// output is deterministic regardless of map iteration.
	sort.Slice(gaps, func(i, j int) bool {
		if gaps[i].EstimatedImpact != gaps[j].EstimatedImpact {
			return gaps[i].EstimatedImpact > gaps[j].EstimatedImpact
		}
		return gaps[i].Phrase < gaps[j].Phrase
	})
	if len(gaps) > maxGaps {
		gaps = gaps[:maxGaps]
	}

	coverage.SemanticGapsFound = len(gaps)
	for _, g := range gaps {
		if g.EstimatedImpact > mediumImpact {
			coverage.HighImpactRecommendations++
		}
	}

	logging.Gaps("found %d gaps (%d high impact) across %d competitors", len(gaps), coverage.HighImpactRecommendations, k)
	return &Result{Gaps: gaps, Coverage: coverage}, nil
}

// EstimatedImprovement sums the impact of the top 10 gaps.
func EstimatedImprovement(gaps []types.SemanticGap) float64 {
	total := 0.0
	for i, g := range gaps {
		if i >= 10 {
			break
		}
		total += g.EstimatedImpact
	}
	return total
}

func recommendation(phrase string, impact float64) string {
	switch {
	case impact > highImpact:
		return "HIGH PRIORITY: Add '" + phrase + "' to your content"
	case impact > mediumImpact:
		return "MEDIUM: Consider adding '" + phrase + "' to strengthen coverage"
	default:
		return "LOW: '" + phrase + "' may add marginal relevance"
	}
}
