// Package report renders the stage-07 markdown deliverables from the
// analysis and optimization artifacts.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"rankscope/internal/project"
	"rankscope/internal/types"
)

// Input collects everything the renderers draw from.
type Input struct {
	Config   *types.ProjectConfig
	Serp     *types.SerpResult
	Analysis *project.Analysis
	Gaps     *project.Gaps
	Recs     *project.Recommendations
	Failed   []*types.FailedScrape
}

// ExecutiveSummary renders executive_summary.md.
func ExecutiveSummary(in Input) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Executive Summary: %s\n\n", in.Config.ProjectName)
	fmt.Fprintf(&b, "**Query:** %s  \n", in.Config.Query)
	fmt.Fprintf(&b, "**Target URL:** %s  \n", in.Config.TargetURL)
	fmt.Fprintf(&b, "**Generated:** %s\n\n", time.Now().UTC().Format(time.RFC3339))

	b.WriteString("## Current Position\n\n")
	if in.Serp != nil {
		if in.Serp.TargetRanking != nil {
			fmt.Fprintf(&b, "Your page ranks **#%d** for this query.\n\n", *in.Serp.TargetRanking)
		} else {
			fmt.Fprintf(&b, "Your page does **not rank** in the top %d results for this query.\n\n", len(in.Serp.OrganicResults))
		}
		fmt.Fprintf(&b, "%d competitor pages were analyzed.\n\n", len(in.Serp.CompetitorURLs()))
	}
	if len(in.Failed) > 0 {
		fmt.Fprintf(&b, "%d competitor pages could not be scraped and were excluded.\n\n", len(in.Failed))
	}

	if in.Analysis != nil {
		b.WriteString("## Content Scores\n\n")
		b.WriteString("| Page | Composite | SEO |\n|---|---|---|\n")
		if in.Analysis.Target.Score != nil {
			fmt.Fprintf(&b, "| **%s** (you) | %.1f | %.1f |\n",
				in.Analysis.Target.URL, in.Analysis.Target.Score.CompositeScore, in.Analysis.Target.Score.SEOScore)
		}
		for _, c := range in.Analysis.Competitors {
			if c.Score == nil {
				continue
			}
			fmt.Fprintf(&b, "| %s | %.1f | %.1f |\n", c.URL, c.Score.CompositeScore, c.Score.SEOScore)
		}
		b.WriteString("\n")

		if in.Analysis.RankingCorrelation != nil {
			fmt.Fprintf(&b, "Correlation between content score and ranking position: **%.2f**.\n\n",
				*in.Analysis.RankingCorrelation)
		}

		if in.Analysis.Target.Score != nil && len(in.Analysis.Target.Score.Recommendations) > 0 {
			b.WriteString("### Weakest Dimensions\n\n")
			for _, r := range in.Analysis.Target.Score.Recommendations {
				fmt.Fprintf(&b, "- %s\n", r)
			}
			b.WriteString("\n")
		}
	}

	if in.Gaps != nil {
		b.WriteString("## Semantic Gaps\n\n")
		fmt.Fprintf(&b, "Competitors share **%d** significant phrases; **%d** are missing from your page (%d high impact).\n\n",
			in.Gaps.Coverage.CompetitorCommonPhrases, in.Gaps.Coverage.SemanticGapsFound,
			in.Gaps.Coverage.HighImpactRecommendations)

		top := in.Gaps.Gaps
		if len(top) > 10 {
			top = top[:10]
		}
		if len(top) > 0 {
			b.WriteString("| Phrase | Relevance | Usage | Impact |\n|---|---|---|---|\n")
			for _, g := range top {
				fmt.Fprintf(&b, "| %s | %.2f | %d (%.0f%%) | %.1f |\n",
					g.Phrase, g.QuerySimilarity, g.CompetitorUsage, g.UsagePercent, g.EstimatedImpact)
			}
			b.WriteString("\n")
		}
	}

	if in.Recs != nil {
		fmt.Fprintf(&b, "**Estimated improvement from the top recommendations: %.1f points.**\n", in.Recs.EstimatedImprovement)
	}
	return b.String()
}

// ImplementationGuide renders implementation_guide.md: the prioritized,
// actionable checklist derived from the gaps and score recommendations.
func ImplementationGuide(in Input) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Implementation Guide: %s\n\n", in.Config.ProjectName)
	fmt.Fprintf(&b, "Target: %s (query: %q)\n\n", in.Config.TargetURL, in.Config.Query)

	if in.Gaps != nil && len(in.Gaps.Gaps) > 0 {
		high, medium, low := splitByImpact(in.Gaps.Gaps)

		if len(high) > 0 {
			b.WriteString("## Phase 1: High Priority\n\n")
			writeGapSteps(&b, high)
		}
		if len(medium) > 0 {
			b.WriteString("## Phase 2: Medium Priority\n\n")
			writeGapSteps(&b, medium)
		}
		if len(low) > 0 {
			b.WriteString("## Phase 3: Low Priority\n\n")
			writeGapSteps(&b, low)
		}
	} else {
		b.WriteString("No semantic gaps were identified. Focus on the content quality items below.\n\n")
	}

	if in.Analysis != nil && in.Analysis.Target.Score != nil {
		score := in.Analysis.Target.Score
		weak := weakestDimensions(score)
		if len(weak) > 0 {
			b.WriteString("## Content Quality\n\n")
			for _, name := range weak {
				fmt.Fprintf(&b, "- Improve **%s** (currently %.1f)\n", name, score.Dimensions()[name])
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("## Verification\n\n")
	b.WriteString("After applying changes, rerun the analysis with `--fresh` and compare the new scores against this report.\n")
	return b.String()
}

func splitByImpact(gaps []types.SemanticGap) (high, medium, low []types.SemanticGap) {
	for _, g := range gaps {
		switch {
		case g.EstimatedImpact > 10:
			high = append(high, g)
		case g.EstimatedImpact > 5:
			medium = append(medium, g)
		default:
			low = append(low, g)
		}
	}
	return high, medium, low
}

func writeGapSteps(b *strings.Builder, gaps []types.SemanticGap) {
	for i, g := range gaps {
		fmt.Fprintf(b, "%d. Add coverage for **%s** (impact %.1f, used by %d competitors)\n",
			i+1, g.Phrase, g.EstimatedImpact, g.CompetitorUsage)
	}
	b.WriteString("\n")
}

// weakestDimensions returns the dimension names under 70, worst first.
func weakestDimensions(score *types.ContentScore) []string {
	dims := score.Dimensions()
	var names []string
	for name, v := range dims {
		if v < 70 {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if dims[names[i]] != dims[names[j]] {
			return dims[names[i]] < dims[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}
