// Package types defines the shared records that flow between pipeline
// stages, plus the domain error kinds. Everything here serializes to the
// on-disk project artifacts as UTF-8 JSON.
package types

import (
	"strings"
	"time"
)

// =============================================================================
// PROJECT
// =============================================================================

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	StatusInitialized ProjectStatus = "initialized"
	StatusRunning     ProjectStatus = "running"
	StatusCompleted   ProjectStatus = "completed"
	StatusFailed      ProjectStatus = "failed"
)

// ProjectConfig is the persistent identity of a project
// (00_config/project_config.json). Query is the identity key for content
// reuse: artifacts captured under a different query are never reused.
type ProjectConfig struct {
	ProjectName    string        `json:"project_name"`
	Query          string        `json:"query"`
	TargetURL      string        `json:"target_url"`
	TopN           int           `json:"top_n"`
	Status         ProjectStatus `json:"status"`
	StepsCompleted []string      `json:"steps_completed"`
	CurrentStep    string        `json:"current_step"`
	CreatedAt      time.Time     `json:"created_at"`
	LastUpdated    time.Time     `json:"last_updated"`
	LastError      string        `json:"last_error,omitempty"`
}

// =============================================================================
// SERP
// =============================================================================

// OrganicResult is one ranked entry from a search results page.
type OrganicResult struct {
	Position int    `json:"position"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet,omitempty"`
}

// SerpResult is the parsed top-N result set for a query. TargetRanking is
// nil when the target URL does not appear in the organic results.
type SerpResult struct {
	Query          string          `json:"query"`
	TargetURL      string          `json:"target_url"`
	TargetRanking  *int            `json:"target_ranking"`
	OrganicResults []OrganicResult `json:"organic_results"`
	Provider       string          `json:"provider"`
	FetchedAt      time.Time       `json:"fetched_at"`
}

// CompetitorURLs returns the organic URLs in ranking order, excluding the
// target URL itself.
func (s *SerpResult) CompetitorURLs() []string {
	urls := make([]string, 0, len(s.OrganicResults))
	for _, r := range s.OrganicResults {
		if r.URL == s.TargetURL {
			continue
		}
		urls = append(urls, r.URL)
	}
	return urls
}

// =============================================================================
// PAGE SNAPSHOT
// =============================================================================

// ExtractionMethod records which rung of the extraction ladder produced a
// snapshot's text.
type ExtractionMethod string

const (
	ExtractPrimary   ExtractionMethod = "primary"   // readability
	ExtractSecondary ExtractionMethod = "secondary" // structural scan
	ExtractTertiary  ExtractionMethod = "tertiary"  // whole-body text
)

// Heading is one document heading in source order.
type Heading struct {
	Level int    `json:"level"` // 1..6
	Text  string `json:"text"`
}

// NotRanking is the serialized serp_ranking value for a page that does not
// appear in the organic results.
const NotRanking = "not ranking"

// PageSnapshot is the extracted content of one URL, bound to the query it
// was captured under. A snapshot is reusable only when both its URL and its
// Query match the current project inputs.
type PageSnapshot struct {
	URL              string           `json:"url"`
	FinalURL         string           `json:"final_url,omitempty"`
	Title            string           `json:"title"`
	Content          string           `json:"content"`
	MetaDescription  string           `json:"meta_description"`
	Headings         []Heading        `json:"headings,omitempty"`
	RawHTML          string           `json:"raw_html,omitempty"`
	Source           string           `json:"source"`
	AddedAt          time.Time        `json:"added_at"`
	ContentLength    int              `json:"content_length"`
	WordCount        int              `json:"word_count"`
	ScrapingMethod   string           `json:"scraping_method"`
	SerpRanking      any              `json:"serp_ranking"` // int or "not ranking"
	Query            string           `json:"query"`
	ExtractionMethod ExtractionMethod `json:"extraction_method,omitempty"`
}

// Finalize fills the derived fields from Content.
func (p *PageSnapshot) Finalize() {
	p.ContentLength = len(p.Content)
	p.WordCount = len(strings.Fields(p.Content))
}

// RawBackup is the auditing record written alongside a snapshot
// (03_competitor_content/raw_backups/<slug>.json).
type RawBackup struct {
	URL               string           `json:"url"`
	Title             string           `json:"title"`
	RawHTML           string           `json:"raw_html"`
	ExtractedText     string           `json:"extracted_text"`
	MetaDescription   string           `json:"meta_description"`
	ExtractionMethod  ExtractionMethod `json:"extraction_method"`
	ScrapingTimestamp time.Time        `json:"scraping_timestamp"`
	SerpRanking       any              `json:"serp_ranking"`
	Query             string           `json:"query"`
	ContentLength     int              `json:"content_length"`
	WordCount         int              `json:"word_count"`
}

// FailedScrape records a URL the scraping stage gave up on
// (03_competitor_content/failed_scrapes/<slug>.json).
type FailedScrape struct {
	URL          string    `json:"url"`
	Query        string    `json:"query"`
	ErrorKind    string    `json:"error_kind"`
	ErrorMessage string    `json:"error_message"`
	Attempts     int       `json:"attempts"`
	ProxiesTried []string  `json:"proxies_tried,omitempty"`
	FailedAt     time.Time `json:"failed_at"`
}

// =============================================================================
// PHRASES & EMBEDDINGS
// =============================================================================

// Phrase is one mined phrase. Key is the lowercased form used for matching
// and deduplication; Display preserves an original casing.
type Phrase struct {
	Key     string `json:"key"`
	Display string `json:"display"`
	// Optional hierarchical annotation for phrases mined under a heading.
	Heading     string `json:"heading,omitempty"`
	Level       int    `json:"level,omitempty"`
	ContextPath string `json:"context_path,omitempty"`
}

// PhraseSet is the deduplicated phrase universe of one snapshot.
type PhraseSet struct {
	URL     string   `json:"url"`
	Phrases []Phrase `json:"phrases"`
}

// Contains reports whether the set holds the lowercase key.
func (ps *PhraseSet) Contains(key string) bool {
	for i := range ps.Phrases {
		if ps.Phrases[i].Key == key {
			return true
		}
	}
	return false
}

// Keys returns the lowercase keys in set order.
func (ps *PhraseSet) Keys() []string {
	keys := make([]string, len(ps.Phrases))
	for i := range ps.Phrases {
		keys[i] = ps.Phrases[i].Key
	}
	return keys
}

// ProcessedDoc is one snapshot's stage-04 output: phrases plus their
// embeddings, row i of Embeddings corresponding to Phrases[i].
type ProcessedDoc struct {
	URL         string      `json:"url"`
	Slug        string      `json:"slug"`
	Phrases     []Phrase    `json:"phrases"`
	Embeddings  [][]float32 `json:"embeddings"`
	PhraseCount int         `json:"phrase_count"`
	ContentHash string      `json:"content_hash"`
	Query       string      `json:"query"`
	ProcessedAt time.Time   `json:"processed_at"`
}

// =============================================================================
// SCORING
// =============================================================================

// ContentScore is the eight-value scoring result for one document. All
// dimension scores are in [0,100]. Error is set (and every score zero) when
// there was no content to analyze.
type ContentScore struct {
	MetadataAlignment         float64 `json:"metadata_alignment"`
	HierarchicalDecomposition float64 `json:"hierarchical_decomposition"`
	ThematicUnity             float64 `json:"thematic_unity"`
	Balance                   float64 `json:"balance"`
	QueryIntent               float64 `json:"query_intent"`
	StructuralCoherence       float64 `json:"structural_coherence"`
	CompositeScore            float64 `json:"composite_score"`
	SEOScore                  float64 `json:"seo_score"`

	Details         map[string]any `json:"details,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// Dimensions returns the six dimension scores keyed by their config names.
func (c *ContentScore) Dimensions() map[string]float64 {
	return map[string]float64{
		"metadata_alignment":         c.MetadataAlignment,
		"hierarchical_decomposition": c.HierarchicalDecomposition,
		"thematic_unity":             c.ThematicUnity,
		"balance":                    c.Balance,
		"query_intent":               c.QueryIntent,
		"structural_coherence":       c.StructuralCoherence,
	}
}

// =============================================================================
// SEMANTIC GAPS
// =============================================================================

// SemanticGap is one phrase competitors use that the target does not,
// ranked by estimated ranking impact. CompetitorUsage counts distinct
// competitor snapshots, not occurrences.
type SemanticGap struct {
	Phrase          string   `json:"phrase"`
	QuerySimilarity float64  `json:"query_relevance"`
	CompetitorUsage int      `json:"competitor_usage"`
	UsagePercent    float64  `json:"competitor_usage_pct"`
	EstimatedImpact float64  `json:"estimated_impact"`
	Sources         []string `json:"sources,omitempty"`
	Recommendation  string   `json:"recommendation,omitempty"`
}

// CoverageStats summarizes the gap analysis universe.
type CoverageStats struct {
	YourUniquePhrases         int `json:"your_unique_phrases"`
	CompetitorCommonPhrases   int `json:"competitor_common_phrases"`
	SemanticGapsFound         int `json:"semantic_gaps_found"`
	HighImpactRecommendations int `json:"high_impact_recommendations"`
}

// =============================================================================
// JOBS
// =============================================================================

// JobStatus is the externally visible job lifecycle. Transitions are
// strictly monotonic: pending -> processing -> (completed | failed).
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// JobState is the poll response for a submitted analysis job.
type JobState struct {
	ID              string    `json:"job_id"`
	Status          JobStatus `json:"status"`
	ProgressPercent int       `json:"progress_percent"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}
