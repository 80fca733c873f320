// Package project owns the on-disk project layout: the numbered stage
// directories, the JSON artifacts each stage reads and writes, the project
// lock, and archival of previous analyses.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"rankscope/internal/logging"
	"rankscope/internal/types"
)

const (
	dirConfig     = "00_config"
	dirSerp       = "02_serp_results"
	dirContent    = "03_competitor_content"
	dirProcessing = "04_content_processing"
	dirAnalysis   = "05_competitive_analysis"
	dirOptimize   = "06_optimization"
	dirReports    = "07_final_reports"
	dirArchive    = "08_archive"

	dirExtracted = "extracted_content"
	dirBackups   = "raw_backups"
	dirFailed    = "failed_scrapes"

	lockFile   = "project.lock"
	maxSlugLen = 100
)

// Store locates projects under a common root directory.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the projects directory.
func (s *Store) Root() string { return s.root }

// Open returns the named project, creating its directory tree, config and
// README on first use.
func (s *Store) Open(name string, cfg types.ProjectConfig) (*Project, error) {
	if name == "" {
		return nil, types.E(types.KindConfig, "project name is required")
	}
	p := &Project{name: name, dir: filepath.Join(s.root, name)}

	fresh := false
	if _, err := os.Stat(p.configPath()); os.IsNotExist(err) {
		fresh = true
	}

	if err := p.ensureLayout(); err != nil {
		return nil, err
	}

	if fresh {
		now := time.Now().UTC()
		cfg.ProjectName = name
		cfg.Status = types.StatusInitialized
		cfg.CreatedAt = now
		cfg.LastUpdated = now
		if err := p.SaveConfig(&cfg); err != nil {
			return nil, err
		}
		if err := p.writeReadme(); err != nil {
			return nil, err
		}
		logging.Project("created project %q at %s", name, p.dir)
	}
	return p, nil
}

// List returns the names of all projects under the root.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Project is one project directory.
type Project struct {
	name string
	dir  string
}

// Name returns the project name.
func (p *Project) Name() string { return p.name }

// Dir returns the project root directory.
func (p *Project) Dir() string { return p.dir }

func (p *Project) ensureLayout() error {
	dirs := []string{
		filepath.Join(p.dir, dirConfig),
		filepath.Join(p.dir, dirSerp),
		filepath.Join(p.dir, dirContent, dirExtracted),
		filepath.Join(p.dir, dirContent, dirBackups),
		filepath.Join(p.dir, dirContent, dirFailed),
		filepath.Join(p.dir, dirProcessing),
		filepath.Join(p.dir, dirAnalysis),
		filepath.Join(p.dir, dirOptimize),
		filepath.Join(p.dir, dirReports, "executive_summary"),
		filepath.Join(p.dir, dirReports, "implementation_guide"),
		filepath.Join(p.dir, dirArchive),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// =============================================================================
// LOCKING
// =============================================================================

// Lock claims exclusive ownership of the project directory. A lock held by
// a live process yields KindLockHeld; a stale lock from a dead process is
// taken over.
func (p *Project) Lock() error {
	path := filepath.Join(p.dir, lockFile)
	if data, err := os.ReadFile(path); err == nil {
		pid, perr := strconv.Atoi(strings.TrimSpace(string(data)))
		if perr == nil && pid != os.Getpid() && processAlive(pid) {
			return types.E(types.KindLockHeld, "project %q is locked by pid %d", p.name, pid)
		}
		logging.ProjectWarn("removing stale lock for %q (pid %s)", p.name, strings.TrimSpace(string(data)))
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// Unlock releases the project lock. Missing lock files are not an error.
func (p *Project) Unlock() error {
	err := os.Remove(filepath.Join(p.dir, lockFile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// =============================================================================
// CONFIG
// =============================================================================

func (p *Project) configPath() string {
	return filepath.Join(p.dir, dirConfig, "project_config.json")
}

// LoadConfig reads project_config.json.
func (p *Project) LoadConfig() (*types.ProjectConfig, error) {
	var cfg types.ProjectConfig
	if err := readJSON(p.configPath(), &cfg); err != nil {
		return nil, types.Wrap(types.KindConfig, err, "load project config for %q", p.name)
	}
	return &cfg, nil
}

// SaveConfig writes project_config.json with a refreshed last_updated.
func (p *Project) SaveConfig(cfg *types.ProjectConfig) error {
	cfg.LastUpdated = time.Now().UTC()
	return writeJSON(p.configPath(), cfg)
}

// UpdateStatus sets the status and current step, persisting immediately.
func (p *Project) UpdateStatus(status types.ProjectStatus, currentStep string) error {
	cfg, err := p.LoadConfig()
	if err != nil {
		return err
	}
	cfg.Status = status
	cfg.CurrentStep = currentStep
	return p.SaveConfig(cfg)
}

// MarkStepCompleted appends the step to steps_completed once.
func (p *Project) MarkStepCompleted(step string) error {
	cfg, err := p.LoadConfig()
	if err != nil {
		return err
	}
	for _, s := range cfg.StepsCompleted {
		if s == step {
			return p.SaveConfig(cfg)
		}
	}
	cfg.StepsCompleted = append(cfg.StepsCompleted, step)
	return p.SaveConfig(cfg)
}

// RecordFailure marks the project failed with the error message.
func (p *Project) RecordFailure(msg string) error {
	cfg, err := p.LoadConfig()
	if err != nil {
		return err
	}
	cfg.Status = types.StatusFailed
	cfg.LastError = msg
	return p.SaveConfig(cfg)
}

// =============================================================================
// STAGE 02: SERP
// =============================================================================

func (p *Project) serpPath() string {
	return filepath.Join(p.dir, dirSerp, "serp_results.json")
}

// SaveSerpResult writes serp_results.json and competitor_urls.json.
func (p *Project) SaveSerpResult(res *types.SerpResult) error {
	if err := writeJSON(p.serpPath(), res); err != nil {
		return err
	}
	urls := struct {
		Query          string   `json:"query"`
		CompetitorURLs []string `json:"competitor_urls"`
	}{Query: res.Query, CompetitorURLs: res.CompetitorURLs()}
	return writeJSON(filepath.Join(p.dir, dirSerp, "competitor_urls.json"), urls)
}

// LoadSerpResult reads serp_results.json. A missing file returns (nil, nil).
func (p *Project) LoadSerpResult() (*types.SerpResult, error) {
	var res types.SerpResult
	err := readJSON(p.serpPath(), &res)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// =============================================================================
// STAGE 03: CONTENT
// =============================================================================

// Slug derives the artifact file stem for a URL: scheme and leading www.
// stripped, path separators flattened to underscores, capped at 100 chars.
func Slug(rawURL string) string {
	s := rawURL
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	s = strings.TrimPrefix(s, "www.")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.TrimRight(s, "_")
	if len(s) > maxSlugLen {
		s = s[:maxSlugLen]
	}
	return s
}

// SaveSnapshot writes an extracted snapshot under its URL slug.
func (p *Project) SaveSnapshot(snap *types.PageSnapshot) error {
	path := filepath.Join(p.dir, dirContent, dirExtracted, Slug(snap.URL)+".json")
	return writeJSON(path, snap)
}

// LoadSnapshot reads the snapshot for a URL. Missing returns (nil, nil).
func (p *Project) LoadSnapshot(url string) (*types.PageSnapshot, error) {
	var snap types.PageSnapshot
	err := readJSON(filepath.Join(p.dir, dirContent, dirExtracted, Slug(url)+".json"), &snap)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// LoadSnapshots reads every extracted snapshot in the project.
func (p *Project) LoadSnapshots() ([]*types.PageSnapshot, error) {
	dir := filepath.Join(p.dir, dirContent, dirExtracted)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var snaps []*types.PageSnapshot
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var snap types.PageSnapshot
		if err := readJSON(filepath.Join(dir, e.Name()), &snap); err != nil {
			logging.ProjectWarn("skipping unreadable snapshot %s: %v", e.Name(), err)
			continue
		}
		snaps = append(snaps, &snap)
	}
	return snaps, nil
}

// SaveRawBackup writes the raw-HTML audit record for a URL.
func (p *Project) SaveRawBackup(b *types.RawBackup) error {
	path := filepath.Join(p.dir, dirContent, dirBackups, Slug(b.URL)+".json")
	return writeJSON(path, b)
}

// SaveFailedScrape records a URL the scraping stage gave up on.
func (p *Project) SaveFailedScrape(f *types.FailedScrape) error {
	path := filepath.Join(p.dir, dirContent, dirFailed, Slug(f.URL)+".json")
	return writeJSON(path, f)
}

// FailedScrapes reads every failed-scrape record.
func (p *Project) FailedScrapes() ([]*types.FailedScrape, error) {
	dir := filepath.Join(p.dir, dirContent, dirFailed)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var fails []*types.FailedScrape
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var f types.FailedScrape
		if err := readJSON(filepath.Join(dir, e.Name()), &f); err != nil {
			continue
		}
		fails = append(fails, &f)
	}
	return fails, nil
}

// =============================================================================
// STAGE 04: PROCESSING
// =============================================================================

// TargetProcessing is the stage-04 artifact for the target page.
type TargetProcessing struct {
	Query        string             `json:"query"`
	CacheHitRate float64            `json:"cache_hit_rate"`
	Doc          types.ProcessedDoc `json:"doc"`
}

// CompetitorProcessing is the stage-04 artifact for the competitor pages.
type CompetitorProcessing struct {
	Query        string               `json:"query"`
	CacheHitRate float64              `json:"cache_hit_rate"`
	Docs         []types.ProcessedDoc `json:"docs"`
}

// SaveTargetProcessing writes target_processing.json.
func (p *Project) SaveTargetProcessing(t *TargetProcessing) error {
	return writeJSON(filepath.Join(p.dir, dirProcessing, "target_processing.json"), t)
}

// LoadTargetProcessing reads target_processing.json. Missing returns nil.
func (p *Project) LoadTargetProcessing() (*TargetProcessing, error) {
	var t TargetProcessing
	err := readJSON(filepath.Join(p.dir, dirProcessing, "target_processing.json"), &t)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveCompetitorProcessing writes competitor_processing.json.
func (p *Project) SaveCompetitorProcessing(c *CompetitorProcessing) error {
	return writeJSON(filepath.Join(p.dir, dirProcessing, "competitor_processing.json"), c)
}

// LoadCompetitorProcessing reads competitor_processing.json. Missing
// returns nil.
func (p *Project) LoadCompetitorProcessing() (*CompetitorProcessing, error) {
	var c CompetitorProcessing
	err := readJSON(filepath.Join(p.dir, dirProcessing, "competitor_processing.json"), &c)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// =============================================================================
// STAGE 05: ANALYSIS
// =============================================================================

// ScoredPage pairs a URL with its content score. Error carries a
// per-snapshot scoring failure without aborting the stage.
type ScoredPage struct {
	URL         string              `json:"url"`
	SerpRanking any                 `json:"serp_ranking"`
	Score       *types.ContentScore `json:"score,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Analysis is competitive_analysis.json.
type Analysis struct {
	Query              string       `json:"query"`
	Target             ScoredPage   `json:"target"`
	Competitors        []ScoredPage `json:"competitors"`
	RankingCorrelation *float64     `json:"ranking_correlation,omitempty"`
	GeneratedAt        time.Time    `json:"generated_at"`
}

// SaveAnalysis writes competitive_analysis.json.
func (p *Project) SaveAnalysis(a *Analysis) error {
	return writeJSON(filepath.Join(p.dir, dirAnalysis, "competitive_analysis.json"), a)
}

// LoadAnalysis reads competitive_analysis.json. Missing returns nil.
func (p *Project) LoadAnalysis() (*Analysis, error) {
	var a Analysis
	err := readJSON(filepath.Join(p.dir, dirAnalysis, "competitive_analysis.json"), &a)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// =============================================================================
// STAGE 06: OPTIMIZATION
// =============================================================================

// Gaps is semantic_gaps.json.
type Gaps struct {
	Query       string              `json:"query"`
	Gaps        []types.SemanticGap `json:"semantic_gaps"`
	Coverage    types.CoverageStats `json:"coverage_stats"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// Recommendations is recommendations.json.
type Recommendations struct {
	Query                string    `json:"query"`
	EstimatedImprovement float64   `json:"estimated_improvement"`
	Recommendations      []string  `json:"recommendations"`
	GeneratedAt          time.Time `json:"generated_at"`
}

// SaveGaps writes semantic_gaps.json.
func (p *Project) SaveGaps(g *Gaps) error {
	return writeJSON(filepath.Join(p.dir, dirOptimize, "semantic_gaps.json"), g)
}

// LoadGaps reads semantic_gaps.json. Missing returns nil.
func (p *Project) LoadGaps() (*Gaps, error) {
	var g Gaps
	err := readJSON(filepath.Join(p.dir, dirOptimize, "semantic_gaps.json"), &g)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// SaveRecommendations writes recommendations.json.
func (p *Project) SaveRecommendations(r *Recommendations) error {
	return writeJSON(filepath.Join(p.dir, dirOptimize, "recommendations.json"), r)
}

// LoadRecommendations reads recommendations.json. Missing returns nil.
func (p *Project) LoadRecommendations() (*Recommendations, error) {
	var r Recommendations
	err := readJSON(filepath.Join(p.dir, dirOptimize, "recommendations.json"), &r)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// =============================================================================
// STAGE 07: REPORTS
// =============================================================================

// WriteExecutiveSummary writes the rendered executive summary markdown.
func (p *Project) WriteExecutiveSummary(md string) error {
	path := filepath.Join(p.dir, dirReports, "executive_summary", "executive_summary.md")
	return os.WriteFile(path, []byte(md), 0o644)
}

// WriteImplementationGuide writes the rendered implementation guide.
func (p *Project) WriteImplementationGuide(md string) error {
	path := filepath.Join(p.dir, dirReports, "implementation_guide", "implementation_guide.md")
	return os.WriteFile(path, []byte(md), 0o644)
}

// ReadExecutiveSummary returns the rendered executive summary.
func (p *Project) ReadExecutiveSummary() (string, error) {
	data, err := os.ReadFile(filepath.Join(p.dir, dirReports, "executive_summary", "executive_summary.md"))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// =============================================================================
// ARCHIVE
// =============================================================================

// ArchivePrevious moves the analysis, optimization and report artifacts of
// a prior run into 08_archive/previous_analyses/<timestamp>/ so a fresh
// run starts clean without losing history.
func (p *Project) ArchivePrevious() error {
	stamp := time.Now().UTC().Format("20060102T150405Z")
	dest := filepath.Join(p.dir, dirArchive, "previous_analyses", stamp)

	moved := false
	for _, stage := range []string{dirAnalysis, dirOptimize, dirReports} {
		src := filepath.Join(p.dir, stage)
		entries, err := os.ReadDir(src)
		if err != nil || len(entries) == 0 {
			continue
		}
		if empty, _ := dirTreeEmpty(src); empty {
			continue
		}
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return err
		}
		if err := os.Rename(src, filepath.Join(dest, stage)); err != nil {
			return fmt.Errorf("archive %s: %w", stage, err)
		}
		moved = true
	}
	if moved {
		logging.Project("archived previous analysis to %s", dest)
	}
	return p.ensureLayout()
}

func dirTreeEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return true, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			return false, nil
		}
		sub, err := dirTreeEmpty(filepath.Join(dir, e.Name()))
		if err != nil {
			return false, err
		}
		if !sub {
			return false, nil
		}
	}
	return true, nil
}

// =============================================================================
// IO HELPERS
// =============================================================================

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (p *Project) writeReadme() error {
	md := fmt.Sprintf(`# Project: %s

Competitive content analysis workspace. Each numbered directory is one
pipeline stage; artifacts are plain JSON and Markdown.

- 00_config/ - project identity and run state
- 02_serp_results/ - search results and competitor URL list
- 03_competitor_content/ - extracted page snapshots, raw HTML backups,
  failed scrape records
- 04_content_processing/ - mined phrases and their embeddings
- 05_competitive_analysis/ - per-page content scores
- 06_optimization/ - semantic gaps and recommendations
- 07_final_reports/ - executive summary and implementation guide
- 08_archive/ - previous analyses preserved by fresh runs
`, p.name)
	return os.WriteFile(filepath.Join(p.dir, "README.md"), []byte(md), 0o644)
}
