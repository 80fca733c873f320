// Package pipeline drives the staged analysis: SERP fetch, competitor
// scraping, phrase processing, scoring, gap analysis and report rendering.
// Stages run sequentially; within a stage work fans out over items.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rankscope/internal/browser"
	"rankscope/internal/config"
	"rankscope/internal/extract"
	"rankscope/internal/gaps"
	"rankscope/internal/logging"
	"rankscope/internal/phrase"
	"rankscope/internal/project"
	"rankscope/internal/proxy"
	"rankscope/internal/report"
	"rankscope/internal/scoring"
	"rankscope/internal/serp"
	"rankscope/internal/types"
)

// Stage names, also used as steps_completed entries.
const (
	StageSerp       = "02_serp_results"
	StageContent    = "03_competitor_content"
	StageProcessing = "04_content_processing"
	StageAnalysis   = "05_competitive_analysis"
	StageOptimize   = "06_optimization"
	StageReports    = "07_final_reports"
)

var stageOrder = []string{StageSerp, StageContent, StageProcessing, StageAnalysis, StageOptimize, StageReports}

// Encoder is the embedding surface the pipeline needs.
type Encoder interface {
	EncodeAll(ctx context.Context, texts []string) ([][]float32, error)
	HitRate() float64
}

// Deps are the injected collaborators. Tests substitute stubs for the
// network-facing ones.
type Deps struct {
	Config  *config.Config
	Serp    serp.Client
	Fetcher browser.Fetcher
	Proxies *proxy.Pool
	Encoder Encoder
	Scorer  *scoring.Scorer
	Gaps    *gaps.Analyzer
}

// Options select the run mode for one invocation.
type Options struct {
	Resume bool
	Fresh  bool
	// OnProgress, when set, receives completed/total stage counts.
	OnProgress func(completed, total int)
}

// Outcome summarizes a finished run for exit-code mapping.
type Outcome struct {
	FailedURLs  int
	FetchedURLs int
	ReusedURLs  int
}

// Partial reports whether some URLs failed while the run completed.
func (o Outcome) Partial() bool { return o.FailedURLs > 0 }

// Orchestrator runs the stages for one project.
type Orchestrator struct {
	deps      Deps
	proj      *project.Project
	opts      Options
	extractor *extract.Extractor
	miner     *phrase.Miner

	// set during Run
	cfg      *types.ProjectConfig
	executed map[string]bool
}

// New creates an orchestrator for the project.
func New(deps Deps, proj *project.Project, opts Options) *Orchestrator {
	return &Orchestrator{
		deps:      deps,
		proj:      proj,
		opts:      opts,
		extractor: extract.New(),
		miner:     phrase.NewMiner(),
		executed:  make(map[string]bool),
	}
}

// Run executes the pipeline end to end. Stage-fatal errors mark the
// project failed and are returned; per-URL failures are recorded and
// reflected in the Outcome.
func (o *Orchestrator) Run(ctx context.Context) (Outcome, error) {
	var out Outcome

	if err := o.proj.Lock(); err != nil {
		return out, err
	}
	defer o.proj.Unlock()

	cfg, err := o.proj.LoadConfig()
	if err != nil {
		return out, err
	}
	o.cfg = cfg

	if o.opts.Fresh {
		if err := o.proj.ArchivePrevious(); err != nil {
			return out, fmt.Errorf("archive previous run: %w", err)
		}
	}

	if err := o.proj.UpdateStatus(types.StatusRunning, StageSerp); err != nil {
		return out, err
	}

	stages := []struct {
		name string
		run  func(context.Context, *Outcome) error
	}{
		{StageSerp, o.runSerp},
		{StageContent, o.runContent},
		{StageProcessing, o.runProcessing},
		{StageAnalysis, o.runAnalysis},
		{StageOptimize, o.runOptimize},
		{StageReports, o.runReports},
	}

	for i, stage := range stages {
		if err := ctx.Err(); err != nil {
			o.proj.RecordFailure(err.Error())
			return out, err
		}
		if err := o.proj.UpdateStatus(types.StatusRunning, stage.name); err != nil {
			return out, err
		}

		timer := logging.StartTimer(logging.CategoryPipeline, stage.name)
		err := stage.run(ctx, &out)
		timer.Stop()
		if err != nil {
			logging.PipelineError("stage %s failed: %v", stage.name, err)
			o.proj.RecordFailure(err.Error())
			return out, err
		}

		if err := o.proj.MarkStepCompleted(stage.name); err != nil {
			return out, err
		}
		if o.opts.OnProgress != nil {
			o.opts.OnProgress(i+1, len(stages))
		}
	}

	if err := o.proj.UpdateStatus(types.StatusCompleted, ""); err != nil {
		return out, err
	}
	logging.Pipeline("project %q completed: %d fetched, %d reused, %d failed",
		o.proj.Name(), out.FetchedURLs, out.ReusedURLs, out.FailedURLs)
	return out, nil
}

// reuseAllowed reports whether cached artifacts may satisfy a stage.
func (o *Orchestrator) reuseAllowed() bool { return !o.opts.Fresh }

// =============================================================================
// STAGE 02: SERP
// =============================================================================

func (o *Orchestrator) runSerp(ctx context.Context, _ *Outcome) error {
	if o.reuseAllowed() {
		prev, err := o.proj.LoadSerpResult()
		if err != nil {
			return err
		}
		if prev != nil && prev.Query == o.cfg.Query {
			logging.Pipeline("stage 02: reusing cached SERP for %q", o.cfg.Query)
			return nil
		}
	}

	res, err := o.deps.Serp.Search(ctx, serp.Query{
		Query:      o.cfg.Query,
		TargetURL:  o.cfg.TargetURL,
		NumResults: o.cfg.TopN,
	})
	if err != nil {
		return err
	}
	o.executed[StageSerp] = true
	return o.proj.SaveSerpResult(res)
}

// =============================================================================
// STAGE 03: CONTENT
// =============================================================================

type fetchItem struct {
	url      string
	position any // int or "not ranking"
	isTarget bool
}

func (o *Orchestrator) runContent(ctx context.Context, out *Outcome) error {
	serpRes, err := o.proj.LoadSerpResult()
	if err != nil {
		return err
	}
	if serpRes == nil {
		return types.E(types.KindSerp, "stage 03 requires serp results")
	}

	positions := make(map[string]int)
	for _, r := range serpRes.OrganicResults {
		positions[r.URL] = r.Position
	}
	rankOf := func(url string) any {
		if pos, ok := positions[url]; ok {
			return pos
		}
		return types.NotRanking
	}

	items := []fetchItem{{url: o.cfg.TargetURL, position: rankOf(o.cfg.TargetURL), isTarget: true}}
	for _, u := range serpRes.CompetitorURLs() {
		items = append(items, fetchItem{url: u, position: rankOf(u)})
	}

	pending := make([]fetchItem, 0, len(items))
	for _, it := range items {
		if o.reuseAllowed() {
			snap, err := o.proj.LoadSnapshot(it.url)
			if err != nil {
				return err
			}
			if snap != nil && snap.Query == o.cfg.Query {
				out.ReusedURLs++
				continue
			}
		}
		pending = append(pending, it)
	}
	if len(pending) == 0 {
		logging.Pipeline("stage 03: all %d snapshots reused", len(items))
		return nil
	}

	workers := o.deps.Config.Pipeline.MaxWorkers
	if workers <= 0 {
		workers = 3
	}
	if workers > len(pending) {
		workers = len(pending)
	}

	var mu sync.Mutex
	queue := make(chan fetchItem)

	g, gctx := errgroup.WithContext(ctx)
	for range workers {
		g.Go(func() error {
			for it := range queue {
				err := o.fetchOne(gctx, it)
				mu.Lock()
				if err != nil {
					out.FailedURLs++
				} else {
					out.FetchedURLs++
				}
				mu.Unlock()
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// Per-worker pacing between fetches.
				select {
				case <-time.After(o.deps.Config.GetWorkerDelay()):
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	for _, it := range pending {
		select {
		case queue <- it:
		case <-gctx.Done():
		}
	}
	close(queue)
	if err := g.Wait(); err != nil {
		return err
	}

	o.executed[StageContent] = true
	logging.Pipeline("stage 03: %d fetched, %d reused, %d failed", out.FetchedURLs, out.ReusedURLs, out.FailedURLs)
	return nil
}

// fetchOne fetches and extracts a single URL, rotating proxies across
// retries. Failures are recorded as failed-scrape artifacts, never
// returned as errors.
func (o *Orchestrator) fetchOne(ctx context.Context, it fetchItem) error {
	maxAttempts := o.deps.Config.Pipeline.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var lastErr error
	var proxiesTried []string
	attempts := 0

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		attempts++

		var via *proxy.Proxy
		if o.deps.Proxies != nil && o.deps.Proxies.Size() > 0 {
			p, err := o.deps.Proxies.Next()
			if err != nil {
				lastErr = err
				break
			}
			via = &p
			proxiesTried = append(proxiesTried, p.Addr())
		}

		snap, err := o.fetchAndExtract(ctx, it.url, via)
		if err == nil {
			snap.Query = o.cfg.Query
			snap.SerpRanking = it.position
			if it.isTarget {
				snap.Source = "target"
			} else {
				snap.Source = "serp"
			}
			if via != nil {
				snap.ScrapingMethod = "browser_via_proxy"
			} else {
				snap.ScrapingMethod = "browser_direct"
			}
			if err := o.saveSnapshot(snap); err != nil {
				return err
			}
			return nil
		}

		lastErr = err
		if via != nil && (types.IsKind(err, types.KindFetch) || types.IsKind(err, types.KindAntiBot)) {
			o.deps.Proxies.MarkFailed(*via)
		}
		logging.PipelineWarn("fetch %s attempt %d/%d failed: %v", it.url, attempt+1, maxAttempts, err)

		if attempt < maxAttempts-1 {
			backoff := o.deps.Config.GetRetryBackoff() * (1 << attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
		}
	}

	rec := &types.FailedScrape{
		URL:          it.url,
		Query:        o.cfg.Query,
		ErrorKind:    string(types.KindOf(lastErr)),
		ErrorMessage: fmt.Sprintf("%v", lastErr),
		Attempts:     attempts,
		ProxiesTried: proxiesTried,
		FailedAt:     time.Now().UTC(),
	}
	if err := o.proj.SaveFailedScrape(rec); err != nil {
		return err
	}
	return lastErr
}

func (o *Orchestrator) fetchAndExtract(ctx context.Context, url string, via *proxy.Proxy) (*types.PageSnapshot, error) {
	res, err := o.deps.Fetcher.Fetch(ctx, url, via)
	if err != nil {
		return nil, err
	}
	snap, err := o.extractor.Extract(res.HTML, url)
	if err != nil {
		return nil, err
	}
	snap.FinalURL = res.FinalURL
	if snap.Title == "" {
		snap.Title = res.Title
	}
	snap.RawHTML = res.HTML
	return snap, nil
}

func (o *Orchestrator) saveSnapshot(snap *types.PageSnapshot) error {
	backup := &types.RawBackup{
		URL:               snap.URL,
		Title:             snap.Title,
		RawHTML:           snap.RawHTML,
		ExtractedText:     snap.Content,
		MetaDescription:   snap.MetaDescription,
		ExtractionMethod:  snap.ExtractionMethod,
		ScrapingTimestamp: snap.AddedAt,
		SerpRanking:       snap.SerpRanking,
		Query:             snap.Query,
		ContentLength:     snap.ContentLength,
		WordCount:         snap.WordCount,
	}
	if err := o.proj.SaveRawBackup(backup); err != nil {
		return err
	}
	// Extracted snapshots stay lean; raw HTML lives in the backup only.
	snap.RawHTML = ""
	return o.proj.SaveSnapshot(snap)
}

// =============================================================================
// STAGE 04: PROCESSING
// =============================================================================

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func (o *Orchestrator) runProcessing(ctx context.Context, _ *Outcome) error {
	target, competitors, err := o.loadSnapshotsSplit()
	if err != nil {
		return err
	}

	if o.reuseAllowed() && o.processingFresh(target, competitors) {
		logging.Pipeline("stage 04: reusing cached processing artifacts")
		return nil
	}

	process := func(snap *types.PageSnapshot) (*types.ProcessedDoc, error) {
		phrases := o.miner.Extract(snap.Content)
		keys := make([]string, len(phrases))
		for i := range phrases {
			keys[i] = phrases[i].Key
		}
		vecs, err := o.deps.Encoder.EncodeAll(ctx, keys)
		if err != nil {
			return nil, types.Wrap(types.KindEmbedding, err, "embed %d phrases for %s", len(keys), snap.URL)
		}
		return &types.ProcessedDoc{
			URL:         snap.URL,
			Slug:        project.Slug(snap.URL),
			Phrases:     phrases,
			Embeddings:  vecs,
			PhraseCount: len(phrases),
			ContentHash: contentHash(snap.Content),
			Query:       o.cfg.Query,
			ProcessedAt: time.Now().UTC(),
		}, nil
	}

	if target != nil {
		doc, err := process(target)
		if err != nil {
			return err
		}
		artifact := &project.TargetProcessing{Query: o.cfg.Query, CacheHitRate: o.deps.Encoder.HitRate(), Doc: *doc}
		if err := o.proj.SaveTargetProcessing(artifact); err != nil {
			return err
		}
	}

	docs := make([]types.ProcessedDoc, 0, len(competitors))
	for _, snap := range competitors {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		doc, err := process(snap)
		if err != nil {
			return err
		}
		docs = append(docs, *doc)
	}
	artifact := &project.CompetitorProcessing{Query: o.cfg.Query, CacheHitRate: o.deps.Encoder.HitRate(), Docs: docs}
	if err := o.proj.SaveCompetitorProcessing(artifact); err != nil {
		return err
	}

	o.executed[StageProcessing] = true
	logging.Pipeline("stage 04: processed %d documents, cache hit rate %.2f", len(docs)+1, o.deps.Encoder.HitRate())
	return nil
}

func (o *Orchestrator) loadSnapshotsSplit() (target *types.PageSnapshot, competitors []*types.PageSnapshot, err error) {
	snaps, err := o.proj.LoadSnapshots()
	if err != nil {
		return nil, nil, err
	}
	for _, s := range snaps {
		if s.Query != o.cfg.Query {
			continue
		}
		if s.URL == o.cfg.TargetURL {
			target = s
		} else {
			competitors = append(competitors, s)
		}
	}
	return target, competitors, nil
}

// processingFresh reports whether the stage-04 artifacts match the current
// snapshots by query and content hash.
func (o *Orchestrator) processingFresh(target *types.PageSnapshot, competitors []*types.PageSnapshot) bool {
	tp, err := o.proj.LoadTargetProcessing()
	if err != nil {
		return false
	}
	cp, err := o.proj.LoadCompetitorProcessing()
	if err != nil || cp == nil {
		return false
	}
	if cp.Query != o.cfg.Query {
		return false
	}

	if target != nil {
		if tp == nil || tp.Query != o.cfg.Query || tp.Doc.ContentHash != contentHash(target.Content) {
			return false
		}
	}

	hashes := make(map[string]string, len(cp.Docs))
	for _, d := range cp.Docs {
		hashes[d.URL] = d.ContentHash
	}
	if len(hashes) != len(competitors) {
		return false
	}
	for _, snap := range competitors {
		if hashes[snap.URL] != contentHash(snap.Content) {
			return false
		}
	}
	return true
}

// =============================================================================
// STAGE 05: ANALYSIS
// =============================================================================

func (o *Orchestrator) runAnalysis(ctx context.Context, _ *Outcome) error {
	if o.reuseAllowed() && !o.executed[StageProcessing] {
		prev, err := o.proj.LoadAnalysis()
		if err != nil {
			return err
		}
		if prev != nil && prev.Query == o.cfg.Query {
			logging.Pipeline("stage 05: reusing cached analysis")
			return nil
		}
	}

	target, competitors, err := o.loadSnapshotsSplit()
	if err != nil {
		return err
	}

	score := func(snap *types.PageSnapshot) project.ScoredPage {
		page := project.ScoredPage{URL: snap.URL, SerpRanking: snap.SerpRanking}
		s, err := o.deps.Scorer.Score(ctx, snap, o.cfg.Query)
		if err != nil {
			// Per-snapshot failures are recorded, not fatal.
			page.Error = err.Error()
			logging.PipelineWarn("scoring %s failed: %v", snap.URL, err)
			return page
		}
		page.Score = s
		return page
	}

	analysis := &project.Analysis{Query: o.cfg.Query, GeneratedAt: time.Now().UTC()}
	if target != nil {
		analysis.Target = score(target)
	} else {
		analysis.Target = project.ScoredPage{URL: o.cfg.TargetURL, SerpRanking: types.NotRanking, Error: "target page was not scraped"}
	}

	var positions, composites []float64
	for _, snap := range competitors {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		page := score(snap)
		analysis.Competitors = append(analysis.Competitors, page)
		if page.Score != nil {
			if pos, ok := snap.SerpRanking.(int); ok {
				positions = append(positions, float64(pos))
				composites = append(composites, page.Score.CompositeScore)
			} else if pos, ok := snap.SerpRanking.(float64); ok {
				// JSON round trips ints as float64.
				positions = append(positions, pos)
				composites = append(composites, page.Score.CompositeScore)
			}
		}
	}

	if corr, ok := Spearman(composites, positions); ok {
		analysis.RankingCorrelation = &corr
	}

	if err := o.proj.SaveAnalysis(analysis); err != nil {
		return err
	}
	o.executed[StageAnalysis] = true
	return nil
}

// =============================================================================
// STAGE 06: OPTIMIZATION
// =============================================================================

func (o *Orchestrator) runOptimize(ctx context.Context, _ *Outcome) error {
	if o.reuseAllowed() && !o.executed[StageProcessing] {
		prev, err := o.proj.LoadGaps()
		if err != nil {
			return err
		}
		if prev != nil && prev.Query == o.cfg.Query {
			logging.Pipeline("stage 06: reusing cached gap analysis")
			return nil
		}
	}

	tp, err := o.proj.LoadTargetProcessing()
	if err != nil {
		return err
	}
	cp, err := o.proj.LoadCompetitorProcessing()
	if err != nil {
		return err
	}
	if cp == nil {
		return types.E(types.KindScoring, "stage 06 requires processing artifacts")
	}

	targetSet := &types.PhraseSet{URL: o.cfg.TargetURL}
	if tp != nil {
		targetSet.Phrases = tp.Doc.Phrases
	}
	compSets := make([]*types.PhraseSet, 0, len(cp.Docs))
	for i := range cp.Docs {
		compSets = append(compSets, &types.PhraseSet{URL: cp.Docs[i].URL, Phrases: cp.Docs[i].Phrases})
	}

	res, err := o.deps.Gaps.Analyze(ctx, targetSet, compSets, o.cfg.Query)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := o.proj.SaveGaps(&project.Gaps{
		Query:       o.cfg.Query,
		Gaps:        res.Gaps,
		Coverage:    res.Coverage,
		GeneratedAt: now,
	}); err != nil {
		return err
	}

	recs := &project.Recommendations{
		Query:                o.cfg.Query,
		EstimatedImprovement: gaps.EstimatedImprovement(res.Gaps),
		GeneratedAt:          now,
	}
	for i, g := range res.Gaps {
		if i >= 10 {
			break
		}
		recs.Recommendations = append(recs.Recommendations,
			fmt.Sprintf("Add '%s' to your content (estimated impact %.1f)", g.Phrase, g.EstimatedImpact))
	}
	if err := o.proj.SaveRecommendations(recs); err != nil {
		return err
	}

	o.executed[StageOptimize] = true
	return nil
}

// =============================================================================
// STAGE 07: REPORTS
// =============================================================================

func (o *Orchestrator) runReports(_ context.Context, _ *Outcome) error {
	upstreamChanged := len(o.executed) > 0
	if o.reuseAllowed() && !upstreamChanged {
		if _, err := o.proj.ReadExecutiveSummary(); err == nil {
			logging.Pipeline("stage 07: reusing rendered reports")
			return nil
		}
	}

	serpRes, err := o.proj.LoadSerpResult()
	if err != nil {
		return err
	}
	analysis, err := o.proj.LoadAnalysis()
	if err != nil {
		return err
	}
	gapsArt, err := o.proj.LoadGaps()
	if err != nil {
		return err
	}
	recs, err := o.proj.LoadRecommendations()
	if err != nil {
		return err
	}
	failed, err := o.proj.FailedScrapes()
	if err != nil {
		return err
	}

	in := report.Input{
		Config:   o.cfg,
		Serp:     serpRes,
		Analysis: analysis,
		Gaps:     gapsArt,
		Recs:     recs,
		Failed:   failed,
	}
	if err := o.proj.WriteExecutiveSummary(report.ExecutiveSummary(in)); err != nil {
		return err
	}
	if err := o.proj.WriteImplementationGuide(report.ImplementationGuide(in)); err != nil {
		return err
	}
	o.executed[StageReports] = true
	return nil
}
