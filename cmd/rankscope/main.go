package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"rankscope/internal/browser"
	"rankscope/internal/config"
	"rankscope/internal/embedding"
	"rankscope/internal/gaps"
	"rankscope/internal/jobs"
	"rankscope/internal/logging"
	"rankscope/internal/pipeline"
	"rankscope/internal/project"
	"rankscope/internal/proxy"
	"rankscope/internal/scoring"
	"rankscope/internal/serp"
	"rankscope/internal/types"
)

// Exit codes of the run command.
const (
	exitOK      = 0
	exitFatal   = 1
	exitPartial = 2
	exitLocked  = 3
)

var (
	// Global flags
	cfgFile string
	verbose bool

	// run flags
	projectName string
	queryFlag   string
	targetURL   string
	topN        int
	resumeRun   bool
	freshRun    bool

	logger   *zap.Logger
	exitCode = exitOK
)

var rootCmd = &cobra.Command{
	Use:   "rankscope",
	Short: "rankscope - competitive SEO content analysis",
	Long: `rankscope analyzes how a target page compares against the pages that
outrank it for a query: it fetches the SERP, scrapes the competitors
through a rotating proxy pool, mines and embeds their phrases, scores
every page across six semantic dimensions, and reports the semantic
gaps worth closing.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the analysis pipeline for a project",
	Long: `Runs the staged pipeline for a project: SERP fetch, competitor
scraping, phrase processing, scoring, gap analysis and report
rendering. Completed stages whose inputs are unchanged are reused;
--fresh archives the previous analysis and redoes everything.`,
	RunE: runProject,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render a project's executive summary",
	RunE:  showReport,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "One-shot analysis of a URL through the job API",
	Long: `Submits a single target-url/keyword analysis as a job, polls its
progress, and prints the resulting score, gaps and recommendations.
The project name is derived from the target URL.`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default rankscope.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	runCmd.Flags().StringVar(&projectName, "project", "", "project name (required)")
	runCmd.Flags().StringVar(&queryFlag, "query", "", "search query")
	runCmd.Flags().StringVar(&targetURL, "target-url", "", "target page URL")
	runCmd.Flags().IntVar(&topN, "top-n", 0, "number of organic results to analyze")
	runCmd.Flags().BoolVar(&resumeRun, "resume", false, "reuse completed stages")
	runCmd.Flags().BoolVar(&freshRun, "fresh", false, "archive previous analysis and redo all stages")
	runCmd.MarkFlagRequired("project")
	runCmd.MarkFlagsMutuallyExclusive("resume", "fresh")

	reportCmd.Flags().StringVar(&projectName, "project", "", "project name (required)")
	reportCmd.MarkFlagRequired("project")

	analyzeCmd.Flags().StringVar(&targetURL, "target-url", "", "target page URL (required)")
	analyzeCmd.Flags().StringVar(&queryFlag, "keyword", "", "search keyword (required)")
	analyzeCmd.MarkFlagRequired("target-url")
	analyzeCmd.MarkFlagRequired("keyword")

	rootCmd.AddCommand(runCmd, reportCmd, analyzeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if exitCode == exitOK {
			exitCode = exitFatal
		}
	}
	os.Exit(exitCode)
}

// loadValidatedConfig loads the config file and enforces its invariants
// before anything downstream consumes it.
func loadValidatedConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, types.Wrap(types.KindConfig, err, "invalid configuration")
	}
	return cfg, nil
}

func runProject(cmd *cobra.Command, args []string) error {
	cfg, err := loadValidatedConfig(cfgFile)
	if err != nil {
		return err
	}

	if err := logging.Initialize(cfg.ProjectsDir, logging.Options{
		DebugMode:  cfg.Logging.DebugMode || verbose,
		Categories: cfg.Logging.Categories,
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.JSONFormat,
	}); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := project.NewStore(cfg.ProjectsDir)
	proj, err := store.Open(projectName, types.ProjectConfig{
		Query:     queryFlag,
		TargetURL: targetURL,
		TopN:      firstNonZero(topN, cfg.Serp.TopN),
	})
	if err != nil {
		return err
	}
	if err := applyFlagOverrides(proj); err != nil {
		return err
	}

	pcfg, err := proj.LoadConfig()
	if err != nil {
		return err
	}
	if pcfg.Query == "" || pcfg.TargetURL == "" {
		return types.E(types.KindConfig, "project %q needs --query and --target-url on first run", projectName)
	}

	deps, cleanup, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info("starting analysis",
		zap.String("project", projectName),
		zap.String("query", pcfg.Query),
		zap.String("target_url", pcfg.TargetURL))

	orch := pipeline.New(deps, proj, pipeline.Options{
		Resume: resumeRun,
		Fresh:  freshRun,
		OnProgress: func(done, total int) {
			logger.Info("stage completed", zap.Int("done", done), zap.Int("total", total))
		},
	})

	out, err := orch.Run(ctx)
	switch {
	case types.IsKind(err, types.KindLockHeld):
		exitCode = exitLocked
		return err
	case err != nil:
		exitCode = exitFatal
		return err
	case out.Partial():
		exitCode = exitPartial
	}

	printRunSummary(proj, out)
	return nil
}

func applyFlagOverrides(proj *project.Project) error {
	pcfg, err := proj.LoadConfig()
	if err != nil {
		return err
	}
	changed := false
	if queryFlag != "" && queryFlag != pcfg.Query {
		pcfg.Query = queryFlag
		changed = true
	}
	if targetURL != "" && targetURL != pcfg.TargetURL {
		pcfg.TargetURL = targetURL
		changed = true
	}
	if topN > 0 && topN != pcfg.TopN {
		pcfg.TopN = topN
		changed = true
	}
	if !changed {
		return nil
	}
	return proj.SaveConfig(pcfg)
}

// buildDeps wires the production collaborators from config.
func buildDeps(cfg *config.Config) (pipeline.Deps, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	serpClient, err := serp.New(cfg.Serp.Provider, cfg.Serp.APIKey, cfg.Serp.BaseURL, cfg.GetSerpTimeout())
	if err != nil {
		return pipeline.Deps{}, cleanup, err
	}

	pool := proxy.Empty()
	if cfg.Proxy.File != "" {
		pool, err = proxy.Load(cfg.Proxy.File, proxy.RotationMode(cfg.Proxy.Rotation))
		if err != nil {
			return pipeline.Deps{}, cleanup, err
		}
		if cfg.Proxy.Watch {
			if err := pool.Watch(cfg.Proxy.File); err != nil {
				logger.Warn("proxy file watch disabled", zap.Error(err))
			}
		}
		cleanups = append(cleanups, pool.Close)
	}

	engine, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.Endpoint,
		OllamaModel:    cfg.Embedding.Model,
		GenAIAPIKey:    cfg.Embedding.APIKey,
		GenAIModel:     cfg.Embedding.Model,
	})
	if err != nil {
		return pipeline.Deps{}, cleanup, err
	}

	var cache *embedding.Cache
	if cfg.Embedding.CachePath != "" {
		cache, err = embedding.OpenCache(cfg.Embedding.CachePath)
		if err != nil {
			return pipeline.Deps{}, cleanup, err
		}
		cleanups = append(cleanups, func() { cache.Close() })
	}
	encoder := embedding.NewEncoder(engine, cache, cfg.Embedding.BatchSize)

	scorer, err := scoring.NewScorer(encoder, cfg.Scoring.Weights(), scoring.DefaultParams())
	if err != nil {
		return pipeline.Deps{}, cleanup, err
	}

	fetcher := browser.NewRodFetcher(browser.Config{
		NavigationTimeout: cfg.GetNavigationTimeout(),
		SettleDelay:       cfg.GetSettleDelay(),
		UserAgent:         cfg.Browser.UserAgent,
		Headless:          true,
	})

	return pipeline.Deps{
		Config:  cfg,
		Serp:    serpClient,
		Fetcher: fetcher,
		Proxies: pool,
		Encoder: encoder,
		Scorer:  scorer,
		Gaps:    gaps.NewAnalyzer(encoder),
	}, cleanup, nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func printRunSummary(proj *project.Project, out pipeline.Outcome) {
	fmt.Println(headerStyle.Render(fmt.Sprintf("Analysis complete: %s", proj.Name())))
	fmt.Printf("  fetched: %d  reused: %d\n", out.FetchedURLs, out.ReusedURLs)
	if out.FailedURLs > 0 {
		fmt.Println(warnStyle.Render(fmt.Sprintf("  failed URLs: %d (see 03_competitor_content/failed_scrapes/)", out.FailedURLs)))
	} else {
		fmt.Println(okStyle.Render("  all URLs scraped"))
	}
	fmt.Printf("\nReports: %s/07_final_reports/\n", proj.Dir())
	fmt.Println("Run `rankscope report --project " + proj.Name() + "` to view the summary.")
}

func showReport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	store := project.NewStore(cfg.ProjectsDir)
	proj, err := store.Open(projectName, types.ProjectConfig{})
	if err != nil {
		return err
	}

	md, err := proj.ReadExecutiveSummary()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return types.E(types.KindConfig, "project %q has no rendered report; run the analysis first", projectName)
		}
		return err
	}

	rendered, err := glamour.Render(md, "dark")
	if err != nil {
		// Fall back to the raw markdown on unstyleable terminals.
		fmt.Println(md)
		return nil
	}
	fmt.Println(rendered)
	return nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadValidatedConfig(cfgFile)
	if err != nil {
		return err
	}
	if err := logging.Initialize(cfg.ProjectsDir, logging.Options{
		DebugMode: cfg.Logging.DebugMode || verbose,
		Level:     cfg.Logging.Level,
	}); err != nil {
		return err
	}

	runner, cleanup, err := newJobRunner(cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	defer runner.Shutdown()

	id, err := runner.Submit(jobs.Request{TargetURL: targetURL, Keyword: queryFlag})
	if err != nil {
		return err
	}
	fmt.Printf("job %s submitted\n", id)

	last := -1
	for {
		st, err := runner.Status(id)
		if err != nil {
			return err
		}
		if st.ProgressPercent != last {
			fmt.Printf("  %s %d%%\n", st.Status, st.ProgressPercent)
			last = st.ProgressPercent
		}
		if st.Status == types.JobCompleted || st.Status == types.JobFailed {
			break
		}
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(500 * time.Millisecond):
		}
	}

	res, err := runner.Results(id)
	if err != nil {
		exitCode = exitFatal
		return err
	}
	if res.Score != nil {
		fmt.Printf("\ncomposite score: %.1f  seo score: %.1f\n", res.Score.CompositeScore, res.Score.SEOScore)
	}
	fmt.Printf("semantic gaps: %d\n", len(res.Gaps))
	for _, r := range res.Recommendations {
		fmt.Println("  - " + r)
	}
	return nil
}

// newJobRunner adapts the pipeline for the job API surface. The returned
// cleanup releases the shared collaborators and must run after Shutdown.
func newJobRunner(cfg *config.Config) (*jobs.Runner, func(), error) {
	deps, cleanup, err := buildDeps(cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	run := func(ctx context.Context, req jobs.Request, onProgress func(int, int)) (*jobs.Result, error) {
		store := project.NewStore(cfg.ProjectsDir)
		proj, err := store.Open(project.Slug(req.TargetURL), types.ProjectConfig{
			Query:     req.Keyword,
			TargetURL: req.TargetURL,
			TopN:      cfg.Serp.TopN,
		})
		if err != nil {
			return nil, err
		}

		orch := pipeline.New(deps, proj, pipeline.Options{OnProgress: onProgress})
		if _, err := orch.Run(ctx); err != nil {
			return nil, err
		}

		analysis, err := proj.LoadAnalysis()
		if err != nil {
			return nil, err
		}
		gapsArt, err := proj.LoadGaps()
		if err != nil {
			return nil, err
		}
		recs, err := proj.LoadRecommendations()
		if err != nil {
			return nil, err
		}

		res := &jobs.Result{}
		if analysis != nil {
			res.Score = analysis.Target.Score
		}
		if gapsArt != nil {
			res.Gaps = gapsArt.Gaps
		}
		if recs != nil {
			res.Recommendations = recs.Recommendations
		}
		return res, nil
	}

	return jobs.NewRunner(run), cleanup, nil
}

func firstNonZero(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}
