// Package config loads and validates rankscope configuration from a YAML
// file, applying defaults and RANKSCOPE_* environment overrides.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all rankscope configuration.
type Config struct {
	// Root directory under which project workspaces are created.
	ProjectsDir string `yaml:"projects_dir"`

	// SERP provider configuration
	Serp SerpConfig `yaml:"serp"`

	// Proxy pool configuration
	Proxy ProxyConfig `yaml:"proxy"`

	// Headless browser configuration
	Browser BrowserConfig `yaml:"browser"`

	// Embedding engine configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Scoring weights and thresholds
	Scoring ScoringConfig `yaml:"scoring"`

	// Gap analysis tuning
	Optimization OptimizationConfig `yaml:"optimization"`

	// Pipeline execution settings
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// SerpConfig configures the search results provider.
type SerpConfig struct {
	Provider string `yaml:"provider"` // valueserp, serpapi
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	TopN     int    `yaml:"top_n"`
	Timeout  string `yaml:"timeout"`
}

// ProxyConfig configures the rotating proxy pool.
type ProxyConfig struct {
	File     string `yaml:"file"`     // one proxy per line, user:pass@host:port
	Rotation string `yaml:"rotation"` // sequential, random
	Watch    bool   `yaml:"watch"`    // reload the file on change
}

// BrowserConfig configures the headless Chrome fetcher.
type BrowserConfig struct {
	NavigationTimeout string `yaml:"navigation_timeout"`
	SettleDelay       string `yaml:"settle_delay"`
	UserAgent         string `yaml:"user_agent"`
	KeepRawHTML       bool   `yaml:"keep_raw_html"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // ollama, genai
	Model     string `yaml:"model"`
	Endpoint  string `yaml:"endpoint"` // ollama base URL
	APIKey    string `yaml:"api_key"`  // genai key
	BatchSize int    `yaml:"batch_size"`
	CachePath string `yaml:"cache_path"` // sqlite cache, empty disables
}

// ScoringConfig holds the composite weights. The six weights must sum to 1.
type ScoringConfig struct {
	MetadataAlignment         float64 `yaml:"metadata_alignment"`
	HierarchicalDecomposition float64 `yaml:"hierarchical_decomposition"`
	ThematicUnity             float64 `yaml:"thematic_unity"`
	Balance                   float64 `yaml:"balance"`
	QueryIntent               float64 `yaml:"query_intent"`
	StructuralCoherence       float64 `yaml:"structural_coherence"`
}

// Weights returns the composite weights keyed by dimension name.
func (s ScoringConfig) Weights() map[string]float64 {
	return map[string]float64{
		"metadata_alignment":         s.MetadataAlignment,
		"hierarchical_decomposition": s.HierarchicalDecomposition,
		"thematic_unity":             s.ThematicUnity,
		"balance":                    s.Balance,
		"query_intent":               s.QueryIntent,
		"structural_coherence":       s.StructuralCoherence,
	}
}

// OptimizationConfig tunes the gap analysis loop.
type OptimizationConfig struct {
	MinImprovementThreshold   float64 `yaml:"min_improvement_threshold"`
	MaxOptimizationIterations int     `yaml:"max_optimization_iterations"`
	CacheHitRateTarget        float64 `yaml:"cache_hit_rate_target"`
}

// PipelineConfig configures stage execution.
type PipelineConfig struct {
	MaxWorkers   int    `yaml:"max_workers"`
	WorkerDelay  string `yaml:"worker_delay"` // pause between fetches per worker
	MaxRetries   int    `yaml:"max_retries"`
	RetryBackoff string `yaml:"retry_backoff"` // base, doubled per attempt
}

// LoggingConfig configures the categorized file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ProjectsDir: "projects",

		Serp: SerpConfig{
			Provider: "valueserp",
			TopN:     10,
			Timeout:  "30s",
		},

		Proxy: ProxyConfig{
			Rotation: "sequential",
			Watch:    true,
		},

		Browser: BrowserConfig{
			NavigationTimeout: "45s",
			SettleDelay:       "1s",
		},

		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "embeddinggemma",
			Endpoint:  "http://localhost:11434",
			BatchSize: 64,
		},

		Scoring: ScoringConfig{
			MetadataAlignment:         0.15,
			HierarchicalDecomposition: 0.15,
			ThematicUnity:             0.20,
			Balance:                   0.10,
			QueryIntent:               0.20,
			StructuralCoherence:       0.20,
		},

		Optimization: OptimizationConfig{
			MinImprovementThreshold:   0.01,
			MaxOptimizationIterations: 50,
			CacheHitRateTarget:        0.9,
		},

		Pipeline: PipelineConfig{
			MaxWorkers:   3,
			WorkerDelay:  "2s",
			MaxRetries:   3,
			RetryBackoff: "2s",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides always apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies RANKSCOPE_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RANKSCOPE_SERP_API_KEY"); v != "" {
		c.Serp.APIKey = v
	}
	if v := os.Getenv("RANKSCOPE_SERP_PROVIDER"); v != "" {
		c.Serp.Provider = v
	}
	if v := os.Getenv("RANKSCOPE_SERP_BASE_URL"); v != "" {
		c.Serp.BaseURL = v
	}
	if v := os.Getenv("RANKSCOPE_TOP_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Serp.TopN = n
		}
	}
	if v := os.Getenv("RANKSCOPE_PROXY_FILE"); v != "" {
		c.Proxy.File = v
	}
	if v := os.Getenv("RANKSCOPE_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("RANKSCOPE_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("RANKSCOPE_EMBEDDING_ENDPOINT"); v != "" {
		c.Embedding.Endpoint = v
	}
	if v := os.Getenv("RANKSCOPE_EMBEDDING_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Embedding.BatchSize = n
		}
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && c.Embedding.APIKey == "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("RANKSCOPE_PROJECTS_DIR"); v != "" {
		c.ProjectsDir = v
	}
	if v := os.Getenv("RANKSCOPE_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = b
		}
	}
	if v := os.Getenv("RANKSCOPE_MIN_IMPROVEMENT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Optimization.MinImprovementThreshold = f
		}
	}
	if v := os.Getenv("RANKSCOPE_MAX_OPTIMIZATION_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Optimization.MaxOptimizationIterations = n
		}
	}
	if v := os.Getenv("RANKSCOPE_CACHE_HIT_RATE_TARGET"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Optimization.CacheHitRateTarget = f
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Serp.Provider != "valueserp" && c.Serp.Provider != "serpapi" {
		return fmt.Errorf("unknown serp provider %q", c.Serp.Provider)
	}
	if c.Serp.TopN < 1 || c.Serp.TopN > 20 {
		return fmt.Errorf("top_n must be in 1..20, got %d", c.Serp.TopN)
	}

	sum := 0.0
	for _, w := range c.Scoring.Weights() {
		if w < 0 {
			return fmt.Errorf("scoring weights must be non-negative")
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("scoring weights must sum to 1.0, got %.6f", sum)
	}

	switch c.Proxy.Rotation {
	case "sequential", "random":
	default:
		return fmt.Errorf("proxy rotation must be sequential or random, got %q", c.Proxy.Rotation)
	}

	if c.Embedding.BatchSize < 1 {
		return fmt.Errorf("embedding batch_size must be positive, got %d", c.Embedding.BatchSize)
	}
	if c.Pipeline.MaxWorkers < 1 {
		return fmt.Errorf("pipeline max_workers must be positive, got %d", c.Pipeline.MaxWorkers)
	}

	return nil
}

// GetSerpTimeout returns the SERP request timeout as a duration.
func (c *Config) GetSerpTimeout() time.Duration {
	d, err := time.ParseDuration(c.Serp.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetNavigationTimeout returns the browser navigation timeout.
func (c *Config) GetNavigationTimeout() time.Duration {
	d, err := time.ParseDuration(c.Browser.NavigationTimeout)
	if err != nil {
		return 45 * time.Second
	}
	return d
}

// GetSettleDelay returns the post-load settle delay.
func (c *Config) GetSettleDelay() time.Duration {
	d, err := time.ParseDuration(c.Browser.SettleDelay)
	if err != nil {
		return time.Second
	}
	return d
}

// GetWorkerDelay returns the per-worker pause between fetches.
func (c *Config) GetWorkerDelay() time.Duration {
	d, err := time.ParseDuration(c.Pipeline.WorkerDelay)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// GetRetryBackoff returns the base retry backoff.
func (c *Config) GetRetryBackoff() time.Duration {
	d, err := time.ParseDuration(c.Pipeline.RetryBackoff)
	if err != nil {
		return 2 * time.Second
	}
	return d
}
