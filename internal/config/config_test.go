package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "valueserp", cfg.Serp.Provider)
	assert.Equal(t, 10, cfg.Serp.TopN)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, 64, cfg.Embedding.BatchSize)
	assert.Equal(t, 3, cfg.Pipeline.MaxWorkers)
	assert.Equal(t, 0.01, cfg.Optimization.MinImprovementThreshold)
	assert.Equal(t, 50, cfg.Optimization.MaxOptimizationIterations)
	assert.Equal(t, 0.9, cfg.Optimization.CacheHitRateTarget)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Serp.TopN, cfg.Serp.TopN)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
serp:
  provider: serpapi
  api_key: test-key
  top_n: 5
embedding:
  provider: genai
  model: gemini-embedding-001
pipeline:
  max_workers: 2
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "serpapi", cfg.Serp.Provider)
	assert.Equal(t, "test-key", cfg.Serp.APIKey)
	assert.Equal(t, 5, cfg.Serp.TopN)
	assert.Equal(t, "genai", cfg.Embedding.Provider)
	assert.Equal(t, 2, cfg.Pipeline.MaxWorkers)
	// Untouched sections keep defaults.
	assert.Equal(t, 0.20, cfg.Scoring.ThematicUnity)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RANKSCOPE_SERP_API_KEY", "env-key")
	t.Setenv("RANKSCOPE_TOP_N", "7")
	t.Setenv("RANKSCOPE_EMBEDDING_MODEL", "custom-model")
	t.Setenv("RANKSCOPE_CACHE_HIT_RATE_TARGET", "0.85")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Serp.APIKey)
	assert.Equal(t, 7, cfg.Serp.TopN)
	assert.Equal(t, "custom-model", cfg.Embedding.Model)
	assert.Equal(t, 0.85, cfg.Optimization.CacheHitRateTarget)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serp:\n  api_key: file-key\n"), 0644))
	t.Setenv("RANKSCOPE_SERP_API_KEY", "env-key")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Serp.APIKey)
}

func TestValidateWeightSum(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scoring.ThematicUnity = 0.5
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1.0")
}

func TestValidateTopNRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Serp.TopN = 0
	require.Error(t, cfg.Validate())

	cfg.Serp.TopN = 21
	require.Error(t, cfg.Validate())

	cfg.Serp.TopN = 20
	require.NoError(t, cfg.Validate())
}

func TestValidateRotationMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Proxy.Rotation = "roundrobin"
	require.Error(t, cfg.Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.Serp.TopN = 15
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 15, loaded.Serp.TopN)
}

func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Browser.NavigationTimeout = "garbage"
	assert.Equal(t, "45s", DefaultConfig().Browser.NavigationTimeout)
	assert.Equal(t, 45.0, cfg.GetNavigationTimeout().Seconds())
	assert.Equal(t, 2.0, cfg.GetWorkerDelay().Seconds())
}
