package browser

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.NavigationTimeout != 45*time.Second {
		t.Errorf("NavigationTimeout=%v, want 45s", cfg.NavigationTimeout)
	}
	if cfg.SettleDelay != time.Second {
		t.Errorf("SettleDelay=%v, want 1s", cfg.SettleDelay)
	}
	if !cfg.Headless {
		t.Error("default must be headless")
	}
}

func TestConfigZeroValueFallbacks(t *testing.T) {
	var cfg Config
	if cfg.navigationTimeout() != 45*time.Second {
		t.Errorf("navigationTimeout()=%v, want 45s", cfg.navigationTimeout())
	}
	if cfg.settleDelay() != time.Second {
		t.Errorf("settleDelay()=%v, want 1s", cfg.settleDelay())
	}
}

// Integration test. Requires a local Chrome/Chromium; set
// RANKSCOPE_BROWSER_TESTS=1 to run.
func TestRodFetcherIntegration(t *testing.T) {
	if os.Getenv("RANKSCOPE_BROWSER_TESTS") == "" {
		t.Skip("set RANKSCOPE_BROWSER_TESTS=1 to run browser integration tests")
	}

	f := NewRodFetcher(DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	res, err := f.Fetch(ctx, "https://example.com", nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.Contains(res.HTML, "Example Domain") {
		t.Errorf("unexpected HTML head: %.100s", res.HTML)
	}
	if res.FinalURL == "" {
		t.Error("final URL missing")
	}
}
