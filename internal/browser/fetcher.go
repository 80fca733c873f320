// Package browser fetches fully rendered pages with headless Chrome via
// go-rod, optionally routed through an authenticated proxy.
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"rankscope/internal/logging"
	"rankscope/internal/proxy"
	"rankscope/internal/types"
)

// FetchResult is the raw outcome of rendering one URL.
type FetchResult struct {
	URL      string // requested URL
	FinalURL string // URL after redirects
	HTML     string // rendered DOM serialization
	Title    string
}

// Fetcher renders pages with a headless browser. Each Fetch launches a
// dedicated browser instance so per-URL proxy settings stay isolated.
type Fetcher interface {
	Fetch(ctx context.Context, url string, via *proxy.Proxy) (*FetchResult, error)
}

// Config holds fetcher configuration.
type Config struct {
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	UserAgent         string
	Headless          bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		NavigationTimeout: 45 * time.Second,
		SettleDelay:       time.Second,
		Headless:          true,
	}
}

func (c Config) navigationTimeout() time.Duration {
	if c.NavigationTimeout == 0 {
		return 45 * time.Second
	}
	return c.NavigationTimeout
}

func (c Config) settleDelay() time.Duration {
	if c.SettleDelay == 0 {
		return time.Second
	}
	return c.SettleDelay
}

// RodFetcher is the production Fetcher backed by go-rod.
type RodFetcher struct {
	cfg Config
}

// NewRodFetcher creates a fetcher with the given configuration.
func NewRodFetcher(cfg Config) *RodFetcher {
	return &RodFetcher{cfg: cfg}
}

// Fetch renders url and returns the DOM after load plus a settle delay for
// late JS. A non-nil via routes the browser through that proxy; credentials
// are answered via the DevTools auth handler.
func (f *RodFetcher) Fetch(ctx context.Context, url string, via *proxy.Proxy) (*FetchResult, error) {
	timer := logging.StartTimer(logging.CategoryBrowser, fmt.Sprintf("fetch %s", url))
	defer timer.Stop()

	launch := launcher.New().Headless(f.cfg.Headless)
	if via != nil {
		launch = launch.Set(flags.ProxyServer, via.Addr())
		logging.BrowserDebug("fetching %s via proxy %s", url, via.Addr())
	}

	controlURL, err := launch.Launch()
	if err != nil {
		return nil, types.Wrap(types.KindFetch, err, "launch chrome")
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, types.Wrap(types.KindFetch, err, "connect to chrome")
	}
	defer func() {
		_ = b.Close()
		launch.Cleanup()
	}()

	if via != nil && via.HasAuth() {
		go b.MustHandleAuth(via.Username, via.Password)()
	}

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, types.Wrap(types.KindFetch, err, "create page")
	}

	if f.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: f.cfg.UserAgent}); err != nil {
			logging.BrowserWarn("set user agent: %v", err)
		}
	}

	page = page.Timeout(f.cfg.navigationTimeout())

	if err := page.Navigate(url); err != nil {
		return nil, classifyNavError(url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, classifyNavError(url, err)
	}

	// Give late-rendering JS a moment before serializing.
	select {
	case <-time.After(f.cfg.settleDelay()):
	case <-ctx.Done():
		return nil, types.Wrap(types.KindFetch, ctx.Err(), "fetch %s canceled", url)
	}

	html, err := page.HTML()
	if err != nil {
		return nil, types.Wrap(types.KindFetch, err, "serialize DOM for %s", url)
	}

	info, err := page.Info()
	finalURL := url
	title := ""
	if err == nil && info != nil {
		finalURL = info.URL
		title = info.Title
	}

	logging.Browser("fetched %s (%d bytes, final %s)", url, len(html), finalURL)

	return &FetchResult{
		URL:      url,
		FinalURL: finalURL,
		HTML:     html,
		Title:    title,
	}, nil
}

// classifyNavError maps rod/CDP navigation failures onto fetch errors.
// Timeouts and network-level errors are retryable with a different proxy.
func classifyNavError(url string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "context deadline exceeded"), strings.Contains(msg, "timeout"):
		return types.Wrap(types.KindFetch, err, "navigation timeout for %s", url)
	case strings.Contains(msg, "net::"):
		return types.Wrap(types.KindFetch, err, "network error for %s", url)
	default:
		return types.Wrap(types.KindFetch, err, "navigate %s", url)
	}
}
