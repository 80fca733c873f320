// Package proxy manages a rotating pool of HTTP proxies loaded from a
// plain-text file, one proxy per line in user:pass@host:port form.
package proxy

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"rankscope/internal/logging"
	"rankscope/internal/types"
)

// RotationMode selects how Next picks the following proxy.
type RotationMode string

const (
	RotationSequential RotationMode = "sequential"
	RotationRandom     RotationMode = "random"
)

// Proxy is one parsed pool entry.
type Proxy struct {
	Host     string
	Port     string
	Username string
	Password string
}

// Addr returns host:port.
func (p Proxy) Addr() string {
	return p.Host + ":" + p.Port
}

// URL returns the proxy as an http:// URL, credentials included when set.
func (p Proxy) URL() string {
	if p.Username != "" {
		return fmt.Sprintf("http://%s:%s@%s:%s", p.Username, p.Password, p.Host, p.Port)
	}
	return fmt.Sprintf("http://%s:%s", p.Host, p.Port)
}

// HasAuth reports whether the proxy carries credentials.
func (p Proxy) HasAuth() bool {
	return p.Username != ""
}

// Pool is a concurrency-safe rotating proxy pool. Proxies marked failed are
// skipped until every proxy has failed, at which point the failed set resets
// and rotation starts over.
type Pool struct {
	mu      sync.Mutex
	proxies []Proxy
	failed  map[string]bool
	cursor  int
	mode    RotationMode
	rng     *rand.Rand

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// ParseLine parses a single proxy line. Supported forms:
// host:port and user:pass@host:port. Blank lines and # comments yield
// an empty proxy and ok=false.
func ParseLine(line string) (Proxy, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Proxy{}, false, nil
	}

	var p Proxy
	rest := line
	if at := strings.LastIndex(line, "@"); at >= 0 {
		cred := line[:at]
		rest = line[at+1:]
		user, pass, found := strings.Cut(cred, ":")
		if !found {
			return Proxy{}, false, fmt.Errorf("malformed credentials in proxy line %q", line)
		}
		p.Username = user
		p.Password = pass
	}

	host, port, found := strings.Cut(rest, ":")
	if !found || host == "" || port == "" {
		return Proxy{}, false, fmt.Errorf("malformed proxy address %q", rest)
	}
	p.Host = host
	p.Port = port
	return p, true, nil
}

// Load reads a proxy file and returns a pool. Malformed lines are skipped
// with a warning; comments and blank lines are skipped silently.
func Load(path string, mode RotationMode) (*Pool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.Wrap(types.KindConfig, err, "open proxy file %s", path)
	}
	defer f.Close()

	var proxies []Proxy
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		p, ok, err := ParseLine(scanner.Text())
		if err != nil {
			logging.ProjectWarn("proxy file %s line %d skipped: %v", path, lineNo, err)
			continue
		}
		if ok {
			proxies = append(proxies, p)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, types.Wrap(types.KindConfig, err, "read proxy file %s", path)
	}

	if mode == "" {
		mode = RotationSequential
	}

	logging.Project("proxy pool loaded: %d proxies from %s", len(proxies), path)

	return &Pool{
		proxies: proxies,
		failed:  make(map[string]bool),
		mode:    mode,
		rng:     rand.New(rand.NewSource(rand.Int63())),
	}, nil
}

// Empty returns a pool with no proxies. Next always reports exhaustion, so
// callers fall back to direct connections.
func Empty() *Pool {
	return &Pool{
		failed: make(map[string]bool),
		mode:   RotationSequential,
		rng:    rand.New(rand.NewSource(rand.Int63())),
	}
}

// Size returns the number of loaded proxies.
func (pl *Pool) Size() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return len(pl.proxies)
}

// FailedCount returns how many proxies are currently marked failed.
func (pl *Pool) FailedCount() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return len(pl.failed)
}

// Next returns the next healthy proxy. When every proxy has been marked
// failed the failed set resets first, so Next only errors on an empty pool.
// In sequential mode consecutive calls never return the same proxy while
// more than one healthy proxy remains.
func (pl *Pool) Next() (Proxy, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if len(pl.proxies) == 0 {
		return Proxy{}, types.E(types.KindProxyExhausted, "proxy pool is empty")
	}

	if len(pl.failed) >= len(pl.proxies) {
		logging.ProjectWarn("all %d proxies failed, resetting failure set", len(pl.proxies))
		pl.failed = make(map[string]bool)
	}

	if pl.mode == RotationRandom {
		healthy := make([]Proxy, 0, len(pl.proxies))
		for _, p := range pl.proxies {
			if !pl.failed[p.Addr()] {
				healthy = append(healthy, p)
			}
		}
		return healthy[pl.rng.Intn(len(healthy))], nil
	}

	for i := 0; i < len(pl.proxies); i++ {
		p := pl.proxies[pl.cursor%len(pl.proxies)]
		pl.cursor++
		if !pl.failed[p.Addr()] {
			return p, nil
		}
	}
	// Unreachable: the reset above guarantees at least one healthy proxy.
	return Proxy{}, types.E(types.KindProxyExhausted, "no healthy proxy available")
}

// MarkFailed records a proxy failure.
func (pl *Pool) MarkFailed(p Proxy) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	pl.failed[p.Addr()] = true
}

// ResetFailures clears the failed set.
func (pl *Pool) ResetFailures() {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	pl.failed = make(map[string]bool)
}

// Watch reloads the pool whenever the proxy file changes on disk. The failed
// set and cursor reset on reload. Call Close to stop watching.
func (pl *Pool) Watch(path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}

	pl.mu.Lock()
	pl.watcher = watcher
	pl.done = make(chan struct{})
	done := pl.done
	pl.mu.Unlock()

	go func() {
		for {
			select {
			case <-done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				fresh, err := Load(path, pl.mode)
				if err != nil {
					logging.ProjectWarn("proxy file reload failed: %v", err)
					continue
				}
				pl.mu.Lock()
				pl.proxies = fresh.proxies
				pl.failed = make(map[string]bool)
				pl.cursor = 0
				pl.mu.Unlock()
				logging.Project("proxy pool reloaded: %d proxies", len(fresh.proxies))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.ProjectWarn("proxy watcher error: %v", err)
			}
		}
	}()

	return nil
}

// Close stops the file watcher if one is running.
func (pl *Pool) Close() {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.done != nil {
		close(pl.done)
		pl.done = nil
	}
	if pl.watcher != nil {
		pl.watcher.Close()
		pl.watcher = nil
	}
}
