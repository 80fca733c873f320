// Package serp fetches search engine result pages through pluggable
// providers and parses them into the common SerpResult shape.
package serp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"rankscope/internal/logging"
	"rankscope/internal/types"
)

// Error carries the provider-level failure detail for SERP requests.
type Error struct {
	Provider string
	Status   int
	Reason   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("serp provider %s failed (status %d): %s", e.Provider, e.Status, e.Reason)
}

// Query is one SERP request.
type Query struct {
	Query      string
	TargetURL  string
	Location   string
	Language   string
	NumResults int
	Device     string
}

// Client fetches search results.
type Client interface {
	Search(ctx context.Context, q Query) (*types.SerpResult, error)
}

// Provider parses one vendor's response shape.
type provider interface {
	name() string
	buildRequest(baseURL, apiKey string, q Query) (string, error)
	parse(body []byte) ([]types.OrganicResult, error)
}

// HTTPClient is the production Client. The base URL is overridable for
// tests.
type HTTPClient struct {
	provider provider
	apiKey   string
	baseURL  string
	http     *http.Client
}

// New creates a client for the named provider ("valueserp" or "serpapi").
// baseURL may be empty to use the provider default.
func New(providerName, apiKey, baseURL string, timeout time.Duration) (*HTTPClient, error) {
	if apiKey == "" {
		return nil, types.E(types.KindConfig, "serp api key is required")
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	var p provider
	switch providerName {
	case "valueserp":
		p = valueserpProvider{}
		if baseURL == "" {
			baseURL = "https://api.valueserp.com"
		}
	case "serpapi":
		p = serpapiProvider{}
		if baseURL == "" {
			baseURL = "https://serpapi.com"
		}
	default:
		return nil, types.E(types.KindConfig, "unknown serp provider %q", providerName)
	}

	return &HTTPClient{
		provider: p,
		apiKey:   apiKey,
		baseURL:  baseURL,
		http:     &http.Client{Timeout: timeout},
	}, nil
}

// Search runs the query and parses the provider response. Organic results
// keep provider-reported ranking order; TargetRanking is set when the
// target URL appears among them.
func (c *HTTPClient) Search(ctx context.Context, q Query) (*types.SerpResult, error) {
	timer := logging.StartTimer(logging.CategorySerp, fmt.Sprintf("search %q", q.Query))
	defer timer.Stop()

	if q.NumResults <= 0 {
		q.NumResults = 10
	}

	reqURL, err := c.provider.buildRequest(c.baseURL, c.apiKey, q)
	if err != nil {
		return nil, types.Wrap(types.KindSerp, err, "build %s request", c.provider.name())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, types.Wrap(types.KindSerp, err, "create request")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, types.Wrap(types.KindSerp, &Error{Provider: c.provider.name(), Reason: err.Error()}, "serp request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.Wrap(types.KindSerp, err, "read response")
	}

	if resp.StatusCode != http.StatusOK {
		perr := &Error{Provider: c.provider.name(), Status: resp.StatusCode, Reason: reasonFor(resp.StatusCode, body)}
		logging.SerpError("%v", perr)
		return nil, types.Wrap(types.KindSerp, perr, "search %q", q.Query)
	}

	organic, err := c.provider.parse(body)
	if err != nil {
		return nil, types.Wrap(types.KindSerp, err, "parse %s response", c.provider.name())
	}
	if len(organic) > q.NumResults {
		organic = organic[:q.NumResults]
	}

	result := &types.SerpResult{
		Query:          q.Query,
		TargetURL:      q.TargetURL,
		OrganicResults: organic,
		Provider:       c.provider.name(),
		FetchedAt:      time.Now().UTC(),
	}
	for _, r := range organic {
		if r.URL == q.TargetURL {
			pos := r.Position
			result.TargetRanking = &pos
			break
		}
	}

	logging.Serp("search %q: %d organic results, target ranking %v", q.Query, len(organic), result.TargetRanking)
	return result, nil
}

func reasonFor(status int, body []byte) string {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "authentication failed"
	case http.StatusTooManyRequests:
		return "quota exceeded"
	default:
		if len(body) > 200 {
			body = body[:200]
		}
		return string(body)
	}
}

// =============================================================================
// VALUESERP
// =============================================================================

type valueserpProvider struct{}

func (valueserpProvider) name() string { return "valueserp" }

func (valueserpProvider) buildRequest(baseURL, apiKey string, q Query) (string, error) {
	u, err := url.Parse(baseURL + "/search")
	if err != nil {
		return "", err
	}
	params := url.Values{}
	params.Set("api_key", apiKey)
	params.Set("q", q.Query)
	params.Set("num", strconv.Itoa(q.NumResults))
	if q.Location != "" {
		params.Set("location", q.Location)
	}
	if q.Language != "" {
		params.Set("hl", q.Language)
	}
	if q.Device != "" {
		params.Set("device", q.Device)
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}

func (valueserpProvider) parse(body []byte) ([]types.OrganicResult, error) {
	var payload struct {
		OrganicResults []struct {
			Position int    `json:"position"`
			Link     string `json:"link"`
			Title    string `json:"title"`
			Snippet  string `json:"snippet"`
		} `json:"organic_results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	out := make([]types.OrganicResult, 0, len(payload.OrganicResults))
	for _, r := range payload.OrganicResults {
		out = append(out, types.OrganicResult{
			Position: r.Position,
			URL:      r.Link,
			Title:    r.Title,
			Snippet:  r.Snippet,
		})
	}
	return out, nil
}

// =============================================================================
// SERPAPI
// =============================================================================

type serpapiProvider struct{}

func (serpapiProvider) name() string { return "serpapi" }

func (serpapiProvider) buildRequest(baseURL, apiKey string, q Query) (string, error) {
	u, err := url.Parse(baseURL + "/search.json")
	if err != nil {
		return "", err
	}
	params := url.Values{}
	params.Set("api_key", apiKey)
	params.Set("q", q.Query)
	params.Set("num", strconv.Itoa(q.NumResults))
	params.Set("engine", "google")
	if q.Location != "" {
		params.Set("location", q.Location)
	}
	if q.Language != "" {
		params.Set("hl", q.Language)
	}
	if q.Device != "" {
		params.Set("device", q.Device)
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}

func (serpapiProvider) parse(body []byte) ([]types.OrganicResult, error) {
	var payload struct {
		OrganicResults []struct {
			Position int    `json:"position"`
			Link     string `json:"link"`
			Title    string `json:"title"`
			Snippet  string `json:"snippet"`
		} `json:"organic_results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	out := make([]types.OrganicResult, 0, len(payload.OrganicResults))
	for _, r := range payload.OrganicResults {
		out = append(out, types.OrganicResult{
			Position: r.Position,
			URL:      r.Link,
			Title:    r.Title,
			Snippet:  r.Snippet,
		})
	}
	return out, nil
}
