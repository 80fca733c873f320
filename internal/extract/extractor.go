// Package extract turns rendered HTML into a PageSnapshot using a fallback
// ladder: readability first, then a structural scan, then a plain whole-body
// text walk. Anti-bot interstitials are rejected so the caller can retry
// with a different proxy.
package extract

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"

	"rankscope/internal/logging"
	"rankscope/internal/types"
)

const (
	// minAcceptLen is the minimum text length a ladder rung must yield.
	minAcceptLen = 50
	// antiBotTextLen marks suspiciously short pages as blocked.
	antiBotTextLen = 100
	// secondarySelectorMinLen is the minimum text for a content selector hit.
	secondarySelectorMinLen = 200
)

var antiBotTokens = []string{
	"cloudflare",
	"captcha",
	"challenge",
	"blocked",
	"access denied",
	"rate limit",
	"bot detection",
}

var contentSelectors = []string{
	"main",
	"article",
	"[role=main]",
	".content",
	".main-content",
	".post-content",
	".entry-content",
	".page-content",
	".article-content",
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// Extractor converts HTML into snapshots.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract runs the ladder over html fetched from pageURL. The returned
// snapshot has Content, Title, MetaDescription, Headings and
// ExtractionMethod set; the caller binds URL metadata and the query.
func (e *Extractor) Extract(htmlSrc, pageURL string) (*types.PageSnapshot, error) {
	if strings.TrimSpace(htmlSrc) == "" {
		return nil, types.E(types.KindExtraction, "empty document for %s", pageURL)
	}

	doc, docErr := goquery.NewDocumentFromReader(strings.NewReader(htmlSrc))

	snap, err := e.primary(htmlSrc, pageURL)
	if err != nil || snap == nil || len(snap.Content) < minAcceptLen {
		logging.ExtractDebug("primary extraction insufficient for %s: err=%v", pageURL, err)
		snap = nil
	}

	if snap == nil && docErr == nil {
		snap = e.secondary(doc)
		if len(snap.Content) < minAcceptLen {
			logging.ExtractDebug("secondary extraction insufficient for %s", pageURL)
			snap = nil
		}
	}

	if snap == nil {
		snap, err = e.tertiary(htmlSrc)
		if err != nil {
			return nil, types.Wrap(types.KindExtraction, err, "tertiary extraction for %s", pageURL)
		}
		if len(snap.Content) < minAcceptLen {
			return nil, e.classifyFailure(snap.Content, pageURL)
		}
	}

	// Metadata comes from the document head regardless of which rung won.
	if docErr == nil {
		if snap.Title == "" {
			snap.Title = normalizeWhitespace(doc.Find("title").First().Text())
		}
		if snap.MetaDescription == "" {
			if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
				snap.MetaDescription = normalizeWhitespace(desc)
			}
		}
		if len(snap.Headings) == 0 {
			snap.Headings = scanHeadings(doc)
		}
	}

	if err := e.checkAntiBot(snap.Content, pageURL); err != nil {
		return nil, err
	}

	snap.AddedAt = time.Now().UTC()
	snap.Finalize()
	logging.Extract("extracted %s: %d chars via %s", pageURL, snap.ContentLength, snap.ExtractionMethod)
	return snap, nil
}

// primary uses the readability algorithm to isolate the main article.
func (e *Extractor) primary(htmlSrc, pageURL string) (*types.PageSnapshot, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		u = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(htmlSrc), u)
	if err != nil {
		return nil, err
	}

	snap := &types.PageSnapshot{
		Title:            normalizeWhitespace(article.Title),
		Content:          normalizeWhitespace(article.TextContent),
		MetaDescription:  normalizeWhitespace(article.Excerpt),
		ExtractionMethod: types.ExtractPrimary,
	}
	return snap, nil
}

// secondary strips chrome elements and scans the known content selectors,
// falling back to body text and finally whole-document text.
func (e *Extractor) secondary(doc *goquery.Document) *types.PageSnapshot {
	clone := goquery.CloneDocument(doc)
	clone.Find("script, style, nav, footer, header").Remove()

	text := ""
	for _, sel := range contentSelectors {
		candidate := normalizeWhitespace(clone.Find(sel).First().Text())
		if len(candidate) >= secondarySelectorMinLen {
			text = candidate
			break
		}
	}
	if text == "" {
		text = normalizeWhitespace(clone.Find("body").Text())
	}
	if text == "" {
		text = normalizeWhitespace(clone.Text())
	}

	return &types.PageSnapshot{
		Content:          text,
		Headings:         scanHeadings(clone),
		ExtractionMethod: types.ExtractSecondary,
	}
}

// tertiary walks the raw parse tree and concatenates all body text.
func (e *Extractor) tertiary(htmlSrc string) (*types.PageSnapshot, error) {
	root, err := html.Parse(strings.NewReader(htmlSrc))
	if err != nil {
		return nil, err
	}

	var (
		sb       strings.Builder
		headings []types.Heading
		walk     func(n *html.Node, skip bool)
	)
	walk = func(n *html.Node, skip bool) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style":
				skip = true
			case "h1", "h2", "h3", "h4", "h5", "h6":
				level, _ := strconv.Atoi(n.Data[1:])
				text := normalizeWhitespace(nodeText(n))
				if text != "" {
					headings = append(headings, types.Heading{Level: level, Text: text})
				}
			}
		}
		if n.Type == html.TextNode && !skip {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, skip)
		}
	}
	walk(root, false)

	return &types.PageSnapshot{
		Content:          normalizeWhitespace(sb.String()),
		Headings:         headings,
		ExtractionMethod: types.ExtractTertiary,
	}, nil
}

// checkAntiBot rejects pages that look like bot interstitials.
func (e *Extractor) checkAntiBot(text, pageURL string) error {
	if len(text) < antiBotTextLen {
		return types.E(types.KindAntiBot, "page text too short (%d chars) for %s, likely blocked", len(text), pageURL)
	}
	lower := strings.ToLower(text)
	for _, token := range antiBotTokens {
		if strings.Contains(lower, token) {
			return types.E(types.KindAntiBot, "anti-bot token %q detected on %s", token, pageURL)
		}
	}
	return nil
}

// classifyFailure distinguishes a blocked page from a genuinely thin one.
func (e *Extractor) classifyFailure(text, pageURL string) error {
	if err := e.checkAntiBot(text, pageURL); err != nil {
		return err
	}
	return types.E(types.KindExtraction, "no strategy yielded usable text for %s", pageURL)
}

func scanHeadings(doc *goquery.Document) []types.Heading {
	var headings []types.Heading
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		tag := goquery.NodeName(s)
		level, err := strconv.Atoi(strings.TrimPrefix(tag, "h"))
		if err != nil {
			return
		}
		text := normalizeWhitespace(s.Text())
		if text != "" {
			headings = append(headings, types.Heading{Level: level, Text: text})
		}
	})
	return headings
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func normalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
}
