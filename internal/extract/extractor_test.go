package extract

import (
	"fmt"
	"strings"
	"testing"

	"rankscope/internal/types"
)

// Enough filler to clear the minimum-length and anti-bot thresholds.
func filler(n int) string {
	s := "Search visibility improves when content answers the underlying intent of the searcher. "
	for len(s) < n {
		s += s
	}
	return s[:n]
}

func articlePage() string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html><head>
<title>Content Strategy Guide</title>
<meta name="description" content="How to plan content that ranks.">
</head><body>
<nav>Home About Pricing</nav>
<article>
<h1>Content Strategy Guide</h1>
<p>%s</p>
<h2>Keyword Research</h2>
<p>%s</p>
</article>
<footer>Copyright</footer>
</body></html>`, filler(400), filler(400))
}

func TestExtractArticleUsesLadder(t *testing.T) {
	snap, err := New().Extract(articlePage(), "https://example.com/guide")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if snap.ExtractionMethod == "" {
		t.Fatal("extraction method not set")
	}
	if snap.Title != "Content Strategy Guide" {
		t.Errorf("Title=%q", snap.Title)
	}
	if snap.MetaDescription != "How to plan content that ranks." {
		t.Errorf("MetaDescription=%q", snap.MetaDescription)
	}
	if len(snap.Content) < 200 {
		t.Errorf("content too short: %d chars", len(snap.Content))
	}
	if strings.Contains(snap.Content, "Copyright") && snap.ExtractionMethod != types.ExtractTertiary {
		t.Errorf("footer text leaked into %s extraction", snap.ExtractionMethod)
	}
	if snap.WordCount == 0 || snap.ContentLength == 0 {
		t.Error("derived fields not finalized")
	}
}

func TestExtractRecordsHeadings(t *testing.T) {
	snap, err := New().Extract(articlePage(), "https://example.com/guide")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(snap.Headings) < 2 {
		t.Fatalf("headings=%v, want h1+h2", snap.Headings)
	}
	if snap.Headings[0].Level != 1 || snap.Headings[0].Text != "Content Strategy Guide" {
		t.Errorf("first heading=%+v", snap.Headings[0])
	}
	if snap.Headings[1].Level != 2 || snap.Headings[1].Text != "Keyword Research" {
		t.Errorf("second heading=%+v", snap.Headings[1])
	}
}

func TestSecondaryFallbackSelectors(t *testing.T) {
	// No article semantics; a div with a known content class holds the text.
	page := fmt.Sprintf(`<html><head><title>T</title></head><body>
<script>var x = 1;</script>
<div class="post-content"><h2>Section</h2><p>%s</p></div>
</body></html>`, filler(400))

	snap, err := New().Extract(page, "https://example.com/post")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if strings.Contains(snap.Content, "var x") {
		t.Error("script text leaked into extraction")
	}
	if len(snap.Content) < 200 {
		t.Errorf("content too short: %d", len(snap.Content))
	}
}

func TestWhitespaceNormalized(t *testing.T) {
	page := fmt.Sprintf(`<html><body><main><p>%s</p>

<p>   spaced		out   %s</p></main></body></html>`, filler(200), filler(200))

	snap, err := New().Extract(page, "https://example.com")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if strings.Contains(snap.Content, "  ") || strings.Contains(snap.Content, "\n") {
		t.Error("whitespace not normalized")
	}
}

func TestAntiBotTokenDetected(t *testing.T) {
	page := fmt.Sprintf(`<html><body><main><p>Just a moment... checking your browser. cloudflare %s</p></main></body></html>`, filler(200))

	_, err := New().Extract(page, "https://blocked.test")
	if !types.IsKind(err, types.KindAntiBot) {
		t.Fatalf("err=%v, want anti_bot kind", err)
	}
}

func TestShortPageIsAntiBot(t *testing.T) {
	page := `<html><body><p>Just a moment while we verify your request and continue.</p></body></html>`

	_, err := New().Extract(page, "https://blocked.test")
	if !types.IsKind(err, types.KindAntiBot) {
		t.Fatalf("err=%v, want anti_bot kind for 80-char body", err)
	}
}

func TestEmptyDocument(t *testing.T) {
	_, err := New().Extract("   ", "https://example.com")
	if !types.IsKind(err, types.KindExtraction) {
		t.Fatalf("err=%v, want extraction kind", err)
	}
}

func TestAntiBotTokenCaseInsensitive(t *testing.T) {
	page := fmt.Sprintf(`<html><body><main><p>%s Access Denied by origin.</p></main></body></html>`, filler(200))

	_, err := New().Extract(page, "https://blocked.test")
	if !types.IsKind(err, types.KindAntiBot) {
		t.Fatalf("err=%v, want anti_bot kind", err)
	}
}
