package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestPageSnapshotRoundTrip(t *testing.T) {
	snap := PageSnapshot{
		URL:              "https://example.com/page",
		FinalURL:         "https://example.com/page/",
		Title:            "Example Page",
		Content:          "Some extracted body text.",
		MetaDescription:  "A description",
		Headings:         []Heading{{Level: 1, Text: "Example"}, {Level: 2, Text: "Details"}},
		Source:           "proxy_scraping",
		AddedAt:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ScrapingMethod:   "proxy_enabled",
		SerpRanking:      NotRanking,
		Query:            "widget framework",
		ExtractionMethod: ExtractPrimary,
	}
	snap.Finalize()

	data, err := json.Marshal(&snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got PageSnapshot
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff(snap, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	if got.ContentLength != len(snap.Content) {
		t.Fatalf("content_length=%d, want %d", got.ContentLength, len(snap.Content))
	}
	if got.WordCount != 4 {
		t.Fatalf("word_count=%d, want 4", got.WordCount)
	}
}

func TestSerpResultCompetitorURLs(t *testing.T) {
	pos := 2
	s := SerpResult{
		Query:         "widget framework",
		TargetURL:     "https://example.com/a",
		TargetRanking: &pos,
		OrganicResults: []OrganicResult{
			{Position: 1, URL: "https://c1.test"},
			{Position: 2, URL: "https://example.com/a"},
			{Position: 3, URL: "https://c2.test"},
		},
	}
	got := s.CompetitorURLs()
	want := []string{"https://c1.test", "https://c2.test"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("competitor urls mismatch (-want +got):\n%s", diff)
	}
}

func TestPhraseSetContains(t *testing.T) {
	ps := PhraseSet{Phrases: []Phrase{
		{Key: "marketing services", Display: "Marketing Services"},
		{Key: "content strategy", Display: "content strategy"},
	}}
	if !ps.Contains("marketing services") {
		t.Fatal("expected lowercase key match")
	}
	if ps.Contains("Marketing Services") {
		t.Fatal("Contains must match the lowercase key only")
	}
}

func TestErrorKinds(t *testing.T) {
	base := errors.New("connection refused")
	err := Wrap(KindFetch, base, "navigate %s", "https://c1.test")

	if !IsKind(err, KindFetch) {
		t.Fatalf("KindOf=%q, want %q", KindOf(err), KindFetch)
	}
	if !errors.Is(err, base) {
		t.Fatal("wrapped cause must survive errors.Is")
	}

	wrapped := fmt.Errorf("stage 03: %w", err)
	if !IsKind(wrapped, KindFetch) {
		t.Fatal("kind must survive fmt.Errorf wrapping")
	}
	if IsKind(errors.New("plain"), KindFetch) {
		t.Fatal("plain errors carry no kind")
	}
}

func TestContentScoreDimensions(t *testing.T) {
	cs := ContentScore{
		MetadataAlignment:         70,
		HierarchicalDecomposition: 60,
		ThematicUnity:             80,
		Balance:                   55,
		QueryIntent:               65,
		StructuralCoherence:       75,
	}
	dims := cs.Dimensions()
	if len(dims) != 6 {
		t.Fatalf("expected 6 dimensions, got %d", len(dims))
	}
	if dims["thematic_unity"] != 80 {
		t.Fatalf("thematic_unity=%v, want 80", dims["thematic_unity"])
	}
}
