package phrase

import (
	"strings"
	"testing"
)

func keys(t *testing.T, text string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for _, p := range NewMiner().Extract(text) {
		out[p.Key] = p.Display
	}
	return out
}

func TestEmptyTextYieldsNothing(t *testing.T) {
	if got := NewMiner().Extract("   "); got != nil {
		t.Fatalf("Extract(blank)=%v, want nil", got)
	}
}

func TestSentencePhrases(t *testing.T) {
	got := keys(t, "Our agency builds organic traffic. No! Short.")

	if _, ok := got["our agency builds organic traffic"]; !ok {
		t.Error("expected the full sentence as a phrase")
	}
	// "No" fails length; "Short" fails word count and length.
	if _, ok := got["no"]; ok {
		t.Error("short fragment should be rejected")
	}
}

func TestSentenceLengthBounds(t *testing.T) {
	long := strings.Repeat("word ", 50) // 250 chars, over the max
	got := keys(t, long+".")
	if _, ok := got[strings.TrimSpace(strings.ToLower(long))]; ok {
		t.Error("over-length sentence should be rejected as a sentence phrase")
	}
}

func TestNgramsGenerated(t *testing.T) {
	got := keys(t, "keyword research drives strategy")

	for _, want := range []string{
		"keyword research",
		"research drives",
		"keyword research drives",
		"keyword research drives strategy",
	} {
		if _, ok := got[want]; !ok {
			t.Errorf("missing n-gram %q", want)
		}
	}
}

func TestStopPrefixFiltered(t *testing.T) {
	got := keys(t, "grow the business fast")

	if _, ok := got["the business"]; ok {
		t.Error("n-gram starting with 'the ' must be filtered")
	}
	if _, ok := got["business fast"]; !ok {
		t.Error("n-gram not starting with a stop word should survive")
	}
}

func TestServicePatternPreservesCase(t *testing.T) {
	got := keys(t, "We offer Marketing Services and SEO optimization to clients")

	if display, ok := got["marketing services"]; !ok {
		t.Error("service pattern phrase missing")
	} else if display != "Marketing Services" {
		t.Errorf("display=%q, want original casing", display)
	}
	if _, ok := got["seo optimization"]; !ok {
		t.Error("seo optimization pattern missing")
	}
}

func TestDeduplicationKeepsFirstCasing(t *testing.T) {
	phrases := NewMiner().Extract("Content Strategy works. content strategy works.")

	count := 0
	for _, p := range phrases {
		if p.Key == "content strategy works" {
			count++
			if p.Display != "Content Strategy works" {
				t.Errorf("display=%q, want first-seen casing", p.Display)
			}
		}
	}
	if count != 1 {
		t.Fatalf("phrase appears %d times, want 1", count)
	}
}

func TestSingleSentenceStillYieldsNgrams(t *testing.T) {
	got := keys(t, "semantic gap analysis")
	if _, ok := got["semantic gap"]; !ok {
		t.Error("expected bigram from single unterminated sentence")
	}
	if _, ok := got["semantic gap analysis"]; !ok {
		t.Error("expected trigram from single unterminated sentence")
	}
}

func TestDeterministicOrder(t *testing.T) {
	a := NewMiner().Extract("alpha beta gamma delta")
	b := NewMiner().Extract("alpha beta gamma delta")
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Key != b[i].Key {
			t.Fatalf("order differs at %d: %q vs %q", i, a[i].Key, b[i].Key)
		}
	}
}
