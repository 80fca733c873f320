// Package phrase mines the canonical phrase universe from extracted text:
// sentence phrases, word n-grams, and service-pattern phrases, deduplicated
// by lowercase form.
package phrase

import (
	"regexp"
	"sort"
	"strings"

	"rankscope/internal/logging"
	"rankscope/internal/types"
)

const (
	sentenceMinLen   = 15
	sentenceMaxLen   = 200
	sentenceMinWords = 3
	ngramMin         = 2
	ngramMax         = 6
)

// stopPrefixes filter n-grams that start with connective words.
var stopPrefixes = []string{
	"the ", "a ", "an ", "and ", "or ", "but ",
	"in ", "on ", "at ", "to ", "for ", "of ",
}

var (
	sentenceSplitRE = regexp.MustCompile(`[.!?]+`)
	servicePhraseRE = regexp.MustCompile(`(?i)\b(marketing|digital|content|social|email|ppc|seo|advertising)\s+(services?|solutions?|strategies?|management|optimization)\b`)
)

// Miner extracts phrases from text.
type Miner struct{}

// NewMiner returns a Miner.
func NewMiner() *Miner {
	return &Miner{}
}

// Extract mines all phrase forms from text and deduplicates them by
// lowercase key, keeping the first original casing for display. The result
// is sorted by key for determinism.
func (m *Miner) Extract(text string) []types.Phrase {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	seen := make(map[string]string) // key -> display

	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return
		}
		key := strings.ToLower(raw)
		if _, ok := seen[key]; !ok {
			seen[key] = raw
		}
	}

	for _, s := range m.sentencePhrases(text) {
		add(s)
	}
	for _, g := range m.ngramPhrases(text) {
		add(g)
	}
	for _, sp := range servicePhraseRE.FindAllString(text, -1) {
		add(sp)
	}

	phrases := make([]types.Phrase, 0, len(seen))
	for key, display := range seen {
		phrases = append(phrases, types.Phrase{Key: key, Display: display})
	}
	sort.Slice(phrases, func(i, j int) bool { return phrases[i].Key < phrases[j].Key })

	logging.Phrase("mined %d phrases from %d chars", len(phrases), len(text))
	return phrases
}

// sentencePhrases splits on sentence terminators and keeps mid-length
// multi-word sentences.
func (m *Miner) sentencePhrases(text string) []string {
	var out []string
	for _, raw := range sentenceSplitRE.Split(text, -1) {
		s := strings.TrimSpace(raw)
		if len(s) < sentenceMinLen || len(s) > sentenceMaxLen {
			continue
		}
		if len(strings.Fields(s)) < sentenceMinWords {
			continue
		}
		out = append(out, s)
	}
	return out
}

// ngramPhrases emits every contiguous 2..6-gram over the lowercased word
// stream, skipping grams that start with a stop prefix.
func (m *Miner) ngramPhrases(text string) []string {
	words := strings.Fields(strings.ToLower(text))
	var out []string
	for n := ngramMin; n <= ngramMax; n++ {
		for i := 0; i+n <= len(words); i++ {
			gram := strings.Join(words[i:i+n], " ")
			if hasStopPrefix(gram) {
				continue
			}
			out = append(out, gram)
		}
	}
	return out
}

func hasStopPrefix(gram string) bool {
	for _, p := range stopPrefixes {
		if strings.HasPrefix(gram, p) {
			return true
		}
	}
	return false
}
