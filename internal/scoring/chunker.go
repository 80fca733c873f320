package scoring

import (
	"regexp"
	"strings"
)

const (
	// chunkSize is the target chunk length in characters.
	chunkSize = 512
	// chunkOverlap is carried from the tail of one chunk into the next.
	chunkOverlap = 50
	// minChunkLen drops fragments too short to embed meaningfully.
	minChunkLen = 50
)

var (
	paragraphSplitRE = regexp.MustCompile(`\n\s*\n`)
	sentenceSplitRE  = regexp.MustCompile(`(?:[.!?])\s+`)
)

// Chunk segments text into ~512-character pieces with 50-character overlap,
// preferring paragraph then sentence boundaries. Chunks shorter than 50
// characters are dropped unless the whole document is shorter than that.
func Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) < minChunkLen {
		return []string{text}
	}

	var units []string
	for _, para := range paragraphSplitRE.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= chunkSize {
			units = append(units, para)
			continue
		}
		for _, sent := range splitSentences(para) {
			if len(sent) <= chunkSize {
				units = append(units, sent)
				continue
			}
			// A single run-on sentence: hard split.
			for start := 0; start < len(sent); start += chunkSize - chunkOverlap {
				end := start + chunkSize
				if end > len(sent) {
					end = len(sent)
				}
				units = append(units, sent[start:end])
				if end == len(sent) {
					break
				}
			}
		}
	}

	var chunks []string
	var current strings.Builder
	flush := func() {
		chunk := strings.TrimSpace(current.String())
		current.Reset()
		if len(chunk) >= minChunkLen {
			chunks = append(chunks, chunk)
		}
	}

	for _, unit := range units {
		if current.Len() > 0 && current.Len()+1+len(unit) > chunkSize {
			prev := current.String()
			flush()
			// Overlap: seed the next chunk with the previous tail.
			if len(prev) > chunkOverlap {
				current.WriteString(prev[len(prev)-chunkOverlap:])
				current.WriteString(" ")
			}
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(unit)
	}
	flush()

	if len(chunks) == 0 {
		return []string{text[:min(len(text), chunkSize)]}
	}
	return chunks
}

func splitSentences(text string) []string {
	var out []string
	for _, s := range sentenceSplitRE.Split(text, -1) {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
