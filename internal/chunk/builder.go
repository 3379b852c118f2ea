package chunk

import (
	"regexp"
	"sort"
	"strings"

	"github.com/muesli/reflow/wordwrap"
)

// MaxBuiltChunkChars is the character budget for a single chunk produced
// by the fallback builder. Speech engines choke on very long utterances,
// so paragraphs beyond the budget are split at word boundaries.
const MaxBuiltChunkChars = 900

var (
	whitespaceRun  = regexp.MustCompile(`\s+`)
	paragraphBreak = regexp.MustCompile(`\n\s*\n+`)
)

// Build produces the chunk layout for an item.
//
// When the server supplies explicit chunk boundaries they are trusted:
// sorted by index, text normalized, degenerate ranges dropped. Otherwise
// chunks are derived locally from the paragraph list (or blank-line
// splitting of the raw text), with oversized paragraphs split at word
// boundaries without ever breaking a word.
func Build(text string, paragraphs []string, server []Chunk) []Chunk {
	if len(server) > 0 {
		return sanitizeServerChunks(server)
	}

	seeds := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		if clean := NormalizeWhitespace(p); clean != "" {
			seeds = append(seeds, clean)
		}
	}
	if len(seeds) == 0 {
		for _, p := range paragraphBreak.Split(text, -1) {
			if clean := NormalizeWhitespace(p); clean != "" {
				seeds = append(seeds, clean)
			}
		}
	}

	var chunks []Chunk
	cursor := 0
	index := 0
	for _, seed := range seeds {
		for _, part := range splitByBudget(seed, MaxBuiltChunkChars) {
			start := cursor
			end := start + len(part)
			chunks = append(chunks, Chunk{
				Index:     index,
				StartChar: start,
				EndChar:   end,
				Text:      part,
			})
			cursor = end + 1
			index++
		}
	}
	if len(chunks) > 0 {
		return chunks
	}

	// Last resort: the whole text as one chunk.
	fallback := NormalizeWhitespace(text)
	if fallback == "" {
		return nil
	}
	return []Chunk{{Index: 0, StartChar: 0, EndChar: len(fallback), Text: fallback}}
}

// NormalizeWhitespace collapses consecutive whitespace into single spaces
// and trims the result, so chunk lengths measure spoken characters.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

func sanitizeServerChunks(server []Chunk) []Chunk {
	sorted := make([]Chunk, len(server))
	copy(sorted, server)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	out := make([]Chunk, 0, len(sorted))
	for _, c := range sorted {
		clean := NormalizeWhitespace(c.Text)
		if clean == "" {
			clean = strings.TrimSpace(c.Text)
		}
		start := c.StartChar
		if start < 0 {
			start = 0
		}
		end := c.EndChar
		if end < start {
			end = start
		}
		sane := Chunk{Index: c.Index, StartChar: start, EndChar: end, Text: clean}
		if sane.Text == "" || sane.Length() <= 0 {
			continue
		}
		out = append(out, sane)
	}
	return out
}

// splitByBudget breaks a normalized paragraph into word-boundary parts of
// at most maxChars characters. Words longer than the budget stay whole.
func splitByBudget(s string, maxChars int) []string {
	if len(s) <= maxChars {
		return []string{s}
	}
	wrapped := wordwrap.String(s, maxChars)
	lines := strings.Split(wrapped, "\n")
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
