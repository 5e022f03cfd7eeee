// Package text prepares text for synthesis and cleans transcripts for output.
package text

import (
	"regexp"
	"strings"
	"unicode"
)

const terminators = "。！？；!?;"

// sentencePattern keeps a run of terminators attached to the text before it, so the
// matches always cover the whole input.
var sentencePattern = regexp.MustCompile(`[^` + terminators + `]*[` + terminators + `]+|[^` + terminators + `]+`)

// Normalize collapses whitespace runs to a single space, trims the result and drops
// spaces that sit between two CJK ideographs.
func Normalize(s string) string {
	collapsed := strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
	if collapsed == "" {
		return ""
	}
	runes := []rune(collapsed)
	var b strings.Builder
	b.Grow(len(collapsed))
	for i, r := range runes {
		if r == ' ' && i > 0 && i+1 < len(runes) && isIdeograph(runes[i-1]) && isIdeograph(runes[i+1]) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Segment normalizes s and splits it after sentence terminators. The terminators stay
// with the preceding text. Text without any boundary comes back as one chunk.
func Segment(s string) []string {
	normalized := Normalize(s)
	if normalized == "" {
		return nil
	}
	var chunks []string
	for _, part := range sentencePattern.FindAllString(normalized, -1) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
	}
	if len(chunks) == 0 {
		return []string{normalized}
	}
	return chunks
}

func isIdeograph(r rune) bool {
	return r >= 0x4e00 && r <= 0x9fff
}
