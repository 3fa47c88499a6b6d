package textutil

import (
	"strings"
	"unicode"
)

// WordCount returns the number of whitespace-separated words in text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// LatinRatio returns the share of letters in text that are ASCII. Text without
// letters reports 1.
func LatinRatio(text string) float64 {
	var letters, ascii int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if r < unicode.MaxASCII {
			ascii++
		}
	}
	if letters == 0 {
		return 1
	}
	return float64(ascii) / float64(letters)
}

// CollapseWhitespace trims text and replaces whitespace runs with one space.
func CollapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Snippet collapses whitespace and truncates text to limit runes.
func Snippet(text string, limit int) string {
	clean := CollapseWhitespace(text)
	if clean == "" {
		return "<empty>"
	}
	runes := []rune(clean)
	if limit > 0 && len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return clean
}
