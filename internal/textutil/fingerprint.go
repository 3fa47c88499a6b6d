package textutil

import (
	"math"
	"strings"
	"unicode"
)

// stopwords are dropped from prose and code alike.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "this": {}, "that": {},
	"from": {}, "are": {}, "will": {}, "when": {}, "into": {}, "its": {},
}

// Fingerprint is a term-frequency vector used for description/code overlap.
type Fingerprint struct {
	tokens map[string]float64
	norm   float64
}

// NewFingerprint builds a fingerprint of text. It returns nil when text has
// no usable tokens.
func NewFingerprint(text string) *Fingerprint {
	terms := Tokenize(text)
	if len(terms) == 0 {
		return nil
	}
	f := &Fingerprint{tokens: make(map[string]float64, len(terms))}
	for _, term := range terms {
		f.tokens[term]++
	}
	var sum float64
	for _, count := range f.tokens {
		sum += count * count
	}
	f.norm = math.Sqrt(sum)
	return f
}

// Tokenize lowercases text into alphanumeric terms of three or more
// characters. Identifiers are split on camelCase and underscores so
// "fastLength" contributes "fast" and "length".
func Tokenize(text string) []string {
	var (
		terms   []string
		current []rune
	)
	emit := func() {
		if len(current) >= 3 {
			term := string(current)
			if _, stop := stopwords[term]; !stop {
				terms = append(terms, term)
			}
		}
		current = current[:0]
	}
	var prev rune
	for _, r := range text {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if unicode.IsUpper(r) && unicode.IsLower(prev) {
				emit()
			}
			current = append(current, unicode.ToLower(r))
		default:
			emit()
		}
		prev = r
	}
	emit()
	return terms
}

// TokenCount returns the number of distinct terms.
func (f *Fingerprint) TokenCount() int {
	if f == nil {
		return 0
	}
	return len(f.tokens)
}

// Overlap returns the distinct terms present in both fingerprints.
func Overlap(a, b *Fingerprint) []string {
	if a == nil || b == nil {
		return nil
	}
	var shared []string
	for term := range a.tokens {
		if _, ok := b.tokens[term]; ok {
			shared = append(shared, term)
		}
	}
	return shared
}

func (f *Fingerprint) String() string {
	if f == nil {
		return "<empty>"
	}
	terms := make([]string, 0, len(f.tokens))
	for term := range f.tokens {
		terms = append(terms, term)
	}
	return strings.Join(terms, " ")
}
