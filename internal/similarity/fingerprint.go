package similarity

import (
	"regexp"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var (
	blockCommentPattern = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineCommentPattern  = regexp.MustCompile(`//[^\n]*`)
	tokenPattern        = regexp.MustCompile(`[a-z_][a-z0-9_]*|[0-9]+(?:\.[0-9]+)?|[^\s\w]`)
)

// shingleSeparator joins tokens before hashing so "ab c" and "a bc" differ.
const shingleSeparator = "\x1f"

// Fingerprint is the sorted, de-duplicated set of shingle hashes for one
// piece of content. It is immutable once built.
type Fingerprint []uint64

// Len returns the number of distinct shingles.
func (f Fingerprint) Len() int { return len(f) }

// Normalize strips comments and lowercases content so that formatting and
// commentary do not influence similarity.
func Normalize(content string) string {
	content = blockCommentPattern.ReplaceAllString(content, " ")
	content = lineCommentPattern.ReplaceAllString(content, "")
	lines := strings.Split(content, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.ToLower(strings.Join(kept, "\n"))
}

// Tokens splits normalized content into identifiers, numbers, and single
// punctuation characters.
func Tokens(content string) []string {
	return tokenPattern.FindAllString(Normalize(content), -1)
}

// NewFingerprint builds the shingle fingerprint of content using shingles of
// size tokens. Content shorter than one shingle hashes as a single shingle.
func NewFingerprint(content string, size int) Fingerprint {
	if size < 1 {
		size = 1
	}
	tokens := Tokens(content)
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) < size {
		return Fingerprint{xxhash.Sum64String(strings.Join(tokens, shingleSeparator))}
	}
	hashes := make([]uint64, 0, len(tokens)-size+1)
	for i := 0; i+size <= len(tokens); i++ {
		hashes = append(hashes, xxhash.Sum64String(strings.Join(tokens[i:i+size], shingleSeparator)))
	}
	slices.Sort(hashes)
	return Fingerprint(slices.Compact(hashes))
}

// Overlap counts shared shingles between two fingerprints.
func Overlap(a, b Fingerprint) int {
	var i, j, n int
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			n++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return n
}

// Dice returns the Sørensen-Dice coefficient of two fingerprints. Empty
// fingerprints have similarity 0 with everything.
func Dice(a, b Fingerprint) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	return 2 * float64(Overlap(a, b)) / float64(len(a)+len(b))
}
