package similarity

import (
	"math"
	"sync"
)

// DefaultThreshold is the Dice similarity at or above which two contents are
// treated as the same item.
const DefaultThreshold = 0.85

// DefaultShingleSize is the number of tokens per shingle.
const DefaultShingleSize = 3

// boundSlack loosens prefix and size bounds against float rounding. Bounds may
// only admit extra candidates; verification stays exact.
const boundSlack = 1e-9

type entry struct {
	id string
	fp Fingerprint
}

// Index holds fingerprints of accepted records and answers near-duplicate
// queries. Candidates come from prefix filtering over hash-ordered shingles
// and every candidate is verified with the exact Dice coefficient, so a
// duplicate is never missed.
type Index struct {
	mu          sync.Mutex
	threshold   float64
	shingleSize int
	entries     []entry
	ids         map[string]struct{}
	postings    map[uint64][]int
}

// Options configures an Index.
type Options struct {
	Threshold   float64
	ShingleSize int
}

// New constructs an empty index.
func New(opts Options) *Index {
	threshold := opts.Threshold
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	size := opts.ShingleSize
	if size < 1 {
		size = DefaultShingleSize
	}
	return &Index{
		threshold:   threshold,
		shingleSize: size,
		ids:         make(map[string]struct{}),
		postings:    make(map[uint64][]int),
	}
}

// Threshold returns the configured duplicate threshold.
func (ix *Index) Threshold() float64 { return ix.threshold }

// Fingerprint builds a fingerprint with the index's shingle size.
func (ix *Index) Fingerprint(content string) Fingerprint {
	return NewFingerprint(content, ix.shingleSize)
}

// Len returns the number of indexed records.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.entries)
}

// IsDuplicate reports the most similar indexed record whose similarity with fp
// meets the threshold.
func (ix *Index) IsDuplicate(fp Fingerprint) (string, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.lookup("", fp)
}

// Insert adds an accepted record. Empty fingerprints and already indexed ids
// are ignored.
func (ix *Index) Insert(id string, fp Fingerprint) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.insert(id, fp)
}

// CheckAndInsert atomically checks fp against the index and, when no
// duplicate exists, inserts it under id. It returns the id of the earlier
// record when fp is a duplicate.
func (ix *Index) CheckAndInsert(id string, fp Fingerprint) (string, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if dup, ok := ix.lookup(id, fp); ok {
		return dup, true
	}
	ix.insert(id, fp)
	return "", false
}

func (ix *Index) insert(id string, fp Fingerprint) {
	if len(fp) == 0 {
		return
	}
	if _, exists := ix.ids[id]; exists {
		return
	}
	pos := len(ix.entries)
	ix.entries = append(ix.entries, entry{id: id, fp: fp})
	ix.ids[id] = struct{}{}
	for _, h := range fp[:ix.prefixLen(len(fp))] {
		ix.postings[h] = append(ix.postings[h], pos)
	}
}

func (ix *Index) lookup(self string, fp Fingerprint) (string, bool) {
	if len(fp) == 0 {
		return "", false
	}
	minSize, maxSize := ix.sizeBounds(len(fp))
	seen := make(map[int]struct{})
	bestPos := -1
	bestScore := 0.0
	for _, h := range fp[:ix.prefixLen(len(fp))] {
		for _, pos := range ix.postings[h] {
			if _, ok := seen[pos]; ok {
				continue
			}
			seen[pos] = struct{}{}
			cand := ix.entries[pos]
			if cand.id == self {
				continue
			}
			if n := float64(len(cand.fp)); n < minSize || n > maxSize {
				continue
			}
			score := Dice(fp, cand.fp)
			if score < ix.threshold {
				continue
			}
			if bestPos < 0 || score > bestScore || (score == bestScore && pos < bestPos) {
				bestPos = pos
				bestScore = score
			}
		}
	}
	if bestPos < 0 {
		return "", false
	}
	return ix.entries[bestPos].id, true
}

// jaccard converts the Dice threshold into the equivalent Jaccard threshold.
func (ix *Index) jaccard() float64 {
	return ix.threshold / (2 - ix.threshold)
}

// prefixLen is the number of smallest hashes of a set of size n that any
// set meeting the threshold must share at least one of.
func (ix *Index) prefixLen(n int) int {
	need := int(math.Ceil(ix.jaccard()*float64(n) - boundSlack))
	p := n - need + 1
	if p < 1 {
		p = 1
	}
	if p > n {
		p = n
	}
	return p
}

func (ix *Index) sizeBounds(n int) (float64, float64) {
	tj := ix.jaccard()
	return tj*float64(n) - boundSlack, float64(n)/tj + boundSlack
}
