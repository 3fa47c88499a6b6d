package textutil

// CosineSimilarity is the cosine of the angle between two fingerprints, in
// [0, 1]. Nil or empty fingerprints score 0.
func CosineSimilarity(a, b *Fingerprint) float64 {
	if a == nil || b == nil || a.norm == 0 || b.norm == 0 {
		return 0
	}
	small, large := a, b
	if len(small.tokens) > len(large.tokens) {
		small, large = large, small
	}
	var dot float64
	for term, count := range small.tokens {
		dot += count * large.tokens[term]
	}
	return min(dot/(a.norm*b.norm), 1)
}
