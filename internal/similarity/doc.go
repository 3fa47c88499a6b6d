// Package similarity detects near-duplicate content across records.
//
// Content is normalized (comments removed, lowercased), tokenized into
// identifiers, numbers, and punctuation, and reduced to a set of k-token
// shingles hashed with xxhash. Two records are near duplicates when the
// Sørensen-Dice coefficient of their shingle sets meets the configured
// threshold.
//
// Index is safe for concurrent use. CheckAndInsert performs the
// duplicate check and the insertion under one lock so that two concurrent
// near-identical records cannot both be accepted.
package similarity
