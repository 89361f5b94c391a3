// Package trigram generates character 3-gram sets from text and scores them
// with Jaccard similarity. It backs both the candidate-gathering scan in the
// storage port and the fuzzy subscore in the search engine.
package trigram

import "strings"

// Set is a deduplicated collection of trigrams, suitable for both storage
// (one row per trigram, for an inverted-index scan) and in-memory comparison.
type Set map[string]struct{}

// Of returns the trigram set for t: the text is lowercased, padded with two
// leading spaces and one trailing space, and split into overlapping 3-grams.
// Whitespace positions are kept verbatim — no stopword removal, no
// language-specific tokenization.
func Of(t string) Set {
	padded := "  " + strings.ToLower(t) + " "
	runes := []rune(padded)
	set := make(Set, len(runes))
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

// Slice returns the set's members as a slice, for persistence.
func (s Set) Slice() []string {
	out := make([]string, 0, len(s))
	for tg := range s {
		out = append(out, tg)
	}
	return out
}

// FromSlice rebuilds a Set from a persisted slice of trigrams.
func FromSlice(tgs []string) Set {
	set := make(Set, len(tgs))
	for _, tg := range tgs {
		set[tg] = struct{}{}
	}
	return set
}

// Similarity returns the Jaccard similarity |A∩B| / |A∪B| of two trigram
// sets. Two empty sets are defined to have similarity 0, not 1 — an empty
// query should never look like a perfect match for an empty stored memory.
func Similarity(a, b Set) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, big := a, b
	if len(big) < len(small) {
		small, big = big, small
	}
	var intersect int
	for tg := range small {
		if _, ok := big[tg]; ok {
			intersect++
		}
	}
	union := len(a) + len(b) - intersect
	if union == 0 {
		return 0
	}
	return float64(intersect) / float64(union)
}

// SimilarityText is a convenience wrapper that trigrams q before scoring it
// against an already-computed stored set.
func SimilarityText(q string, stored Set) float64 {
	return Similarity(Of(q), stored)
}
