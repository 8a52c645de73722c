package rank

import "sort"

// trigramSet returns the padded 3-gram set of a term, pg_trgm style: two
// leading blanks and one trailing blank so word boundaries carry weight.
func trigramSet(term string) map[string]struct{} {
	if term == "" {
		return nil
	}
	runes := []rune("  " + term + " ")
	set := make(map[string]struct{}, len(runes))
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

// trigramSimilarity is the Jaccard similarity of two trigram sets.
func trigramSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for g := range a {
		if _, ok := b[g]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// candidate is a vocabulary term nominated by the trigram pass.
type candidate struct {
	term       string
	similarity float64
}

// topCandidates keeps the best-scoring candidate terms, breaking similarity
// ties alphabetically so nomination is deterministic.
func topCandidates(cands []candidate, limit int) []string {
	if limit <= 0 || len(cands) == 0 {
		return nil
	}
	sorted := make([]candidate, len(cands))
	copy(sorted, cands)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].similarity != sorted[j].similarity {
			return sorted[i].similarity > sorted[j].similarity
		}
		return sorted[i].term < sorted[j].term
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	terms := make([]string, len(sorted))
	for i, c := range sorted {
		terms[i] = c.term
	}
	return terms
}
