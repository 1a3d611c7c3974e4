package similarity

import (
	"cmp"
	"slices"
)

// Candidate is an existing cluster considered for a match.
type Candidate struct {
	ID        string
	Embedding []float32
}

// Match is the outcome of matching one embedding against a candidate set.
type Match struct {
	// ClusterID is the best candidate, set only when Matched is true.
	ClusterID string
	// BestID is the best candidate regardless of the threshold.
	BestID string
	// Similarity is the best similarity found (0 when no candidate was comparable).
	Similarity float64
	// Skipped counts candidates whose dimensions did not match the embedding.
	Skipped int
	Matched bool
}

// BestMatch compares embedding against every candidate and returns the most
// similar one. The match is accepted when its similarity is >= threshold.
// Candidates are visited in id order and ties keep the smallest id, so the
// result does not depend on the order of the candidate slice.
// A candidate with a different dimension is skipped, not fatal.
func BestMatch(embedding []float32, candidates []Candidate, threshold float64) Match {
	var m Match
	if len(candidates) == 0 {
		return m
	}

	ordered := slices.Clone(candidates)
	slices.SortStableFunc(ordered, func(a, b Candidate) int {
		return cmp.Compare(a.ID, b.ID)
	})

	found := false
	for _, c := range ordered {
		sim, err := Similarity(embedding, c.Embedding)
		if err != nil {
			m.Skipped++
			continue
		}
		if !found || sim > m.Similarity {
			m.BestID = c.ID
			m.Similarity = sim
			found = true
		}
	}

	if found && m.Similarity >= threshold {
		m.ClusterID = m.BestID
		m.Matched = true
	}
	return m
}
