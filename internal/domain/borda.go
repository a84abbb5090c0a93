package domain

import "sort"

// BordaScores awards every candidate n-1 points for a first place, n-2 for
// a second place and so on, where n is the size of the universe. Points
// are the same on every ballot regardless of its length, so partial
// ballots simply stop awarding points early. Candidates of the universe
// that are never ranked score zero.
func BordaScores(p Profile, universe []Candidate) map[Candidate]int {
	n := len(universe)
	scores := make(map[Candidate]int, n)
	for _, c := range universe {
		scores[c] = 0
	}
	for _, b := range p.Ballots {
		for pos, c := range b {
			if _, ok := scores[c]; !ok {
				continue
			}
			if pts := n - 1 - pos; pts > 0 {
				scores[c] += pts
			}
		}
	}
	return scores
}

// BordaRanking orders the universe by descending Borda score and returns
// the first k candidates. Equal scores are ordered by candidate
// identifier. A k of zero or above the universe size returns the full
// ordering.
func BordaRanking(p Profile, universe []Candidate, k int) []Candidate {
	scores := BordaScores(p, universe)
	ranked := make([]Candidate, len(universe))
	copy(ranked, universe)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := scores[ranked[i]], scores[ranked[j]]
		if si != sj {
			return si > sj
		}
		return ranked[i] < ranked[j]
	})
	if k > 0 && k < len(ranked) {
		ranked = ranked[:k]
	}
	return ranked
}
