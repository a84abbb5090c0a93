package domain

import (
	"fmt"
	"slices"
	"sort"
)

// Candidate is an opaque identifier for an item being ranked.
type Candidate string

// GroupID identifies a protected group. Every candidate belongs to exactly
// one group.
type GroupID string

// GroupMap assigns each candidate in the pool to its group.
type GroupMap map[Candidate]GroupID

// Candidates returns the candidates of the map sorted by identifier.
func (gm GroupMap) Candidates() []Candidate {
	out := make([]Candidate, 0, len(gm))
	for c := range gm {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Groups returns the distinct groups of the map sorted by identifier.
func (gm GroupMap) Groups() []GroupID {
	seen := make(map[GroupID]struct{})
	for _, g := range gm {
		seen[g] = struct{}{}
	}
	return sortedGroups(seen)
}

// Counts returns the number of candidates per group.
func (gm GroupMap) Counts() GroupCounts {
	counts := make(GroupCounts)
	for _, g := range gm {
		counts[g]++
	}
	return counts
}

// GroupCounts holds a candidate count per group.
type GroupCounts map[GroupID]int

// Total returns the sum of all counts.
func (gc GroupCounts) Total() int {
	total := 0
	for _, n := range gc {
		total += n
	}
	return total
}

// Groups returns the groups of the count map sorted by identifier.
func (gc GroupCounts) Groups() []GroupID {
	seen := make(map[GroupID]struct{}, len(gc))
	for g := range gc {
		seen[g] = struct{}{}
	}
	return sortedGroups(seen)
}

// Quotas holds the number of seats reserved for each group.
type Quotas map[GroupID]int

// Seats returns the total number of seats across all groups.
func (q Quotas) Seats() int {
	seats := 0
	for _, n := range q {
		seats += n
	}
	return seats
}

// Clone returns an independent copy of the quotas.
func (q Quotas) Clone() Quotas {
	out := make(Quotas, len(q))
	for g, n := range q {
		out[g] = n
	}
	return out
}

// Ballot is one voter's ranked list of candidates, most preferred first.
// A ballot may rank only a prefix of the pool.
type Ballot []Candidate

// Profile is an ordered collection of ballots.
type Profile struct {
	// Ballots holds every voter's ranking in submission order.
	Ballots []Ballot `json:"ballots" yaml:"ballots"`
}

// NewProfile builds a profile from plain string rankings.
func NewProfile(rankings ...[]string) Profile {
	ballots := make([]Ballot, 0, len(rankings))
	for _, r := range rankings {
		b := make(Ballot, len(r))
		for i, c := range r {
			b[i] = Candidate(c)
		}
		ballots = append(ballots, b)
	}
	return Profile{Ballots: ballots}
}

// Validate checks that the profile has at least one ballot, that no ballot
// is empty, and that no ballot lists a candidate twice.
func (p Profile) Validate() error {
	if len(p.Ballots) == 0 {
		return fmt.Errorf("%w: no ballots", ErrInvalidProfile)
	}
	for i, b := range p.Ballots {
		if len(b) == 0 {
			return fmt.Errorf("%w: ballot %d is empty", ErrInvalidProfile, i)
		}
		seen := make(map[Candidate]struct{}, len(b))
		for _, c := range b {
			if _, dup := seen[c]; dup {
				return fmt.Errorf("%w: ballot %d ranks %q twice", ErrInvalidProfile, i, c)
			}
			seen[c] = struct{}{}
		}
	}
	return nil
}

// RankedCandidates returns every candidate that appears on at least one
// ballot, sorted by identifier.
func (p Profile) RankedCandidates() []Candidate {
	seen := make(map[Candidate]struct{})
	for _, b := range p.Ballots {
		for _, c := range b {
			seen[c] = struct{}{}
		}
	}
	out := make([]Candidate, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Clone returns a deep copy of the profile.
func (p Profile) Clone() Profile {
	ballots := make([]Ballot, len(p.Ballots))
	for i, b := range p.Ballots {
		ballots[i] = slices.Clone(b)
	}
	return Profile{Ballots: ballots}
}

// PoolCandidate describes one member of the full candidate universe.
type PoolCandidate struct {
	// ID is the candidate identifier used on ballots.
	ID Candidate `json:"id" yaml:"id"`

	// Group is the protected group the candidate belongs to.
	Group GroupID `json:"group" yaml:"group"`

	// Features are the non-sensitive attributes used for imputation.
	Features []float64 `json:"features,omitempty" yaml:"features,omitempty"`
}

// Representation captures how groups are represented in the pool and in
// the profile.
type Representation struct {
	// Groups maps every pool candidate to its group.
	Groups GroupMap `json:"groups"`

	// PoolCounts is the number of pool candidates per group.
	PoolCounts GroupCounts `json:"pool_counts"`

	// ProfileCounts is the number of distinct ranked candidates per group.
	// Groups absent from the profile are present with a zero count.
	ProfileCounts GroupCounts `json:"profile_counts"`
}

func sortedGroups(set map[GroupID]struct{}) []GroupID {
	out := make([]GroupID, 0, len(set))
	for g := range set {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
