package domain

import (
	"fmt"
	"math"
	"sort"
)

// weightEpsilon absorbs floating point drift from fractional transfers when
// comparing vote weights.
const weightEpsilon = 1e-9

// RoundAction names the transition taken in one STV round.
type RoundAction string

// Transitions of the group-aware STV state machine, in priority order.
const (
	ActionAutoElect       RoundAction = "auto_elect"
	ActionGroupExhaustion RoundAction = "group_exhaustion"
	ActionGroupDrop       RoundAction = "group_drop"
	ActionQuotaElect      RoundAction = "quota_elect"
	ActionEliminate       RoundAction = "eliminate"
)

// Round records one transition of an STV run.
type Round struct {
	// Number is the 1-based iteration the transition happened in.
	Number int `json:"number"`

	// Action is the transition taken.
	Action RoundAction `json:"action"`

	// Group is set for group exhaustion and group drop transitions.
	Group GroupID `json:"group,omitempty"`

	// Candidates lists the candidates elected, dropped or eliminated, in
	// the order they were processed.
	Candidates []Candidate `json:"candidates"`

	// Transferred is the total vote weight moved to next preferences.
	Transferred float64 `json:"transferred"`
}

// STVResult is the outcome of a group-aware STV run.
type STVResult struct {
	// Ranking is the elected sequence after fair bucket arrangement.
	Ranking []Candidate `json:"ranking"`

	// ElectionOrder is the elected sequence in the order candidates won
	// their seats.
	ElectionOrder []Candidate `json:"election_order"`

	// DroopQuota is floor(ballots/(seats+1))+1.
	DroopQuota float64 `json:"droop_quota"`

	// Seats is the number of seats filled.
	Seats int `json:"seats"`

	// Rounds traces every transition of the run.
	Rounds []Round `json:"rounds"`
}

// Eliminations counts the candidates removed by the elimination rule.
func (r STVResult) Eliminations() int {
	n := 0
	for _, rd := range r.Rounds {
		if rd.Action == ActionEliminate {
			n += len(rd.Candidates)
		}
	}
	return n
}

// RunGroupAwareSTV elects sum(quotas) candidates from the profile such that
// every group receives exactly its quota, then arranges them into fair
// buckets.
//
// The candidate universe is the key set of groups; every ranked candidate
// must belong to it. Each round applies the first matching transition:
//
//  1. auto-elect every eligible candidate if they exactly fill the seats;
//  2. force-elect every group whose eligible pool equals its remaining quota;
//  3. drop every group whose quota is filled and transfer its members' votes;
//  4. elect candidates reaching the Droop quota and transfer their surplus;
//  5. eliminate the weakest candidate whose group can spare it.
//
// Ties are resolved by vote weight, then Borda score, then candidate
// identifier, so identical inputs always produce identical outputs. The
// inputs are not modified.
func RunGroupAwareSTV(p Profile, groups GroupMap, quotas Quotas) (STVResult, error) {
	s, err := newSTVSession(p, groups, quotas)
	if err != nil {
		return STVResult{}, NewElectionError("stv", 0, err)
	}
	if err := s.run(); err != nil {
		return STVResult{}, NewElectionError("stv", s.round, err)
	}

	order := make([]Candidate, len(s.elected))
	copy(order, s.elected)
	return STVResult{
		Ranking:       ArrangeFairBuckets(s.elected, s.groups),
		ElectionOrder: order,
		DroopQuota:    s.droop,
		Seats:         s.seats,
		Rounds:        s.rounds,
	}, nil
}

// stvSession holds the mutable tally and constraint state of one STV run.
// It is created per invocation and never shared.
type stvSession struct {
	ballots    []Ballot
	groups     GroupMap
	groupOrder []GroupID
	seats      int
	droop      float64
	borda      map[Candidate]int

	// tally is the VoteTally of still-eligible candidates.
	tally map[Candidate]float64
	// eligible is the set of candidates that can still be elected.
	eligible map[Candidate]struct{}
	// groupEligible partitions eligible by group.
	groupEligible map[GroupID]map[Candidate]struct{}
	// remaining is the GroupConstraint: seats still open per group.
	remaining map[GroupID]int

	elected []Candidate
	rounds  []Round
	round   int
}

// transfer is one worklist entry: weight held by from that moves on to the
// next eligible preferences.
type transfer struct {
	from   Candidate
	weight float64
}

func newSTVSession(p Profile, groups GroupMap, quotas Quotas) (*stvSession, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	universe := groups.Candidates()
	if len(universe) == 0 {
		return nil, fmt.Errorf("%w: empty candidate universe", ErrInsufficientCandidates)
	}
	for i, b := range p.Ballots {
		for _, c := range b {
			if _, ok := groups[c]; !ok {
				return nil, fmt.Errorf("%w: ballot %d ranks %q which has no group", ErrInvalidProfile, i, c)
			}
		}
	}

	seats := 0
	for g, q := range quotas {
		if q < 0 {
			return nil, fmt.Errorf("%w: group %q has negative quota %d", ErrInvalidSeats, g, q)
		}
		seats += q
	}
	if seats == 0 {
		return nil, fmt.Errorf("%w: quotas allot no seats", ErrInvalidSeats)
	}
	if seats > len(universe) {
		return nil, fmt.Errorf("%w: %d seats for %d candidates", ErrInsufficientCandidates, seats, len(universe))
	}

	s := &stvSession{
		ballots:       p.Clone().Ballots,
		groups:        make(GroupMap, len(groups)),
		seats:         seats,
		droop:         math.Floor(float64(len(p.Ballots))/float64(seats+1)) + 1,
		borda:         BordaScores(p, universe),
		tally:         make(map[Candidate]float64, len(universe)),
		eligible:      make(map[Candidate]struct{}, len(universe)),
		groupEligible: make(map[GroupID]map[Candidate]struct{}),
		remaining:     make(map[GroupID]int),
		elected:       make([]Candidate, 0, seats),
	}

	groupSet := make(map[GroupID]struct{})
	for _, c := range universe {
		g := groups[c]
		s.groups[c] = g
		s.tally[c] = 0
		s.eligible[c] = struct{}{}
		if s.groupEligible[g] == nil {
			s.groupEligible[g] = make(map[Candidate]struct{})
		}
		s.groupEligible[g][c] = struct{}{}
		groupSet[g] = struct{}{}
	}
	for g, q := range quotas {
		s.remaining[g] = q
		groupSet[g] = struct{}{}
	}
	s.groupOrder = sortedGroups(groupSet)

	for _, g := range s.groupOrder {
		if have := len(s.groupEligible[g]); have < s.remaining[g] {
			return nil, fmt.Errorf("%w: group %q has %d candidates for quota %d",
				ErrUnfillableQuota, g, have, s.remaining[g])
		}
	}

	for _, b := range s.ballots {
		s.tally[b[0]]++
	}
	return s, nil
}

func (s *stvSession) run() error {
	for !s.complete() {
		s.round++

		if s.electAllRemaining() {
			return nil
		}
		if _, err := s.exhaustGroups(); err != nil {
			return err
		}
		if s.complete() {
			return nil
		}
		if s.dropFilledGroups() {
			continue
		}
		if s.electByQuota() {
			continue
		}
		if s.eliminateWeakest() {
			continue
		}

		// Nobody could be eliminated without breaking a group quota. Give
		// the forced-election rules one more chance before giving up.
		if s.electAllRemaining() {
			return nil
		}
		n, err := s.exhaustGroups()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: no candidate can be elected or eliminated with %d of %d seats filled",
				ErrUnfillableQuota, len(s.elected), s.seats)
		}
	}
	return nil
}

func (s *stvSession) complete() bool { return len(s.elected) >= s.seats }

// electAllRemaining elects every eligible candidate when they exactly fill
// the open seats.
func (s *stvSession) electAllRemaining() bool {
	if len(s.eligible) != s.seats-len(s.elected) {
		return false
	}
	winners := s.rankByWeight(s.eligibleList())
	for _, c := range winners {
		s.elect(c)
	}
	s.record(ActionAutoElect, "", winners, 0)
	return true
}

// exhaustGroups force-elects every group whose eligible pool equals its
// remaining quota and returns the number of candidates elected.
func (s *stvSession) exhaustGroups() (int, error) {
	elected := 0
	for _, g := range s.groupOrder {
		rem := s.remaining[g]
		if rem <= 0 {
			continue
		}
		have := len(s.groupEligible[g])
		if have < rem {
			return elected, fmt.Errorf("%w: group %q has %d eligible candidates for %d open seats",
				ErrUnfillableQuota, g, have, rem)
		}
		if have != rem {
			continue
		}
		winners := s.rankByWeight(s.groupMembers(g))
		for _, c := range winners {
			s.elect(c)
		}
		elected += len(winners)
		s.record(ActionGroupExhaustion, g, winners, 0)
		if s.complete() {
			return elected, nil
		}
	}
	return elected, nil
}

// dropFilledGroups removes every group whose quota is met from eligibility
// and hands its members' votes to their next preferences. All such groups
// leave eligibility before any transfer so votes never land on a member of
// another dropped group.
func (s *stvSession) dropFilledGroups() bool {
	var filled []GroupID
	for _, g := range s.groupOrder {
		if s.remaining[g] == 0 && len(s.groupEligible[g]) > 0 {
			filled = append(filled, g)
		}
	}
	if len(filled) == 0 {
		return false
	}

	dropped := make(map[GroupID][]Candidate, len(filled))
	for _, g := range filled {
		dropped[g] = s.groupMembers(g)
		for _, c := range dropped[g] {
			s.removeEligible(c)
		}
	}
	for _, g := range filled {
		work := make([]transfer, 0, len(dropped[g]))
		for _, c := range dropped[g] {
			if w := s.tally[c]; w > weightEpsilon {
				work = append(work, transfer{from: c, weight: w})
			}
			delete(s.tally, c)
		}
		moved := s.transfer(work)
		s.record(ActionGroupDrop, g, dropped[g], moved)
	}
	return true
}

// electByQuota elects every candidate whose weight reaches the Droop quota,
// strongest first, and transfers their surplus. A qualifying candidate whose
// group filled up earlier in the same pass stays eligible; the group drop
// rule moves its votes on in the next round.
func (s *stvSession) electByQuota() bool {
	var qualified []Candidate
	for c := range s.eligible {
		if s.tally[c] >= s.droop-weightEpsilon {
			qualified = append(qualified, c)
		}
	}
	if len(qualified) == 0 {
		return false
	}

	var winners []Candidate
	var work []transfer
	for _, c := range s.rankByWeight(qualified) {
		if s.remaining[s.groups[c]] <= 0 {
			continue
		}
		w := s.tally[c]
		s.elect(c)
		winners = append(winners, c)
		if s.complete() {
			break
		}
		if surplus := w - s.droop; surplus > weightEpsilon {
			work = append(work, transfer{from: c, weight: surplus})
		}
	}
	if len(winners) == 0 {
		return false
	}

	moved := 0.0
	if !s.complete() {
		moved = s.transfer(work)
	}
	s.record(ActionQuotaElect, "", winners, moved)
	return true
}

// eliminateWeakest removes the lowest-weight candidate whose group keeps
// enough eligible members to meet its quota. Among equally weak candidates
// the lowest Borda score goes first, then the lowest identifier.
func (s *stvSession) eliminateWeakest() bool {
	minWeight := math.Inf(1)
	for c := range s.eligible {
		minWeight = math.Min(minWeight, s.tally[c])
	}

	var victim Candidate
	found := false
	for _, c := range s.eligibleList() {
		if s.tally[c] > minWeight+weightEpsilon {
			continue
		}
		g := s.groups[c]
		if len(s.groupEligible[g])-1 < s.remaining[g] {
			continue
		}
		if !found || s.borda[c] < s.borda[victim] {
			victim, found = c, true
		}
	}
	if !found {
		return false
	}

	w := s.tally[victim]
	s.removeEligible(victim)
	delete(s.tally, victim)
	moved := 0.0
	if w > weightEpsilon {
		moved = s.transfer([]transfer{{from: victim, weight: w}})
	}
	s.record(ActionEliminate, s.groups[victim], []Candidate{victim}, moved)
	return true
}

// transfer drains the worklist. Each entry's weight is split across the
// next eligible preferences after its source, proportionally to the number
// of ballots pointing at each of them. Weight with no next preference is
// exhausted. It returns the weight actually moved.
func (s *stvSession) transfer(work []transfer) float64 {
	moved := 0.0
	for len(work) > 0 {
		t := work[0]
		work = work[1:]

		next, total := s.nextPreferences(t.from)
		if total == 0 {
			continue
		}
		for _, np := range next {
			share := t.weight * float64(np.count) / float64(total)
			s.tally[np.candidate] += share
			moved += share
		}
	}
	return moved
}

type nextPreference struct {
	candidate Candidate
	count     int
}

// nextPreferences finds, on every ballot ranking from, the first eligible
// candidate ranked after it. Results are sorted by candidate identifier.
func (s *stvSession) nextPreferences(from Candidate) ([]nextPreference, int) {
	counts := make(map[Candidate]int)
	total := 0
	for _, b := range s.ballots {
		idx := -1
		for i, c := range b {
			if c == from {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		for _, c := range b[idx+1:] {
			if _, ok := s.eligible[c]; ok {
				counts[c]++
				total++
				break
			}
		}
	}

	out := make([]nextPreference, 0, len(counts))
	for c, n := range counts {
		out = append(out, nextPreference{candidate: c, count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].candidate < out[j].candidate })
	return out, total
}

func (s *stvSession) elect(c Candidate) {
	s.elected = append(s.elected, c)
	s.remaining[s.groups[c]]--
	s.removeEligible(c)
	delete(s.tally, c)
}

func (s *stvSession) removeEligible(c Candidate) {
	delete(s.eligible, c)
	delete(s.groupEligible[s.groups[c]], c)
}

// rankByWeight orders candidates by descending weight, then descending
// Borda score, then identifier.
func (s *stvSession) rankByWeight(cands []Candidate) []Candidate {
	out := make([]Candidate, len(cands))
	copy(out, cands)
	sort.Slice(out, func(i, j int) bool {
		wi, wj := s.tally[out[i]], s.tally[out[j]]
		if math.Abs(wi-wj) > weightEpsilon {
			return wi > wj
		}
		if bi, bj := s.borda[out[i]], s.borda[out[j]]; bi != bj {
			return bi > bj
		}
		return out[i] < out[j]
	})
	return out
}

func (s *stvSession) eligibleList() []Candidate {
	out := make([]Candidate, 0, len(s.eligible))
	for c := range s.eligible {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *stvSession) groupMembers(g GroupID) []Candidate {
	out := make([]Candidate, 0, len(s.groupEligible[g]))
	for c := range s.groupEligible[g] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *stvSession) record(action RoundAction, g GroupID, cands []Candidate, moved float64) {
	cs := make([]Candidate, len(cands))
	copy(cs, cands)
	s.rounds = append(s.rounds, Round{
		Number:      s.round,
		Action:      action,
		Group:       g,
		Candidates:  cs,
		Transferred: moved,
	})
}
