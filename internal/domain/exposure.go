package domain

import (
	"fmt"
	"maps"
	"math"
	"sort"
)

// ratioEpsilon keeps a ratio that equals the bound up to rounding from
// being treated as below it.
const ratioEpsilon = 1e-12

// PositionExposure returns the attention weight of a 1-indexed ranking
// position: 1/log2(pos+1).
func PositionExposure(pos int) float64 {
	return 1 / math.Log2(float64(pos)+1)
}

// GroupExposures returns the average positional exposure of every group
// with at least one member in the ranking. Groups without members are left
// out rather than divided by zero. Candidates missing from groups are
// ignored.
func GroupExposures(ranking []Candidate, groups GroupMap) map[GroupID]float64 {
	sums := make(map[GroupID]float64)
	counts := make(map[GroupID]int)
	for i, c := range ranking {
		g, ok := groups[c]
		if !ok {
			continue
		}
		sums[g] += PositionExposure(i + 1)
		counts[g]++
	}
	avgs := make(map[GroupID]float64, len(sums))
	for g, s := range sums {
		avgs[g] = s / float64(counts[g])
	}
	return avgs
}

// ExposureRatio returns min/max of the group average exposures of the
// ranking, along with the averages. A ranking with fewer than two groups
// has ratio 1.
func ExposureRatio(ranking []Candidate, groups GroupMap) (float64, map[GroupID]float64) {
	avgs := GroupExposures(ranking, groups)
	ratio, _, _ := extremes(avgs)
	return ratio, avgs
}

// ExposureOptions configures EqualizeExposure.
type ExposureOptions struct {
	// Bound is the minimum acceptable ratio of the lowest to the highest
	// group average exposure, in (0, 1].
	Bound float64 `json:"bound" yaml:"bound"`

	// PreserveGroupOrder re-slots each group's members into their input
	// order within the positions the group ends up occupying.
	PreserveGroupOrder bool `json:"preserve_group_order" yaml:"preserve_group_order"`

	// MaxRepositions caps the number of swaps. Zero means n(n-1)/2 for a
	// ranking of length n.
	MaxRepositions int `json:"max_repositions" yaml:"max_repositions"`
}

// ExposureResult is the outcome of exposure equalization.
type ExposureResult struct {
	// Ranking is the permuted ranking.
	Ranking []Candidate `json:"ranking"`

	// Ratio is the exposure ratio of Ranking.
	Ratio float64 `json:"ratio"`

	// InitialRatio is the exposure ratio of the input ranking.
	InitialRatio float64 `json:"initial_ratio"`

	// GroupExposure holds the average exposure per group of Ranking.
	GroupExposure map[GroupID]float64 `json:"group_exposure"`

	// Repositions is the number of swaps performed.
	Repositions int `json:"repositions"`

	// Converged reports whether Ratio reached the bound.
	Converged bool `json:"converged"`

	// RatioTrace holds the ratio before the first swap and after each swap.
	RatioTrace []float64 `json:"ratio_trace"`
}

// EqualizeExposure swaps candidates of the least exposed group upward
// against members of the most exposed group until the exposure ratio
// reaches opts.Bound.
//
// Every iteration locates the earliest unswapped member of the least exposed
// group that has an unswapped member of the most exposed group above it,
// computes the exposure that member would need for its group to reach
// Bound times the top group's average, and swaps it with the candidate
// above whose position exposure is closest to that target. A swap is only
// taken if it does not lower the ratio, and each position can take part in
// at most one swap, so the loop ends after at most n/2 swaps or at the
// reposition cap.
//
// When the bound cannot be reached the best ranking found is returned
// together with a *ConvergenceError wrapping ErrNonConvergence; the result
// is valid in that case.
func EqualizeExposure(ranking []Candidate, groups GroupMap, opts ExposureOptions) (ExposureResult, error) {
	if math.IsNaN(opts.Bound) || opts.Bound <= 0 || opts.Bound > 1 {
		return ExposureResult{}, fmt.Errorf("%w: %v not in (0, 1]", ErrInvalidBound, opts.Bound)
	}
	if err := validateRanking(ranking, groups); err != nil {
		return ExposureResult{}, err
	}

	n := len(ranking)
	limit := opts.MaxRepositions
	if limit <= 0 {
		limit = n * (n - 1) / 2
	}

	st := newExposureState(ranking, groups)
	ratio, gmin, gmax := extremes(st.averages())
	res := ExposureResult{
		InitialRatio: ratio,
		RatioTrace:   []float64{ratio},
	}

	swapped := make([]bool, n)
	reason := ""
	for ratio+ratioEpsilon < opts.Bound {
		if res.Repositions >= limit {
			reason = "reposition cap reached"
			break
		}
		next, ok := st.bestSwap(gmin, gmax, opts.Bound, ratio, swapped)
		if !ok {
			reason = "no eligible swap raises the ratio"
			break
		}
		st.swap(next.low, next.high)
		swapped[next.low] = true
		swapped[next.high] = true
		res.Repositions++

		ratio, gmin, gmax = extremes(st.averages())
		res.RatioTrace = append(res.RatioTrace, ratio)
	}

	out := st.ranking
	if opts.PreserveGroupOrder {
		out = restoreGroupOrder(ranking, st.ranking, groups)
	}
	res.Ranking = out
	res.Ratio = ratio
	res.GroupExposure = GroupExposures(out, groups)
	res.Converged = reason == ""

	if !res.Converged {
		return res, &ConvergenceError{
			Ratio:       ratio,
			Bound:       opts.Bound,
			Repositions: res.Repositions,
			Reason:      reason,
		}
	}
	return res, nil
}

// exposureState is the working ranking of one equalizer run. sums and
// counts hold the per-group exposure totals and are kept current by swap.
type exposureState struct {
	ranking []Candidate
	groupAt []GroupID
	weights []float64
	sums    map[GroupID]float64
	counts  map[GroupID]int
}

type swapPair struct {
	low  int // position of the under-exposed member
	high int // position of the over-exposed member above it
}

func newExposureState(ranking []Candidate, groups GroupMap) *exposureState {
	st := &exposureState{
		ranking: make([]Candidate, len(ranking)),
		groupAt: make([]GroupID, len(ranking)),
		weights: make([]float64, len(ranking)),
		sums:    make(map[GroupID]float64),
		counts:  make(map[GroupID]int),
	}
	copy(st.ranking, ranking)
	for i, c := range ranking {
		g := groups[c]
		st.groupAt[i] = g
		st.weights[i] = PositionExposure(i + 1)
		st.sums[g] += st.weights[i]
		st.counts[g]++
	}
	return st
}

func (st *exposureState) averages() map[GroupID]float64 {
	avgs := make(map[GroupID]float64, len(st.sums))
	for g, s := range st.sums {
		avgs[g] = s / float64(st.counts[g])
	}
	return avgs
}

// swap exchanges positions i and j and moves the two position weights
// between the groups involved.
func (st *exposureState) swap(i, j int) {
	gi, gj := st.groupAt[i], st.groupAt[j]
	if gi != gj {
		delta := st.weights[j] - st.weights[i]
		st.sums[gi] += delta
		st.sums[gj] -= delta
	}
	st.ranking[i], st.ranking[j] = st.ranking[j], st.ranking[i]
	st.groupAt[i], st.groupAt[j] = gj, gi
}

// ratioAfterSwap returns the exposure ratio the ranking would have with
// positions i and j exchanged. avgs are the current group averages; only
// the two affected groups are adjusted.
func (st *exposureState) ratioAfterSwap(avgs map[GroupID]float64, i, j int) float64 {
	gi, gj := st.groupAt[i], st.groupAt[j]
	if gi == gj {
		r, _, _ := extremes(avgs)
		return r
	}
	delta := st.weights[j] - st.weights[i]
	trial := maps.Clone(avgs)
	trial[gi] += delta / float64(st.counts[gi])
	trial[gj] -= delta / float64(st.counts[gj])
	r, _, _ := extremes(trial)
	return r
}

// bestSwap walks the unswapped members of gmin from the top and returns the
// first pairing with an unswapped gmax member above it that does not lower
// the ratio. Candidates above are tried by closeness of their position
// exposure to the boost target, then by position.
func (st *exposureState) bestSwap(gmin, gmax GroupID, bound, ratio float64, swapped []bool) (swapPair, bool) {
	avgs := st.averages()
	size := st.counts[gmin]

	for p, g := range st.groupAt {
		if g != gmin || swapped[p] {
			continue
		}
		var above []int
		for q := 0; q < p; q++ {
			if st.groupAt[q] == gmax && !swapped[q] {
				above = append(above, q)
			}
		}
		if len(above) == 0 {
			continue
		}

		// Exposure the moved member needs for gmin to average bound*avg(gmax).
		without := avgs[gmin]*float64(size) - st.weights[p]
		boost := float64(size)*avgs[gmax]*bound - without
		sort.SliceStable(above, func(i, j int) bool {
			di := math.Abs(st.weights[above[i]] - boost)
			dj := math.Abs(st.weights[above[j]] - boost)
			if di != dj {
				return di < dj
			}
			return above[i] < above[j]
		})

		for _, q := range above {
			if st.ratioAfterSwap(avgs, p, q)+ratioEpsilon >= ratio {
				return swapPair{low: p, high: q}, true
			}
		}
	}
	return swapPair{}, false
}

// extremes returns min/max of the averages and the groups holding them.
// Ties go to the lower group identifier.
func extremes(avgs map[GroupID]float64) (float64, GroupID, GroupID) {
	if len(avgs) < 2 {
		return 1, "", ""
	}
	order := make([]GroupID, 0, len(avgs))
	for g := range avgs {
		order = append(order, g)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	gmin, gmax := order[0], order[0]
	for _, g := range order[1:] {
		if avgs[g] < avgs[gmin] {
			gmin = g
		}
		if avgs[g] > avgs[gmax] {
			gmax = g
		}
	}
	if avgs[gmax] == 0 {
		return 1, gmin, gmax
	}
	return avgs[gmin] / avgs[gmax], gmin, gmax
}

// restoreGroupOrder keeps the group assigned to every position in permuted
// but fills each group's positions with its members in their original
// order.
func restoreGroupOrder(original, permuted []Candidate, groups GroupMap) []Candidate {
	queues := make(map[GroupID][]Candidate)
	for _, c := range original {
		g := groups[c]
		queues[g] = append(queues[g], c)
	}
	out := make([]Candidate, len(permuted))
	for i, c := range permuted {
		g := groups[c]
		out[i] = queues[g][0]
		queues[g] = queues[g][1:]
	}
	return out
}

func validateRanking(ranking []Candidate, groups GroupMap) error {
	seen := make(map[Candidate]struct{}, len(ranking))
	for i, c := range ranking {
		if _, dup := seen[c]; dup {
			return fmt.Errorf("%w: %q appears twice (position %d)", ErrInvalidRanking, c, i+1)
		}
		seen[c] = struct{}{}
		if _, ok := groups[c]; !ok {
			return fmt.Errorf("%w: %q has no group", ErrInvalidRanking, c)
		}
	}
	return nil
}
