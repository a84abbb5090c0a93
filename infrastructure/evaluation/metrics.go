// Package evaluation scores consensus rankings against group fairness
// targets. The metrics only report on a finished ranking; none of them
// feed back into the election.
package evaluation

import (
	"errors"
	"fmt"
	"math"

	"github.com/ahrav/go-fairrank/internal/domain"
)

// klEpsilon smooths both distributions so that empty groups do not
// produce infinities.
const klEpsilon = 1e-7

// ErrUnknownGroup is returned when a ranked candidate has no group.
var ErrUnknownGroup = errors.New("candidate has no group")

// TargetDistribution returns the desired share of each pool group. EQUAL
// assigns every group the same share; PROPORTIONAL uses the group's share
// of the pool.
func TargetDistribution(pool domain.GroupCounts, mode domain.FairnessMode) (map[domain.GroupID]float64, error) {
	groups := pool.Groups()
	out := make(map[domain.GroupID]float64, len(groups))
	if len(groups) == 0 {
		return out, nil
	}

	switch mode {
	case domain.FairnessEqual:
		for _, g := range groups {
			out[g] = 1 / float64(len(groups))
		}
	case domain.FairnessProportional:
		total := float64(pool.Total())
		for _, g := range groups {
			out[g] = float64(pool[g]) / total
		}
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidMode, mode)
	}
	return out, nil
}

// KLDivergence measures how far the group mix of an assessed set (a
// profile or a consensus) is from the target distribution of the pool.
// Zero means the target is met exactly.
func KLDivergence(pool, assessed domain.GroupCounts, mode domain.FairnessMode) (float64, error) {
	target, err := TargetDistribution(pool, mode)
	if err != nil {
		return 0, err
	}

	total := float64(assessed.Total())
	kl := 0.0
	for _, g := range pool.Groups() {
		p := 0.0
		if total > 0 {
			p = float64(assessed[g]) / total
		}
		kl += klTerm(p, target[g])
	}
	return kl, nil
}

// FairRepresentation returns the balance of the assessed set in [0, 1].
// Under EQUAL it is the smallest group share over the largest; under
// PROPORTIONAL it is the smallest selection rate over the largest. A pool
// group missing from the assessed set scores 0.
func FairRepresentation(pool, assessed domain.GroupCounts, mode domain.FairnessMode) (float64, error) {
	groups := pool.Groups()
	if len(groups) == 0 {
		return 0, nil
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, g := range groups {
		n := assessed[g]
		if n == 0 {
			return 0, nil
		}

		var v float64
		switch mode {
		case domain.FairnessEqual:
			v = float64(n)
		case domain.FairnessProportional:
			v = float64(n) / float64(pool[g])
		default:
			return 0, fmt.Errorf("%w: %q", domain.ErrInvalidMode, mode)
		}
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	return lo / hi, nil
}

// NDKL computes the normalized discounted KL divergence of a ranking. The
// ranking is evaluated at prefixes growing in steps of the number of pool
// groups, and each prefix's divergence is discounted by 1/log2(i+2).
func NDKL(ranking []domain.Candidate, groups domain.GroupMap, mode domain.FairnessMode) (float64, error) {
	if len(ranking) == 0 {
		return 0, nil
	}

	target, err := TargetDistribution(groups.Counts(), mode)
	if err != nil {
		return 0, err
	}
	order := groups.Groups()
	step := len(order)

	prefix := make(map[domain.GroupID]int, step)
	var weighted, norm float64
	chunk := 0
	for end := step; end < len(ranking)+step; end += step {
		for i := end - step; i < end && i < len(ranking); i++ {
			g, ok := groups[ranking[i]]
			if !ok {
				return 0, fmt.Errorf("%w: %q", ErrUnknownGroup, ranking[i])
			}
			prefix[g]++
		}
		size := float64(min(end, len(ranking)))

		kl := 0.0
		for _, g := range order {
			kl += klTerm(float64(prefix[g])/size, target[g])
		}

		z := 1 / math.Log2(float64(chunk)+2)
		weighted += z * kl
		norm += z
		chunk++
	}
	return weighted / norm, nil
}

// ExposureRatio reports the exposure balance of a ranking, the ratio of
// the smallest to the largest group average exposure.
func ExposureRatio(ranking []domain.Candidate, groups domain.GroupMap) float64 {
	ratio, _ := domain.ExposureRatio(ranking, groups)
	return ratio
}

func klTerm(p, q float64) float64 {
	p += klEpsilon
	q += klEpsilon
	return p * math.Log(p/q)
}
