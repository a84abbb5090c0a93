package domain

import (
	"fmt"
	"sort"
	"strings"
)

// FairnessMode selects how seats are divided among groups.
type FairnessMode string

const (
	// FairnessEqual gives every group the same number of seats.
	FairnessEqual FairnessMode = "EQUAL"

	// FairnessProportional gives every group seats in proportion to its
	// share of the candidate pool.
	FairnessProportional FairnessMode = "PROPORTIONAL"
)

// ParseFairnessMode converts a case-insensitive mode name into a
// FairnessMode.
func ParseFairnessMode(s string) (FairnessMode, error) {
	switch FairnessMode(strings.ToUpper(strings.TrimSpace(s))) {
	case FairnessEqual:
		return FairnessEqual, nil
	case FairnessProportional:
		return FairnessProportional, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// String returns the string representation of the mode.
func (m FairnessMode) String() string { return string(m) }

// QuotaPlan is the outcome of seat planning.
type QuotaPlan struct {
	// Quotas holds the seat target per group.
	Quotas Quotas `json:"quotas"`

	// Mode is the fairness mode the plan was computed for.
	Mode FairnessMode `json:"mode"`

	// RequestedSeats is the k that was asked for.
	RequestedSeats int `json:"requested_seats"`

	// FellBack reports that equal representation could not be met and every
	// group was capped at the smallest group size instead. The effective
	// seat count is then Quotas.Seats(), which is below RequestedSeats.
	FellBack bool `json:"fell_back"`

	// Warnings holds human-readable notes for the caller to surface.
	Warnings []string `json:"warnings,omitempty"`
}

// NeedsImputation reports whether any group has fewer ranked candidates in
// the profile than seats reserved for it.
func (qp QuotaPlan) NeedsImputation(profileCounts GroupCounts) bool {
	for g, quota := range qp.Quotas {
		if profileCounts[g] < quota {
			return true
		}
	}
	return false
}

// PlanQuotas turns group counts, a fairness mode and a seat count into
// per-group seat targets.
//
// EQUAL divides k as evenly as possible across the groups in identifier
// order; when some group's pool cannot supply its share, every group is set
// to the smallest nonzero pool count and the plan is flagged. PROPORTIONAL
// uses largest-remainder rounding of each group's pool share so the quotas
// sum to exactly k; equal remainders favour the lower group identifier.
//
// The profile counts are carried for symmetry with the representation
// extractor; they do not influence the quotas.
func PlanQuotas(pool, profile GroupCounts, mode FairnessMode, k int) (QuotaPlan, error) {
	if k <= 0 {
		return QuotaPlan{}, fmt.Errorf("%w: k=%d", ErrInvalidSeats, k)
	}
	groups := pool.Groups()
	if len(groups) == 0 {
		return QuotaPlan{}, fmt.Errorf("%w: empty pool", ErrInsufficientCandidates)
	}
	if total := pool.Total(); k > total {
		return QuotaPlan{}, fmt.Errorf("%w: k=%d exceeds pool size %d", ErrInsufficientCandidates, k, total)
	}

	plan := QuotaPlan{Mode: mode, RequestedSeats: k}
	switch mode {
	case FairnessEqual:
		plan.Quotas = equalQuotas(groups, k)
		if short := shortGroups(plan.Quotas, pool); len(short) > 0 {
			floor := smallestNonZero(pool)
			for _, g := range groups {
				plan.Quotas[g] = floor
			}
			plan.FellBack = true
			plan.Warnings = append(plan.Warnings, fmt.Sprintf(
				"k=%d cannot be split equally: groups %v are too small; each group capped at %d",
				k, short, floor))
		}
	case FairnessProportional:
		plan.Quotas = proportionalQuotas(groups, pool, k)
	default:
		return QuotaPlan{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	// Groups that only appear in the profile still get an explicit entry.
	for g := range profile {
		if _, ok := plan.Quotas[g]; !ok {
			plan.Quotas[g] = 0
		}
	}
	return plan, nil
}

func equalQuotas(groups []GroupID, k int) Quotas {
	n := len(groups)
	q := make(Quotas, n)
	for i, g := range groups {
		q[g] = k / n
		if i < k%n {
			q[g]++
		}
	}
	return q
}

func proportionalQuotas(groups []GroupID, pool GroupCounts, k int) Quotas {
	total := pool.Total()
	q := make(Quotas, len(groups))

	type share struct {
		group     GroupID
		remainder int
	}
	shares := make([]share, 0, len(groups))
	assigned := 0
	for _, g := range groups {
		// Integer arithmetic keeps the remainders exact.
		num := pool[g] * k
		q[g] = num / total
		assigned += q[g]
		shares = append(shares, share{group: g, remainder: num % total})
	}

	sort.SliceStable(shares, func(i, j int) bool {
		if shares[i].remainder != shares[j].remainder {
			return shares[i].remainder > shares[j].remainder
		}
		return shares[i].group < shares[j].group
	})
	for i := 0; assigned < k; i++ {
		q[shares[i%len(shares)].group]++
		assigned++
	}
	return q
}

func shortGroups(q Quotas, pool GroupCounts) []GroupID {
	var short []GroupID
	for _, g := range q.groups() {
		if pool[g] < q[g] {
			short = append(short, g)
		}
	}
	return short
}

func smallestNonZero(counts GroupCounts) int {
	smallest := 0
	for _, n := range counts {
		if n > 0 && (smallest == 0 || n < smallest) {
			smallest = n
		}
	}
	return smallest
}

func (q Quotas) groups() []GroupID {
	seen := make(map[GroupID]struct{}, len(q))
	for g := range q {
		seen[g] = struct{}{}
	}
	return sortedGroups(seen)
}
