package domain

// ArrangeFairBuckets reorders an elected sequence so that groups are
// interleaved from the top of the ranking.
//
// Groups take part in the order of their first appearance in elected. The
// sequence is cut into ceil(len/numGroups) buckets and each group's members
// are spread across the buckets as evenly as possible: the remainder goes to
// the earliest buckets unless that would put more than one member in the
// first bucket, in which case the spread is reversed. Inside a bucket the
// groups follow their appearance order, and each group's slots are filled
// with its members in election order.
//
// The result is a permutation of elected. When every group holds the same
// number of seats, every prefix has per-group counts differing by at most
// one. Candidates missing from groups are treated as one extra group keyed
// by the empty GroupID.
func ArrangeFairBuckets(elected []Candidate, groups GroupMap) []Candidate {
	if len(elected) == 0 {
		return []Candidate{}
	}

	var order []GroupID
	members := make(map[GroupID][]Candidate)
	for _, c := range elected {
		g := groups[c]
		if _, ok := members[g]; !ok {
			order = append(order, g)
		}
		members[g] = append(members[g], c)
	}

	numBuckets := (len(elected) + len(order) - 1) / len(order)
	spread := make([][]int, len(order))
	for gi, g := range order {
		spread[gi] = spreadAcross(len(members[g]), numBuckets)
	}

	out := make([]Candidate, 0, len(elected))
	next := make([]int, len(order))
	for b := 0; b < numBuckets; b++ {
		for gi, g := range order {
			for n := 0; n < spread[gi][b]; n++ {
				out = append(out, members[g][next[gi]])
				next[gi]++
			}
		}
	}
	return out
}

// spreadAcross splits count into buckets slots as evenly as possible.
func spreadAcross(count, buckets int) []int {
	assignment := make([]int, buckets)
	for x := range assignment {
		assignment[x] = count / buckets
		if x < count%buckets {
			assignment[x]++
		}
	}
	if assignment[0] > 1 {
		for i, j := 0, len(assignment)-1; i < j; i, j = i+1, j-1 {
			assignment[i], assignment[j] = assignment[j], assignment[i]
		}
	}
	return assignment
}
