package evaluation

import (
	"github.com/ahrav/go-fairrank/internal/domain"
)

// Evaluate computes every fairness metric for a consensus ranking.
// profileCounts may be nil, in which case ProfileKL is left at zero.
func Evaluate(ranking []domain.Candidate, groups domain.GroupMap, profileCounts domain.GroupCounts, mode domain.FairnessMode) (domain.FairnessReport, error) {
	pool := groups.Counts()
	assessed := make(domain.GroupCounts)
	for _, c := range ranking {
		if g, ok := groups[c]; ok {
			assessed[g]++
		}
	}

	var (
		r   domain.FairnessReport
		err error
	)
	if r.KL, err = KLDivergence(pool, assessed, mode); err != nil {
		return domain.FairnessReport{}, err
	}
	if profileCounts != nil {
		if r.ProfileKL, err = KLDivergence(pool, profileCounts, mode); err != nil {
			return domain.FairnessReport{}, err
		}
	}
	if r.NDKL, err = NDKL(ranking, groups, mode); err != nil {
		return domain.FairnessReport{}, err
	}
	if r.FairRepresentation, err = FairRepresentation(pool, assessed, mode); err != nil {
		return domain.FairnessReport{}, err
	}
	r.ExposureRatio = ExposureRatio(ranking, groups)
	return r, nil
}
