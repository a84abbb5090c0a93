package domain

import "time"

// Consensus is the final outcome of a fair consensus run.
type Consensus struct {
	// ID identifies the run that produced this consensus.
	ID string `json:"id"`

	// Ranking is the fair consensus ranking, best first. When exposure
	// equalization ran it is the equalized ranking.
	Ranking []Candidate `json:"ranking"`

	// Plan holds the seat targets the ranking satisfies.
	Plan QuotaPlan `json:"plan"`

	// Imputed reports whether the profile was completed before election.
	Imputed bool `json:"imputed"`

	// Election traces the STV run.
	Election STVResult `json:"election"`

	// Exposure reports the equalization step. It is nil when the step did
	// not run.
	Exposure *ExposureResult `json:"exposure,omitempty"`

	// Report holds the fairness metrics of Ranking. It is nil when no
	// metrics stage ran.
	Report *FairnessReport `json:"report,omitempty"`

	// Warnings collects the non-fatal issues raised along the way.
	Warnings []string `json:"warnings,omitempty"`

	// Timestamp records when this consensus was created.
	Timestamp time.Time `json:"timestamp"`
}

// GroupsInRanking returns the number of ranked candidates per group.
func (c Consensus) GroupsInRanking(groups GroupMap) GroupCounts {
	counts := make(GroupCounts)
	for _, cand := range c.Ranking {
		counts[groups[cand]]++
	}
	return counts
}

// FairnessReport bundles the fairness metrics of one ranking.
type FairnessReport struct {
	// KL is the divergence of the ranking's group mix from the target.
	KL float64 `json:"kl"`

	// ProfileKL is the same divergence measured on the input profile.
	ProfileKL float64 `json:"profile_kl"`

	// NDKL is the rank-discounted divergence of the ranking.
	NDKL float64 `json:"ndkl"`

	// FairRepresentation is the balance of the ranking in [0, 1].
	FairRepresentation float64 `json:"fair_representation"`

	// ExposureRatio is the min/max group exposure ratio of the ranking.
	ExposureRatio float64 `json:"exposure_ratio"`
}
