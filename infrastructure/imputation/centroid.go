// Package imputation completes partial ballots into total orders over the
// candidate pool. Imputers only append unranked candidates; the ranked
// prefix of every ballot is kept as submitted.
package imputation

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/ahrav/go-fairrank/internal/domain"
	"github.com/ahrav/go-fairrank/internal/ports"
)

var (
	_ ports.Imputer = (*CentroidImputer)(nil)
	_ ports.Imputer = (*BordaImputer)(nil)
)

// CentroidImputer orders unranked candidates by the cosine similarity of
// their feature vector to the centroid of the whole pool, most similar
// first. Equal similarities fall back to the candidate identifier.
type CentroidImputer struct{}

// NewCentroidImputer creates a CentroidImputer.
func NewCentroidImputer() *CentroidImputer { return &CentroidImputer{} }

// Name returns the strategy identifier.
func (ci *CentroidImputer) Name() string { return "centroid" }

// Impute completes every ballot of the profile. Every pool candidate must
// carry a feature vector and all vectors must share one dimension.
func (ci *CentroidImputer) Impute(ctx context.Context, profile domain.Profile, pool []domain.PoolCandidate) (domain.Profile, error) {
	if err := checkFeatures(pool); err != nil {
		return domain.Profile{}, ports.NewImputationError(ci.Name(), -1, err)
	}

	centroid := make([]float64, len(pool[0].Features))
	for _, pc := range pool {
		for i, v := range pc.Features {
			centroid[i] += v
		}
	}
	for i := range centroid {
		centroid[i] /= float64(len(pool))
	}

	scored := make([]scoredCandidate, len(pool))
	for i, pc := range pool {
		scored[i] = scoredCandidate{id: pc.ID, score: cosine(centroid, pc.Features)}
	}
	return complete(ctx, ci.Name(), profile, pool, rankScored(scored))
}

// BordaImputer orders unranked candidates by their Borda score over the
// profile, ties broken by identifier. It needs no features and serves
// pools without attribute data.
type BordaImputer struct{}

// NewBordaImputer creates a BordaImputer.
func NewBordaImputer() *BordaImputer { return &BordaImputer{} }

// Name returns the strategy identifier.
func (bi *BordaImputer) Name() string { return "borda" }

// Impute completes every ballot of the profile.
func (bi *BordaImputer) Impute(ctx context.Context, profile domain.Profile, pool []domain.PoolCandidate) (domain.Profile, error) {
	universe := make([]domain.Candidate, len(pool))
	for i, pc := range pool {
		universe[i] = pc.ID
	}
	return complete(ctx, bi.Name(), profile, pool, domain.BordaRanking(profile, universe, 0))
}

type scoredCandidate struct {
	id    domain.Candidate
	score float64
}

func rankScored(scored []scoredCandidate) []domain.Candidate {
	slices.SortFunc(scored, func(a, b scoredCandidate) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	out := make([]domain.Candidate, len(scored))
	for i, s := range scored {
		out[i] = s.id
	}
	return out
}

// complete appends, to every ballot, the pool candidates it does not rank
// in the given order.
func complete(ctx context.Context, imputer string, profile domain.Profile, pool []domain.PoolCandidate, order []domain.Candidate) (domain.Profile, error) {
	inPool := make(map[domain.Candidate]struct{}, len(pool))
	for _, pc := range pool {
		inPool[pc.ID] = struct{}{}
	}

	out := domain.Profile{Ballots: make([]domain.Ballot, len(profile.Ballots))}
	for i, b := range profile.Ballots {
		if err := ctx.Err(); err != nil {
			return domain.Profile{}, ports.NewImputationError(imputer, i, err)
		}

		ranked := make(map[domain.Candidate]struct{}, len(b))
		full := make(domain.Ballot, 0, len(pool))
		for _, c := range b {
			if _, ok := inPool[c]; !ok {
				return domain.Profile{}, ports.NewImputationError(imputer, i,
					fmt.Errorf("%w: %q", ports.ErrUnknownCandidate, c))
			}
			ranked[c] = struct{}{}
			full = append(full, c)
		}
		for _, c := range order {
			if _, done := ranked[c]; !done {
				full = append(full, c)
			}
		}
		out.Ballots[i] = full
	}
	return out, nil
}

func checkFeatures(pool []domain.PoolCandidate) error {
	if len(pool) == 0 {
		return fmt.Errorf("%w: empty pool", ports.ErrMissingFeatures)
	}
	dim := len(pool[0].Features)
	for _, pc := range pool {
		if len(pc.Features) == 0 {
			return fmt.Errorf("%w: %q", ports.ErrMissingFeatures, pc.ID)
		}
		if len(pc.Features) != dim {
			return fmt.Errorf("%w: %q has %d, expected %d", ports.ErrFeatureDimension, pc.ID, len(pc.Features), dim)
		}
	}
	return nil
}

// cosine returns the cosine similarity of two equal-length vectors, or 0
// when either has zero norm.
func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
