package testutils

import (
	"fmt"
	"math/rand"
	"sort"
	"time"
)

// GeneratorConfig shapes a synthetic election.
type GeneratorConfig struct {
	// Name labels the dataset.
	Name string

	// Candidates is the pool size. Candidates are dealt to groups round
	// robin, so group sizes differ by at most one.
	Candidates int

	// Groups is the number of groups, labelled G1, G2, ...
	Groups int

	// Voters is the number of ballots.
	Voters int

	// BallotLength truncates every ballot. Zero ranks the whole pool.
	BallotLength int

	// MajorityBias is added to the utility of every G1 candidate, so that
	// voters favour G1 beyond candidate quality.
	MajorityBias float64

	// OmitRate is the probability that a voter ranks only G1 candidates,
	// which produces under-represented profiles.
	OmitRate float64

	// FeatureDim is the length of candidate feature vectors. Zero
	// omits features.
	FeatureDim int

	// Noise is the standard deviation of per-voter utility noise.
	Noise float64
}

// DefaultGeneratorConfig returns a two-group election with a mild bias
// towards G1.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Name:         "Synthetic Profile",
		Candidates:   DefaultCandidates,
		Groups:       DefaultGroups,
		Voters:       DefaultVoters,
		MajorityBias: 0.2,
		FeatureDim:   DefaultFeatureDim,
		Noise:        DefaultPreferenceNoise,
	}
}

// GenerateProfileDataset creates a synthetic election. The seed controls
// randomization; use a fixed value for reproducible tests.
func GenerateProfileDataset(cfg GeneratorConfig, seed int64) (*ProfileDataset, error) {
	if cfg.Candidates < MinimumPoolSize {
		return nil, fmt.Errorf("candidates must be at least %d, got %d", MinimumPoolSize, cfg.Candidates)
	}
	if cfg.Groups < 1 || cfg.Groups > cfg.Candidates {
		return nil, fmt.Errorf("groups must be in [1, %d], got %d", cfg.Candidates, cfg.Groups)
	}
	if cfg.Voters < MinimumVoters {
		return nil, fmt.Errorf("voters must be at least %d, got %d", MinimumVoters, cfg.Voters)
	}
	if cfg.BallotLength < 0 || cfg.FeatureDim < 0 || cfg.Noise < 0 {
		return nil, fmt.Errorf("ballot length, feature dimension and noise must not be negative")
	}
	if cfg.OmitRate < 0 || cfg.OmitRate > 1 {
		return nil, fmt.Errorf("omit rate must be in [0, 1], got %v", cfg.OmitRate)
	}

	rng := rand.New(rand.NewSource(seed))

	pool := make([]PoolEntry, cfg.Candidates)
	quality := make([]float64, cfg.Candidates)
	for i := range pool {
		group := i % cfg.Groups
		pool[i] = PoolEntry{
			ID:       fmt.Sprintf("c%03d", i+1),
			Group:    fmt.Sprintf("%s%d", GroupPrefix, group+1),
			Features: generateFeatures(rng, group, cfg.FeatureDim),
		}
		quality[i] = rng.Float64()
	}

	ballots := make([][]string, cfg.Voters)
	for v := range ballots {
		ballots[v] = generateBallot(rng, cfg, pool, quality)
	}

	return &ProfileDataset{
		Metadata: DatasetMetadata{
			Name:        cfg.Name,
			Version:     "1.0.0",
			Source:      "Generated for testing",
			Description: "A synthetic ranking profile. NOT FOR PRODUCTION USE.",
			Seed:        seed,
			Voters:      cfg.Voters,
			Candidates:  cfg.Candidates,
		},
		Pool:    pool,
		Ballots: ballots,
	}, nil
}

// GenerateProfileDatasetDefault creates a default dataset with a
// time-based seed.
func GenerateProfileDatasetDefault() (*ProfileDataset, error) {
	return GenerateProfileDataset(DefaultGeneratorConfig(), time.Now().UnixNano())
}

// generateFeatures places members of one group near a shared axis so that
// group centroids are well separated.
func generateFeatures(rng *rand.Rand, group, dim int) []float64 {
	if dim == 0 {
		return nil
	}
	features := make([]float64, dim)
	for i := range features {
		features[i] = rng.Float64() * 0.2
	}
	features[group%dim] += 0.8
	return features
}

func generateBallot(rng *rand.Rand, cfg GeneratorConfig, pool []PoolEntry, quality []float64) []string {
	onlyMajority := cfg.OmitRate > 0 && rng.Float64() < cfg.OmitRate
	majority := GroupPrefix + "1"

	type scored struct {
		id      string
		utility float64
	}
	candidates := make([]scored, 0, len(pool))
	for i, p := range pool {
		if onlyMajority && p.Group != majority {
			continue
		}
		u := quality[i] + rng.NormFloat64()*cfg.Noise
		if p.Group == majority {
			u += cfg.MajorityBias
		}
		candidates = append(candidates, scored{id: p.ID, utility: u})
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].utility > candidates[b].utility
	})

	n := len(candidates)
	if cfg.BallotLength > 0 && cfg.BallotLength < n {
		n = cfg.BallotLength
	}
	ballot := make([]string, n)
	for i := range ballot {
		ballot[i] = candidates[i].id
	}
	return ballot
}
