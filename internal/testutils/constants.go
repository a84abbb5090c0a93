package testutils

// Generator defaults.
const (
	// DefaultCandidates is the pool size used when none is configured.
	DefaultCandidates = 12

	// DefaultGroups is the number of protected groups.
	DefaultGroups = 2

	// DefaultVoters is the number of ballots.
	DefaultVoters = 50

	// DefaultFeatureDim is the length of candidate feature vectors.
	DefaultFeatureDim = 4

	// DefaultPreferenceNoise is the standard deviation of the per-voter
	// noise added to candidate utilities.
	DefaultPreferenceNoise = 0.3
)

// Dataset constraints.
const (
	// MinimumPoolSize is the smallest pool a dataset may declare.
	MinimumPoolSize = 2

	// MinimumVoters is the smallest number of ballots a dataset may hold.
	MinimumVoters = 1
)

// GroupPrefix prefixes generated group labels: G1, G2, ...
const GroupPrefix = "G"
