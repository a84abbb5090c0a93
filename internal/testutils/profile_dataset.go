// Package testutils provides synthetic election data for tests, benchmarks
// and the profile generator command. These components are intended for
// internal use within the project's test suites and are not part of the
// public API.
package testutils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ahrav/go-fairrank/internal/domain"
)

// ProfileDataset is a candidate pool with its groups and features plus the
// ballots cast over it.
type ProfileDataset struct {
	// Metadata describes how the dataset was produced.
	Metadata DatasetMetadata `json:"metadata"`

	// Pool lists every candidate.
	Pool []PoolEntry `json:"pool"`

	// Ballots are the voters' rankings, best first.
	Ballots [][]string `json:"ballots"`
}

// PoolEntry is one candidate of the pool.
type PoolEntry struct {
	ID       string    `json:"id"`
	Group    string    `json:"group"`
	Features []float64 `json:"features,omitempty"`
}

// DatasetMetadata records the provenance of a dataset.
type DatasetMetadata struct {
	// Name identifies the dataset.
	Name string `json:"name"`

	// Version tracks dataset revisions.
	Version string `json:"version"`

	// Source indicates where the dataset originated.
	Source string `json:"source"`

	// Description provides details about the dataset contents.
	Description string `json:"description,omitempty"`

	// Seed reproduces a generated dataset.
	Seed int64 `json:"seed"`

	// Voters is the number of ballots.
	Voters int `json:"voter_count"`

	// Candidates is the pool size.
	Candidates int `json:"candidate_count"`
}

// Profile converts the ballots into a domain profile.
func (d *ProfileDataset) Profile() domain.Profile {
	return domain.NewProfile(d.Ballots...)
}

// CandidatePool converts the pool into domain candidates.
func (d *ProfileDataset) CandidatePool() []domain.PoolCandidate {
	pool := make([]domain.PoolCandidate, len(d.Pool))
	for i, p := range d.Pool {
		pool[i] = domain.PoolCandidate{
			ID:       domain.Candidate(p.ID),
			Group:    domain.GroupID(p.Group),
			Features: append([]float64(nil), p.Features...),
		}
	}
	return pool
}

// LoadProfileDataset loads and validates a dataset from a JSON file.
func LoadProfileDataset(path string) (*ProfileDataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset file: %w", err)
	}

	var dataset ProfileDataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		return nil, fmt.Errorf("failed to parse dataset JSON: %w", err)
	}

	if err := ValidateProfileDataset(&dataset); err != nil {
		return nil, fmt.Errorf("dataset validation failed: %w", err)
	}
	return &dataset, nil
}

// SaveProfileDataset writes a dataset to a JSON file, creating the parent
// directory if needed.
func SaveProfileDataset(dataset *ProfileDataset, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(dataset, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal dataset: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write dataset file: %w", err)
	}
	return nil
}

// ValidateProfileDataset checks that a dataset is a well-formed election:
// unique grouped candidates, features of one dimension, and ballots that
// rank only pool members, each at most once.
func ValidateProfileDataset(dataset *ProfileDataset) error {
	if dataset == nil {
		return fmt.Errorf("dataset is nil")
	}
	if dataset.Metadata.Name == "" {
		return fmt.Errorf("dataset name is required")
	}
	if len(dataset.Pool) < MinimumPoolSize {
		return fmt.Errorf("pool must contain at least %d candidates, found %d", MinimumPoolSize, len(dataset.Pool))
	}
	if len(dataset.Ballots) < MinimumVoters {
		return fmt.Errorf("dataset must contain at least %d ballots, found %d", MinimumVoters, len(dataset.Ballots))
	}
	if dataset.Metadata.Voters != len(dataset.Ballots) {
		return fmt.Errorf("metadata voter count (%d) doesn't match ballot count (%d)",
			dataset.Metadata.Voters, len(dataset.Ballots))
	}
	if dataset.Metadata.Candidates != len(dataset.Pool) {
		return fmt.Errorf("metadata candidate count (%d) doesn't match pool size (%d)",
			dataset.Metadata.Candidates, len(dataset.Pool))
	}

	known := make(map[string]bool, len(dataset.Pool))
	dim := -1
	for i, p := range dataset.Pool {
		if p.ID == "" {
			return fmt.Errorf("pool entry %d: ID is required", i)
		}
		if p.Group == "" {
			return fmt.Errorf("candidate %s: group is required", p.ID)
		}
		if known[p.ID] {
			return fmt.Errorf("duplicate candidate ID: %s", p.ID)
		}
		known[p.ID] = true

		if len(p.Features) > 0 {
			if dim >= 0 && len(p.Features) != dim {
				return fmt.Errorf("candidate %s: feature dimension %d, expected %d", p.ID, len(p.Features), dim)
			}
			dim = len(p.Features)
		}
	}

	for i, ballot := range dataset.Ballots {
		if len(ballot) == 0 {
			return fmt.Errorf("ballot %d is empty", i)
		}
		seen := make(map[string]bool, len(ballot))
		for _, c := range ballot {
			if !known[c] {
				return fmt.Errorf("ballot %d ranks unknown candidate %s", i, c)
			}
			if seen[c] {
				return fmt.Errorf("ballot %d ranks %s twice", i, c)
			}
			seen[c] = true
		}
	}
	return nil
}

// DatasetStatistics summarizes how groups are represented in a dataset.
type DatasetStatistics struct {
	// TotalBallots is the number of ballots.
	TotalBallots int

	// GroupSizes maps each group to its pool size.
	GroupSizes map[string]int

	// FirstChoices maps each group to the number of ballots whose top
	// choice belongs to it.
	FirstChoices map[string]int

	// Mentions maps each group to the number of times its members appear
	// on any ballot.
	Mentions map[string]int

	// AvgBallotLength is the mean number of candidates ranked per ballot.
	AvgBallotLength float64
}

// ComputeDatasetStatistics analyzes a dataset and returns summary
// statistics.
func ComputeDatasetStatistics(dataset *ProfileDataset) *DatasetStatistics {
	stats := &DatasetStatistics{
		TotalBallots: len(dataset.Ballots),
		GroupSizes:   make(map[string]int),
		FirstChoices: make(map[string]int),
		Mentions:     make(map[string]int),
	}

	groupOf := make(map[string]string, len(dataset.Pool))
	for _, p := range dataset.Pool {
		groupOf[p.ID] = p.Group
		stats.GroupSizes[p.Group]++
	}

	total := 0
	for _, ballot := range dataset.Ballots {
		if len(ballot) > 0 {
			stats.FirstChoices[groupOf[ballot[0]]]++
		}
		for _, c := range ballot {
			stats.Mentions[groupOf[c]]++
		}
		total += len(ballot)
	}
	if stats.TotalBallots > 0 {
		stats.AvgBallotLength = float64(total) / float64(stats.TotalBallots)
	}
	return stats
}
