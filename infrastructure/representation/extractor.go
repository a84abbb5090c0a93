// Package representation derives group membership and per-group counts
// from a candidate pool and a preference profile.
package representation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"

	"github.com/ahrav/go-fairrank/internal/domain"
	"github.com/ahrav/go-fairrank/internal/ports"
)

var _ ports.RepresentationExtractor = (*Extractor)(nil)

// ErrMissingGroup is returned when a pool candidate carries no group label.
var ErrMissingGroup = errors.New("candidate has no group")

// maxSuggestionDistance bounds the edit distance of "did you mean" hints.
const maxSuggestionDistance = 3

// Config controls label normalization.
type Config struct {
	// FoldGroupLabels merges group labels that differ only in case, so
	// "Female" and "female" count as one group. Labels are stored folded.
	FoldGroupLabels bool `yaml:"fold_group_labels" json:"fold_group_labels"`

	// TrimWhitespace strips surrounding spaces from candidate and group
	// identifiers in the pool.
	TrimWhitespace bool `yaml:"trim_whitespace" json:"trim_whitespace"`
}

// DefaultConfig returns a Config that trims identifiers and keeps group
// labels as written.
func DefaultConfig() Config {
	return Config{TrimWhitespace: true}
}

// Extractor implements ports.RepresentationExtractor. It is stateless and
// safe for concurrent use.
type Extractor struct {
	config Config
}

// NewExtractor creates an Extractor with the given configuration.
func NewExtractor(config Config) *Extractor {
	return &Extractor{config: config}
}

// Extract builds the group map of the pool and counts candidates per group
// in the pool and among the candidates the profile ranks. Every pool group
// appears in the profile counts, with zero when nobody ranks its members.
func (e *Extractor) Extract(profile domain.Profile, pool []domain.PoolCandidate) (domain.Representation, error) {
	groups := make(domain.GroupMap, len(pool))
	for _, pc := range pool {
		id, group := e.normalize(pc)
		if id == "" {
			return domain.Representation{}, fmt.Errorf("%w: empty candidate id", domain.ErrInvalidProfile)
		}
		if group == "" {
			return domain.Representation{}, fmt.Errorf("%w: %q", ErrMissingGroup, id)
		}
		if _, dup := groups[id]; dup {
			return domain.Representation{}, fmt.Errorf("%w: %q", ports.ErrDuplicateCandidate, id)
		}
		groups[id] = group
	}

	poolCounts := groups.Counts()
	profileCounts := make(domain.GroupCounts, len(poolCounts))
	for g := range poolCounts {
		profileCounts[g] = 0
	}
	for _, c := range profile.RankedCandidates() {
		g, ok := groups[c]
		if !ok {
			return domain.Representation{}, unknownCandidate(c, groups)
		}
		profileCounts[g]++
	}

	return domain.Representation{
		Groups:        groups,
		PoolCounts:    poolCounts,
		ProfileCounts: profileCounts,
	}, nil
}

func (e *Extractor) normalize(pc domain.PoolCandidate) (domain.Candidate, domain.GroupID) {
	id, group := string(pc.ID), string(pc.Group)
	if e.config.TrimWhitespace {
		id = strings.TrimSpace(id)
		group = strings.TrimSpace(group)
	}
	if e.config.FoldGroupLabels {
		group = cases.Fold().String(group)
	}
	return domain.Candidate(id), domain.GroupID(group)
}

// unknownCandidate reports a ranked candidate missing from the pool and
// suggests the closest pool identifier when one is near enough.
func unknownCandidate(c domain.Candidate, groups domain.GroupMap) error {
	best, bestDist := domain.Candidate(""), maxSuggestionDistance+1
	for _, known := range groups.Candidates() {
		d := levenshtein.ComputeDistance(string(c), string(known))
		if d < bestDist {
			best, bestDist = known, d
		}
	}
	if best != "" {
		return fmt.Errorf("%w: %q (did you mean %q?)", ports.ErrUnknownCandidate, c, best)
	}
	return fmt.Errorf("%w: %q", ports.ErrUnknownCandidate, c)
}
