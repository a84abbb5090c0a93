package application

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-fairrank/infrastructure/imputation"
	"github.com/ahrav/go-fairrank/infrastructure/middleware"
	"github.com/ahrav/go-fairrank/internal/domain"
)

// JobConfig is the YAML description of one fair consensus run: the
// election input, the post-processing options and, optionally, a custom
// stage graph. Without units the standard PreFAIR pipeline is used.
type JobConfig struct {
	// Version is the schema version, X.Y.Z.
	Version string `yaml:"version" json:"version" validate:"required,semver"`

	Metadata Metadata `yaml:"metadata" json:"metadata" validate:"required"`

	Input InputConfig `yaml:"input" json:"input" validate:"required"`

	Exposure ExposureSettings `yaml:"exposure" json:"exposure"`

	Imputation ImputationSettings `yaml:"imputation" json:"imputation"`

	Limits LimitsConfig `yaml:"limits" json:"limits"`

	// Units and Graph replace the standard pipeline when set.
	Units []UnitConfig `yaml:"units,omitempty" json:"units,omitempty" validate:"omitempty,dive"`

	Graph GraphTopology `yaml:"graph,omitempty" json:"graph,omitempty"`
}

// Metadata describes a job for operators.
type Metadata struct {
	Name        string            `yaml:"name" json:"name" validate:"required,min=1,max=255"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty" validate:"max=1000"`
	Tags        []string          `yaml:"tags,omitempty" json:"tags,omitempty" validate:"max=20,dive,min=1,max=50"`
	Labels      map[string]string `yaml:"labels,omitempty" json:"labels,omitempty" validate:"max=50"`
}

// InputConfig carries the election itself.
type InputConfig struct {
	// Mode is EQUAL or PROPORTIONAL, case-insensitive.
	Mode string `yaml:"mode" json:"mode" validate:"required,fairmode"`

	// Seats is the consensus length k.
	Seats int `yaml:"seats" json:"seats" validate:"required,min=1"`

	// Pool lists every candidate with its group and optional features.
	Pool []CandidateConfig `yaml:"pool" json:"pool" validate:"required,min=1,dive"`

	// Ballots are the voters' rankings, best first. They may be partial.
	Ballots [][]string `yaml:"ballots" json:"ballots" validate:"required,min=1,dive,min=1,dive,required"`
}

// CandidateConfig is one pool entry.
type CandidateConfig struct {
	ID       string    `yaml:"id" json:"id" validate:"required"`
	Group    string    `yaml:"group" json:"group" validate:"required"`
	Features []float64 `yaml:"features,omitempty" json:"features,omitempty"`
}

// ExposureSettings configures the optional EPIRA post-processing step.
type ExposureSettings struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Bound is the minimum exposure ratio, in (0, 1]. Zero selects 0.8.
	Bound float64 `yaml:"bound,omitempty" json:"bound,omitempty" validate:"omitempty,exposurebound"`

	// PreserveGroupOrder defaults to true when unset.
	PreserveGroupOrder *bool `yaml:"preserve_group_order,omitempty" json:"preserve_group_order,omitempty"`

	MaxRepositions int `yaml:"max_repositions,omitempty" json:"max_repositions,omitempty" validate:"min=0"`

	FailOnNonConvergence bool `yaml:"fail_on_nonconvergence,omitempty" json:"fail_on_nonconvergence,omitempty"`
}

// ImputationSettings configures the imputation gate and its imputer.
type ImputationSettings struct {
	// Policy is auto, always or never. Empty means auto.
	Policy string `yaml:"policy,omitempty" json:"policy,omitempty" validate:"omitempty,oneof=auto always never"`

	// Strategy is centroid or borda. Empty means centroid.
	Strategy string `yaml:"strategy,omitempty" json:"strategy,omitempty" validate:"omitempty,oneof=centroid borda"`

	// RateLimit caps imputer calls per second; zero disables the limit.
	RateLimit float64 `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty" validate:"min=0"`

	Burst int `yaml:"burst,omitempty" json:"burst,omitempty" validate:"min=0"`

	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty" validate:"min=0,max=10"`

	TimeoutMs int `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty" validate:"min=0,max=600000"`

	// CircuitBreakerFailures opens the imputer's breaker after this many
	// consecutive failures; zero disables it.
	CircuitBreakerFailures int `yaml:"circuit_breaker_failures,omitempty" json:"circuit_breaker_failures,omitempty" validate:"min=0,max=100"`

	CircuitBreakerCooldownMs int `yaml:"circuit_breaker_cooldown_ms,omitempty" json:"circuit_breaker_cooldown_ms,omitempty" validate:"min=0,max=3600000"`
}

// LimitsConfig bounds the input size and wall time of each stage.
type LimitsConfig struct {
	MaxBallots     int `yaml:"max_ballots,omitempty" json:"max_ballots,omitempty" validate:"min=0"`
	MaxCandidates  int `yaml:"max_candidates,omitempty" json:"max_candidates,omitempty" validate:"min=0"`
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty" validate:"min=0,max=3600"`
}

// UnitConfig declares one stage of a custom graph.
type UnitConfig struct {
	ID string `yaml:"id" json:"id" validate:"required,alphanum,min=1,max=100"`

	Type string `yaml:"type" json:"type" validate:"required,oneof=representation quota_planner imputation_gate group_aware_stv borda exposure_equalizer fairness_metrics"`

	// Parameters are decoded by the unit type.
	Parameters yaml.Node `yaml:"parameters,omitempty" json:"-"`
}

// GraphTopology wires the units of a custom graph.
type GraphTopology struct {
	Pipelines []PipelineConfig `yaml:"pipelines,omitempty" json:"pipelines,omitempty" validate:"dive"`
	Layers    []LayerConfig    `yaml:"layers,omitempty" json:"layers,omitempty" validate:"dive"`
	Edges     []EdgeConfig     `yaml:"edges,omitempty" json:"edges,omitempty" validate:"dive"`
}

// PipelineConfig lists units that run in order.
type PipelineConfig struct {
	ID    string   `yaml:"id" json:"id" validate:"required,alphanum,min=1,max=100"`
	Units []string `yaml:"units" json:"units" validate:"required,min=1,dive,alphanum"`
}

// LayerConfig lists units that run concurrently on the same state.
type LayerConfig struct {
	ID    string   `yaml:"id" json:"id" validate:"required,alphanum,min=1,max=100"`
	Units []string `yaml:"units" json:"units" validate:"required,min=2,dive,alphanum"`

	// Merge is overlay (default, later members win) or strict (conflicting
	// writes fail the layer).
	Merge string `yaml:"merge,omitempty" json:"merge,omitempty" validate:"omitempty,oneof=overlay strict"`
}

// EdgeConfig makes To run after From.
type EdgeConfig struct {
	From string `yaml:"from" json:"from" validate:"required,alphanum"`
	To   string `yaml:"to" json:"to" validate:"required,alphanum"`
}

// Profile converts the ballots into a domain profile.
func (in InputConfig) Profile() domain.Profile {
	return domain.NewProfile(in.Ballots...)
}

// CandidatePool converts the pool into domain candidates.
func (in InputConfig) CandidatePool() []domain.PoolCandidate {
	pool := make([]domain.PoolCandidate, len(in.Pool))
	for i, c := range in.Pool {
		pool[i] = domain.PoolCandidate{
			ID:       domain.Candidate(c.ID),
			Group:    domain.GroupID(c.Group),
			Features: append([]float64(nil), c.Features...),
		}
	}
	return pool
}

// Request converts the input section into an orchestrator request.
func (c *JobConfig) Request() (Request, error) {
	mode, err := domain.ParseFairnessMode(c.Input.Mode)
	if err != nil {
		return Request{}, fmt.Errorf("input mode: %w", err)
	}
	return Request{
		JobID:   c.Metadata.Name,
		Profile: c.Input.Profile(),
		Pool:    c.Input.CandidatePool(),
		Mode:    mode,
		Seats:   c.Input.Seats,
	}, nil
}

// ExposureOptions returns the equalizer options with defaults applied.
func (s ExposureSettings) ExposureOptions() domain.ExposureOptions {
	opts := domain.ExposureOptions{
		Bound:              s.Bound,
		PreserveGroupOrder: true,
		MaxRepositions:     s.MaxRepositions,
	}
	if opts.Bound == 0 {
		opts.Bound = DefaultExposureBound
	}
	if s.PreserveGroupOrder != nil {
		opts.PreserveGroupOrder = *s.PreserveGroupOrder
	}
	return opts
}

// ImputerConfig maps the settings onto the imputation factory config.
func (s ImputationSettings) ImputerConfig() imputation.Config {
	cfg := imputation.DefaultConfig()
	if s.Strategy != "" {
		cfg.Strategy = s.Strategy
	}
	cfg.RateLimit = s.RateLimit
	cfg.Burst = s.Burst
	cfg.MaxRetries = s.MaxRetries
	cfg.Timeout = time.Duration(s.TimeoutMs) * time.Millisecond
	cfg.CircuitBreakerFailures = s.CircuitBreakerFailures
	cfg.CircuitBreakerCooldown = time.Duration(s.CircuitBreakerCooldownMs) * time.Millisecond
	return cfg
}

// StageLimits maps the settings onto the stage guard limits.
func (l LimitsConfig) StageLimits() middleware.Limits {
	return middleware.Limits{
		MaxBallots:    l.MaxBallots,
		MaxCandidates: l.MaxCandidates,
		Timeout:       time.Duration(l.TimeoutSeconds) * time.Second,
	}
}
