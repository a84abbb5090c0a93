package units

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-fairrank/internal/domain"
	"github.com/ahrav/go-fairrank/internal/ports"
)

var _ ports.Unit = (*BordaUnit)(nil)

// BordaUnit aggregates the profile with a plain Borda count. It produces a
// group-blind baseline ranking that the exposure equalizer can post-process.
//
// State requirements:
//   - domain.KeyProfile
//   - domain.KeyRepresentation (optional; defines the candidate universe)
//   - domain.KeySeats (optional; truncates the ranking)
//
// Output: domain.KeyRanking.
type BordaUnit struct {
	name   string
	config BordaConfig
	tracer trace.Tracer
}

// BordaConfig controls the length of the Borda ranking.
type BordaConfig struct {
	// Seats truncates the ranking. Zero defers to domain.KeySeats and ranks
	// the whole universe when that is absent too.
	Seats int `yaml:"seats" json:"seats" validate:"gte=0"`
}

// NewBordaUnit creates a BordaUnit with validated configuration.
func NewBordaUnit(name string, config BordaConfig) (*BordaUnit, error) {
	if name == "" {
		return nil, ErrEmptyUnitName
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &BordaUnit{
		name:   name,
		config: config,
		tracer: otel.Tracer("borda-unit"),
	}, nil
}

// Name returns the unit identifier.
func (bu *BordaUnit) Name() string { return bu.name }

// Execute ranks the universe by Borda score.
func (bu *BordaUnit) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	_, span := bu.tracer.Start(ctx, "BordaUnit.Execute",
		trace.WithAttributes(
			attribute.String("unit.type", "borda"),
			attribute.String("unit.id", bu.name),
		),
	)
	defer span.End()

	profile, ok := domain.Get(state, domain.KeyProfile)
	if !ok {
		err := missingInput(domain.KeyProfile.Name())
		span.RecordError(err)
		return state, err
	}
	if err := profile.Validate(); err != nil {
		span.RecordError(err)
		return state, err
	}

	universe := profile.RankedCandidates()
	if rep, ok := domain.Get(state, domain.KeyRepresentation); ok {
		universe = rep.Groups.Candidates()
	}

	k := bu.config.Seats
	if k == 0 {
		k, _ = domain.Get(state, domain.KeySeats)
	}

	ranking := domain.BordaRanking(profile, universe, k)
	span.SetAttributes(
		attribute.Int("borda.universe", len(universe)),
		attribute.Int("borda.length", len(ranking)),
	)
	return domain.With(state, domain.KeyRanking, ranking), nil
}

// Validate verifies the unit configuration.
func (bu *BordaUnit) Validate() error {
	if err := validate.Struct(bu.config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// UnmarshalParameters deserializes YAML configuration into the unit's
// config.
func (bu *BordaUnit) UnmarshalParameters(params yaml.Node) error {
	var config BordaConfig
	if err := decodeParameters(params, &config); err != nil {
		return err
	}
	bu.config = config
	return nil
}

// NewBordaFromConfig creates a BordaUnit from a configuration map.
func NewBordaFromConfig(id string, config map[string]any) (ports.Unit, error) {
	var cfg BordaConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	return NewBordaUnit(id, cfg)
}
