package units

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-fairrank/infrastructure/representation"
	"github.com/ahrav/go-fairrank/internal/domain"
	"github.com/ahrav/go-fairrank/internal/ports"
)

var _ ports.Unit = (*RepresentationUnit)(nil)

// RepresentationUnit derives the group map and group counts of a run from
// the candidate pool and the profile.
//
// State requirements:
//   - domain.KeyProfile
//   - domain.KeyPool
//
// Output: domain.KeyRepresentation.
type RepresentationUnit struct {
	name      string
	config    RepresentationConfig
	extractor ports.RepresentationExtractor
	tracer    trace.Tracer
}

// RepresentationConfig configures label normalization of the built-in
// extractor. It is ignored when a custom extractor is supplied.
type RepresentationConfig struct {
	// FoldGroupLabels merges group labels that differ only in case.
	FoldGroupLabels bool `yaml:"fold_group_labels" json:"fold_group_labels"`

	// TrimWhitespace strips surrounding spaces from identifiers.
	TrimWhitespace bool `yaml:"trim_whitespace" json:"trim_whitespace"`
}

// DefaultRepresentationConfig trims identifiers and keeps labels as written.
func DefaultRepresentationConfig() RepresentationConfig {
	return RepresentationConfig{TrimWhitespace: true}
}

// NewRepresentationUnit creates a RepresentationUnit. A nil extractor
// selects the built-in one configured from config.
func NewRepresentationUnit(name string, config RepresentationConfig, extractor ports.RepresentationExtractor) (*RepresentationUnit, error) {
	if name == "" {
		return nil, ErrEmptyUnitName
	}
	if extractor == nil {
		extractor = representation.NewExtractor(representation.Config{
			FoldGroupLabels: config.FoldGroupLabels,
			TrimWhitespace:  config.TrimWhitespace,
		})
	}
	return &RepresentationUnit{
		name:      name,
		config:    config,
		extractor: extractor,
		tracer:    otel.Tracer("representation-unit"),
	}, nil
}

// Name returns the unit identifier.
func (ru *RepresentationUnit) Name() string { return ru.name }

// Execute extracts the representation and stores it in the state.
func (ru *RepresentationUnit) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	_, span := ru.tracer.Start(ctx, "RepresentationUnit.Execute",
		trace.WithAttributes(
			attribute.String("unit.type", "representation"),
			attribute.String("unit.id", ru.name),
		),
	)
	defer span.End()

	profile, ok := domain.Get(state, domain.KeyProfile)
	if !ok {
		err := missingInput(domain.KeyProfile.Name())
		span.RecordError(err)
		return state, err
	}
	pool, ok := domain.Get(state, domain.KeyPool)
	if !ok {
		err := missingInput(domain.KeyPool.Name())
		span.RecordError(err)
		return state, err
	}

	rep, err := ru.extractor.Extract(profile, pool)
	if err != nil {
		span.RecordError(err)
		return state, fmt.Errorf("extract representation: %w", err)
	}

	span.SetAttributes(
		attribute.Int("pool.size", len(rep.Groups)),
		attribute.Int("pool.groups", len(rep.PoolCounts)),
	)
	return domain.With(state, domain.KeyRepresentation, rep), nil
}

// Validate checks that an extractor is present.
func (ru *RepresentationUnit) Validate() error {
	if ru.extractor == nil {
		return fmt.Errorf("%w: representation extractor", ErrMissingDependency)
	}
	return nil
}

// UnmarshalParameters replaces the configuration and rebuilds the
// built-in extractor from it.
func (ru *RepresentationUnit) UnmarshalParameters(params yaml.Node) error {
	var config RepresentationConfig
	if err := decodeParameters(params, &config); err != nil {
		return err
	}
	ru.config = config
	ru.extractor = representation.NewExtractor(representation.Config{
		FoldGroupLabels: config.FoldGroupLabels,
		TrimWhitespace:  config.TrimWhitespace,
	})
	return nil
}

// NewRepresentationFromConfig creates a RepresentationUnit from a
// configuration map. This is the boundary adapter for YAML/JSON configuration.
func NewRepresentationFromConfig(id string, config map[string]any, extractor ports.RepresentationExtractor) (ports.Unit, error) {
	cfg := DefaultRepresentationConfig()
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	return NewRepresentationUnit(id, cfg, extractor)
}
