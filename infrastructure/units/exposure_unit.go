package units

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-fairrank/internal/domain"
	"github.com/ahrav/go-fairrank/internal/ports"
)

var _ ports.Unit = (*ExposureUnit)(nil)

// ExposureUnit post-processes the current ranking with the exposure
// equalizer.
//
// State requirements:
//   - domain.KeyRanking
//   - domain.KeyRepresentation
//
// Outputs: domain.KeyExposure and the equalized domain.KeyRanking. When
// the bound is not reached the best ranking found is still stored and a
// warning is appended, unless FailOnNonConvergence is set.
type ExposureUnit struct {
	name   string
	config ExposureConfig
	tracer trace.Tracer
}

// ExposureConfig mirrors domain.ExposureOptions for YAML configuration.
type ExposureConfig struct {
	// Bound is the minimum ratio of the lowest to the highest group
	// average exposure.
	Bound float64 `yaml:"bound" json:"bound" validate:"exposurebound"`

	// PreserveGroupOrder keeps each group's members in their input order.
	PreserveGroupOrder bool `yaml:"preserve_group_order" json:"preserve_group_order"`

	// MaxRepositions caps the number of swaps; zero means n(n-1)/2.
	MaxRepositions int `yaml:"max_repositions" json:"max_repositions" validate:"gte=0"`

	// FailOnNonConvergence turns a missed bound into a unit error.
	FailOnNonConvergence bool `yaml:"fail_on_nonconvergence" json:"fail_on_nonconvergence"`
}

// DefaultExposureConfig returns a bound of 0.8 with group order preserved.
func DefaultExposureConfig() ExposureConfig {
	return ExposureConfig{
		Bound:              0.8,
		PreserveGroupOrder: true,
	}
}

// NewExposureUnit creates an ExposureUnit with validated configuration.
func NewExposureUnit(name string, config ExposureConfig) (*ExposureUnit, error) {
	if name == "" {
		return nil, ErrEmptyUnitName
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &ExposureUnit{
		name:   name,
		config: config,
		tracer: otel.Tracer("exposure-unit"),
	}, nil
}

// Name returns the unit identifier.
func (eu *ExposureUnit) Name() string { return eu.name }

// Execute equalizes the exposure of the current ranking.
func (eu *ExposureUnit) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	_, span := eu.tracer.Start(ctx, "ExposureUnit.Execute",
		trace.WithAttributes(
			attribute.String("unit.type", "exposure_equalizer"),
			attribute.String("unit.id", eu.name),
			attribute.Float64("config.bound", eu.config.Bound),
			attribute.Bool("config.preserve_group_order", eu.config.PreserveGroupOrder),
		),
	)
	defer span.End()

	ranking, ok := domain.Get(state, domain.KeyRanking)
	if !ok {
		err := missingInput(domain.KeyRanking.Name())
		span.RecordError(err)
		return state, err
	}
	rep, err := groupsFromState(state)
	if err != nil {
		span.RecordError(err)
		return state, err
	}

	res, err := domain.EqualizeExposure(ranking, rep.Groups, domain.ExposureOptions{
		Bound:              eu.config.Bound,
		PreserveGroupOrder: eu.config.PreserveGroupOrder,
		MaxRepositions:     eu.config.MaxRepositions,
	})

	var warning string
	if err != nil {
		var ce *domain.ConvergenceError
		if !errors.As(err, &ce) || eu.config.FailOnNonConvergence {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return state, err
		}
		warning = ce.Error()
		span.AddEvent("exposure.nonconvergence")
	}

	span.SetAttributes(
		attribute.Float64("exposure.initial_ratio", res.InitialRatio),
		attribute.Float64("exposure.ratio", res.Ratio),
		attribute.Int("exposure.repositions", res.Repositions),
	)

	next := state.WithMultiple(map[string]any{
		domain.KeyExposure.Name(): res,
		domain.KeyRanking.Name():  res.Ranking,
	})
	if warning != "" {
		next = next.AppendWarnings(warning)
	}
	return next, nil
}

// Validate verifies the unit configuration.
func (eu *ExposureUnit) Validate() error {
	if err := validate.Struct(eu.config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// UnmarshalParameters deserializes YAML configuration into the unit's
// config, starting from the defaults.
func (eu *ExposureUnit) UnmarshalParameters(params yaml.Node) error {
	config := DefaultExposureConfig()
	if err := decodeParameters(params, &config); err != nil {
		return err
	}
	eu.config = config
	return nil
}

// NewExposureFromConfig creates an ExposureUnit from a configuration map.
func NewExposureFromConfig(id string, config map[string]any) (ports.Unit, error) {
	cfg := DefaultExposureConfig()
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	return NewExposureUnit(id, cfg)
}
