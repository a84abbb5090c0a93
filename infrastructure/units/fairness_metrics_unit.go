package units

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-fairrank/infrastructure/evaluation"
	"github.com/ahrav/go-fairrank/internal/domain"
	"github.com/ahrav/go-fairrank/internal/ports"
)

var _ ports.Unit = (*FairnessMetricsUnit)(nil)

// FairnessMetricsUnit scores the final ranking. It only reports; nothing
// downstream reads its output.
//
// State requirements:
//   - domain.KeyRanking
//   - domain.KeyRepresentation
//   - domain.KeyFairnessMode, unless set in the config
//
// Output: domain.KeyFairnessReport.
type FairnessMetricsUnit struct {
	name   string
	config FairnessMetricsConfig
	tracer trace.Tracer
}

// FairnessMetricsConfig optionally pins the fairness target.
type FairnessMetricsConfig struct {
	// Mode is EQUAL or PROPORTIONAL.
	Mode string `yaml:"mode" json:"mode" validate:"omitempty,fairmode"`
}

// NewFairnessMetricsUnit creates a FairnessMetricsUnit with validated
// configuration.
func NewFairnessMetricsUnit(name string, config FairnessMetricsConfig) (*FairnessMetricsUnit, error) {
	if name == "" {
		return nil, ErrEmptyUnitName
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &FairnessMetricsUnit{
		name:   name,
		config: config,
		tracer: otel.Tracer("fairness-metrics-unit"),
	}, nil
}

// Name returns the unit identifier.
func (fu *FairnessMetricsUnit) Name() string { return fu.name }

// Execute computes the fairness report of the current ranking.
func (fu *FairnessMetricsUnit) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	_, span := fu.tracer.Start(ctx, "FairnessMetricsUnit.Execute",
		trace.WithAttributes(
			attribute.String("unit.type", "fairness_metrics"),
			attribute.String("unit.id", fu.name),
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

	var mode domain.FairnessMode
	if fu.config.Mode != "" {
		mode, err = domain.ParseFairnessMode(fu.config.Mode)
	} else if m, ok := domain.Get(state, domain.KeyFairnessMode); ok {
		mode, err = domain.ParseFairnessMode(string(m))
	} else {
		err = missingInput(domain.KeyFairnessMode.Name())
	}
	if err != nil {
		span.RecordError(err)
		return state, err
	}

	report, err := evaluation.Evaluate(ranking, rep.Groups, rep.ProfileCounts, mode)
	if err != nil {
		span.RecordError(err)
		return state, fmt.Errorf("evaluate ranking: %w", err)
	}

	span.SetAttributes(
		attribute.Float64("fairness.kl", report.KL),
		attribute.Float64("fairness.ndkl", report.NDKL),
		attribute.Float64("fairness.representation", report.FairRepresentation),
		attribute.Float64("fairness.exposure_ratio", report.ExposureRatio),
	)
	return domain.With(state, domain.KeyFairnessReport, report), nil
}

// Validate verifies the unit configuration.
func (fu *FairnessMetricsUnit) Validate() error {
	if err := validate.Struct(fu.config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// UnmarshalParameters deserializes YAML configuration into the unit's
// config.
func (fu *FairnessMetricsUnit) UnmarshalParameters(params yaml.Node) error {
	var config FairnessMetricsConfig
	if err := decodeParameters(params, &config); err != nil {
		return err
	}
	fu.config = config
	return nil
}

// NewFairnessMetricsFromConfig creates a FairnessMetricsUnit from a
// configuration map.
func NewFairnessMetricsFromConfig(id string, config map[string]any) (ports.Unit, error) {
	var cfg FairnessMetricsConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	return NewFairnessMetricsUnit(id, cfg)
}
