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

var _ ports.Unit = (*QuotaPlannerUnit)(nil)

// QuotaPlannerUnit turns the group counts of a run into per-group seat
// targets.
//
// State requirements:
//   - domain.KeyRepresentation
//   - domain.KeyFairnessMode and domain.KeySeats, unless set in the config
//
// Outputs: domain.KeyQuotaPlan, domain.KeyFairnessMode and
// domain.KeySeats (the effective values), plus any fallback warning in
// domain.KeyWarnings.
type QuotaPlannerUnit struct {
	name   string
	config QuotaPlannerConfig
	tracer trace.Tracer
}

// QuotaPlannerConfig optionally pins the mode and seat count of a unit.
// Zero values defer to the state.
type QuotaPlannerConfig struct {
	// Mode is EQUAL or PROPORTIONAL.
	Mode string `yaml:"mode" json:"mode" validate:"omitempty,fairmode"`

	// Seats is the consensus length k.
	Seats int `yaml:"seats" json:"seats" validate:"gte=0"`
}

// NewQuotaPlannerUnit creates a QuotaPlannerUnit with validated configuration.
func NewQuotaPlannerUnit(name string, config QuotaPlannerConfig) (*QuotaPlannerUnit, error) {
	if name == "" {
		return nil, ErrEmptyUnitName
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &QuotaPlannerUnit{
		name:   name,
		config: config,
		tracer: otel.Tracer("quota-planner-unit"),
	}, nil
}

// Name returns the unit identifier.
func (qu *QuotaPlannerUnit) Name() string { return qu.name }

// Execute plans the quotas and records them in the state.
func (qu *QuotaPlannerUnit) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	_, span := qu.tracer.Start(ctx, "QuotaPlannerUnit.Execute",
		trace.WithAttributes(
			attribute.String("unit.type", "quota_planner"),
			attribute.String("unit.id", qu.name),
		),
	)
	defer span.End()

	rep, err := groupsFromState(state)
	if err != nil {
		span.RecordError(err)
		return state, err
	}

	mode, err := qu.mode(state)
	if err != nil {
		span.RecordError(err)
		return state, err
	}
	seats := qu.config.Seats
	if seats == 0 {
		var ok bool
		if seats, ok = domain.Get(state, domain.KeySeats); !ok {
			err := missingInput(domain.KeySeats.Name())
			span.RecordError(err)
			return state, err
		}
	}

	plan, err := domain.PlanQuotas(rep.PoolCounts, rep.ProfileCounts, mode, seats)
	if err != nil {
		span.RecordError(err)
		return state, domain.NewElectionError("quota", 0, err)
	}

	span.SetAttributes(
		attribute.String("quota.mode", mode.String()),
		attribute.Int("quota.requested", seats),
		attribute.Int("quota.seats", plan.Quotas.Seats()),
		attribute.Bool("quota.fell_back", plan.FellBack),
	)

	next := state.WithMultiple(map[string]any{
		domain.KeyQuotaPlan.Name():    plan,
		domain.KeyFairnessMode.Name(): mode,
		domain.KeySeats.Name():        seats,
	})
	return next.AppendWarnings(plan.Warnings...), nil
}

func (qu *QuotaPlannerUnit) mode(state domain.State) (domain.FairnessMode, error) {
	if qu.config.Mode != "" {
		return domain.ParseFairnessMode(qu.config.Mode)
	}
	mode, ok := domain.Get(state, domain.KeyFairnessMode)
	if !ok {
		return "", missingInput(domain.KeyFairnessMode.Name())
	}
	return domain.ParseFairnessMode(string(mode))
}

// Validate verifies the unit configuration.
func (qu *QuotaPlannerUnit) Validate() error {
	if err := validate.Struct(qu.config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// UnmarshalParameters deserializes YAML configuration into the unit's
// config. The configuration is unchanged on error.
func (qu *QuotaPlannerUnit) UnmarshalParameters(params yaml.Node) error {
	var config QuotaPlannerConfig
	if err := decodeParameters(params, &config); err != nil {
		return err
	}
	qu.config = config
	return nil
}

// NewQuotaPlannerFromConfig creates a QuotaPlannerUnit from a configuration
// map.
func NewQuotaPlannerFromConfig(id string, config map[string]any) (ports.Unit, error) {
	var cfg QuotaPlannerConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	return NewQuotaPlannerUnit(id, cfg)
}
