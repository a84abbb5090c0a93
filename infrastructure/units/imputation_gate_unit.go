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

var _ ports.Unit = (*ImputationGateUnit)(nil)

// Imputation policies.
const (
	// PolicyAuto imputes only when some group has fewer ranked candidates
	// than seats reserved for it.
	PolicyAuto = "auto"

	// PolicyAlways imputes every run.
	PolicyAlways = "always"

	// PolicyNever keeps the profile as submitted and records a warning when
	// imputation would have been needed.
	PolicyNever = "never"
)

// ImputationGateUnit decides whether the profile must be completed before
// the election and, if so, hands it to an Imputer.
//
// State requirements:
//   - domain.KeyProfile, domain.KeyPool
//   - domain.KeyRepresentation, domain.KeyQuotaPlan
//
// Outputs: domain.KeyImputed, and when imputation ran the completed
// domain.KeyProfile together with updated profile counts in
// domain.KeyRepresentation.
type ImputationGateUnit struct {
	name    string
	config  ImputationGateConfig
	imputer ports.Imputer
	tracer  trace.Tracer
}

// ImputationGateConfig selects the imputation policy.
type ImputationGateConfig struct {
	// Policy is auto, always or never.
	Policy string `yaml:"policy" json:"policy" validate:"required,oneof=auto always never"`
}

// DefaultImputationGateConfig returns the auto policy.
func DefaultImputationGateConfig() ImputationGateConfig {
	return ImputationGateConfig{Policy: PolicyAuto}
}

// NewImputationGateUnit creates an ImputationGateUnit. The imputer may be
// nil only under PolicyNever.
func NewImputationGateUnit(name string, config ImputationGateConfig, imputer ports.Imputer) (*ImputationGateUnit, error) {
	if name == "" {
		return nil, ErrEmptyUnitName
	}
	u := &ImputationGateUnit{
		name:    name,
		config:  config,
		imputer: imputer,
		tracer:  otel.Tracer("imputation-gate-unit"),
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return u, nil
}

// Name returns the unit identifier.
func (iu *ImputationGateUnit) Name() string { return iu.name }

// Execute applies the policy.
func (iu *ImputationGateUnit) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	ctx, span := iu.tracer.Start(ctx, "ImputationGateUnit.Execute",
		trace.WithAttributes(
			attribute.String("unit.type", "imputation_gate"),
			attribute.String("unit.id", iu.name),
			attribute.String("config.policy", iu.config.Policy),
		),
	)
	defer span.End()

	rep, err := groupsFromState(state)
	if err != nil {
		span.RecordError(err)
		return state, err
	}
	plan, ok := domain.Get(state, domain.KeyQuotaPlan)
	if !ok {
		err := missingInput(domain.KeyQuotaPlan.Name())
		span.RecordError(err)
		return state, err
	}

	needed := plan.NeedsImputation(rep.ProfileCounts)
	span.SetAttributes(attribute.Bool("imputation.needed", needed))

	run := iu.config.Policy == PolicyAlways || (iu.config.Policy == PolicyAuto && needed)
	if !run {
		state = domain.With(state, domain.KeyImputed, false)
		if needed {
			state = state.AppendWarnings(fmt.Sprintf(
				"profile under-represents some groups relative to quotas %v; imputation disabled", plan.Quotas))
		}
		return state, nil
	}

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

	completed, err := iu.imputer.Impute(ctx, profile, pool)
	if err != nil {
		span.RecordError(err)
		return state, fmt.Errorf("impute profile: %w", err)
	}

	rep.ProfileCounts = make(domain.GroupCounts, len(rep.PoolCounts))
	for g := range rep.PoolCounts {
		rep.ProfileCounts[g] = 0
	}
	for _, c := range completed.RankedCandidates() {
		rep.ProfileCounts[rep.Groups[c]]++
	}

	span.SetAttributes(attribute.String("imputer.name", iu.imputer.Name()))
	return state.WithMultiple(map[string]any{
		domain.KeyProfile.Name():        completed,
		domain.KeyRepresentation.Name(): rep,
		domain.KeyImputed.Name():        true,
	}), nil
}

// Validate checks the policy and that an imputer is available when the
// policy may need one.
func (iu *ImputationGateUnit) Validate() error {
	if err := validate.Struct(iu.config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if iu.config.Policy != PolicyNever && iu.imputer == nil {
		return fmt.Errorf("%w: imputer required for policy %q", ErrMissingDependency, iu.config.Policy)
	}
	return nil
}

// UnmarshalParameters deserializes YAML configuration into the unit's
// config.
func (iu *ImputationGateUnit) UnmarshalParameters(params yaml.Node) error {
	var config ImputationGateConfig
	if err := decodeParameters(params, &config); err != nil {
		return err
	}
	iu.config = config
	return nil
}

// NewImputationGateFromConfig creates an ImputationGateUnit from a
// configuration map.
func NewImputationGateFromConfig(id string, config map[string]any, imputer ports.Imputer) (ports.Unit, error) {
	cfg := DefaultImputationGateConfig()
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	return NewImputationGateUnit(id, cfg, imputer)
}
