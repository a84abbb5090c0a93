package units

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-fairrank/internal/domain"
	"github.com/ahrav/go-fairrank/internal/ports"
)

var _ ports.Unit = (*GroupAwareSTVUnit)(nil)

// GroupAwareSTVUnit runs the group-aware STV election and arranges the
// elected candidates into fair buckets.
//
// State requirements:
//   - domain.KeyProfile
//   - domain.KeyRepresentation
//   - domain.KeyQuotaPlan
//
// Outputs: domain.KeySTVResult and domain.KeyRanking.
//
// Concurrency: the unit is stateless; every run builds its own session.
type GroupAwareSTVUnit struct {
	name   string
	tracer trace.Tracer
}

// NewGroupAwareSTVUnit creates a GroupAwareSTVUnit.
func NewGroupAwareSTVUnit(name string) (*GroupAwareSTVUnit, error) {
	if name == "" {
		return nil, ErrEmptyUnitName
	}
	return &GroupAwareSTVUnit{
		name:   name,
		tracer: otel.Tracer("group-aware-stv-unit"),
	}, nil
}

// Name returns the unit identifier.
func (su *GroupAwareSTVUnit) Name() string { return su.name }

// Execute elects the quota-constrained committee.
func (su *GroupAwareSTVUnit) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	_, span := su.tracer.Start(ctx, "GroupAwareSTVUnit.Execute",
		trace.WithAttributes(
			attribute.String("unit.type", "group_aware_stv"),
			attribute.String("unit.id", su.name),
		),
	)
	defer span.End()

	if err := ctx.Err(); err != nil {
		return state, err
	}

	profile, ok := domain.Get(state, domain.KeyProfile)
	if !ok {
		err := missingInput(domain.KeyProfile.Name())
		span.RecordError(err)
		return state, err
	}
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

	res, err := domain.RunGroupAwareSTV(profile, rep.Groups, plan.Quotas)
	if err != nil {
		span.RecordError(err)
		return state, err
	}

	span.SetAttributes(
		attribute.Int("stv.ballots", len(profile.Ballots)),
		attribute.Float64("stv.droop_quota", res.DroopQuota),
		attribute.Int("stv.rounds", len(res.Rounds)),
		attribute.Int("stv.seats", res.Seats),
	)

	return state.WithMultiple(map[string]any{
		domain.KeySTVResult.Name(): res,
		domain.KeyRanking.Name():   res.Ranking,
	}), nil
}

// Validate always succeeds; the unit has no configuration.
func (su *GroupAwareSTVUnit) Validate() error { return nil }

// NewGroupAwareSTVFromConfig creates a GroupAwareSTVUnit. The unit takes no
// parameters, so a non-empty config is rejected.
func NewGroupAwareSTVFromConfig(id string, config map[string]any) (ports.Unit, error) {
	if len(config) > 0 {
		return nil, fmt.Errorf("group_aware_stv takes no parameters, got %d", len(config))
	}
	return NewGroupAwareSTVUnit(id)
}
