// Package ports defines the core interfaces that form the contract between
// the domain/application layers and the infrastructure layer.
// These interfaces enable dependency inversion and make the system testable.
package ports

import (
	"context"

	"github.com/ahrav/go-fairrank/internal/domain"
)

// Unit represents one stage of a consensus pipeline. Each Unit reads its
// inputs from the State and returns a new State carrying its outputs.
// Units should be stateless and safe for concurrent use.
type Unit interface {
	// Name returns the identifier of this unit, used for logging, tracing
	// and configuration.
	Name() string

	// Execute performs the unit's transformation on the provided State.
	// It returns a new State containing the results of the transformation.
	// The original State must not be modified.
	//
	// The context parameter allows for cancellation and deadline propagation.
	// Units should respect context cancellation and return promptly.
	//
	// Example:
	//
	//	newState, err := unit.Execute(ctx, state)
	//	if err != nil {
	//	    return state, fmt.Errorf("unit %s failed: %w", unit.Name(), err)
	//	}
	Execute(ctx context.Context, state domain.State) (domain.State, error)

	// Validate checks that the unit is configured correctly and that its
	// collaborators are present. It is called when a pipeline is built.
	Validate() error
}

// UnitFactory creates a unit of one type from its identifier and decoded
// configuration parameters.
type UnitFactory func(id string, config map[string]any) (Unit, error)

// UnitRegistry maps unit type names to factories.
type UnitRegistry interface {
	// CreateUnit builds a unit of the given type.
	CreateUnit(unitType string, id string, config map[string]any) (Unit, error)

	// RegisterUnitFactory adds or replaces the factory for a unit type.
	RegisterUnitFactory(unitType string, factory UnitFactory) error

	// GetSupportedTypes lists every registered unit type in sorted order.
	GetSupportedTypes() []string
}
