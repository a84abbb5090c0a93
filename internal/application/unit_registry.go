package application

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ahrav/go-fairrank/infrastructure/units"
	"github.com/ahrav/go-fairrank/internal/ports"
)

// Unit type names understood by the default registry.
const (
	UnitTypeRepresentation  = "representation"
	UnitTypeQuotaPlanner    = "quota_planner"
	UnitTypeImputationGate  = "imputation_gate"
	UnitTypeGroupAwareSTV   = "group_aware_stv"
	UnitTypeBorda           = "borda"
	UnitTypeExposure        = "exposure_equalizer"
	UnitTypeFairnessMetrics = "fairness_metrics"
)

// Verify interface compliance at compile time.
var _ ports.UnitRegistry = (*DefaultUnitRegistry)(nil)

// RegistryDeps are the collaborators injected into units that need them.
// A nil Extractor selects the built-in one; a nil Imputer limits
// imputation gates to the "never" policy.
type RegistryDeps struct {
	Extractor ports.RepresentationExtractor
	Imputer   ports.Imputer
}

// DefaultUnitRegistry creates pipeline units by type name.
type DefaultUnitRegistry struct {
	factories map[string]ports.UnitFactory
	deps      RegistryDeps
	mu        sync.RWMutex
}

// NewDefaultUnitRegistry creates a registry with every built-in unit type
// registered.
func NewDefaultUnitRegistry(deps RegistryDeps) *DefaultUnitRegistry {
	r := &DefaultUnitRegistry{
		factories: make(map[string]ports.UnitFactory),
		deps:      deps,
	}
	r.registerBuiltinFactories()
	return r
}

func (r *DefaultUnitRegistry) registerBuiltinFactories() {
	extractor, imputer := r.deps.Extractor, r.deps.Imputer

	r.factories[UnitTypeRepresentation] = func(id string, config map[string]any) (ports.Unit, error) {
		return units.NewRepresentationFromConfig(id, config, extractor)
	}
	r.factories[UnitTypeQuotaPlanner] = units.NewQuotaPlannerFromConfig
	r.factories[UnitTypeImputationGate] = func(id string, config map[string]any) (ports.Unit, error) {
		return units.NewImputationGateFromConfig(id, config, imputer)
	}
	r.factories[UnitTypeGroupAwareSTV] = units.NewGroupAwareSTVFromConfig
	r.factories[UnitTypeBorda] = units.NewBordaFromConfig
	r.factories[UnitTypeExposure] = units.NewExposureFromConfig
	r.factories[UnitTypeFairnessMetrics] = units.NewFairnessMetricsFromConfig
}

// CreateUnit builds a unit of unitType. A nil config is treated as empty.
func (r *DefaultUnitRegistry) CreateUnit(unitType string, id string, config map[string]any) (ports.Unit, error) {
	r.mu.RLock()
	factory, exists := r.factories[unitType]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported unit type: %s", unitType)
	}
	if id == "" {
		return nil, fmt.Errorf("unit ID cannot be empty")
	}
	if config == nil {
		config = make(map[string]any)
	}

	unit, err := factory(id, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create unit %s of type %s: %w", id, unitType, err)
	}
	return unit, nil
}

// RegisterUnitFactory adds or replaces the factory for unitType.
func (r *DefaultUnitRegistry) RegisterUnitFactory(unitType string, factory ports.UnitFactory) error {
	if unitType == "" {
		return fmt.Errorf("unit type cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory function cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[unitType] = factory
	return nil
}

// GetSupportedTypes returns the registered unit types in sorted order.
func (r *DefaultUnitRegistry) GetSupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// SetImputer swaps the imputer handed to imputation gates created from now
// on.
func (r *DefaultUnitRegistry) SetImputer(imputer ports.Imputer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deps.Imputer = imputer
	r.registerBuiltinFactories()
}
