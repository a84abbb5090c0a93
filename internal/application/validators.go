package application

import (
	"bytes"
	"fmt"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-fairrank/infrastructure/units"
)

// DefaultExposureBound is the exposure ratio EPIRA aims for when a job
// enables it without a bound.
const DefaultExposureBound = 0.8

// NewJobValidator returns a validator with every custom tag used by job and
// unit configuration registered.
func NewJobValidator() (*validator.Validate, error) {
	v := validator.New()
	if err := RegisterJobValidators(v); err != nil {
		return nil, err
	}
	return v, nil
}

// RegisterJobValidators registers semver plus the fairness tags shared
// with the units package.
func RegisterJobValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("semver", validateSemver); err != nil {
		return fmt.Errorf("failed to register semver validator: %w", err)
	}
	if err := units.RegisterFairnessValidators(v); err != nil {
		return fmt.Errorf("failed to register fairness validators: %w", err)
	}
	return nil
}

// validateSemver accepts X.Y.Z with non-negative integers.
func validateSemver(fl validator.FieldLevel) bool {
	var major, minor, patch int
	var rest string
	n, _ := fmt.Sscanf(fl.Field().String(), "%d.%d.%d%s", &major, &minor, &patch, &rest)
	return n == 3 && major >= 0 && minor >= 0 && patch >= 0
}

// ValidateUnitParameters checks the parameters of a custom graph unit
// against the configuration struct of its type. Unknown keys are
// rejected so that typos do not silently fall back to defaults.
func ValidateUnitParameters(v *validator.Validate, unitType string, params yaml.Node) error {
	if params.Kind == 0 {
		return nil
	}

	var target any
	switch unitType {
	case UnitTypeRepresentation:
		target = &units.RepresentationConfig{}
	case UnitTypeQuotaPlanner:
		target = &units.QuotaPlannerConfig{}
	case UnitTypeImputationGate:
		cfg := units.DefaultImputationGateConfig()
		target = &cfg
	case UnitTypeBorda:
		target = &units.BordaConfig{}
	case UnitTypeExposure:
		cfg := units.DefaultExposureConfig()
		target = &cfg
	case UnitTypeFairnessMetrics:
		target = &units.FairnessMetricsConfig{}
	case UnitTypeGroupAwareSTV:
		var m map[string]any
		if err := params.Decode(&m); err != nil {
			return fmt.Errorf("failed to decode parameters: %w", err)
		}
		if len(m) > 0 {
			return fmt.Errorf("%s takes no parameters", unitType)
		}
		return nil
	default:
		return fmt.Errorf("unknown unit type: %s", unitType)
	}

	if err := decodeStrict(params, target); err != nil {
		return fmt.Errorf("failed to decode parameters: %w", err)
	}
	if err := v.Struct(target); err != nil {
		return fmt.Errorf("parameter validation failed: %w", err)
	}
	return nil
}

// decodeStrict re-encodes node and decodes it with unknown fields
// rejected, which yaml.Node.Decode cannot do on its own.
func decodeStrict(node yaml.Node, target any) error {
	data, err := yaml.Marshal(&node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(target)
}
