// Package units provides the pipeline stages of a fair consensus run. Each
// unit implements ports.Unit, reads its inputs from domain.State and
// returns a new State carrying its outputs.
package units

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-fairrank/internal/domain"
)

// Common errors returned by pipeline units.
var (
	// ErrEmptyUnitName is returned when attempting to create a unit with an empty name.
	ErrEmptyUnitName = errors.New("unit name cannot be empty")

	// ErrMissingInput is returned when a required state key is absent.
	ErrMissingInput = errors.New("required input missing from state")

	// ErrMissingDependency is returned when a unit lacks a collaborator it
	// needs for its configuration.
	ErrMissingDependency = errors.New("required dependency not configured")
)

// Package-level validator instance for configuration validation.
// Uses go-playground/validator v10 for struct tag-based validation.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := RegisterFairnessValidators(v); err != nil {
		panic(fmt.Sprintf("units: register validators: %v", err))
	}
	return v
}

// RegisterFairnessValidators adds the custom tags used by unit and job
// configuration:
//   - fairmode: a case-insensitive EQUAL or PROPORTIONAL
//   - exposurebound: a float in (0, 1]
func RegisterFairnessValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("fairmode", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseFairnessMode(fl.Field().String())
		return err == nil
	}); err != nil {
		return fmt.Errorf("register fairmode: %w", err)
	}

	if err := v.RegisterValidation("exposurebound", func(fl validator.FieldLevel) bool {
		b := fl.Field().Float()
		return !math.IsNaN(b) && b > 0 && b <= 1
	}); err != nil {
		return fmt.Errorf("register exposurebound: %w", err)
	}
	return nil
}

func missingInput(key string) error {
	return fmt.Errorf("%w: %s", ErrMissingInput, key)
}

// decodeConfig overlays a configuration map onto target, which should
// already hold the defaults.
func decodeConfig(config map[string]any, target any) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// decodeParameters decodes and validates a YAML parameter node.
func decodeParameters(params yaml.Node, target any) error {
	if err := params.Decode(target); err != nil {
		return fmt.Errorf("failed to decode parameters: %w", err)
	}
	if err := validate.Struct(target); err != nil {
		return fmt.Errorf("parameter validation failed: %w", err)
	}
	return nil
}

// groupsFromState returns the group map recorded by the representation
// stage.
func groupsFromState(state domain.State) (domain.Representation, error) {
	rep, ok := domain.Get(state, domain.KeyRepresentation)
	if !ok {
		return domain.Representation{}, missingInput(domain.KeyRepresentation.Name())
	}
	return rep, nil
}
