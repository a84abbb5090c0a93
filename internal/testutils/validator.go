package testutils

import (
	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-fairrank/infrastructure/units"
)

// NewTestValidator creates a validator with the fairness tags registered.
// This provides a consistent validator configuration across all tests.
func NewTestValidator() *validator.Validate {
	v := validator.New()
	if err := units.RegisterFairnessValidators(v); err != nil {
		panic(err)
	}
	return v
}
