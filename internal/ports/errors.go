package ports

import (
	"context"
	"errors"
	"fmt"
)

// Common infrastructure errors raised by collaborators of the core.
var (
	// ErrRateLimited indicates that a collaborator rejected the request
	// because its rate limit was reached.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnknownCandidate indicates that a ballot ranks a candidate that is
	// missing from the pool.
	ErrUnknownCandidate = errors.New("unknown candidate")

	// ErrDuplicateCandidate indicates that the pool lists a candidate twice.
	ErrDuplicateCandidate = errors.New("duplicate candidate")

	// ErrMissingFeatures indicates that a pool candidate has no feature
	// vector although the imputer requires one.
	ErrMissingFeatures = errors.New("missing features")

	// ErrFeatureDimension indicates feature vectors of different lengths.
	ErrFeatureDimension = errors.New("feature dimension mismatch")

	// ErrConfigNotFound indicates that a required configuration source is
	// missing.
	ErrConfigNotFound = errors.New("configuration not found")
)

// ImputationError represents a failure of an Imputer.
type ImputationError struct {
	// Imputer is the name of the strategy that failed.
	Imputer string

	// Ballot is the index of the ballot being completed, or -1.
	Ballot int

	// Err is the underlying error.
	Err error
}

// Error implements the error interface for ImputationError.
func (e *ImputationError) Error() string {
	if e.Ballot >= 0 {
		return fmt.Sprintf("imputation error: imputer=%s, ballot=%d, err=%v", e.Imputer, e.Ballot, e.Err)
	}
	return fmt.Sprintf("imputation error: imputer=%s, err=%v", e.Imputer, e.Err)
}

// Unwrap returns the underlying error.
func (e *ImputationError) Unwrap() error { return e.Err }

// IsRetryable returns true if the failure is transient.
func (e *ImputationError) IsRetryable() bool {
	return errors.Is(e.Err, ErrRateLimited) || errors.Is(e.Err, context.DeadlineExceeded)
}

// NewImputationError creates a new ImputationError with the given details.
func NewImputationError(imputer string, ballot int, err error) *ImputationError {
	return &ImputationError{
		Imputer: imputer,
		Ballot:  ballot,
		Err:     err,
	}
}

// ConfigError represents an error from configuration operations.
type ConfigError struct {
	// ConfigKey is the configuration key or source that was involved in the
	// failed operation.
	ConfigKey string

	// Err is the underlying error that caused the configuration operation
	// to fail.
	Err error
}

// Error implements the error interface for ConfigError.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: key=%s, err=%v", e.ConfigKey, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError creates a new ConfigError with the given details.
func NewConfigError(key string, err error) *ConfigError {
	return &ConfigError{
		ConfigKey: key,
		Err:       err,
	}
}
