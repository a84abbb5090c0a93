package domain

import (
	"errors"
	"fmt"
)

// Common domain errors that can occur while computing a fair consensus.
var (
	// ErrInvalidProfile indicates an empty ballot set, an empty ballot, a
	// candidate ranked twice on one ballot, or a ranked candidate that is
	// not part of the pool.
	ErrInvalidProfile = errors.New("invalid profile")

	// ErrInsufficientCandidates indicates that more seats were requested
	// than the pool can supply.
	ErrInsufficientCandidates = errors.New("insufficient candidates")

	// ErrUnfillableQuota indicates that a group ran out of eligible
	// candidates before its quota was met.
	ErrUnfillableQuota = errors.New("unfillable quota")

	// ErrNonConvergence indicates that the exposure equalizer stopped before
	// reaching the requested ratio. The accompanying ranking is still usable.
	ErrNonConvergence = errors.New("exposure equalization did not converge")

	// ErrInvalidBound indicates an exposure ratio bound outside (0, 1].
	ErrInvalidBound = errors.New("invalid exposure bound")

	// ErrInvalidRanking indicates a ranking with duplicates or with
	// candidates missing from the group map.
	ErrInvalidRanking = errors.New("invalid ranking")

	// ErrInvalidMode indicates an unknown fairness mode.
	ErrInvalidMode = errors.New("invalid fairness mode")

	// ErrInvalidSeats indicates a non-positive seat count.
	ErrInvalidSeats = errors.New("invalid seat count")

	// ErrInvalidState indicates that a State operation received invalid input.
	ErrInvalidState = errors.New("invalid state")

	// ErrKeyNotFound indicates that a requested state key does not exist.
	ErrKeyNotFound = errors.New("key not found")

	// ErrInvalidConfiguration indicates that a job or unit configuration is
	// invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrLimitExceeded indicates that an input exceeds a configured size
	// limit.
	ErrLimitExceeded = errors.New("limit exceeded")
)

// ElectionError reports which stage of the consensus computation failed.
type ElectionError struct {
	// Stage names the failing step, e.g. "quota", "stv", "exposure".
	Stage string

	// Round is the STV round in which the failure occurred, zero if not
	// applicable.
	Round int

	// Err is the underlying error.
	Err error
}

// Error implements the error interface for ElectionError.
func (e *ElectionError) Error() string {
	if e.Round > 0 {
		return fmt.Sprintf("election error: stage=%s, round=%d, err=%v", e.Stage, e.Round, e.Err)
	}
	return fmt.Sprintf("election error: stage=%s, err=%v", e.Stage, e.Err)
}

// Unwrap returns the underlying error, supporting Go 1.13+ error unwrapping.
func (e *ElectionError) Unwrap() error { return e.Err }

// NewElectionError creates a new ElectionError with the given details.
func NewElectionError(stage string, round int, err error) *ElectionError {
	return &ElectionError{
		Stage: stage,
		Round: round,
		Err:   err,
	}
}

// ConvergenceError carries the state reached when the exposure equalizer
// gave up. It always unwraps to ErrNonConvergence.
type ConvergenceError struct {
	// Ratio is the best exposure ratio reached.
	Ratio float64

	// Bound is the ratio that was requested.
	Bound float64

	// Repositions is the number of swaps performed.
	Repositions int

	// Reason explains why the loop stopped.
	Reason string
}

// Error implements the error interface for ConvergenceError.
func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("%v: ratio=%.4f, bound=%.4f, repositions=%d, reason=%s",
		ErrNonConvergence, e.Ratio, e.Bound, e.Repositions, e.Reason)
}

// Unwrap returns ErrNonConvergence.
func (e *ConvergenceError) Unwrap() error { return ErrNonConvergence }

// StateError represents an error that occurred during State operations.
// It provides context about which key and operation caused the error.
type StateError struct {
	// Key is the state key that was involved in the failed operation.
	Key string

	// Operation describes what was being performed when the error occurred.
	Operation string

	// Err is the underlying error that caused the operation to fail.
	Err error
}

// Error implements the error interface for StateError.
func (e *StateError) Error() string {
	return fmt.Sprintf("state error: operation=%s, key=%s, err=%v", e.Operation, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *StateError) Unwrap() error { return e.Err }

// NewStateError creates a new StateError with the given details.
func NewStateError(key, operation string, err error) *StateError {
	return &StateError{
		Key:       key,
		Operation: operation,
		Err:       err,
	}
}

// ValidationError collects the problems found while validating an entity.
type ValidationError struct {
	// Entity names what was validated.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// Unwrap returns ErrInvalidConfiguration.
func (e *ValidationError) Unwrap() error { return ErrInvalidConfiguration }

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}

// LimitExceededError reports an input that is larger than a stage allows.
type LimitExceededError struct {
	// Limit names the exceeded limit, e.g. "ballots" or "candidates".
	Limit string

	// Max is the configured maximum.
	Max int

	// Actual is the observed size.
	Actual int

	// Stage is the pipeline stage that rejected the input.
	Stage string
}

// Error implements the error interface for LimitExceededError.
func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s limit exceeded in %s: %d > %d", e.Limit, e.Stage, e.Actual, e.Max)
}

// Unwrap returns ErrLimitExceeded.
func (e *LimitExceededError) Unwrap() error { return ErrLimitExceeded }

// NewLimitExceededError creates a new LimitExceededError.
func NewLimitExceededError(limit string, maxValue, actual int, stage string) *LimitExceededError {
	return &LimitExceededError{
		Limit:  limit,
		Max:    maxValue,
		Actual: actual,
		Stage:  stage,
	}
}
