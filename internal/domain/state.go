// Package domain contains the pure, dependency-free models and algorithms of
// fair consensus ranking: preference profiles, quota planning, group-aware
// STV, fair bucket arrangement and exposure equalization.
package domain

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"time"
)

// Key names a State entry holding a value of type T.
type Key[T any] struct{ name string }

// NewKey creates a key for entries defined outside this package.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// Name returns the string form of the key, as used by WithMultiple.
func (k Key[T]) Name() string { return k.name }

// Predefined state keys used throughout a consensus run.
// Each key is strongly typed to ensure type safety at compile time.
var (
	// KeyProfile stores the preference profile. The imputation gate
	// replaces it with the completed profile when imputation runs.
	KeyProfile = Key[Profile]{"profile"}

	// KeyPool stores the full candidate universe with group labels and
	// features.
	KeyPool = Key[[]PoolCandidate]{"pool"}

	// KeyRepresentation stores the group map and group counts derived from
	// the pool and the profile.
	KeyRepresentation = Key[Representation]{"representation"}

	// KeyFairnessMode stores the requested fairness mode.
	KeyFairnessMode = Key[FairnessMode]{"fairness_mode"}

	// KeySeats stores the requested consensus length k.
	KeySeats = Key[int]{"seats"}

	// KeyQuotaPlan stores the per-group seat targets.
	KeyQuotaPlan = Key[QuotaPlan]{"quota_plan"}

	// KeyImputed records whether the profile was completed by an imputer.
	KeyImputed = Key[bool]{"imputed"}

	// KeySTVResult stores the outcome of the group-aware STV election.
	KeySTVResult = Key[STVResult]{"stv_result"}

	// KeyRanking stores the current consensus ranking. Every ranking stage
	// reads and overwrites it.
	KeyRanking = Key[[]Candidate]{"ranking"}

	// KeyExposure stores the outcome of exposure equalization.
	KeyExposure = Key[ExposureResult]{"exposure"}

	// KeyFairnessReport stores the fairness metrics of the final ranking.
	KeyFairnessReport = Key[FairnessReport]{"fairness_report"}

	// KeyWarnings accumulates non-fatal issues raised by units.
	KeyWarnings = Key[[]string]{"warnings"}

	// Execution context keys for tracking metadata across a pipeline run.

	// KeyJobID stores the identifier of the job being executed.
	KeyJobID = Key[string]{"execution.job_id"}

	// KeyExecutionID stores a unique identifier for this specific execution
	// instance, useful for tracing and correlation.
	KeyExecutionID = Key[string]{"execution.execution_id"}
)

// deepCopyValue copies slices, maps, pointers and exported struct fields
// recursively so that callers never share backing storage with a State.
// time.Time and scalar values are returned as is.
func deepCopyValue(value any) any {
	if value == nil {
		return nil
	}
	if val, ok := value.(time.Time); ok {
		return val
	}

	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Slice:
		if v.IsNil() {
			return value
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Cap())
		for i := range v.Len() {
			out.Index(i).Set(copiedValue(v.Index(i)))
		}
		return out.Interface()

	case reflect.Map:
		if v.IsNil() {
			return value
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(copiedValue(iter.Key()), copiedValue(iter.Value()))
		}
		return out.Interface()

	case reflect.Ptr:
		if v.IsNil() {
			return value
		}
		out := reflect.New(v.Elem().Type())
		out.Elem().Set(copiedValue(v.Elem()))
		return out.Interface()

	case reflect.Struct:
		// Unexported fields keep their zero value; domain types export all
		// of their state.
		out := reflect.New(v.Type()).Elem()
		for i := range v.NumField() {
			if out.Field(i).CanSet() {
				out.Field(i).Set(copiedValue(v.Field(i)))
			}
		}
		return out.Interface()

	default:
		return value
	}
}

// copiedValue deep copies v and converts the result back to v's type, so
// nil interface elements and named types survive the round trip.
func copiedValue(v reflect.Value) reflect.Value {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		c := reflect.ValueOf(deepCopyValue(v.Interface()))
		out := reflect.New(v.Type()).Elem()
		out.Set(c)
		return out
	}
	return reflect.ValueOf(deepCopyValue(v.Interface())).Convert(v.Type())
}

// State is the immutable bag of values that flows between pipeline stages.
// Every update returns a new State and reads return copies, so a State can
// be shared freely across goroutines.
type State struct {
	data map[string]any
}

// NewState returns an empty State.
func NewState() State {
	return State{data: make(map[string]any)}
}

// Get returns a copy of the value stored under key. It reports false when
// the key is absent or holds a value of another type.
//
//	plan, ok := Get(state, KeyQuotaPlan)
func Get[T any](s State, key Key[T]) (T, bool) {
	value, exists := s.data[key.name]
	if !exists {
		var zero T
		return zero, false
	}
	val, ok := deepCopyValue(value).(T)
	return val, ok
}

// GetRaw is the untyped form of Get, used where only the key name is known.
func (s State) GetRaw(keyName string) (any, bool) {
	value, exists := s.data[keyName]
	if !exists {
		return nil, false
	}
	return deepCopyValue(value), true
}

// With returns a State with key set to a copy of value. s is unchanged.
//
//	next := With(state, KeySeats, 10)
func With[T any](s State, key Key[T], value T) State {
	return s.WithRaw(key.name, value)
}

// WithRaw is the untyped form of With.
func (s State) WithRaw(keyName string, value any) State {
	data := maps.Clone(s.data)
	if data == nil {
		data = make(map[string]any, 1)
	}
	data[keyName] = deepCopyValue(value)
	return State{data: data}
}

// WithMultiple applies several updates with a single clone.
//
//	next := state.WithMultiple(map[string]any{
//		KeySeats.Name():        10,
//		KeyFairnessMode.Name(): FairnessEqual,
//	})
func (s State) WithMultiple(updates map[string]any) State {
	data := maps.Clone(s.data)
	if data == nil {
		data = make(map[string]any, len(updates))
	}
	for k, v := range updates {
		data[k] = deepCopyValue(v)
	}
	return State{data: data}
}

// Keys returns the stored key names in sorted order.
func (s State) Keys() []string {
	return slices.Sorted(maps.Keys(s.data))
}

// String formats the State for debugging.
func (s State) String() string {
	return fmt.Sprintf("State%v", s.data)
}

// ExecutionContext contains metadata about the current run that flows
// through the State. Middleware reads it to label spans and metrics.
type ExecutionContext struct {
	// JobID identifies the job being executed.
	JobID string

	// ExecutionID is a unique identifier for this specific execution.
	ExecutionID string
}

// WithExecutionContext creates a new State with execution context metadata
// included. It should be called before the pipeline starts.
func (s State) WithExecutionContext(ctx ExecutionContext) State {
	return s.WithMultiple(map[string]any{
		KeyJobID.name:       ctx.JobID,
		KeyExecutionID.name: ctx.ExecutionID,
	})
}

// GetExecutionContext extracts execution context metadata from the State.
// It reports false unless every field is present.
func (s State) GetExecutionContext() (ExecutionContext, bool) {
	jobID, ok1 := Get(s, KeyJobID)
	executionID, ok2 := Get(s, KeyExecutionID)
	if !ok1 || !ok2 {
		return ExecutionContext{}, false
	}
	return ExecutionContext{JobID: jobID, ExecutionID: executionID}, true
}

// AppendWarnings returns a State with msgs appended to KeyWarnings.
func (s State) AppendWarnings(msgs ...string) State {
	if len(msgs) == 0 {
		return s
	}
	current, _ := Get(s, KeyWarnings)
	return With(s, KeyWarnings, append(current, msgs...))
}
