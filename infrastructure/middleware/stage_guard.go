package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/ahrav/go-fairrank/internal/domain"
	"github.com/ahrav/go-fairrank/internal/ports"
)

// Limits bounds the inputs and running time of a wrapped stage.
type Limits struct {
	// MaxBallots caps the number of ballots in the profile.
	// Zero means unlimited.
	MaxBallots int `yaml:"max_ballots" json:"max_ballots" validate:"gte=0"`

	// MaxCandidates caps the size of the candidate pool.
	// Zero means unlimited.
	MaxCandidates int `yaml:"max_candidates" json:"max_candidates" validate:"gte=0"`

	// Timeout bounds the execution time of the stage.
	// Zero means no deadline.
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
}

// StageObserver provides observability hooks around a stage. BeforeStage
// may return a derived context, e.g. one carrying a span, which is then
// passed to the stage and to AfterStage.
type StageObserver interface {
	// BeforeStage is called once the input limits have been checked.
	BeforeStage(ctx context.Context, stage string, state domain.State, limits Limits) context.Context

	// AfterStage is called after the stage with its output and timing.
	AfterStage(ctx context.Context, stage string, state domain.State, elapsed time.Duration, err error)
}

// StageGuard enforces input limits and a deadline on the next unit. It
// reads sizes from request-scoped state and holds no mutable state, so one
// guard may serve concurrent runs.
type StageGuard struct {
	limits   Limits
	next     ports.Unit
	observer StageObserver
}

var _ ports.Unit = (*StageGuard)(nil)

// NewStageGuard wraps next. The observer is optional.
func NewStageGuard(limits Limits, next ports.Unit, observer StageObserver) *StageGuard {
	if next == nil {
		panic("stage guard: next unit is required")
	}
	return &StageGuard{
		limits:   limits,
		next:     next,
		observer: observer,
	}
}

// Name returns the name of the wrapped unit so that results and traces
// keep the stage identity.
func (sg *StageGuard) Name() string { return sg.next.Name() }

// Execute checks the input limits, then runs the wrapped unit under the
// configured deadline.
func (sg *StageGuard) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	if err := sg.checkLimits(state); err != nil {
		if sg.observer != nil {
			sg.observer.AfterStage(ctx, sg.Name(), state, 0, err)
		}
		return state, err
	}

	if sg.observer != nil {
		ctx = sg.observer.BeforeStage(ctx, sg.Name(), state, sg.limits)
	}

	if sg.limits.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sg.limits.Timeout)
		defer cancel()
	}

	start := time.Now()
	newState, err := sg.next.Execute(ctx, state)
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("stage %s: %w", sg.Name(), ctx.Err())
	}
	elapsed := time.Since(start)

	if sg.observer != nil {
		sg.observer.AfterStage(ctx, sg.Name(), newState, elapsed, err)
	}
	return newState, err
}

// Validate checks the limits and the wrapped unit.
func (sg *StageGuard) Validate() error {
	if sg.next == nil {
		return fmt.Errorf("stage guard: next unit is required")
	}
	if sg.limits.MaxBallots < 0 {
		return fmt.Errorf("stage guard: max_ballots cannot be negative, got %d", sg.limits.MaxBallots)
	}
	if sg.limits.MaxCandidates < 0 {
		return fmt.Errorf("stage guard: max_candidates cannot be negative, got %d", sg.limits.MaxCandidates)
	}
	if sg.limits.Timeout < 0 {
		return fmt.Errorf("stage guard: timeout cannot be negative, got %s", sg.limits.Timeout)
	}
	return sg.next.Validate()
}

func (sg *StageGuard) checkLimits(state domain.State) error {
	if sg.limits.MaxBallots > 0 {
		if profile, ok := domain.Get(state, domain.KeyProfile); ok && len(profile.Ballots) > sg.limits.MaxBallots {
			return domain.NewLimitExceededError("ballots", sg.limits.MaxBallots, len(profile.Ballots), sg.Name())
		}
	}
	if sg.limits.MaxCandidates > 0 {
		if pool, ok := domain.Get(state, domain.KeyPool); ok && len(pool) > sg.limits.MaxCandidates {
			return domain.NewLimitExceededError("candidates", sg.limits.MaxCandidates, len(pool), sg.Name())
		}
	}
	return nil
}
