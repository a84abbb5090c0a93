package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-fairrank/infrastructure/middleware"
	"github.com/ahrav/go-fairrank/infrastructure/units"
	"github.com/ahrav/go-fairrank/internal/domain"
	"github.com/ahrav/go-fairrank/internal/ports"
)

// Request is one fair consensus problem.
type Request struct {
	// JobID labels logs, spans and metrics. It may be empty.
	JobID   string
	Profile domain.Profile
	Pool    []domain.PoolCandidate
	Mode    domain.FairnessMode
	Seats   int
}

// PreFAIR runs the fair consensus pipeline: representation, quota
// planning, the imputation gate, group-aware STV and, when enabled,
// exposure equalization and fairness reporting. The pipeline is built once
// and is safe for concurrent runs.
type PreFAIR struct {
	extractor ports.RepresentationExtractor
	imputer   ports.Imputer
	policy    string
	exposure  *units.ExposureConfig
	report    bool
	limits    middleware.Limits
	observer  middleware.StageObserver
	logger    *slog.Logger

	pipeline *Pipeline
}

// Option configures a PreFAIR orchestrator.
type Option func(*PreFAIR)

// WithExtractor replaces the built-in representation extractor.
func WithExtractor(extractor ports.RepresentationExtractor) Option {
	return func(p *PreFAIR) { p.extractor = extractor }
}

// WithImputer sets the imputer used when a group is under-represented.
func WithImputer(imputer ports.Imputer) Option {
	return func(p *PreFAIR) { p.imputer = imputer }
}

// WithImputationPolicy sets the gate policy: units.PolicyAuto (default),
// units.PolicyAlways or units.PolicyNever.
func WithImputationPolicy(policy string) Option {
	return func(p *PreFAIR) { p.policy = policy }
}

// WithExposure appends EPIRA to the pipeline. With failOnNonConvergence
// unset, a missed bound becomes a warning on the consensus.
func WithExposure(opts domain.ExposureOptions, failOnNonConvergence bool) Option {
	return func(p *PreFAIR) {
		p.exposure = &units.ExposureConfig{
			Bound:                opts.Bound,
			PreserveGroupOrder:   opts.PreserveGroupOrder,
			MaxRepositions:       opts.MaxRepositions,
			FailOnNonConvergence: failOnNonConvergence,
		}
	}
}

// WithFairnessReport appends the fairness metrics stage.
func WithFairnessReport() Option {
	return func(p *PreFAIR) { p.report = true }
}

// WithLimits bounds the input size and running time of every stage.
func WithLimits(limits middleware.Limits) Option {
	return func(p *PreFAIR) { p.limits = limits }
}

// WithObserver attaches stage hooks, typically a
// middleware.OTelStageObserver.
func WithObserver(observer middleware.StageObserver) Option {
	return func(p *PreFAIR) { p.observer = observer }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(p *PreFAIR) { p.logger = logger }
}

// NewPreFAIR builds the orchestrator and validates its stages.
func NewPreFAIR(opts ...Option) (*PreFAIR, error) {
	p := &PreFAIR{policy: units.PolicyAuto}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	if p.imputer == nil && p.policy != units.PolicyNever {
		p.logger.Info("no imputer configured, imputation disabled")
		p.policy = units.PolicyNever
	}

	pipeline, err := p.buildPipeline()
	if err != nil {
		return nil, err
	}
	p.pipeline = pipeline
	return p, nil
}

func (p *PreFAIR) buildPipeline() (*Pipeline, error) {
	var stages []ports.Unit

	rep, err := units.NewRepresentationUnit(UnitTypeRepresentation, units.DefaultRepresentationConfig(), p.extractor)
	if err != nil {
		return nil, err
	}
	quota, err := units.NewQuotaPlannerUnit(UnitTypeQuotaPlanner, units.QuotaPlannerConfig{})
	if err != nil {
		return nil, err
	}
	gate, err := units.NewImputationGateUnit(UnitTypeImputationGate, units.ImputationGateConfig{Policy: p.policy}, p.imputer)
	if err != nil {
		return nil, err
	}
	stv, err := units.NewGroupAwareSTVUnit(UnitTypeGroupAwareSTV)
	if err != nil {
		return nil, err
	}
	stages = append(stages, rep, quota, gate, stv)

	if p.exposure != nil {
		exposure, err := units.NewExposureUnit(UnitTypeExposure, *p.exposure)
		if err != nil {
			return nil, err
		}
		stages = append(stages, exposure)
	}
	if p.report {
		metrics, err := units.NewFairnessMetricsUnit(UnitTypeFairnessMetrics, units.FairnessMetricsConfig{})
		if err != nil {
			return nil, err
		}
		stages = append(stages, metrics)
	}

	pipeline := NewPipeline("prefair")
	for _, stage := range stages {
		guarded := middleware.NewStageGuard(p.limits, stage, p.observer)
		if err := guarded.Validate(); err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
		if err := pipeline.Add(NewUnitAdapter(guarded, stage.Name())); err != nil {
			return nil, err
		}
	}
	return pipeline, nil
}

// Run computes the fair consensus for req. Quota, imputation and STV
// failures are returned as errors; a missed exposure bound is only a
// warning unless the orchestrator was told to fail on it.
func (p *PreFAIR) Run(ctx context.Context, req Request) (domain.Consensus, error) {
	return RunOn(ctx, p.pipeline, req, p.logger)
}

// ID identifies the orchestrator when it is used as an executable.
func (p *PreFAIR) ID() string { return p.pipeline.ID() }

// Execute runs the pipeline on a prepared state.
func (p *PreFAIR) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	return p.pipeline.Execute(ctx, state)
}

// RunOn executes any stage graph on the state derived from req and
// assembles the consensus from the resulting state.
func RunOn(ctx context.Context, exec ports.Executable, req Request, logger *slog.Logger) (domain.Consensus, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	executionID := uuid.NewString()
	logger = logger.With(
		slog.String("job_id", req.JobID),
		slog.String("execution_id", executionID),
	)

	start := time.Now()
	logger.Info("consensus run started",
		slog.Int("ballots", len(req.Profile.Ballots)),
		slog.Int("candidates", len(req.Pool)),
		slog.String("mode", req.Mode.String()),
		slog.Int("seats", req.Seats),
	)

	state := NewRequestState(req).WithExecutionContext(domain.ExecutionContext{
		JobID:       req.JobID,
		ExecutionID: executionID,
	})

	out, err := exec.Execute(ctx, state)
	if err != nil {
		logFailure(logger, err)
		return domain.Consensus{}, err
	}

	consensus, err := AssembleConsensus(out)
	if err != nil {
		logger.Error("consensus run produced no ranking", slog.Any("error", err))
		return domain.Consensus{}, err
	}
	consensus.ID = executionID

	for _, w := range consensus.Warnings {
		logger.Warn("consensus warning", slog.String("warning", w))
	}
	logger.Info("consensus run finished",
		slog.Any("ranking", consensus.Ranking),
		slog.Bool("imputed", consensus.Imputed),
		slog.Duration("elapsed", time.Since(start)),
	)
	return consensus, nil
}

// NewRequestState seeds a state with the inputs of req.
func NewRequestState(req Request) domain.State {
	return domain.NewState().WithMultiple(map[string]any{
		domain.KeyProfile.Name():      req.Profile,
		domain.KeyPool.Name():         req.Pool,
		domain.KeyFairnessMode.Name(): req.Mode,
		domain.KeySeats.Name():        req.Seats,
	})
}

// ErrNoRanking is returned when a stage graph finishes without producing
// a ranking.
var ErrNoRanking = errors.New("no ranking produced")

// AssembleConsensus collects the outputs of a finished run.
func AssembleConsensus(state domain.State) (domain.Consensus, error) {
	ranking, ok := domain.Get(state, domain.KeyRanking)
	if !ok {
		return domain.Consensus{}, ErrNoRanking
	}

	c := domain.Consensus{
		Ranking:   ranking,
		Timestamp: time.Now(),
	}
	c.Plan, _ = domain.Get(state, domain.KeyQuotaPlan)
	c.Imputed, _ = domain.Get(state, domain.KeyImputed)
	c.Election, _ = domain.Get(state, domain.KeySTVResult)
	if exposure, ok := domain.Get(state, domain.KeyExposure); ok {
		c.Exposure = &exposure
	}
	if report, ok := domain.Get(state, domain.KeyFairnessReport); ok {
		c.Report = &report
	}
	if warnings, ok := domain.Get(state, domain.KeyWarnings); ok && len(warnings) > 0 {
		c.Warnings = warnings
	}
	return c, nil
}

func logFailure(logger *slog.Logger, err error) {
	attrs := []any{slog.Any("error", err)}

	var ee *domain.ElectionError
	if errors.As(err, &ee) {
		attrs = append(attrs, slog.String("stage", ee.Stage))
		if ee.Round > 0 {
			attrs = append(attrs, slog.Int("round", ee.Round))
		}
	}
	var le *domain.LimitExceededError
	if errors.As(err, &le) {
		attrs = append(attrs, slog.String("limit", le.Limit), slog.Int("max", le.Max), slog.Int("actual", le.Actual))
	}
	logger.Error("consensus run failed", attrs...)
}
