package application

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-fairrank/infrastructure/imputation"
	"github.com/ahrav/go-fairrank/infrastructure/middleware"
	"github.com/ahrav/go-fairrank/infrastructure/units"
	"github.com/ahrav/go-fairrank/internal/domain"
	"github.com/ahrav/go-fairrank/internal/ports"
)

// Runner executes loaded jobs. Jobs without units run the standard
// PreFAIR pipeline configured from the job file; jobs with units run
// their compiled graph.
type Runner struct {
	metrics ports.MetricsCollector
	logger  *slog.Logger
}

// NewRunner creates a runner. metrics may be nil.
func NewRunner(metrics ports.MetricsCollector, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{metrics: metrics, logger: logger}
}

// Run executes job and returns its consensus.
func (r *Runner) Run(ctx context.Context, job *Job) (domain.Consensus, error) {
	req, err := job.Config.Request()
	if err != nil {
		return domain.Consensus{}, err
	}

	exec, err := r.executable(job)
	if err != nil {
		return domain.Consensus{}, fmt.Errorf("job %s: %w", job.Config.Metadata.Name, err)
	}
	return RunOn(ctx, exec, req, r.logger)
}

func (r *Runner) executable(job *Job) (ports.Executable, error) {
	if job.Graph != nil {
		return job.Graph, nil
	}

	cfg := job.Config
	opts := []Option{
		WithLogger(r.logger),
		WithLimits(cfg.Limits.StageLimits()),
		WithObserver(middleware.NewOTelStageObserver(r.metrics)),
		WithFairnessReport(),
	}

	policy := cfg.Imputation.Policy
	if policy == "" {
		policy = units.PolicyAuto
	}
	opts = append(opts, WithImputationPolicy(policy))
	if policy != units.PolicyNever {
		impCfg := cfg.Imputation.ImputerConfig()
		impCfg.Metrics = r.metrics
		imputer, err := imputation.New(impCfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithImputer(imputer))
	}

	if cfg.Exposure.Enabled {
		opts = append(opts, WithExposure(cfg.Exposure.ExposureOptions(), cfg.Exposure.FailOnNonConvergence))
	}
	return NewPreFAIR(opts...)
}

// BatchResult pairs a job with its outcome.
type BatchResult struct {
	Job       string
	Consensus domain.Consensus
	Err       error
}

// BatchRunner runs independent jobs concurrently. Jobs share nothing, so a
// failure in one does not cancel the others.
type BatchRunner struct {
	runner *Runner
	limit  int
}

// NewBatchRunner creates a batch runner. A non-positive limit selects
// runtime.NumCPU().
func NewBatchRunner(runner *Runner, limit int) *BatchRunner {
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	return &BatchRunner{runner: runner, limit: limit}
}

// Run executes every job and returns the results in input order. The
// returned error is non-nil only when ctx ends before all jobs started;
// jobs that never started then carry the context error.
func (b *BatchRunner) Run(ctx context.Context, jobs []*Job) ([]BatchResult, error) {
	results := make([]BatchResult, len(jobs))
	for i, job := range jobs {
		results[i].Job = job.Config.Metadata.Name
	}

	g := new(errgroup.Group)
	g.SetLimit(b.limit)
	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(jobs); j++ {
				results[j].Err = err
			}
			_ = g.Wait()
			return results, err
		}
		g.Go(func() error {
			consensus, err := b.runner.Run(ctx, job)
			results[i] = BatchResult{Job: job.Config.Metadata.Name, Consensus: consensus, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}
