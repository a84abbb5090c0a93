package middleware

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-fairrank/internal/domain"
	"github.com/ahrav/go-fairrank/internal/ports"
)

var _ StageObserver = (*OTelStageObserver)(nil)

// warningThreshold is the share of a limit at which a warning event is
// added to the span.
const warningThreshold = 0.8

// stageScope is what BeforeStage hands to AfterStage through the context.
type stageScope struct {
	span     trace.Span
	seenKeys map[string]bool
}

type stageScopeKey struct{}

// OTelStageObserver traces stages with OpenTelemetry and reports the
// figures each stage produced to a MetricsCollector. Per-run data travels
// in the context, so one observer may serve concurrent runs.
type OTelStageObserver struct {
	metrics ports.MetricsCollector
	tracer  trace.Tracer
}

// NewOTelStageObserver creates an observer. metrics may be nil.
func NewOTelStageObserver(metrics ports.MetricsCollector) *OTelStageObserver {
	return &OTelStageObserver{
		metrics: metrics,
		tracer:  otel.Tracer("fairrank-pipeline"),
	}
}

// BeforeStage starts a span for the stage and remembers which state keys
// already exist so that AfterStage reports only what the stage added.
func (o *OTelStageObserver) BeforeStage(ctx context.Context, stage string, state domain.State, limits Limits) context.Context {
	ctx, span := o.tracer.Start(ctx, "stage."+stage,
		trace.WithAttributes(attribute.String("stage.name", stage)),
	)

	seen := make(map[string]bool)
	for _, k := range state.Keys() {
		seen[k] = true
	}

	if profile, ok := domain.Get(state, domain.KeyProfile); ok {
		span.SetAttributes(attribute.Int("input.ballots", len(profile.Ballots)))
		checkThreshold(span, "ballots", len(profile.Ballots), limits.MaxBallots)
	}
	if pool, ok := domain.Get(state, domain.KeyPool); ok {
		span.SetAttributes(attribute.Int("input.candidates", len(pool)))
		checkThreshold(span, "candidates", len(pool), limits.MaxCandidates)
	}

	return context.WithValue(ctx, stageScopeKey{}, &stageScope{span: span, seenKeys: seen})
}

// AfterStage ends the span and records latency, outcome and the figures of
// any result the stage added to the state.
func (o *OTelStageObserver) AfterStage(ctx context.Context, stage string, state domain.State, elapsed time.Duration, err error) {
	scope, ok := ctx.Value(stageScopeKey{}).(*stageScope)
	if !ok {
		// Rejected before BeforeStage ran.
		_, span := o.tracer.Start(ctx, "stage."+stage)
		scope = &stageScope{span: span, seenKeys: map[string]bool{}}
	}
	span := scope.span
	defer span.End()

	labels := map[string]string{"unit": stage}
	if o.metrics != nil {
		o.metrics.RecordLatency(MetricStageExecution, elapsed, labels)
	}

	if err != nil {
		span.RecordError(err)
		var lerr *domain.LimitExceededError
		if errors.As(err, &lerr) {
			span.AddEvent("limit.exceeded", trace.WithAttributes(
				attribute.String("limit", lerr.Limit),
				attribute.Int("max", lerr.Max),
				attribute.Int("actual", lerr.Actual),
			))
			span.SetStatus(codes.Error, "input limit exceeded")
			o.count(MetricLimitExceeded, 1, map[string]string{"unit": stage, "limit": lerr.Limit})
		} else {
			span.SetStatus(codes.Error, err.Error())
		}
		o.count(MetricStageRuns, 1, map[string]string{"unit": stage, "operation": stage, "status": "error"})
		return
	}

	o.reportResults(span, state, scope.seenKeys, labels)
	o.count(MetricStageRuns, 1, map[string]string{"unit": stage, "operation": stage, "status": "success"})
	span.SetStatus(codes.Ok, "")
}

func (o *OTelStageObserver) reportResults(span trace.Span, state domain.State, seen map[string]bool, labels map[string]string) {
	if plan, ok := newValue(state, domain.KeyQuotaPlan, seen); ok {
		span.SetAttributes(
			attribute.String("quota.mode", plan.Mode.String()),
			attribute.Int("quota.seats", plan.Quotas.Seats()),
			attribute.Bool("quota.fell_back", plan.FellBack),
		)
		fallback := 0.0
		if plan.FellBack {
			fallback = 1
			span.AddEvent("quota.fallback")
		}
		o.gauge(MetricQuotaFallback, fallback, labels)
	}

	if imputed, ok := newValue(state, domain.KeyImputed, seen); ok {
		span.SetAttributes(attribute.Bool("imputation.applied", imputed))
		if imputed {
			o.count(MetricImputations, 1, labels)
		}
	}

	if res, ok := newValue(state, domain.KeySTVResult, seen); ok {
		span.SetAttributes(
			attribute.Float64("stv.droop_quota", res.DroopQuota),
			attribute.Int("stv.rounds", len(res.Rounds)),
			attribute.Int("stv.eliminations", res.Eliminations()),
		)
		if o.metrics != nil {
			o.metrics.RecordHistogram(MetricSTVRounds, float64(len(res.Rounds)), labels)
		}
		o.count(MetricSTVEliminations, float64(res.Eliminations()), labels)
	}

	if exp, ok := newValue(state, domain.KeyExposure, seen); ok {
		span.SetAttributes(
			attribute.Float64("exposure.initial_ratio", exp.InitialRatio),
			attribute.Float64("exposure.ratio", exp.Ratio),
			attribute.Int("exposure.repositions", exp.Repositions),
			attribute.Bool("exposure.converged", exp.Converged),
		)
		converged := 1.0
		if !exp.Converged {
			converged = 0
			span.AddEvent("exposure.nonconvergence", trace.WithAttributes(
				attribute.Float64("ratio", exp.Ratio),
			))
		}
		o.gauge(MetricExposureRatio, exp.Ratio, labels)
		o.gauge(MetricExposureConverged, converged, labels)
		o.count(MetricExposureRepositions, float64(exp.Repositions), labels)
	}
}

func (o *OTelStageObserver) count(metric string, value float64, labels map[string]string) {
	if o.metrics != nil {
		o.metrics.RecordCounter(metric, value, labels)
	}
}

func (o *OTelStageObserver) gauge(metric string, value float64, labels map[string]string) {
	if o.metrics != nil {
		o.metrics.RecordGauge(metric, value, labels)
	}
}

// newValue returns the value under key when the stage added it.
func newValue[T any](state domain.State, key domain.Key[T], seen map[string]bool) (T, bool) {
	var zero T
	if seen[key.Name()] {
		return zero, false
	}
	return domain.Get(state, key)
}

func checkThreshold(span trace.Span, resource string, used, limit int) {
	if limit <= 0 {
		return
	}
	if share := float64(used) / float64(limit); share >= warningThreshold {
		span.AddEvent("limit.threshold.warning", trace.WithAttributes(
			attribute.String("resource_type", resource),
			attribute.Float64("usage_percentage", share*100),
		))
	}
}
