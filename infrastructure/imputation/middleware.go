package imputation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-fairrank/internal/domain"
	"github.com/ahrav/go-fairrank/internal/ports"
)

// Middleware wraps an Imputer with a cross-cutting concern.
type Middleware func(ports.Imputer) ports.Imputer

// Chain applies middlewares so that the first one is the outermost.
func Chain(imp ports.Imputer, mws ...Middleware) ports.Imputer {
	for i := len(mws) - 1; i >= 0; i-- {
		imp = mws[i](imp)
	}
	return imp
}

// rateLimitedImputer paces calls with a token bucket, which matters for
// imputers backed by remote models.
type rateLimitedImputer struct {
	next    ports.Imputer
	limiter *rate.Limiter
}

// RateLimitMiddleware allows limit calls per second with the given burst.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(limit, burst)

	return func(next ports.Imputer) ports.Imputer {
		return &rateLimitedImputer{next: next, limiter: limiter}
	}
}

// Impute waits for a token before forwarding the call.
func (r *rateLimitedImputer) Impute(ctx context.Context, profile domain.Profile, pool []domain.PoolCandidate) (domain.Profile, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return domain.Profile{}, ports.NewImputationError(r.Name(), -1, fmt.Errorf("%w: %v", ports.ErrRateLimited, err))
	}
	return r.next.Impute(ctx, profile, pool)
}

// Name returns the wrapped imputer's name.
func (r *rateLimitedImputer) Name() string { return r.next.Name() }

// retryImputer retries transient failures with exponential backoff.
type retryImputer struct {
	next       ports.Imputer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// RetryMiddleware retries calls whose error is a retryable
// ImputationError, up to maxRetries extra attempts.
func RetryMiddleware(maxRetries int, baseDelay, maxDelay time.Duration) Middleware {
	return func(next ports.Imputer) ports.Imputer {
		return &retryImputer{
			next:       next,
			maxRetries: maxRetries,
			baseDelay:  baseDelay,
			maxDelay:   maxDelay,
		}
	}
}

// Impute calls the wrapped imputer until it succeeds, fails permanently,
// or the retry budget runs out.
func (r *retryImputer) Impute(ctx context.Context, profile domain.Profile, pool []domain.PoolCandidate) (domain.Profile, error) {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		out, err := r.next.Impute(ctx, profile, pool)
		if err == nil {
			return out, nil
		}
		lastErr = err

		var ie *ports.ImputationError
		if !errors.As(err, &ie) || !ie.IsRetryable() || ctx.Err() != nil {
			return domain.Profile{}, err
		}
		if attempt == r.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return domain.Profile{}, ctx.Err()
		case <-time.After(r.calculateDelay(attempt)):
		}
	}

	return domain.Profile{}, fmt.Errorf("imputation failed after %d attempts: %w", r.maxRetries+1, lastErr)
}

// Name returns the wrapped imputer's name.
func (r *retryImputer) Name() string { return r.next.Name() }

func (r *retryImputer) calculateDelay(attempt int) time.Duration {
	attempt = min(max(attempt, 0), 30)
	// #nosec G115 - attempt is bounded between 0 and 30
	delay := r.baseDelay * time.Duration(1<<uint(attempt))

	// Jitter of +/-25%.
	// #nosec G404 - weak RNG is fine for jitter
	jitter := time.Duration(rand.Float64() * float64(delay) * 0.5)
	delay = delay + jitter - delay/4

	return min(delay, r.maxDelay)
}

// timeoutImputer bounds the duration of a single call.
type timeoutImputer struct {
	next    ports.Imputer
	timeout time.Duration
}

// TimeoutMiddleware cancels calls that run longer than timeout.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next ports.Imputer) ports.Imputer {
		return &timeoutImputer{next: next, timeout: timeout}
	}
}

// Impute forwards the call under a deadline.
func (t *timeoutImputer) Impute(ctx context.Context, profile domain.Profile, pool []domain.PoolCandidate) (domain.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Impute(ctx, profile, pool)
}

// Name returns the wrapped imputer's name.
func (t *timeoutImputer) Name() string { return t.next.Name() }

// tracedImputer records each call in an OpenTelemetry span.
type tracedImputer struct {
	next   ports.Imputer
	tracer trace.Tracer
}

// TracingMiddleware wraps calls in "imputation.impute" spans.
func TracingMiddleware() Middleware {
	tracer := otel.Tracer("fairrank-imputation")
	return func(next ports.Imputer) ports.Imputer {
		return &tracedImputer{next: next, tracer: tracer}
	}
}

// Impute forwards the call inside a span.
func (t *tracedImputer) Impute(ctx context.Context, profile domain.Profile, pool []domain.PoolCandidate) (domain.Profile, error) {
	ctx, span := t.tracer.Start(ctx, "imputation.impute",
		trace.WithAttributes(
			attribute.String("imputer.name", t.next.Name()),
			attribute.Int("profile.ballots", len(profile.Ballots)),
			attribute.Int("pool.size", len(pool)),
		),
	)
	defer span.End()

	out, err := t.next.Impute(ctx, profile, pool)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, err
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}

// Name returns the wrapped imputer's name.
func (t *tracedImputer) Name() string { return t.next.Name() }

// metricsImputer reports latency and outcome of every call.
type metricsImputer struct {
	next      ports.Imputer
	collector ports.MetricsCollector
}

// MetricsMiddleware records each call as an "imputation" operation with
// a success, error or circuit_open status.
func MetricsMiddleware(collector ports.MetricsCollector) Middleware {
	return func(next ports.Imputer) ports.Imputer {
		return &metricsImputer{next: next, collector: collector}
	}
}

// Impute forwards the call and records its latency and status.
func (m *metricsImputer) Impute(ctx context.Context, profile domain.Profile, pool []domain.PoolCandidate) (domain.Profile, error) {
	start := time.Now()
	out, err := m.next.Impute(ctx, profile, pool)

	status := "success"
	switch {
	case errors.Is(err, ErrCircuitOpen):
		status = "circuit_open"
	case err != nil:
		status = "error"
	}
	labels := map[string]string{"unit": m.next.Name()}
	m.collector.RecordLatency("imputation", time.Since(start), labels)
	m.collector.RecordCounter("stage_runs_total", 1, map[string]string{
		"operation": "imputation",
		"status":    status,
		"unit":      m.next.Name(),
	})
	return out, err
}

// Name returns the wrapped imputer's name.
func (m *metricsImputer) Name() string { return m.next.Name() }
