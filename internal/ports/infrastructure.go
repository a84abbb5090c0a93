package ports

import (
	"context"
	"time"

	"github.com/ahrav/go-fairrank/internal/domain"
)

// RepresentationExtractor derives group membership and per-group counts
// from the candidate pool and the preference profile.
type RepresentationExtractor interface {
	// Extract returns the group map of the pool along with its pool and
	// profile counts. It fails when the profile ranks a candidate that is
	// not in the pool.
	Extract(profile domain.Profile, pool []domain.PoolCandidate) (domain.Representation, error)
}

// Imputer completes partial ballots into total orders over the pool.
// Implementations range from similarity heuristics to learned models and
// may call remote services, hence the context.
type Imputer interface {
	// Impute returns a profile in which every ballot ranks every pool
	// candidate. Each ballot's existing prefix must be kept as is.
	Impute(ctx context.Context, profile domain.Profile, pool []domain.PoolCandidate) (domain.Profile, error)

	// Name identifies the imputation strategy for logging and tracing.
	Name() string
}

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations integrate with observability platforms such as
// Prometheus.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric, e.g. STV eliminations or
	// failed runs.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric, e.g. the
	// achieved exposure ratio.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram, e.g. the number of
	// STV rounds.
	RecordHistogram(metric string, value float64, labels map[string]string)
}
