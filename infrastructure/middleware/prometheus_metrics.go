// Package middleware provides cross-cutting concerns for the consensus
// pipeline: stage guards, tracing and metrics.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-fairrank/internal/ports"
)

// Metric names understood by PrometheusMetrics. Names outside this list
// fall into the generic vectors.
const (
	MetricStageExecution      = "stage_execution"
	MetricStageRuns           = "stage_runs_total"
	MetricLimitExceeded       = "limit_exceeded_total"
	MetricSTVRounds           = "stv_rounds"
	MetricSTVEliminations     = "stv_eliminations"
	MetricExposureRepositions = "exposure_repositions"
	MetricExposureRatio       = "exposure_ratio"
	MetricExposureConverged   = "exposure_converged"
	MetricQuotaFallback       = "quota_fallback"
	MetricImputations         = "imputations"
)

// PrometheusMetrics implements the MetricsCollector interface using Prometheus.
// It tracks stage latency and outcomes along with the election and
// exposure figures of each run.
type PrometheusMetrics struct {
	stageLatency   *prometheus.HistogramVec
	stvRounds      *prometheus.HistogramVec
	stageOutcomes  *prometheus.CounterVec
	electionCounts *prometheus.CounterVec
	fairnessGauges *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a PrometheusMetrics instance and registers
// its collectors with reg. A nil reg uses the default registerer.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		stageLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fairrank_stage_duration_seconds",
				Help:    "Execution time of consensus pipeline stages.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "unit"},
		),
		stvRounds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fairrank_stv_rounds",
				Help:    "Number of recorded rounds per STV election.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"unit"},
		),
		stageOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairrank_stage_runs_total",
				Help: "Total number of stage executions by outcome.",
			},
			[]string{"operation", "status", "unit"},
		),
		electionCounts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairrank_election_events_total",
				Help: "Counts of election and exposure events such as eliminations and repositions.",
			},
			[]string{"metric", "unit"},
		),
		fairnessGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fairrank_fairness_state",
				Help: "Latest fairness figures such as the achieved exposure ratio.",
			},
			[]string{"metric", "unit"},
		),
	}
}

// RecordLatency implements the MetricsCollector interface by recording
// execution latency in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, labels map[string]string) {
	pm.stageLatency.WithLabelValues(operation, unitLabel(labels)).Observe(duration.Seconds())
}

// RecordCounter implements the MetricsCollector interface by incrementing
// Prometheus counters.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	unit := unitLabel(labels)

	switch metric {
	case MetricStageRuns:
		status := labels["status"]
		if status == "" {
			status = "success"
		}
		pm.stageOutcomes.WithLabelValues(labels["operation"], status, unit).Add(value)
	case MetricLimitExceeded:
		pm.stageOutcomes.WithLabelValues("limit_check", "exceeded_"+labels["limit"], unit).Add(value)
	default:
		pm.electionCounts.WithLabelValues(metric, unit).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface by setting
// Prometheus gauge values.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, labels map[string]string) {
	pm.fairnessGauges.WithLabelValues(metric, unitLabel(labels)).Set(value)
}

// RecordHistogram implements the MetricsCollector interface by recording
// values in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	unit := unitLabel(labels)
	if metric == MetricSTVRounds {
		pm.stvRounds.WithLabelValues(unit).Observe(value)
		return
	}
	pm.stageLatency.WithLabelValues(metric, unit).Observe(value)
}

func unitLabel(labels map[string]string) string {
	if unit := labels["unit"]; unit != "" {
		return unit
	}
	return "unknown"
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
