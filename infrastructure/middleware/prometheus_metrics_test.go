package middleware

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-fairrank/internal/ports"
)

// gathered returns the value of the series of family name whose labels
// include want. Histograms report their sample count.
func gathered(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			got := make(map[string]string)
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			match := true
			for k, v := range want {
				if got[k] != v {
					match = false
					break
				}
			}
			if !match {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("series %s%v not found", name, want)
	return 0
}

func TestNewPrometheusMetrics(t *testing.T) {
	pm := NewPrometheusMetrics(prometheus.NewRegistry())

	assert.NotNil(t, pm.stageLatency)
	assert.NotNil(t, pm.stvRounds)
	assert.NotNil(t, pm.stageOutcomes)
	assert.NotNil(t, pm.electionCounts)
	assert.NotNil(t, pm.fairnessGauges)

	var _ ports.MetricsCollector = pm
}

func TestNewPrometheusMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusMetrics(reg)

	assert.Panics(t, func() { NewPrometheusMetrics(reg) })
}

func TestPrometheusMetrics_RecordLatency(t *testing.T) {
	tests := []struct {
		name     string
		labels   map[string]string
		wantUnit string
	}{
		{name: "with unit label", labels: map[string]string{"unit": "stv"}, wantUnit: "stv"},
		{name: "without unit label", labels: map[string]string{"other": "value"}, wantUnit: "unknown"},
		{name: "with empty unit label", labels: map[string]string{"unit": ""}, wantUnit: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			pm := NewPrometheusMetrics(reg)

			pm.RecordLatency(MetricStageExecution, 100*time.Millisecond, tt.labels)
			pm.RecordLatency(MetricStageExecution, 200*time.Millisecond, tt.labels)

			got := gathered(t, reg, "fairrank_stage_duration_seconds",
				map[string]string{"operation": MetricStageExecution, "unit": tt.wantUnit})
			assert.Equal(t, 2.0, got)
		})
	}
}

func TestPrometheusMetrics_RecordCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	pm := NewPrometheusMetrics(reg)

	pm.RecordCounter(MetricStageRuns, 1, map[string]string{"unit": "stv", "operation": "stv", "status": "error"})
	pm.RecordCounter(MetricStageRuns, 1, map[string]string{"unit": "stv", "operation": "stv"})
	pm.RecordCounter(MetricLimitExceeded, 1, map[string]string{"unit": "stv", "limit": "ballots"})
	pm.RecordCounter(MetricSTVEliminations, 3, map[string]string{"unit": "stv"})
	pm.RecordCounter(MetricSTVEliminations, 2, map[string]string{"unit": "stv"})

	assert.Equal(t, 1.0, gathered(t, reg, "fairrank_stage_runs_total",
		map[string]string{"operation": "stv", "status": "error", "unit": "stv"}))
	assert.Equal(t, 1.0, gathered(t, reg, "fairrank_stage_runs_total",
		map[string]string{"operation": "stv", "status": "success", "unit": "stv"}))
	assert.Equal(t, 1.0, gathered(t, reg, "fairrank_stage_runs_total",
		map[string]string{"operation": "limit_check", "status": "exceeded_ballots"}))
	assert.Equal(t, 5.0, gathered(t, reg, "fairrank_election_events_total",
		map[string]string{"metric": MetricSTVEliminations, "unit": "stv"}))
}

func TestPrometheusMetrics_RecordGaugeAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	pm := NewPrometheusMetrics(reg)

	pm.RecordGauge(MetricExposureRatio, 0.6, map[string]string{"unit": "exposure"})
	pm.RecordGauge(MetricExposureRatio, 0.8, map[string]string{"unit": "exposure"})
	pm.RecordHistogram(MetricSTVRounds, 4, map[string]string{"unit": "stv"})
	pm.RecordHistogram("custom", 0.5, map[string]string{"unit": "stv"})

	assert.Equal(t, 0.8, gathered(t, reg, "fairrank_fairness_state",
		map[string]string{"metric": MetricExposureRatio, "unit": "exposure"}))
	assert.Equal(t, 1.0, gathered(t, reg, "fairrank_stv_rounds", map[string]string{"unit": "stv"}))
	assert.Equal(t, 1.0, gathered(t, reg, "fairrank_stage_duration_seconds",
		map[string]string{"operation": "custom"}))
}
