package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-fairrank/infrastructure/middleware"
	"github.com/ahrav/go-fairrank/internal/domain"
)

func TestJobConfig_Request(t *testing.T) {
	cfg := &JobConfig{
		Metadata: Metadata{Name: "panel"},
		Input: InputConfig{
			Mode:  "proportional",
			Seats: 2,
			Pool: []CandidateConfig{
				{ID: "a", Group: "G1", Features: []float64{1, 0}},
				{ID: "c", Group: "G2"},
			},
			Ballots: [][]string{{"a", "c"}, {"c"}},
		},
	}

	req, err := cfg.Request()
	require.NoError(t, err)

	assert.Equal(t, "panel", req.JobID)
	assert.Equal(t, domain.FairnessProportional, req.Mode)
	assert.Equal(t, 2, req.Seats)
	assert.Equal(t, domain.NewProfile([]string{"a", "c"}, []string{"c"}), req.Profile)
	assert.Equal(t, []domain.PoolCandidate{
		{ID: "a", Group: "G1", Features: []float64{1, 0}},
		{ID: "c", Group: "G2"},
	}, req.Pool)

	// Features are copied, not aliased.
	req.Pool[0].Features[0] = 9
	assert.Equal(t, 1.0, cfg.Input.Pool[0].Features[0])
}

func TestJobConfig_RequestInvalidMode(t *testing.T) {
	cfg := &JobConfig{Input: InputConfig{Mode: "quota"}}
	_, err := cfg.Request()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidMode)
}

func TestExposureSettings_ExposureOptions(t *testing.T) {
	off := false

	tests := []struct {
		name     string
		settings ExposureSettings
		want     domain.ExposureOptions
	}{
		{
			name:     "defaults",
			settings: ExposureSettings{Enabled: true},
			want:     domain.ExposureOptions{Bound: DefaultExposureBound, PreserveGroupOrder: true},
		},
		{
			name:     "explicit values",
			settings: ExposureSettings{Enabled: true, Bound: 0.95, PreserveGroupOrder: &off, MaxRepositions: 4},
			want:     domain.ExposureOptions{Bound: 0.95, PreserveGroupOrder: false, MaxRepositions: 4},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.settings.ExposureOptions())
		})
	}
}

func TestImputationSettings_ImputerConfig(t *testing.T) {
	cfg := ImputationSettings{}.ImputerConfig()
	assert.Equal(t, "centroid", cfg.Strategy)
	assert.Zero(t, cfg.Timeout)

	cfg = ImputationSettings{
		Strategy:   "borda",
		RateLimit:  5,
		Burst:      2,
		MaxRetries: 3,
		TimeoutMs:  250,

		CircuitBreakerFailures:   4,
		CircuitBreakerCooldownMs: 1500,
	}.ImputerConfig()
	assert.Equal(t, "borda", cfg.Strategy)
	assert.Equal(t, 5.0, cfg.RateLimit)
	assert.Equal(t, 2, cfg.Burst)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
	assert.Equal(t, 4, cfg.CircuitBreakerFailures)
	assert.Equal(t, 1500*time.Millisecond, cfg.CircuitBreakerCooldown)
	assert.Nil(t, cfg.Metrics)
}

func TestLimitsConfig_StageLimits(t *testing.T) {
	got := LimitsConfig{MaxBallots: 100, MaxCandidates: 20, TimeoutSeconds: 3}.StageLimits()
	assert.Equal(t, middleware.Limits{MaxBallots: 100, MaxCandidates: 20, Timeout: 3 * time.Second}, got)
}

func TestJobConfig_UnmarshalYAML(t *testing.T) {
	data := `
version: "1.0.0"
metadata:
  name: hiring-panel
  tags: [fairness]
input:
  mode: EQUAL
  seats: 2
  pool:
    - {id: a, group: G1, features: [1, 0]}
    - {id: c, group: G2}
  ballots:
    - [a, c]
exposure:
  enabled: true
  bound: 0.9
  preserve_group_order: false
imputation:
  policy: always
  strategy: borda
  timeout_ms: 500
limits:
  max_ballots: 1000
units:
  - id: rank
    type: borda
    parameters:
      seats: 2
`
	var cfg JobConfig
	require.NoError(t, yaml.Unmarshal([]byte(data), &cfg))

	assert.Equal(t, "hiring-panel", cfg.Metadata.Name)
	assert.Equal(t, "EQUAL", cfg.Input.Mode)
	assert.Len(t, cfg.Input.Pool, 2)
	assert.Equal(t, []float64{1, 0}, cfg.Input.Pool[0].Features)
	assert.True(t, cfg.Exposure.Enabled)
	require.NotNil(t, cfg.Exposure.PreserveGroupOrder)
	assert.False(t, *cfg.Exposure.PreserveGroupOrder)
	assert.Equal(t, "always", cfg.Imputation.Policy)
	assert.Equal(t, 1000, cfg.Limits.MaxBallots)
	require.Len(t, cfg.Units, 1)
	assert.Equal(t, yaml.MappingNode, cfg.Units[0].Parameters.Kind)
}

func TestValidateSemver(t *testing.T) {
	v, err := NewJobValidator()
	require.NoError(t, err)

	type versioned struct {
		Version string `validate:"semver"`
	}

	tests := []struct {
		version string
		valid   bool
	}{
		{"1.0.0", true},
		{"0.12.3", true},
		{"1.0", false},
		{"v1.0.0", false},
		{"1.0.0-beta", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			err := v.Struct(versioned{Version: tt.version})
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateUnitParameters(t *testing.T) {
	v, err := NewJobValidator()
	require.NoError(t, err)

	node := func(t *testing.T, s string) yaml.Node {
		t.Helper()
		var n yaml.Node
		require.NoError(t, yaml.Unmarshal([]byte(s), &n))
		// Unmarshal wraps the mapping in a document node.
		return *n.Content[0]
	}

	tests := []struct {
		name     string
		unitType string
		params   string
		wantErr  string
	}{
		{name: "valid exposure", unitType: UnitTypeExposure, params: "bound: 0.9\nmax_repositions: 3"},
		{name: "valid borda", unitType: UnitTypeBorda, params: "seats: 4"},
		{name: "valid gate", unitType: UnitTypeImputationGate, params: "policy: never"},
		{name: "unknown key", unitType: UnitTypeExposure, params: "bund: 0.9", wantErr: "failed to decode parameters"},
		{name: "out of range", unitType: UnitTypeExposure, params: "bound: 1.5", wantErr: "parameter validation failed"},
		{name: "bad policy", unitType: UnitTypeImputationGate, params: "policy: sometimes", wantErr: "parameter validation failed"},
		{name: "stv takes none", unitType: UnitTypeGroupAwareSTV, params: "rounds: 3", wantErr: "takes no parameters"},
		{name: "unknown type", unitType: "kemeny_young", params: "a: 1", wantErr: "unknown unit type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUnitParameters(v, tt.unitType, node(t, tt.params))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	assert.NoError(t, ValidateUnitParameters(v, "anything", yaml.Node{}), "absent parameters are always valid")
}
