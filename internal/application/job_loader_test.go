package application

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-fairrank/internal/domain"
	"github.com/ahrav/go-fairrank/internal/ports"
)

// scenarioJob is the two-group panel used across the application tests:
// three voters, four candidates, two seats under EQUAL.
const scenarioJob = `
version: "1.0.0"
metadata:
  name: panel
input:
  mode: EQUAL
  seats: 2
  pool:
    - {id: a, group: G1, features: [1, 0]}
    - {id: b, group: G1, features: [0.9, 0.1]}
    - {id: c, group: G2, features: [0, 1]}
    - {id: d, group: G2, features: [0.1, 0.9]}
  ballots:
    - [a, b, c, d]
    - [b, a, d, c]
    - [c, d, a, b]
`

// graphJob runs the same election through a custom graph with a parallel
// metrics layer after the election.
const graphJob = scenarioJob + `
units:
  - id: rep
    type: representation
    parameters:
      trim_whitespace: true
  - id: quota
    type: quota_planner
  - id: stv
    type: group_aware_stv
  - id: metrics
    type: fairness_metrics
  - id: proportional
    type: fairness_metrics
    parameters:
      mode: PROPORTIONAL
graph:
  pipelines:
    - id: elect
      units: [rep, quota, stv]
  layers:
    - id: report
      units: [metrics, proportional]
  edges:
    - {from: elect, to: report}
`

func newTestLoader(t *testing.T) *JobLoader {
	t.Helper()
	loader, err := NewJobLoader(NewDefaultUnitRegistry(RegistryDeps{}))
	require.NoError(t, err)
	return loader
}

func TestJobLoader_LoadDefaultJob(t *testing.T) {
	loader := newTestLoader(t)

	job, err := loader.LoadFromReader(context.Background(), strings.NewReader(scenarioJob))
	require.NoError(t, err)

	assert.Nil(t, job.Graph, "jobs without units run the standard pipeline")
	assert.Len(t, job.Hash, 64)
	assert.Equal(t, "panel", job.Config.Metadata.Name)
	assert.Len(t, job.Config.Input.Pool, 4)
	assert.Len(t, job.Config.Input.Ballots, 3)
}

func TestJobLoader_LoadGraphJob(t *testing.T) {
	loader := newTestLoader(t)

	job, err := loader.LoadFromReader(context.Background(), strings.NewReader(graphJob))
	require.NoError(t, err)
	require.NotNil(t, job.Graph)

	order, err := job.Graph.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []string{"elect", "report"}, ids(order))

	elect, ok := job.Graph.GetNode("elect")
	require.True(t, ok)
	assert.Equal(t, []string{"rep", "quota", "stv"}, ids(elect.(*Pipeline).Executables()))
}

func TestJobLoader_LayerMergeMode(t *testing.T) {
	loader := newTestLoader(t)

	tests := []struct {
		name  string
		merge string
		want  ports.MergeStrategy
	}{
		{name: "default", want: overlayMergeStrategy{}},
		{name: "overlay", merge: MergeOverlay, want: overlayMergeStrategy{}},
		{name: "strict", merge: MergeStrict, want: overlayMergeStrategy{strict: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := graphJob
			if tt.merge != "" {
				text = strings.Replace(graphJob, "units: [metrics, proportional]",
					"units: [metrics, proportional]\n      merge: "+tt.merge, 1)
			}
			job, err := loader.LoadFromReader(context.Background(), strings.NewReader(text))
			require.NoError(t, err)

			node, ok := job.Graph.GetNode("report")
			require.True(t, ok)
			assert.Equal(t, tt.want, node.(*Layer).mergeStrategy)
		})
	}
}

func TestJobLoader_Cache(t *testing.T) {
	loader := newTestLoader(t)
	ctx := context.Background()

	first, err := loader.LoadFromReader(ctx, strings.NewReader(scenarioJob))
	require.NoError(t, err)

	second, err := loader.LoadFromReader(ctx, strings.NewReader(scenarioJob))
	require.NoError(t, err)
	assert.Same(t, first, second)

	// Formatting does not change the cache key.
	reformatted := strings.ReplaceAll(scenarioJob, "  mode: EQUAL\n", "  mode:    EQUAL\n")
	third, err := loader.LoadFromReader(ctx, strings.NewReader(reformatted))
	require.NoError(t, err)
	assert.Same(t, first, third)

	loader.ClearCache()
	fourth, err := loader.LoadFromReader(ctx, strings.NewReader(scenarioJob))
	require.NoError(t, err)
	assert.NotSame(t, first, fourth)
	assert.Equal(t, first.Hash, fourth.Hash)
}

func TestJobLoader_ConcurrentLoadsShareJob(t *testing.T) {
	loader := newTestLoader(t)

	const workers = 8
	jobs := make([]*Job, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := loader.LoadFromReader(context.Background(), strings.NewReader(graphJob))
			assert.NoError(t, err)
			jobs[i] = job
		}()
	}
	wg.Wait()

	for _, job := range jobs[1:] {
		assert.Same(t, jobs[0], job)
	}
}

func TestJobLoader_Errors(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{
			name:   "unknown field",
			yaml:   strings.Replace(scenarioJob, "  seats: 2\n", "  seats: 2\n  seat: 2\n", 1),
			errMsg: "failed to parse YAML",
		},
		{
			name:   "invalid mode",
			yaml:   strings.Replace(scenarioJob, "mode: EQUAL", "mode: RANDOM", 1),
			errMsg: "struct validation failed",
		},
		{
			name:   "invalid version",
			yaml:   strings.Replace(scenarioJob, `version: "1.0.0"`, `version: "one"`, 1),
			errMsg: "struct validation failed",
		},
		{
			name:   "duplicate pool candidate",
			yaml:   strings.Replace(scenarioJob, "{id: b, group: G1", "{id: a, group: G1", 1),
			errMsg: `duplicate pool candidate "a"`,
		},
		{
			name:   "seats exceed pool",
			yaml:   strings.Replace(scenarioJob, "seats: 2", "seats: 5", 1),
			errMsg: "seats 5 exceed pool size 4",
		},
		{
			name:   "graph without units",
			yaml:   scenarioJob + "graph:\n  edges:\n    - {from: a, to: b}\n",
			errMsg: "graph declared without units",
		},
		{
			name:   "unknown unit parameter",
			yaml:   scenarioJob + "units:\n  - id: epira\n    type: exposure_equalizer\n    parameters:\n      bund: 0.9\n",
			errMsg: "unit epira parameter validation failed",
		},
		{
			name:   "unknown layer merge mode",
			yaml:   strings.Replace(graphJob, "units: [metrics, proportional]", "units: [metrics, proportional]\n      merge: union", 1),
			errMsg: "struct validation failed",
		},
		{
			name:   "unsupported unit type",
			yaml:   scenarioJob + "units:\n  - id: kemeny\n    type: kemeny_young\n",
			errMsg: "struct validation failed",
		},
		{
			name: "pipeline references missing unit",
			yaml: scenarioJob + `
units:
  - id: stv
    type: group_aware_stv
graph:
  pipelines:
    - id: main
      units: [stv, ghost]
`,
			errMsg: "pipeline main references non-existent unit: ghost",
		},
		{
			name: "unit placed twice",
			yaml: scenarioJob + `
units:
  - id: m1
    type: fairness_metrics
  - id: m2
    type: fairness_metrics
graph:
  pipelines:
    - id: first
      units: [m1]
  layers:
    - id: second
      units: [m1, m2]
`,
			errMsg: "unit m1 placed in both first and second",
		},
		{
			name: "duplicate node id",
			yaml: scenarioJob + `
units:
  - id: stv
    type: group_aware_stv
graph:
  pipelines:
    - id: stv
      units: [stv]
`,
			errMsg: `duplicate ID "stv"`,
		},
		{
			name: "edge into pipeline member",
			yaml: scenarioJob + `
units:
  - id: quota
    type: quota_planner
  - id: stv
    type: group_aware_stv
graph:
  pipelines:
    - id: main
      units: [stv]
  edges:
    - {from: quota, to: stv}
`,
			errMsg: "edge target stv is a member of main",
		},
		{
			name: "cycle",
			yaml: scenarioJob + `
units:
  - id: quota
    type: quota_planner
  - id: stv
    type: group_aware_stv
graph:
  edges:
    - {from: quota, to: stv}
    - {from: stv, to: quota}
`,
			errMsg: "would create a cycle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := newTestLoader(t)

			_, err := loader.LoadFromReader(context.Background(), strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)

			var cfgErr *ports.ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, "<reader>", cfgErr.ConfigKey)
		})
	}
}

func TestJobLoader_UnitsNeedRegistry(t *testing.T) {
	loader, err := NewJobLoader(nil)
	require.NoError(t, err)

	_, err = loader.LoadFromReader(context.Background(), strings.NewReader(scenarioJob))
	require.NoError(t, err)

	_, err = loader.LoadFromReader(context.Background(), strings.NewReader(graphJob))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no unit registry")
}

func TestJobLoader_GateWithoutImputer(t *testing.T) {
	loader := newTestLoader(t)

	job := scenarioJob + "units:\n  - id: gate\n    type: imputation_gate\n"
	_, err := loader.LoadFromReader(context.Background(), strings.NewReader(job))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create unit gate")
}

func TestJobLoader_LoadFromFile(t *testing.T) {
	loader := newTestLoader(t)
	dir := t.TempDir()

	path := filepath.Join(dir, "panel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(scenarioJob), 0o600))

	job, err := loader.LoadFromFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "panel", job.Config.Metadata.Name)

	_, err = loader.LoadFromFile(context.Background(), filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrConfigNotFound)

	var cfgErr *ports.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, filepath.Join(dir, "missing.yaml"), cfgErr.ConfigKey)
}

func TestJobLoader_ExampleJob(t *testing.T) {
	loader := newTestLoader(t)

	job, err := loader.LoadFromFile(context.Background(), filepath.Join("..", "..", "examples", "panel.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "hiring-panel", job.Config.Metadata.Name)
	assert.Equal(t, 3, job.Config.Imputation.CircuitBreakerFailures)

	consensus, err := NewRunner(nil, nil).Run(context.Background(), job)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.Candidate{"a", "c"}, consensus.Ranking)
}

func TestJobLoader_CancelledContext(t *testing.T) {
	loader := newTestLoader(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := loader.LoadFromReader(ctx, strings.NewReader(graphJob))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
