package application

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-fairrank/internal/domain"
)

func loadJob(t *testing.T, loader *JobLoader, yamlText string) *Job {
	t.Helper()
	job, err := loader.LoadFromReader(context.Background(), strings.NewReader(yamlText))
	require.NoError(t, err)
	return job
}

func TestRunner_Run(t *testing.T) {
	loader := newTestLoader(t)

	tests := []struct {
		name   string
		job    string
		verify func(t *testing.T, c domain.Consensus)
	}{
		{
			name: "standard pipeline",
			job:  scenarioJob,
			verify: func(t *testing.T, c domain.Consensus) {
				assert.Equal(t, []domain.Candidate{"c", "a"}, c.Ranking)
				require.NotNil(t, c.Report, "the runner always reports fairness")
				assert.Nil(t, c.Exposure)
			},
		},
		{
			name: "standard pipeline with exposure",
			job:  scenarioJob + "exposure:\n  enabled: true\n",
			verify: func(t *testing.T, c domain.Consensus) {
				require.NotNil(t, c.Exposure)
				assert.NotEmpty(t, c.Warnings)
			},
		},
		{
			name: "imputation disabled",
			job:  scenarioJob + "imputation:\n  policy: never\n",
			verify: func(t *testing.T, c domain.Consensus) {
				assert.False(t, c.Imputed)
				assert.Equal(t, []domain.Candidate{"c", "a"}, c.Ranking)
			},
		},
		{
			name: "custom graph",
			job:  graphJob,
			verify: func(t *testing.T, c domain.Consensus) {
				assert.Equal(t, []domain.Candidate{"c", "a"}, c.Ranking)
				require.NotNil(t, c.Report)
				assert.Equal(t, 1.0, c.Report.FairRepresentation)
			},
		},
	}

	runner := NewRunner(nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			consensus, err := runner.Run(context.Background(), loadJob(t, loader, tt.job))
			require.NoError(t, err)
			tt.verify(t, consensus)
		})
	}
}

func TestRunner_RunLimits(t *testing.T) {
	loader := newTestLoader(t)
	job := loadJob(t, loader, scenarioJob+"limits:\n  max_candidates: 3\n")

	_, err := NewRunner(nil, nil).Run(context.Background(), job)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLimitExceeded)
}

func TestBatchRunner_Run(t *testing.T) {
	loader := newTestLoader(t)

	renamed := func(name string) string {
		return strings.Replace(scenarioJob, "name: panel", "name: "+name, 1)
	}
	jobs := []*Job{
		loadJob(t, loader, renamed("first")),
		loadJob(t, loader, strings.Replace(renamed("second"), "seats: 2", "seats: 4", 1)+"limits:\n  max_ballots: 1\n"),
		loadJob(t, loader, renamed("third")),
		loadJob(t, loader, graphJob),
	}

	results, err := NewBatchRunner(NewRunner(nil, nil), 2).Run(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, results, len(jobs))

	assert.Equal(t, []string{"first", "second", "third", "panel"}, []string{
		results[0].Job, results[1].Job, results[2].Job, results[3].Job,
	})

	for _, i := range []int{0, 2, 3} {
		require.NoError(t, results[i].Err, "job %s", results[i].Job)
		assert.Equal(t, []domain.Candidate{"c", "a"}, results[i].Consensus.Ranking)
	}
	assert.ErrorIs(t, results[1].Err, domain.ErrLimitExceeded, "one failing job does not affect the rest")
}

func TestBatchRunner_CancelledContext(t *testing.T) {
	loader := newTestLoader(t)
	job := loadJob(t, loader, scenarioJob)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	second := loadJob(t, loader, strings.Replace(scenarioJob, "name: panel", "name: second", 1))

	results, err := NewBatchRunner(NewRunner(nil, nil), 0).Run(ctx, []*Job{job, second})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 2)

	assert.Equal(t, "panel", results[0].Job)
	assert.Equal(t, "second", results[1].Job)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled, "job %s never ran", r.Job)
		assert.Empty(t, r.Consensus.Ranking)
	}
}
