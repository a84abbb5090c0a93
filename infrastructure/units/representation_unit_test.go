package units

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-fairrank/internal/domain"
	"github.com/ahrav/go-fairrank/internal/ports"
)

func TestRepresentationUnit_FoldGroupLabels(t *testing.T) {
	state := domain.NewState().WithMultiple(map[string]any{
		domain.KeyProfile.Name(): domain.NewProfile([]string{"a", "b"}),
		domain.KeyPool.Name(): []domain.PoolCandidate{
			{ID: "a", Group: "Female"},
			{ID: "b", Group: "female"},
			{ID: "c", Group: "Male"},
		},
	})

	tests := []struct {
		name       string
		config     map[string]any
		wantGroups int
	}{
		{name: "labels kept as written", config: nil, wantGroups: 3},
		{name: "labels folded", config: map[string]any{"fold_group_labels": true}, wantGroups: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unit, err := NewRepresentationFromConfig("representation", tt.config, nil)
			require.NoError(t, err)
			require.NoError(t, unit.Validate())

			out, err := unit.Execute(context.Background(), state)
			require.NoError(t, err)

			rep, ok := domain.Get(out, domain.KeyRepresentation)
			require.True(t, ok)
			assert.Len(t, rep.PoolCounts, tt.wantGroups)
			assert.Len(t, rep.Groups, 3)
		})
	}
}

func TestRepresentationUnit_UnknownCandidate(t *testing.T) {
	unit, err := NewRepresentationUnit("representation", DefaultRepresentationConfig(), nil)
	require.NoError(t, err)

	state := domain.NewState().WithMultiple(map[string]any{
		domain.KeyProfile.Name(): domain.NewProfile([]string{"alice", "bobb"}),
		domain.KeyPool.Name(): []domain.PoolCandidate{
			{ID: "alice", Group: "G1"},
			{ID: "bob", Group: "G2"},
		},
	})

	_, err = unit.Execute(context.Background(), state)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrUnknownCandidate)
	assert.Contains(t, err.Error(), "bob")
}

func TestRepresentationUnit_UnmarshalParameters(t *testing.T) {
	unit, err := NewRepresentationUnit("representation", DefaultRepresentationConfig(), nil)
	require.NoError(t, err)

	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("fold_group_labels: true\n"), &node))
	require.NoError(t, unit.UnmarshalParameters(*node.Content[0]))
	assert.True(t, unit.config.FoldGroupLabels)
	assert.False(t, unit.config.TrimWhitespace)
}

func TestNewGroupAwareSTVFromConfig(t *testing.T) {
	u, err := NewGroupAwareSTVFromConfig("stv", nil)
	require.NoError(t, err)
	assert.Equal(t, "stv", u.Name())
	assert.NoError(t, u.Validate())

	_, err = NewGroupAwareSTVFromConfig("stv", map[string]any{"rounds": 3})
	assert.Error(t, err)
}

func TestFairnessMetricsUnit_ModeOverride(t *testing.T) {
	groups := domain.GroupMap{"a": "G1", "b": "G1", "c": "G2"}
	state := domain.NewState().WithMultiple(map[string]any{
		domain.KeyRanking.Name(): []domain.Candidate{"a", "c"},
		domain.KeyRepresentation.Name(): domain.Representation{
			Groups:        groups,
			PoolCounts:    groups.Counts(),
			ProfileCounts: groups.Counts(),
		},
		domain.KeyFairnessMode.Name(): domain.FairnessProportional,
	})

	unit, err := NewFairnessMetricsFromConfig("metrics", map[string]any{"mode": "equal"})
	require.NoError(t, err)

	out, err := unit.Execute(context.Background(), state)
	require.NoError(t, err)

	report, ok := domain.Get(out, domain.KeyFairnessReport)
	require.True(t, ok)
	assert.InDelta(t, 0, report.KL, 1e-5, "An even split matches the EQUAL target exactly.")
}
