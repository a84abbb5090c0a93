package domain

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewState verifies that a new State instance is initialized correctly.
func TestNewState(t *testing.T) {
	state := NewState()

	assert.NotNil(t, state.data, "NewState() should initialize the data map.")
	assert.Empty(t, state.data, "NewState() should create an empty state.")
}

func TestState_Get(t *testing.T) {
	tests := []struct {
		name   string
		setup  func() State
		assert func(t *testing.T, state State)
	}{
		{
			name: "get existing int value",
			setup: func() State {
				return With(NewState(), KeySeats, 4)
			},
			assert: func(t *testing.T, state State) {
				got, ok := Get(state, KeySeats)
				assert.True(t, ok, "Get() should find an existing key.")
				assert.Equal(t, 4, got)
			},
		},
		{
			name:  "get non-existent key",
			setup: NewState,
			assert: func(t *testing.T, state State) {
				_, ok := Get(state, KeySeats)
				assert.False(t, ok, "Get() should not find a non-existent key.")
			},
		},
		{
			name: "get profile",
			setup: func() State {
				return With(NewState(), KeyProfile, NewProfile([]string{"a", "b"}, []string{"b"}))
			},
			assert: func(t *testing.T, state State) {
				got, ok := Get(state, KeyProfile)
				require.True(t, ok)
				require.Len(t, got.Ballots, 2)
				assert.Equal(t, Ballot{"a", "b"}, got.Ballots[0])
				assert.Equal(t, Ballot{"b"}, got.Ballots[1])
			},
		},
		{
			name: "get quota plan",
			setup: func() State {
				plan := QuotaPlan{Quotas: Quotas{"G1": 2, "G2": 1}, Mode: FairnessEqual, RequestedSeats: 3}
				return With(NewState(), KeyQuotaPlan, plan)
			},
			assert: func(t *testing.T, state State) {
				got, ok := Get(state, KeyQuotaPlan)
				require.True(t, ok)
				assert.Equal(t, Quotas{"G1": 2, "G2": 1}, got.Quotas)
				assert.Equal(t, FairnessEqual, got.Mode)
				assert.Equal(t, 3, got.Quotas.Seats())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.assert(t, tt.setup())
		})
	}
}

func TestState_With(t *testing.T) {
	original := NewState()

	updated := With(original, KeyFairnessMode, FairnessEqual)

	_, ok := Get(original, KeyFairnessMode)
	assert.False(t, ok, "With() should not modify the original state.")

	got, ok := Get(updated, KeyFairnessMode)
	require.True(t, ok)
	assert.Equal(t, FairnessEqual, got)

	updated2 := With(updated, KeyFairnessMode, FairnessProportional)
	v, _ := Get(updated, KeyFairnessMode)
	assert.Equal(t, FairnessEqual, v, "With() should not modify the previous state when updating.")
	v2, _ := Get(updated2, KeyFairnessMode)
	assert.Equal(t, FairnessProportional, v2)
}

func TestState_WithMultiple(t *testing.T) {
	original := NewState()

	updated := original.WithMultiple(map[string]any{
		KeySeats.Name():        3,
		KeyFairnessMode.Name(): FairnessProportional,
		KeyRanking.Name():      []Candidate{"a", "b", "c"},
	})

	assert.Empty(t, original.Keys(), "WithMultiple() should not modify the original state.")

	seats, ok := Get(updated, KeySeats)
	require.True(t, ok)
	assert.Equal(t, 3, seats)

	ranking, ok := Get(updated, KeyRanking)
	require.True(t, ok)
	assert.Equal(t, []Candidate{"a", "b", "c"}, ranking)
}

func TestState_Keys(t *testing.T) {
	state := With(With(NewState(), KeySeats, 2), KeyImputed, true)

	keys := state.Keys()
	assert.ElementsMatch(t, []string{"seats", "imputed"}, keys)

	keys[0] = "mutated"
	assert.ElementsMatch(t, []string{"seats", "imputed"}, state.Keys(), "Keys() should return a copy.")
}

// TestState_DeepCopy ensures that values stored in and read from a State
// cannot be used to mutate it.
func TestState_DeepCopy(t *testing.T) {
	t.Run("slice stored by With", func(t *testing.T) {
		ranking := []Candidate{"a", "b"}
		state := With(NewState(), KeyRanking, ranking)
		ranking[0] = "z"

		got, _ := Get(state, KeyRanking)
		assert.Equal(t, []Candidate{"a", "b"}, got)
	})

	t.Run("slice returned by Get", func(t *testing.T) {
		state := With(NewState(), KeyRanking, []Candidate{"a", "b"})
		got, _ := Get(state, KeyRanking)
		got[0] = "z"

		again, _ := Get(state, KeyRanking)
		assert.Equal(t, Candidate("a"), again[0])
	})

	t.Run("nested profile ballots", func(t *testing.T) {
		p := NewProfile([]string{"a", "b"})
		state := With(NewState(), KeyProfile, p)
		p.Ballots[0][0] = "z"

		got, _ := Get(state, KeyProfile)
		assert.Equal(t, Candidate("a"), got.Ballots[0][0])
	})

	t.Run("representation maps", func(t *testing.T) {
		rep := Representation{
			Groups:        GroupMap{"a": "G1", "b": "G2"},
			PoolCounts:    GroupCounts{"G1": 1, "G2": 1},
			ProfileCounts: GroupCounts{"G1": 1, "G2": 0},
		}
		state := With(NewState(), KeyRepresentation, rep)
		rep.Groups["a"] = "G2"
		rep.PoolCounts["G1"] = 99

		got, _ := Get(state, KeyRepresentation)
		assert.Equal(t, GroupID("G1"), got.Groups["a"])
		assert.Equal(t, 1, got.PoolCounts["G1"])
	})

	t.Run("pool features", func(t *testing.T) {
		pool := []PoolCandidate{{ID: "a", Group: "G1", Features: []float64{1, 2}}}
		state := With(NewState(), KeyPool, pool)
		pool[0].Features[0] = 42

		got, _ := Get(state, KeyPool)
		assert.Equal(t, []float64{1, 2}, got[0].Features)
	})
}

func TestState_String(t *testing.T) {
	state := With(NewState(), KeySeats, 5)
	assert.Contains(t, state.String(), "seats:5")
}

func TestState_ConcurrentAccess(t *testing.T) {
	t.Run("concurrent reads", func(t *testing.T) {
		state := With(With(NewState(),
			KeySeats, 2),
			KeyRanking, []Candidate{"a", "b", "c"})

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					seats, ok := Get(state, KeySeats)
					assert.True(t, ok, "Reader %d: should get seats.", id)
					assert.Equal(t, 2, seats)

					r, ok := Get(state, KeyRanking)
					assert.True(t, ok, "Reader %d: should get ranking.", id)
					assert.Len(t, r, 3)
				}
			}(i)
		}
		wg.Wait()
	})

	t.Run("concurrent writes create independent states", func(t *testing.T) {
		base := With(NewState(), KeySeats, 1)

		const numWriters = 20
		states := make([]State, numWriters)
		var wg sync.WaitGroup
		for i := 0; i < numWriters; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				key := NewKey[int](fmt.Sprintf("writer_%d", id))
				states[id] = With(base, key, id)
			}(i)
		}
		wg.Wait()

		for i := 0; i < numWriters; i++ {
			assert.Len(t, states[i].Keys(), 2, "State %d should have 2 keys.", i)
			got, ok := Get(states[i], NewKey[int](fmt.Sprintf("writer_%d", i)))
			assert.True(t, ok)
			assert.Equal(t, i, got)
		}
		assert.Len(t, base.Keys(), 1, "Base state should be unchanged.")
	})
}

func TestState_ExecutionContext(t *testing.T) {
	ctx := ExecutionContext{JobID: "job-1", ExecutionID: "exec-7"}

	state := NewState().WithExecutionContext(ctx)

	got, ok := state.GetExecutionContext()
	require.True(t, ok)
	assert.Equal(t, ctx, got)

	_, ok = NewState().GetExecutionContext()
	assert.False(t, ok, "Missing fields should report false.")

	_, ok = With(NewState(), KeyJobID, "job-1").GetExecutionContext()
	assert.False(t, ok, "Partial context should report false.")
}

func TestState_AppendWarnings(t *testing.T) {
	state := NewState()
	assert.Equal(t, state.Keys(), state.AppendWarnings().Keys(), "No warnings should leave the state untouched.")

	state = state.AppendWarnings("first")
	state = state.AppendWarnings("second", "third")

	got, ok := Get(state, KeyWarnings)
	require.True(t, ok)
	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestState_TypedKeys(t *testing.T) {
	custom := NewKey[[]int]("custom")
	state := With(NewState(), custom, []int{1, 2})

	got, ok := Get(state, custom)
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, got)
	assert.Equal(t, "custom", custom.Name())

	// Same name, different type: the lookup fails instead of panicking.
	wrong := NewKey[string]("custom")
	_, ok = Get(state, wrong)
	assert.False(t, ok)

	raw, ok := state.GetRaw("custom")
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, raw)

	state = state.WithRaw("other", 3)
	v, ok := Get(state, NewKey[int]("other"))
	require.True(t, ok)
	assert.Equal(t, 3, v)
}
