package application

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-fairrank/internal/domain"
	"github.com/ahrav/go-fairrank/internal/ports"
)

var keyTrace = domain.NewKey[[]string]("test.trace")

// mockExecutable is a test implementation of ports.Executable.
type mockExecutable struct {
	id          string
	executeFunc func(ctx context.Context, state domain.State) (domain.State, error)
	executed    bool
	mu          sync.Mutex
}

func (m *mockExecutable) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	m.mu.Lock()
	m.executed = true
	m.mu.Unlock()

	if m.executeFunc != nil {
		return m.executeFunc(ctx, state)
	}
	return state, nil
}

func (m *mockExecutable) ID() string { return m.id }

func (m *mockExecutable) wasExecuted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executed
}

// tracing returns an executable that appends its ID to the trace key.
func tracing(id string) *mockExecutable {
	return &mockExecutable{
		id: id,
		executeFunc: func(_ context.Context, state domain.State) (domain.State, error) {
			trace, _ := domain.Get(state, keyTrace)
			next := append(append([]string(nil), trace...), id)
			return domain.With(state, keyTrace, next), nil
		},
	}
}

func failing(id string, err error) *mockExecutable {
	return &mockExecutable{
		id: id,
		executeFunc: func(_ context.Context, state domain.State) (domain.State, error) {
			return state, err
		},
	}
}

func traceOf(t *testing.T, state domain.State) []string {
	t.Helper()
	trace, ok := domain.Get(state, keyTrace)
	require.True(t, ok)
	return trace
}

func TestPipeline_Execute(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name      string
		stages    []*mockExecutable
		wantErr   error
		wantTrace []string
		notRun    []int
	}{
		{
			name:      "executes stages in order",
			stages:    []*mockExecutable{tracing("u0"), tracing("u1"), tracing("u2")},
			wantTrace: []string{"u0", "u1", "u2"},
		},
		{
			name:      "stops at first failure",
			stages:    []*mockExecutable{tracing("u0"), failing("u1", errBoom), tracing("u2")},
			wantErr:   errBoom,
			wantTrace: []string{"u0"},
			notRun:    []int{2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPipeline("p")
			for _, s := range tt.stages {
				require.NoError(t, p.Add(s))
			}

			state, err := p.Execute(context.Background(), domain.NewState())
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Contains(t, err.Error(), "execution failed at u1")
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantTrace, traceOf(t, state))
			for _, i := range tt.notRun {
				assert.False(t, tt.stages[i].wasExecuted())
			}
		})
	}
}

func TestPipeline_Add(t *testing.T) {
	p := NewPipeline("p")
	require.NoError(t, p.Add(tracing("a")))

	assert.Error(t, p.Add(nil))
	assert.Error(t, p.Add(tracing("a")), "duplicate IDs are rejected")
	assert.Len(t, p.Executables(), 1)
	assert.Equal(t, "p", p.ID())
}

func TestPipeline_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stage := tracing("a")
	p := NewPipeline("p")
	require.NoError(t, p.Add(stage))

	_, err := p.Execute(ctx, domain.NewState())
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, stage.wasExecuted())
}

func TestLayer_MergesInAddOrder(t *testing.T) {
	keyA := domain.NewKey[int]("test.a")
	keyB := domain.NewKey[int]("test.b")
	keyShared := domain.NewKey[string]("test.shared")

	setter := func(id string, key domain.Key[int], value int, warning string) *mockExecutable {
		return &mockExecutable{
			id: id,
			executeFunc: func(_ context.Context, state domain.State) (domain.State, error) {
				next := domain.With(state, key, value)
				next = domain.With(next, keyShared, id)
				return next.AppendWarnings(warning), nil
			},
		}
	}

	base := domain.NewState().AppendWarnings("base")
	layer := NewLayer("l")
	require.NoError(t, layer.Add(setter("first", keyA, 1, "from first")))
	require.NoError(t, layer.Add(setter("second", keyB, 2, "from second")))

	// Repeat to catch scheduling-dependent merges.
	for range 20 {
		merged, err := layer.Execute(context.Background(), base)
		require.NoError(t, err)

		a, _ := domain.Get(merged, keyA)
		b, _ := domain.Get(merged, keyB)
		shared, _ := domain.Get(merged, keyShared)
		warnings, _ := domain.Get(merged, domain.KeyWarnings)

		assert.Equal(t, 1, a)
		assert.Equal(t, 2, b)
		assert.Equal(t, "second", shared, "later members win")
		assert.Equal(t, []string{"base", "from first", "from second"}, warnings)
	}
}

func TestLayer_UnchangedKeysDoNotOverwrite(t *testing.T) {
	keyX := domain.NewKey[int]("test.x")
	base := domain.With(domain.NewState(), keyX, 0)

	changer := &mockExecutable{
		id: "changer",
		executeFunc: func(_ context.Context, s domain.State) (domain.State, error) {
			return domain.With(s, keyX, 7), nil
		},
	}
	passthrough := &mockExecutable{id: "passthrough"}

	layer := NewLayer("l")
	require.NoError(t, layer.Add(changer))
	require.NoError(t, layer.Add(passthrough))

	merged, err := layer.Execute(context.Background(), base)
	require.NoError(t, err)
	x, _ := domain.Get(merged, keyX)
	assert.Equal(t, 7, x)
}

func TestLayer_Errors(t *testing.T) {
	errBoom := errors.New("boom")

	layer := NewLayer("l")
	require.NoError(t, layer.Add(tracing("ok")))
	require.NoError(t, layer.Add(failing("bad", errBoom)))

	_, err := layer.Execute(context.Background(), domain.NewState())
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "layer l failed")

	assert.Error(t, layer.Add(nil))
	assert.Error(t, layer.Add(tracing("ok")))
}

type failingMerge struct{}

func (failingMerge) Merge(domain.State, []domain.State) (domain.State, error) {
	return domain.State{}, errors.New("no merge")
}

func TestLayer_CustomMergeStrategy(t *testing.T) {
	layer := NewLayer("l")
	require.NoError(t, layer.Add(tracing("a")))
	layer.SetMergeStrategy(failingMerge{})
	layer.SetConcurrencyLimit(1)

	_, err := layer.Execute(context.Background(), domain.NewState())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge failed")
}

func TestLayer_StrictMerge(t *testing.T) {
	keyX := domain.NewKey[string]("test.x")
	writer := func(id, value string) *mockExecutable {
		return &mockExecutable{
			id: id,
			executeFunc: func(_ context.Context, s domain.State) (domain.State, error) {
				return domain.With(s, keyX, value), nil
			},
		}
	}

	tests := []struct {
		name    string
		values  []string
		want    string
		wantErr bool
	}{
		{name: "single writer", values: []string{"a"}, want: "a"},
		{name: "agreeing writers", values: []string{"a", "a"}, want: "a"},
		{name: "conflicting writers", values: []string{"a", "b"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strategy, err := NewMergeStrategy(MergeStrict)
			require.NoError(t, err)

			layer := NewLayer("l")
			layer.SetMergeStrategy(strategy)
			for i, v := range tt.values {
				require.NoError(t, layer.Add(writer(string(rune('p'+i)), v)))
			}

			merged, err := layer.Execute(context.Background(), domain.NewState())
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMergeConflict)
				return
			}
			require.NoError(t, err)
			x, _ := domain.Get(merged, keyX)
			assert.Equal(t, tt.want, x)
		})
	}
}

func TestNewMergeStrategy(t *testing.T) {
	for _, mode := range []string{"", MergeOverlay, MergeStrict} {
		_, err := NewMergeStrategy(mode)
		assert.NoError(t, err, "mode %q", mode)
	}
	_, err := NewMergeStrategy("union")
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestLayer_Empty(t *testing.T) {
	state := domain.With(domain.NewState(), domain.KeySeats, 3)
	out, err := NewLayer("empty").Execute(context.Background(), state)
	require.NoError(t, err)
	seats, _ := domain.Get(out, domain.KeySeats)
	assert.Equal(t, 3, seats)
}

func ids(execs []ports.Executable) []string {
	out := make([]string, len(execs))
	for i, e := range execs {
		out[i] = e.ID()
	}
	return out
}

func TestGraph_TopologicalSort(t *testing.T) {
	tests := []struct {
		name  string
		nodes []string
		edges [][2]string
		want  []string
	}{
		{
			name:  "independent nodes sort by ID",
			nodes: []string{"c", "a", "b"},
			want:  []string{"a", "b", "c"},
		},
		{
			name:  "edges override ID order",
			nodes: []string{"c", "a", "b"},
			edges: [][2]string{{"c", "a"}},
			want:  []string{"b", "c", "a"},
		},
		{
			name:  "diamond",
			nodes: []string{"start", "left", "right", "end"},
			edges: [][2]string{{"start", "left"}, {"start", "right"}, {"left", "end"}, {"right", "end"}},
			want:  []string{"start", "left", "right", "end"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGraph()
			for _, id := range tt.nodes {
				require.NoError(t, g.AddNode(tracing(id)))
			}
			for _, e := range tt.edges {
				require.NoError(t, g.AddEdge(e[0], e[1]))
			}

			for range 5 {
				order, err := g.TopologicalSort()
				require.NoError(t, err)
				assert.Equal(t, tt.want, ids(order))
			}
		})
	}
}

func TestGraph_AddEdge(t *testing.T) {
	g := NewGraph()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, g.AddNode(tracing(id)))
	}
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))

	tests := []struct {
		name   string
		from   string
		to     string
		errMsg string
	}{
		{name: "missing source", from: "x", to: "a", errMsg: "source node x does not exist"},
		{name: "missing target", from: "a", to: "x", errMsg: "target node x does not exist"},
		{name: "duplicate", from: "a", to: "b", errMsg: "already exists"},
		{name: "cycle", from: "c", to: "a", errMsg: "would create a cycle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.AddEdge(tt.from, tt.to)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	assert.False(t, g.HasCycle(), "rejected edge must be rolled back")
	order, err := g.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(order))
}

func TestGraph_AddNode(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddNode(tracing("a")))
	assert.Error(t, g.AddNode(tracing("a")))
	assert.Error(t, g.AddNode(nil))

	node, ok := g.GetNode("a")
	require.True(t, ok)
	assert.Equal(t, "a", node.ID())
	_, ok = g.GetNode("missing")
	assert.False(t, ok)
}

func TestGraph_Execute(t *testing.T) {
	g := NewGraph()
	for _, id := range []string{"score", "plan", "rank"} {
		require.NoError(t, g.AddNode(tracing(id)))
	}
	require.NoError(t, g.AddEdge("plan", "rank"))
	require.NoError(t, g.AddEdge("rank", "score"))

	state, err := g.Execute(context.Background(), domain.NewState())
	require.NoError(t, err)
	assert.Equal(t, []string{"plan", "rank", "score"}, traceOf(t, state))
	assert.Equal(t, "graph", g.ID())
}

func TestGraph_ExecuteFailure(t *testing.T) {
	errBoom := errors.New("boom")

	g := NewGraph()
	require.NoError(t, g.AddNode(tracing("a")))
	require.NoError(t, g.AddNode(failing("b", errBoom)))
	require.NoError(t, g.AddEdge("a", "b"))

	state, err := g.Execute(context.Background(), domain.NewState())
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "graph node b")
	assert.Equal(t, []string{"a"}, traceOf(t, state))
}
