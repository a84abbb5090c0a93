package application

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-fairrank/internal/domain"
	"github.com/ahrav/go-fairrank/internal/ports"
)

var (
	_ ports.Pipeline = (*Pipeline)(nil)
	_ ports.Layer    = (*Layer)(nil)
	_ ports.Graph    = (*Graph)(nil)
)

// Pipeline runs stages in strict order, each receiving the state the
// previous one returned. The default PreFAIR run is a single Pipeline.
type Pipeline struct {
	id          string
	executables []ports.Executable
	// idSet gives O(1) duplicate detection.
	idSet map[string]struct{}
	mu    sync.RWMutex
}

// NewPipeline creates an empty pipeline.
func NewPipeline(id string) *Pipeline {
	return &Pipeline{
		id:          id,
		executables: make([]ports.Executable, 0),
		idSet:       make(map[string]struct{}),
	}
}

// Execute runs every stage in order. It stops at the first failure and
// returns the state reached before it, with the failing stage named in the
// error. Cancellation is checked between stages.
func (p *Pipeline) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	p.mu.RLock()
	executables := make([]ports.Executable, len(p.executables))
	copy(executables, p.executables)
	p.mu.RUnlock()

	current := state
	for _, exec := range executables {
		if err := ctx.Err(); err != nil {
			return current, err
		}
		next, err := exec.Execute(ctx, current)
		if err != nil {
			return current, fmt.Errorf("pipeline %s: execution failed at %s: %w", p.id, exec.ID(), err)
		}
		current = next
	}
	return current, nil
}

// ID returns the pipeline identifier.
func (p *Pipeline) ID() string { return p.id }

// Add appends exec to the pipeline. It is safe for concurrent use with
// Execute.
func (p *Pipeline) Add(exec ports.Executable) error {
	if exec == nil {
		return fmt.Errorf("cannot add nil executable to pipeline")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id := exec.ID()
	if _, exists := p.idSet[id]; exists {
		return fmt.Errorf("executable with ID %s already exists in pipeline", id)
	}
	p.executables = append(p.executables, exec)
	p.idSet[id] = struct{}{}
	return nil
}

// Executables returns a copy of the stages in execution order.
func (p *Pipeline) Executables() []ports.Executable {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]ports.Executable, len(p.executables))
	copy(out, p.executables)
	return out
}

// Layer runs independent stages concurrently on the same input state, for
// example several fairness metric stages over one ranking.
type Layer struct {
	id            string
	executables   []ports.Executable
	idSet         map[string]struct{}
	mergeStrategy ports.MergeStrategy
	// concurrencyLimit defaults to runtime.NumCPU() * 2.
	concurrencyLimit int
	mu               sync.RWMutex
}

// NewLayer creates an empty layer.
func NewLayer(id string) *Layer {
	return &Layer{
		id:               id,
		executables:      make([]ports.Executable, 0),
		idSet:            make(map[string]struct{}),
		concurrencyLimit: runtime.NumCPU() * 2,
	}
}

// Execute runs all members concurrently and merges their states in the
// order the members were added, so the outcome does not depend on
// scheduling. The first failure cancels the remaining members.
func (l *Layer) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	l.mu.RLock()
	executables := make([]ports.Executable, len(l.executables))
	copy(executables, l.executables)
	limit := l.concurrencyLimit
	strategy := l.mergeStrategy
	l.mu.RUnlock()

	if len(executables) == 0 {
		return state, nil
	}
	if limit <= 0 {
		limit = runtime.NumCPU() * 2
	}
	if strategy == nil {
		strategy = overlayMergeStrategy{}
	}

	results := make([]domain.State, len(executables))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, exec := range executables {
		g.Go(func() error {
			out, err := exec.Execute(gctx, state)
			if err != nil {
				return fmt.Errorf("executable %s: %w", exec.ID(), err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return state, fmt.Errorf("layer %s failed: %w", l.id, err)
	}

	merged, err := strategy.Merge(state, results)
	if err != nil {
		return state, fmt.Errorf("layer %s: merge failed: %w", l.id, err)
	}
	return merged, nil
}

// ID returns the layer identifier.
func (l *Layer) ID() string { return l.id }

// Add includes exec in the layer.
func (l *Layer) Add(exec ports.Executable) error {
	if exec == nil {
		return fmt.Errorf("cannot add nil executable to layer")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id := exec.ID()
	if _, exists := l.idSet[id]; exists {
		return fmt.Errorf("executable with ID %s already exists in layer", id)
	}
	l.executables = append(l.executables, exec)
	l.idSet[id] = struct{}{}
	return nil
}

// Executables returns a copy of the members in insertion order.
func (l *Layer) Executables() []ports.Executable {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]ports.Executable, len(l.executables))
	copy(out, l.executables)
	return out
}

// SetMergeStrategy replaces the default overlay merge.
func (l *Layer) SetMergeStrategy(strategy ports.MergeStrategy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mergeStrategy = strategy
}

// SetConcurrencyLimit caps the number of members running at once. A
// non-positive limit restores the default.
func (l *Layer) SetConcurrencyLimit(limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.concurrencyLimit = limit
}

// Graph holds the stages of a custom consensus job and their dependencies.
// It is itself executable: Execute runs the nodes one at a time in
// topological order.
type Graph struct {
	id    string
	nodes map[string]ports.Executable
	// edges is the adjacency list: node ID -> dependents.
	edges map[string][]string
	// edgeSet keys are "source->target".
	edgeSet  map[string]struct{}
	inDegree map[string]int
	mu       sync.RWMutex
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		id:       "graph",
		nodes:    make(map[string]ports.Executable),
		edges:    make(map[string][]string),
		edgeSet:  make(map[string]struct{}),
		inDegree: make(map[string]int),
	}
}

// ID returns the graph identifier.
func (g *Graph) ID() string { return g.id }

// Execute runs every node in topological order, threading the state
// through them.
func (g *Graph) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	order, err := g.TopologicalSort()
	if err != nil {
		return state, err
	}

	current := state
	for _, exec := range order {
		if err := ctx.Err(); err != nil {
			return current, err
		}
		next, err := exec.Execute(ctx, current)
		if err != nil {
			return current, fmt.Errorf("graph node %s: %w", exec.ID(), err)
		}
		current = next
	}
	return current, nil
}

// AddNode registers exec as a node.
func (g *Graph) AddNode(exec ports.Executable) error {
	if exec == nil {
		return fmt.Errorf("cannot add nil executable to graph")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	id := exec.ID()
	if _, exists := g.nodes[id]; exists {
		return fmt.Errorf("node with ID %s already exists in graph", id)
	}
	g.nodes[id] = exec
	g.edges[id] = make([]string, 0)
	g.inDegree[id] = 0
	return nil
}

// AddEdge makes targetID depend on sourceID. An edge that would close a
// cycle is rolled back and reported.
func (g *Graph) AddEdge(sourceID, targetID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[sourceID]; !exists {
		return fmt.Errorf("source node %s does not exist", sourceID)
	}
	if _, exists := g.nodes[targetID]; !exists {
		return fmt.Errorf("target node %s does not exist", targetID)
	}

	edgeKey := sourceID + "->" + targetID
	if _, exists := g.edgeSet[edgeKey]; exists {
		return fmt.Errorf("edge from %s to %s already exists", sourceID, targetID)
	}

	g.edges[sourceID] = append(g.edges[sourceID], targetID)
	g.edgeSet[edgeKey] = struct{}{}
	g.inDegree[targetID]++

	if g.hasCycleUnsafe() {
		g.edges[sourceID] = g.edges[sourceID][:len(g.edges[sourceID])-1]
		delete(g.edgeSet, edgeKey)
		g.inDegree[targetID]--
		return fmt.Errorf("adding edge from %s to %s would create a cycle", sourceID, targetID)
	}
	return nil
}

// TopologicalSort orders the nodes with Kahn's algorithm. Among the nodes
// ready at any step the smallest ID goes first.
func (g *Graph) TopologicalSort() ([]ports.Executable, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inDegree := make(map[string]int, len(g.inDegree))
	for k, v := range g.inDegree {
		inDegree[k] = v
	}

	var ready []string
	for id, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	result := make([]ports.Executable, 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		result = append(result, g.nodes[id])

		released := false
		for _, next := range g.edges[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
				released = true
			}
		}
		if released {
			sort.Strings(ready)
		}
	}

	if len(result) != len(g.nodes) {
		return nil, fmt.Errorf("graph contains a cycle")
	}
	return result, nil
}

// HasCycle reports whether the graph contains a circular dependency.
func (g *Graph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleUnsafe()
}

// hasCycleUnsafe runs a three-colour DFS. The caller must hold g.mu.
func (g *Graph) hasCycleUnsafe() bool {
	const (
		white = iota
		gray
		black
	)
	colors := make(map[string]int, len(g.nodes))

	var dfs func(id string) bool
	dfs = func(id string) bool {
		colors[id] = gray
		for _, next := range g.edges[id] {
			switch colors[next] {
			case gray:
				return true
			case white:
				if dfs(next) {
					return true
				}
			}
		}
		colors[id] = black
		return false
	}

	for id := range g.nodes {
		if colors[id] == white && dfs(id) {
			return true
		}
	}
	return false
}

// GetNode looks up a node by ID.
func (g *Graph) GetNode(id string) (ports.Executable, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	exec, ok := g.nodes[id]
	return exec, ok
}

// Layer merge modes accepted in job files.
const (
	MergeOverlay = "overlay"
	MergeStrict  = "strict"
)

// ErrMergeConflict is returned by the strict merge when two members of a
// layer write different values under the same key.
var ErrMergeConflict = errors.New("conflicting layer outputs")

// NewMergeStrategy returns the strategy for a merge mode. An empty mode
// selects overlay.
func NewMergeStrategy(mode string) (ports.MergeStrategy, error) {
	switch mode {
	case "", MergeOverlay:
		return overlayMergeStrategy{}, nil
	case MergeStrict:
		return overlayMergeStrategy{strict: true}, nil
	default:
		return nil, fmt.Errorf("%w: unknown merge mode %q", domain.ErrInvalidConfiguration, mode)
	}
}

// overlayMergeStrategy applies, in member order, every key a member
// changed relative to the base state. Warnings are concatenated instead of
// overwritten. In strict mode a key changed by two members to different
// values fails the merge instead of letting the later member win.
type overlayMergeStrategy struct {
	strict bool
}

func (m overlayMergeStrategy) Merge(base domain.State, states []domain.State) (domain.State, error) {
	baseWarnings, _ := domain.Get(base, domain.KeyWarnings)
	var added []string

	merged := base
	writer := make(map[string]int)
	for i, s := range states {
		for _, key := range s.Keys() {
			if key == domain.KeyWarnings.Name() {
				continue
			}
			value, _ := s.GetRaw(key)
			if prev, ok := base.GetRaw(key); ok && reflect.DeepEqual(prev, value) {
				continue
			}
			if first, seen := writer[key]; seen && m.strict {
				prev, _ := merged.GetRaw(key)
				if !reflect.DeepEqual(prev, value) {
					return base, fmt.Errorf("%w: key %q written by members %d and %d", ErrMergeConflict, key, first, i)
				}
				continue
			}
			writer[key] = i
			merged = merged.WithRaw(key, value)
		}
		if w, ok := domain.Get(s, domain.KeyWarnings); ok && len(w) > len(baseWarnings) {
			added = append(added, w[len(baseWarnings):]...)
		}
	}
	return merged.AppendWarnings(added...), nil
}
