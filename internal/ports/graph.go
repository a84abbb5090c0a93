package ports

import (
	"context"

	"github.com/ahrav/go-fairrank/internal/domain"
)

// MergeStrategy combines the states produced by the members of a parallel
// layer into one state.
type MergeStrategy interface {
	// Merge folds states into baseState, the state the layer received.
	// states arrive in the order the executables were added to the layer,
	// so implementations must be deterministic for that order. Inputs must
	// not be modified.
	Merge(baseState domain.State, states []domain.State) (domain.State, error)
}

// Executable is anything the consensus graph can run: a unit wrapped in an
// adapter, a pipeline of stages or a parallel layer.
type Executable interface {
	// Execute runs the component on state and returns the resulting state.
	// The input state is shared between concurrent executions and must be
	// treated as read-only; derive new states with With or WithMultiple.
	Execute(ctx context.Context, state domain.State) (domain.State, error)

	// ID returns the identifier the component is referenced by in the
	// graph. It is unique within a graph and never changes.
	ID() string
}

// Pipeline runs its executables one after another, feeding each the state
// the previous one returned.
type Pipeline interface {
	Executable

	// Add appends exec to the sequence. IDs must be unique within the
	// pipeline.
	Add(exec Executable) error

	// Executables returns the sequence in execution order. Callers must
	// not modify the returned slice.
	Executables() []Executable
}

// Layer runs independent executables concurrently on the same input state
// and merges what they return.
type Layer interface {
	Executable

	// Add includes exec in the layer. IDs must be unique within the layer.
	Add(exec Executable) error

	// Executables returns the members in the order they were added.
	Executables() []Executable

	// SetMergeStrategy replaces the default merge, which overlays member
	// states in insertion order.
	SetMergeStrategy(strategy MergeStrategy)
}

// Graph is the dependency structure of a consensus run. Edges point from a
// stage to the stages that consume its output.
type Graph interface {
	// AddNode registers exec. Its ID must be unique in the graph.
	AddNode(exec Executable) error

	// AddEdge records that targetID depends on sourceID. It fails when a
	// node is unknown, the edge exists or the edge would close a cycle.
	AddEdge(sourceID, targetID string) error

	// TopologicalSort returns the nodes with every dependency before its
	// dependents. Nodes that are otherwise unordered come out in ID order
	// so that repeated runs execute identically.
	TopologicalSort() ([]Executable, error)

	// HasCycle reports whether the graph contains a circular dependency.
	HasCycle() bool

	// GetNode looks up a node by ID. The returned executable is shared
	// with the graph and must be treated as read-only.
	GetNode(id string) (Executable, bool)
}
