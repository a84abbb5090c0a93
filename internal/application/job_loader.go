package application

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-fairrank/internal/ports"
)

// readerSource is the config key reported for jobs read from a reader.
const readerSource = "<reader>"

// Job is a validated job file. When the file declares units, Graph holds
// the compiled stage graph; otherwise Graph is nil and the job runs the
// standard PreFAIR pipeline.
//
// Jobs are cached by content and shared between callers, so they must not
// be mutated.
type Job struct {
	Config *JobConfig
	Hash   string
	Graph  *Graph
}

// JobLoader parses, validates and caches job files.
type JobLoader struct {
	validator    *validator.Validate
	unitRegistry ports.UnitRegistry
	// cache is keyed by the SHA-256 of the normalized config.
	cache   map[string]*Job
	cacheMu sync.RWMutex
	sf      singleflight.Group
}

// NewJobLoader creates a loader. unitRegistry is only needed for jobs that
// declare custom units and may be nil otherwise.
func NewJobLoader(unitRegistry ports.UnitRegistry) (*JobLoader, error) {
	v, err := NewJobValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}
	return &JobLoader{
		validator:    v,
		unitRegistry: unitRegistry,
		cache:        make(map[string]*Job),
	}, nil
}

// LoadFromFile loads the job at path.
func (jl *JobLoader) LoadFromFile(ctx context.Context, path string) (*Job, error) {
	cleanPath := filepath.Clean(path)

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ports.NewConfigError(cleanPath, fmt.Errorf("%w: %v", ports.ErrConfigNotFound, err))
		}
		return nil, ports.NewConfigError(cleanPath, fmt.Errorf("failed to read file: %w", err))
	}
	return jl.load(ctx, cleanPath, data)
}

// LoadFromReader loads a job from r.
func (jl *JobLoader) LoadFromReader(ctx context.Context, r io.Reader) (*Job, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, ports.NewConfigError(readerSource, fmt.Errorf("failed to read data: %w", err))
	}
	return jl.load(ctx, readerSource, data)
}

// load parses data, then compiles the job once per distinct normalized
// config even under concurrent calls.
func (jl *JobLoader) load(ctx context.Context, source string, data []byte) (*Job, error) {
	config, err := jl.parseYAML(data)
	if err != nil {
		return nil, ports.NewConfigError(source, fmt.Errorf("failed to parse YAML: %w", err))
	}

	hash, err := jl.calculateConfigHash(config)
	if err != nil {
		return nil, ports.NewConfigError(source, fmt.Errorf("failed to calculate hash: %w", err))
	}

	v, err, _ := jl.sf.Do(hash, func() (any, error) {
		if job, ok := jl.getCachedJob(hash); ok {
			return job, nil
		}

		if err := jl.validateConfig(config); err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}

		job := &Job{Config: config, Hash: hash}
		if len(config.Units) > 0 {
			graph, err := jl.buildGraph(ctx, config)
			if err != nil {
				return nil, fmt.Errorf("failed to build graph: %w", err)
			}
			job.Graph = graph
		}

		jl.cacheJob(hash, job)
		return job, nil
	})
	if err != nil {
		return nil, ports.NewConfigError(source, err)
	}
	return v.(*Job), nil
}

// parseYAML decodes strictly so that misspelled keys are reported instead
// of ignored.
func (jl *JobLoader) parseYAML(data []byte) (*JobConfig, error) {
	var config JobConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("YAML decode failed: %w", err)
	}
	return &config, nil
}

func (jl *JobLoader) validateConfig(config *JobConfig) error {
	if err := jl.validator.Struct(config); err != nil {
		return fmt.Errorf("struct validation failed: %w", err)
	}
	if err := jl.validateInput(&config.Input); err != nil {
		return fmt.Errorf("input validation failed: %w", err)
	}
	if err := jl.validateSemantics(config); err != nil {
		return fmt.Errorf("semantic validation failed: %w", err)
	}
	return nil
}

// validateInput checks what struct tags cannot: unique pool IDs and a
// seat count the pool can supply.
func (jl *JobLoader) validateInput(in *InputConfig) error {
	seen := make(map[string]struct{}, len(in.Pool))
	for _, c := range in.Pool {
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("duplicate pool candidate %q", c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	if in.Seats > len(in.Pool) {
		return fmt.Errorf("seats %d exceed pool size %d", in.Seats, len(in.Pool))
	}
	return nil
}

// validateSemantics checks the custom graph: node IDs are unique across
// units, pipelines and layers, and every reference resolves.
func (jl *JobLoader) validateSemantics(config *JobConfig) error {
	topology := config.Graph
	if len(config.Units) == 0 {
		if len(topology.Pipelines)+len(topology.Layers)+len(topology.Edges) > 0 {
			return fmt.Errorf("graph declared without units")
		}
		return nil
	}

	allNodeIDs := make(map[string]string)
	unitIDs := make(map[string]struct{})

	for _, unit := range config.Units {
		if nodeType, exists := allNodeIDs[unit.ID]; exists {
			return fmt.Errorf("duplicate ID %q: already used by %s", unit.ID, nodeType)
		}
		allNodeIDs[unit.ID] = "unit"
		unitIDs[unit.ID] = struct{}{}

		if err := ValidateUnitParameters(jl.validator, unit.Type, unit.Parameters); err != nil {
			return fmt.Errorf("unit %s parameter validation failed: %w", unit.ID, err)
		}
	}

	placed := make(map[string]string)
	checkMembers := func(kind, id string, members []string) error {
		if nodeType, exists := allNodeIDs[id]; exists {
			return fmt.Errorf("duplicate ID %q: already used by %s", id, nodeType)
		}
		allNodeIDs[id] = kind
		for _, unitID := range members {
			if _, exists := unitIDs[unitID]; !exists {
				return fmt.Errorf("%s %s references non-existent unit: %s", kind, id, unitID)
			}
			if owner, taken := placed[unitID]; taken {
				return fmt.Errorf("unit %s placed in both %s and %s", unitID, owner, id)
			}
			placed[unitID] = id
		}
		return nil
	}
	for _, p := range topology.Pipelines {
		if err := checkMembers("pipeline", p.ID, p.Units); err != nil {
			return err
		}
	}
	for _, l := range topology.Layers {
		if err := checkMembers("layer", l.ID, l.Units); err != nil {
			return err
		}
	}

	for _, edge := range topology.Edges {
		if _, exists := allNodeIDs[edge.From]; !exists {
			return fmt.Errorf("edge references non-existent source node: %s", edge.From)
		}
		if _, exists := allNodeIDs[edge.To]; !exists {
			return fmt.Errorf("edge references non-existent target node: %s", edge.To)
		}
		if _, inside := placed[edge.From]; inside {
			return fmt.Errorf("edge source %s is a member of %s, not a graph node", edge.From, placed[edge.From])
		}
		if _, inside := placed[edge.To]; inside {
			return fmt.Errorf("edge target %s is a member of %s, not a graph node", edge.To, placed[edge.To])
		}
	}
	return nil
}

// buildGraph creates the units through the registry and wires pipelines,
// layers, standalone units and edges.
func (jl *JobLoader) buildGraph(ctx context.Context, config *JobConfig) (*Graph, error) {
	if jl.unitRegistry == nil {
		return nil, fmt.Errorf("job declares units but the loader has no unit registry")
	}

	graph := NewGraph()

	units := make(map[string]ports.Unit, len(config.Units))
	for _, uc := range config.Units {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		unit, err := jl.createUnit(uc)
		if err != nil {
			return nil, fmt.Errorf("failed to create unit %s: %w", uc.ID, err)
		}
		units[uc.ID] = unit
	}

	placed := make(map[string]struct{})
	for _, pc := range config.Graph.Pipelines {
		pipeline := NewPipeline(pc.ID)
		for _, unitID := range pc.Units {
			if err := pipeline.Add(NewUnitAdapter(units[unitID], unitID)); err != nil {
				return nil, fmt.Errorf("failed to add unit to pipeline: %w", err)
			}
			placed[unitID] = struct{}{}
		}
		if err := graph.AddNode(pipeline); err != nil {
			return nil, fmt.Errorf("failed to add pipeline to graph: %w", err)
		}
	}
	for _, lc := range config.Graph.Layers {
		layer := NewLayer(lc.ID)
		strategy, err := NewMergeStrategy(lc.Merge)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", lc.ID, err)
		}
		layer.SetMergeStrategy(strategy)
		for _, unitID := range lc.Units {
			if err := layer.Add(NewUnitAdapter(units[unitID], unitID)); err != nil {
				return nil, fmt.Errorf("failed to add unit to layer: %w", err)
			}
			placed[unitID] = struct{}{}
		}
		if err := graph.AddNode(layer); err != nil {
			return nil, fmt.Errorf("failed to add layer to graph: %w", err)
		}
	}

	// Standalone units, in declaration order.
	for _, uc := range config.Units {
		if _, ok := placed[uc.ID]; ok {
			continue
		}
		if err := graph.AddNode(NewUnitAdapter(units[uc.ID], uc.ID)); err != nil {
			return nil, fmt.Errorf("failed to add unit to graph: %w", err)
		}
	}

	for _, edge := range config.Graph.Edges {
		if err := graph.AddEdge(edge.From, edge.To); err != nil {
			return nil, fmt.Errorf("failed to add edge: %w", err)
		}
	}
	return graph, nil
}

func (jl *JobLoader) createUnit(config UnitConfig) (ports.Unit, error) {
	params := make(map[string]any)
	if config.Parameters.Kind != 0 {
		if err := config.Parameters.Decode(&params); err != nil {
			return nil, fmt.Errorf("failed to decode parameters: %w", err)
		}
	}

	unit, err := jl.unitRegistry.CreateUnit(config.Type, config.ID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create unit: %w", err)
	}
	if err := unit.Validate(); err != nil {
		return nil, fmt.Errorf("unit %s is misconfigured: %w", config.ID, err)
	}
	return unit, nil
}

// calculateConfigHash hashes a re-encoded config so that formatting and key
// order do not affect the cache key.
func (jl *JobLoader) calculateConfigHash(config *JobConfig) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(config); err != nil {
		return "", fmt.Errorf("failed to encode config for hashing: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode config for hashing: %w", err)
	}

	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

func (jl *JobLoader) getCachedJob(hash string) (*Job, bool) {
	jl.cacheMu.RLock()
	defer jl.cacheMu.RUnlock()

	job, ok := jl.cache[hash]
	return job, ok
}

func (jl *JobLoader) cacheJob(hash string, job *Job) {
	jl.cacheMu.Lock()
	defer jl.cacheMu.Unlock()

	jl.cache[hash] = job
}

// ClearCache drops every cached job.
func (jl *JobLoader) ClearCache() {
	jl.cacheMu.Lock()
	defer jl.cacheMu.Unlock()

	jl.cache = make(map[string]*Job)
}
