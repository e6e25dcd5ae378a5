// Package graph provides the dependency graph of an execution plan.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ShayCichocki/relay/pkg/models"
)

var (
	// ErrCycleDetected indicates a circular dependency was found in the plan.
	ErrCycleDetected = errors.New("circular dependency detected")
	// ErrUnknownDependency indicates a step depends on an id not in the plan.
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrForwardDependency indicates a step depends on a step declared after it.
	ErrForwardDependency = errors.New("forward dependency")
	// ErrDuplicateStep indicates two steps share an id.
	ErrDuplicateStep = errors.New("duplicate step id")
)

// DependencyGraph is a directed graph of step dependencies.
// Steps are nodes, and edges point from a step to the steps it waits on.
type DependencyGraph struct {
	mu sync.RWMutex
	// order is the declared order of step ids.
	order []string
	// position maps step id to its index in order.
	position map[string]int
	nodes    map[string]models.ExecutionStep
	// edges maps step id to the ids it depends on.
	edges map[string][]string
	// settled tracks steps that reached a terminal status.
	settled map[string]bool
	logger  *zap.Logger
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		position: make(map[string]int),
		nodes:    make(map[string]models.ExecutionStep),
		edges:    make(map[string][]string),
		settled:  make(map[string]bool),
		logger:   zap.NewNop(),
	}
}

// SetLogger sets the logger used for debug output.
func (g *DependencyGraph) SetLogger(l *zap.Logger) {
	if l != nil {
		g.logger = l
	}
}

// Build constructs the graph from plan steps in declared order.
//
// Unlike Check, Build stops at the first problem. Forward references are
// allowed here so callers can still compute levels over a reordered plan;
// use Check to enforce declaration order.
func (g *DependencyGraph) Build(steps []models.ExecutionStep) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Debug("building step graph", zap.Int("steps", len(steps)))

	for i, step := range steps {
		if _, dup := g.nodes[step.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateStep, step.ID)
		}
		g.nodes[step.ID] = step
		g.position[step.ID] = i
		g.order = append(g.order, step.ID)
		g.edges[step.ID] = nil
	}

	for _, step := range steps {
		for _, depID := range step.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				return fmt.Errorf("%w: step %s depends on %s", ErrUnknownDependency, step.ID, depID)
			}
			g.edges[step.ID] = append(g.edges[step.ID], depID)
		}
	}

	if g.hasCycleLocked() {
		return ErrCycleDetected
	}
	return nil
}

// Check validates steps without building a graph and returns every
// problem found: duplicate ids, unknown and forward references and cycles.
func Check(steps []models.ExecutionStep) []error {
	var errs []error
	position := make(map[string]int, len(steps))
	for i, step := range steps {
		if _, dup := position[step.ID]; dup {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateStep, step.ID))
			continue
		}
		position[step.ID] = i
	}

	for i, step := range steps {
		for _, depID := range step.DependsOn {
			pos, ok := position[depID]
			switch {
			case !ok:
				errs = append(errs, fmt.Errorf("%w: step %s depends on %s", ErrUnknownDependency, step.ID, depID))
			case depID == step.ID:
				errs = append(errs, fmt.Errorf("%w: step %s depends on itself", ErrCycleDetected, step.ID))
			case pos > i:
				errs = append(errs, fmt.Errorf("%w: step %s depends on later step %s", ErrForwardDependency, step.ID, depID))
			}
		}
	}

	g := New()
	for i, step := range steps {
		if _, dup := g.nodes[step.ID]; dup {
			continue
		}
		g.nodes[step.ID] = step
		g.position[step.ID] = i
		g.order = append(g.order, step.ID)
	}
	for _, step := range steps {
		for _, depID := range step.DependsOn {
			if _, ok := g.nodes[depID]; ok && depID != step.ID {
				g.edges[step.ID] = append(g.edges[step.ID], depID)
			}
		}
	}
	if g.hasCycleLocked() {
		errs = append(errs, ErrCycleDetected)
	}
	return errs
}

// HasCycle returns true if the graph contains a circular dependency.
// Uses depth-first search with coloring to detect back edges.
func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

func (g *DependencyGraph) hasCycleLocked() bool {
	// 0 = unvisited, 1 = in progress, 2 = done.
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for _, id := range g.order {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// TopologicalSort returns step ids so that every dependency comes before
// its dependents. Ties keep declared order.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	levels, err := g.Levels()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, level := range levels {
		out = append(out, level...)
	}
	return out, nil
}

// Levels groups steps into parallel groups: every step sits one level
// after its deepest dependency, so steps in one level never depend on each
// other. Steps inside a level are ordered by priority, then declared order.
func (g *DependencyGraph) Levels() ([][]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.hasCycleLocked() {
		return nil, ErrCycleDetected
	}

	depth := make(map[string]int, len(g.nodes))
	var depthOf func(id string) int
	depthOf = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		d := 0
		for _, depID := range g.edges[id] {
			if dd := depthOf(depID) + 1; dd > d {
				d = dd
			}
		}
		depth[id] = d
		return d
	}

	var levels [][]string
	for _, id := range g.order {
		d := depthOf(id)
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], id)
	}
	for _, level := range levels {
		sort.SliceStable(level, func(i, j int) bool {
			a, b := g.nodes[level[i]], g.nodes[level[j]]
			if a.Priority != b.Priority {
				return a.Priority < b.Priority
			}
			return g.position[level[i]] < g.position[level[j]]
		})
	}
	g.logger.Debug("computed parallel groups", zap.Int("groups", len(levels)))
	return levels, nil
}

// GetReady returns step ids whose dependencies have all settled and that
// have not settled themselves, in declared order.
func (g *DependencyGraph) GetReady() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for _, id := range g.order {
		if g.settled[id] {
			continue
		}
		ok := true
		for _, depID := range g.edges[id] {
			if !g.settled[depID] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	return ready
}

// MarkSettled records that a step reached a terminal status.
func (g *DependencyGraph) MarkSettled(stepID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.settled[stepID] = true
}

// GetStep returns the step for an id.
func (g *DependencyGraph) GetStep(stepID string) (models.ExecutionStep, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.nodes[stepID]
	return s, ok
}

// Size returns the number of steps in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// GetDependencies returns the ids the given step depends on.
func (g *DependencyGraph) GetDependencies(stepID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[stepID]...)
}

// GetDependents returns the ids of steps that depend on the given step,
// in declared order.
func (g *DependencyGraph) GetDependents(stepID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for _, id := range g.order {
		for _, depID := range g.edges[id] {
			if depID == stepID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}
