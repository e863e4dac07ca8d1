// Package graph implements the directed acyclic dependency graph of tasks.
// Nodes are tasks, edges are "blocked by" relationships.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/omen4impact/noode/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// DependencyGraph tracks tasks and their dependency edges. All methods are
// safe for concurrent use; the scheduler and the registry's requeue callback
// both touch the graph.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// edges maps task ID to IDs of tasks it depends on (is blocked by).
	edges map[string][]string
	// completed tracks which tasks have terminally succeeded.
	completed map[string]bool
}

// New creates an empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:     make(map[string]*models.Task),
		edges:     make(map[string][]string),
		completed: make(map[string]bool),
	}
}

// Build adds a slice of tasks and their dependency edges to the graph.
// Returns an error if a dependency references an unknown task or if the
// resulting graph contains a cycle.
func (g *DependencyGraph) Build(tasks []*models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, task := range tasks {
		g.nodes[task.ID] = task
		if _, ok := g.edges[task.ID]; !ok {
			g.edges[task.ID] = nil
		}
	}

	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				return fmt.Errorf("task %s depends on unknown task %s", task.ID, depID)
			}
			g.edges[task.ID] = append(g.edges[task.ID], depID)
		}
	}

	if g.hasCycleLocked() {
		return ErrCycleDetected
	}
	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

// hasCycleLocked runs DFS with coloring to detect back edges.
// Caller must hold g.mu.
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

	for id := range g.nodes {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// Ready returns IDs of pending tasks whose dependencies have all completed
// successfully. The result is sorted for deterministic dispatch order.
func (g *DependencyGraph) Ready() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for id, task := range g.nodes {
		if task.Status != models.TaskStatusPending {
			continue
		}

		allDepsDone := true
		for _, depID := range g.edges[id] {
			if !g.completed[depID] {
				allDepsDone = false
				break
			}
		}
		if allDepsDone {
			ready = append(ready, id)
		}
	}

	sort.Strings(ready)
	return ready
}

// MarkComplete records a task's terminal success, unblocking its dependents.
func (g *DependencyGraph) MarkComplete(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed[taskID] = true
}

// TransitiveDependents returns IDs of every task that directly or indirectly
// depends on the given task. Used to abandon the subtree below a terminal
// failure.
func (g *DependencyGraph) TransitiveDependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := map[string]bool{taskID: true}
	frontier := []string{taskID}
	var result []string

	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		for id, deps := range g.edges {
			if seen[id] {
				continue
			}
			for _, depID := range deps {
				if depID == next {
					seen[id] = true
					frontier = append(frontier, id)
					result = append(result, id)
					break
				}
			}
		}
	}

	sort.Strings(result)
	return result
}

// Task returns the task for a given ID, or nil if not found.
func (g *DependencyGraph) Task(taskID string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[taskID]
}

// Tasks returns all tasks in the graph.
func (g *DependencyGraph) Tasks() []*models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*models.Task, 0, len(g.nodes))
	for _, task := range g.nodes {
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Dependencies returns the IDs of tasks the given task depends on.
func (g *DependencyGraph) Dependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[taskID]...)
}

// Completed reports whether a task has been marked complete.
func (g *DependencyGraph) Completed(taskID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.completed[taskID]
}
