// Package dag holds the dependency graph over registered tasks. Edges mean
// "must complete before". The graph rejects any edge that would close a cycle,
// so it is acyclic by construction.
package dag

import (
	"sort"
	"sync"

	pipelineErrors "github.com/maxkimambo/bqflow/internal/errors"
	"github.com/maxkimambo/bqflow/internal/registry"
)

// Edge is an ordered (upstream, downstream) pair
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is a directed acyclic graph over the tasks of a registry
type Graph struct {
	registry   *registry.Registry
	upstream   map[string]map[string]struct{}
	downstream map[string]map[string]struct{}
	edgeCount  int
	mutex      sync.RWMutex
}

// NewGraph creates an empty graph over the given registry
func NewGraph(reg *registry.Registry) *Graph {
	return &Graph{
		registry:   reg,
		upstream:   make(map[string]map[string]struct{}),
		downstream: make(map[string]map[string]struct{}),
	}
}

// Registry returns the registry backing this graph
func (g *Graph) Registry() *registry.Registry {
	return g.registry
}

// AddEdge records that upstream must complete before downstream. Adding an
// existing edge again is a no-op.
func (g *Graph) AddEdge(upstream, downstream string) error {
	if !g.registry.Has(upstream) {
		return pipelineErrors.NewNotFoundError(upstream, "Dependency registration")
	}
	if !g.registry.Has(downstream) {
		return pipelineErrors.NewNotFoundError(downstream, "Dependency registration")
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	if _, exists := g.downstream[upstream][downstream]; exists {
		return nil
	}

	// upstream -> downstream closes a cycle iff upstream is already reachable
	// from downstream
	if path := g.pathUnsafe(downstream, upstream); path != nil {
		return pipelineErrors.NewCycleError(upstream, downstream, append(path, downstream))
	}

	if g.downstream[upstream] == nil {
		g.downstream[upstream] = make(map[string]struct{})
	}
	if g.upstream[downstream] == nil {
		g.upstream[downstream] = make(map[string]struct{})
	}
	g.downstream[upstream][downstream] = struct{}{}
	g.upstream[downstream][upstream] = struct{}{}
	g.edgeCount++

	return nil
}

// pathUnsafe returns a path from -> ... -> to following downstream edges, or
// nil when to is unreachable. Neighbours are visited in sorted order so the
// reported path is deterministic.
func (g *Graph) pathUnsafe(from, to string) []string {
	visited := make(map[string]bool)
	var walk func(node string) []string
	walk = func(node string) []string {
		if node == to {
			return []string{node}
		}
		visited[node] = true
		for _, next := range sortedKeys(g.downstream[node]) {
			if visited[next] {
				continue
			}
			if rest := walk(next); rest != nil {
				return append([]string{node}, rest...)
			}
		}
		return nil
	}
	return walk(from)
}

// Upstream returns the direct dependencies of name
func (g *Graph) Upstream(name string) ([]string, error) {
	if !g.registry.Has(name) {
		return nil, pipelineErrors.NewNotFoundError(name, "Upstream lookup")
	}
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return sortedKeys(g.upstream[name]), nil
}

// Downstream returns the tasks that directly depend on name
func (g *Graph) Downstream(name string) ([]string, error) {
	if !g.registry.Has(name) {
		return nil, pipelineErrors.NewNotFoundError(name, "Downstream lookup")
	}
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return sortedKeys(g.downstream[name]), nil
}

// Descendants returns every task reachable from name, sorted
func (g *Graph) Descendants(name string) ([]string, error) {
	if !g.registry.Has(name) {
		return nil, pipelineErrors.NewNotFoundError(name, "Descendant lookup")
	}
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	seen := make(map[string]struct{})
	stack := sortedKeys(g.downstream[name])
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}
		stack = append(stack, sortedKeys(g.downstream[cur])...)
	}
	return sortedKeys(seen), nil
}

// Roots returns all tasks with no upstream dependencies
func (g *Graph) Roots() []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	var roots []string
	for _, name := range g.registry.Names() {
		if len(g.upstream[name]) == 0 {
			roots = append(roots, name)
		}
	}
	return roots
}

// Edges returns all edges sorted by (from, to)
func (g *Graph) Edges() []Edge {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	edges := make([]Edge, 0, g.edgeCount)
	for _, from := range sortedKeys(g.downstream) {
		for _, to := range sortedKeys(g.downstream[from]) {
			edges = append(edges, Edge{From: from, To: to})
		}
	}
	return edges
}

// Size returns the number of tasks in the graph
func (g *Graph) Size() int {
	return g.registry.Len()
}

// TopologicalOrder returns a deterministic ordering of all tasks in which every
// task appears after its upstream tasks. Ties are broken lexicographically.
// The order is for validation and display; execution is driven by readiness.
func (g *Graph) TopologicalOrder() ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	names := g.registry.Names()
	inDegree := make(map[string]int, len(names))
	for _, name := range names {
		inDegree[name] = len(g.upstream[name])
	}

	var queue []string
	for _, name := range names {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	order := make([]string, 0, len(names))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		released := false
		for _, next := range sortedKeys(g.downstream[current]) {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
				released = true
			}
		}
		if released {
			sort.Strings(queue)
		}
	}

	// Unreachable while AddEdge rejects cycles; kept so a corrupted graph is
	// reported instead of silently truncated.
	if len(order) != len(names) {
		return nil, pipelineErrors.NewCycleError("", "", nil)
	}

	return order, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
