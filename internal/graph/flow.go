// Package graph holds the directed communication graph between agents.
package graph

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrCycleDetected is returned when a relay cycle is found in the graph.
	ErrCycleDetected = errors.New("relay cycle detected")

	// ErrUnknownNode is returned when an edge references an undeclared node.
	ErrUnknownNode = errors.New("unknown node")
)

// Edge is an ordered pair: From may relay messages to To.
type Edge struct {
	From string
	To   string
}

// FlowGraph stores nodes in insertion order and a deduplicated edge set.
type FlowGraph struct {
	mu    sync.RWMutex
	nodes map[string]struct{}
	order []string
	succ  map[string][]string
	edges []Edge
}

// NewFlowGraph creates a new empty graph.
func NewFlowGraph() *FlowGraph {
	return &FlowGraph{
		nodes: make(map[string]struct{}),
		succ:  make(map[string][]string),
	}
}

// AddNode adds a node. Adding an existing node is a no-op.
func (g *FlowGraph) AddNode(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[name]; ok {
		return
	}
	g.nodes[name] = struct{}{}
	g.order = append(g.order, name)
}

// AddEdge declares from -> to. Both endpoints must already be nodes.
// Declaring the same edge twice stores it once and reports false.
func (g *FlowGraph) AddEdge(from, to string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, n := range []string{from, to} {
		if _, ok := g.nodes[n]; !ok {
			return false, &UnknownNodeError{Name: n, From: from, To: to}
		}
	}
	for _, s := range g.succ[from] {
		if s == to {
			return false, nil
		}
	}
	g.succ[from] = append(g.succ[from], to)
	g.edges = append(g.edges, Edge{From: from, To: to})
	return true, nil
}

// Allowed reports whether from may relay to to.
func (g *FlowGraph) Allowed(from, to string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, s := range g.succ[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Successors returns the agents from may relay to, in declaration order.
func (g *FlowGraph) Successors(from string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]string, len(g.succ[from]))
	copy(out, g.succ[from])
	return out
}

// Edges returns a copy of all edges in declaration order.
func (g *FlowGraph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Nodes returns node names in insertion order.
func (g *FlowGraph) Nodes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// NodeCount returns the number of nodes in the graph.
func (g *FlowGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// FindCycle returns a *CycleError describing one relay cycle, or nil when
// the graph is acyclic. Traversal order is deterministic.
func (g *FlowGraph) FindCycle() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// Colors: 0=white (unvisited), 1=gray (visiting), 2=black (visited)
	colors := make(map[string]int)
	var stack []string

	var dfs func(name string) error
	dfs = func(name string) error {
		if colors[name] == 1 {
			start := 0
			for i, n := range stack {
				if n == name {
					start = i
					break
				}
			}
			path := append(append([]string{}, stack[start:]...), name)
			return &CycleError{Path: path}
		}
		if colors[name] == 2 {
			return nil
		}

		colors[name] = 1
		stack = append(stack, name)
		for _, next := range g.succ[name] {
			if err := dfs(next); err != nil {
				return err
			}
		}
		colors[name] = 2
		stack = stack[:len(stack)-1]
		return nil
	}

	for _, name := range g.order {
		if colors[name] == 0 {
			if err := dfs(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reachable returns every node reachable from start, sorted by name.
func (g *FlowGraph) Reachable(start string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := map[string]bool{start: true}
	queue := []string{start}
	var out []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, s := range g.succ[n] {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
				queue = append(queue, s)
			}
		}
	}
	sort.Strings(out)
	return out
}
