package compiler

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/ormcore/internal/meta"
)

// CycleWarning represents a cycle of required references between entity
// types.
//
// Cycles are warnings, not errors, because the runtime hydrates them fine
// (the identity map closes every loop); only writers that insert rows one at
// a time need one of the foreign keys to be nullable.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["Book", "Author", "Book"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles reports cycles among non-nullable owning to-one relations.
//
// The algorithm:
//  1. Build entity → target graph from required m:1 and owning 1:1 relations
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops as a cycle warning
//
// Warnings are sorted by path for stable output.
func AnalyzeCycles(entities []*meta.EntityMeta) []CycleWarning {
	graph := make(dependencyGraph)
	for _, m := range entities {
		graph.node(m.Name)
		for _, p := range m.Properties {
			if p.Nullable || !p.IsToOne() || p.MappedBy != "" {
				continue
			}
			graph[m.Name] = append(graph[m.Name], p.Target)
		}
	}
	return findCycles(graph, func(path []string) string {
		if len(path) == 2 {
			return fmt.Sprintf("%s requires a row of its own type", path[0])
		}
		return fmt.Sprintf("required references form a cycle: %s", strings.Join(path, " → "))
	})
}

// embeddingCycles reports embeddables that (transitively) embed themselves.
func embeddingCycles(entities []*meta.EntityMeta) []CycleWarning {
	graph := make(dependencyGraph)
	for _, m := range entities {
		if !m.Embeddable {
			continue
		}
		graph.node(m.Name)
		for _, p := range m.Properties {
			if p.Kind == meta.KindEmbedded {
				graph[m.Name] = append(graph[m.Name], cmp.Or(p.Embeddable, p.Target))
			}
		}
	}
	return findCycles(graph, func(path []string) string {
		return fmt.Sprintf("embeddables embed each other: %s", strings.Join(path, " → "))
	})
}

// dependencyGraph maps entity name → names it depends on.
type dependencyGraph map[string][]string

// node ensures name exists in the graph.
func (g dependencyGraph) node(name string) {
	if g[name] == nil {
		g[name] = []string{}
	}
}

func findCycles(graph dependencyGraph, describe func(path []string) string) []CycleWarning {
	var warnings []CycleWarning
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			path := reconstructCyclePath(scc, graph)
			warnings = append(warnings, CycleWarning{
				Path:    path,
				Message: describe(path),
				Level:   "warning",
			})
		}
	}
	slices.SortFunc(warnings, func(a, b CycleWarning) int {
		return slices.Compare(a.Path, b.Path)
	})
	return warnings
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Nodes are visited in sorted order and each SCC is sorted, so results do
// not depend on map iteration.
func tarjanSCC(graph dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root node: pop the stack and create an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	for _, scc := range sccs {
		slices.Sort(scc)
	}
	return sccs
}

// reconstructCyclePath builds a cycle path from an SCC.
//
// Strategy: Start at the first node of the SCC, follow edges to other SCC
// members, continue until we return to start node.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}
	if len(scc) == 1 {
		return []string{scc[0], scc[0]}
	}

	sccSet := make(map[string]bool, len(scc))
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}
