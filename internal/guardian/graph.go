package guardian

import (
	"container/heap"
	"sort"
)

// dependencyGraph maps a task to its prerequisites and keeps the reverse index
// so a transition can find the tasks it may unblock. Edges are written only
// while tasks are created.
type dependencyGraph struct {
	prerequisites map[string][]string
	dependents    map[string][]string
}

func newDependencyGraph() *dependencyGraph {
	return &dependencyGraph{
		prerequisites: make(map[string][]string),
		dependents:    make(map[string][]string),
	}
}

func (g *dependencyGraph) set(taskID string, prereqs []string) {
	if len(prereqs) == 0 {
		return
	}
	g.prerequisites[taskID] = cloneStrings(prereqs)
	for _, prereq := range prereqs {
		g.dependents[prereq] = append(g.dependents[prereq], taskID)
	}
}

func (g *dependencyGraph) prerequisitesOf(taskID string) []string {
	return g.prerequisites[taskID]
}

func (g *dependencyGraph) dependentsOf(taskID string) []string {
	return g.dependents[taskID]
}

// normalizeCatalogDependencies checks index ranges and self edges, dropping
// duplicate prerequisites while keeping first-seen order.
func normalizeCatalogDependencies(n int, deps map[int][]int) (map[int][]int, error) {
	out := make(map[int][]int, len(deps))
	for dependent, prereqs := range deps {
		if dependent < 0 || dependent >= n {
			return nil, &CatalogError{Index: dependent, Field: "dependencies", Reason: "task index out of range"}
		}
		seen := make(map[int]struct{}, len(prereqs))
		for _, prereq := range prereqs {
			if prereq < 0 || prereq >= n {
				return nil, &CatalogError{Index: dependent, Field: "dependencies", Reason: "prerequisite index out of range"}
			}
			if prereq == dependent {
				return nil, &CatalogError{Index: dependent, Field: "dependencies", Reason: "task cannot depend on itself"}
			}
			if _, dup := seen[prereq]; dup {
				continue
			}
			seen[prereq] = struct{}{}
			out[dependent] = append(out[dependent], prereq)
		}
	}
	return out, nil
}

// validateAcyclic proves the catalog graph has no cycles using Kahn's
// algorithm. If a cycle exists one witness path is extracted deterministically.
func validateAcyclic(n int, deps map[int][]int) error {
	outgoing := make([][]int, n)
	indeg := make([]int, n)
	for dependent, prereqs := range deps {
		sorted := append([]int(nil), prereqs...)
		sort.Ints(sorted)
		outgoing[dependent] = sorted
		for _, prereq := range sorted {
			indeg[prereq]++
		}
	}

	if len(topoOrder(outgoing, indeg)) == n {
		return nil
	}
	return &DependencyCycleError{Path: findCycle(outgoing)}
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func topoOrder(outgoing [][]int, indegree []int) []int {
	indeg := make([]int, len(indegree))
	copy(indeg, indegree)

	ready := &intMinHeap{}
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycle walks nodes in index order and returns the first cycle found, in
// dependency order with the start node repeated at the end.
func findCycle(outgoing [][]int) []int {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make([]int, len(outgoing))
	parent := make([]int, len(outgoing))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int

	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range outgoing[u] {
			if color[v] == white {
				parent[v] = u
				if dfs(v) {
					return true
				}
				continue
			}
			if color[v] == gray {
				cycle = append(cycle, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := range outgoing {
		if color[i] == white && dfs(i) {
			break
		}
	}

	for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
		cycle[i], cycle[j] = cycle[j], cycle[i]
	}
	return cycle
}
