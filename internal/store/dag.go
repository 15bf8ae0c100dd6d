package store

import "sort"

// detectCycle reports whether adding a task named newID with dependencies
// dependsOn to the existing edge set would make depends_on cyclic across
// all tasks (spec.md §3's "depends_on is acyclic" invariant).
//
// The traversal order is deterministic (dependency ids visited in sorted
// order), the same determinism goal as the downstreamReachable heap-ordered
// walk in the script-weaver DAG executor reference, adapted here from
// cache-aware execution ordering to plain cycle detection at task-creation
// time.
func detectCycle(edges map[string][]string, newID string, dependsOn []string) bool {
	graph := make(map[string][]string, len(edges)+1)
	for k, v := range edges {
		graph[k] = v
	}
	graph[newID] = append([]string(nil), dependsOn...)

	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[string]int, len(graph))

	var ids []string
	for id := range graph {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case visited:
			return false
		case visiting:
			return true
		}
		state[id] = visiting

		deps := append([]string(nil), graph[id]...)
		sort.Strings(deps)
		for _, dep := range deps {
			if visit(dep) {
				return true
			}
		}
		state[id] = visited
		return false
	}

	for _, id := range ids {
		if visit(id) {
			return true
		}
	}
	return false
}
