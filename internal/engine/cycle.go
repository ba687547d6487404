package engine

import (
	"context"

	"github.com/dendritehq/dendrite/internal/store"
)

// CycleFinder reports whether committing a dependency edge closed a
// cycle in the active dependency graph, and if so returns a witness
// path starting and ending at the same project.
type CycleFinder interface {
	FindCycle(ctx context.Context, st *store.Store, fromID, toID string) ([]string, error)
}

// dfsCycleFinder walks the active adjacency with a depth-first search
// from the new edge's destination, looking for a path back to its
// origin. Adjacency lists come back from the store in insertion order,
// so the witness path is deterministic for a given graph state.
type dfsCycleFinder struct{}

// NewCycleFinder returns the default deterministic finder.
func NewCycleFinder() CycleFinder {
	return dfsCycleFinder{}
}

// FindCycle is called after the edge from->to is already active, so a
// self-loop (from == to) is reported without touching the graph. The
// witness path has the form [from, to, ..., from].
func (dfsCycleFinder) FindCycle(ctx context.Context, st *store.Store, fromID, toID string) ([]string, error) {
	if fromID == toID {
		return []string{fromID, toID}, nil
	}

	adj, err := st.ActiveAdjacency(ctx)
	if err != nil {
		return nil, err
	}

	// DFS from the destination back to the origin, exploring neighbors
	// in adjacency order so the first witness found is stable.
	visited := map[string]bool{toID: true}
	path := []string{fromID, toID}

	var walk func(node string) []string
	walk = func(node string) []string {
		for _, next := range adj[node] {
			if next == fromID {
				witness := make([]string, len(path)+1)
				copy(witness, path)
				witness[len(path)] = fromID
				return witness
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			path = append(path, next)
			if w := walk(next); w != nil {
				return w
			}
			path = path[:len(path)-1]
		}
		return nil
	}

	return walk(toID), nil
}
