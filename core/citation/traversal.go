package citation

import (
	"time"

	liberrors "github.com/adalundhe/shelf/core/errors"
)

// CitationVelocity is the number of incoming edges discovered in
// (now-window, now] divided by the window length in days. Self-citations are
// not counted.
func (s *Snapshot) CitationVelocity(id int64, window time.Duration, now time.Time) (float64, error) {
	if window <= 0 {
		return 0, liberrors.Newf(liberrors.KindInvalidInput, "citation.CitationVelocity", "window %v must be positive", window)
	}

	start := now.Add(-window)
	n := 0
	for _, e := range s.edges {
		if e.Target != id || e.Source == id {
			continue
		}
		if e.DiscoveredAt.After(start) && !e.DiscoveredAt.After(now) {
			n++
		}
	}

	days := window.Hours() / 24
	return float64(n) / days, nil
}

// ShortestPath returns the resource ids on a shortest directed path from
// `from` to `to`, both included, using at most maxDepth edges. Neighbours are
// explored in edge discovery order, which fixes the path among equals.
func (s *Snapshot) ShortestPath(from, to int64, maxDepth int) ([]int64, error) {
	const op = "citation.ShortestPath"

	if maxDepth < 0 {
		return nil, liberrors.Newf(liberrors.KindInvalidInput, op, "max depth %d is negative", maxDepth)
	}
	if from == to {
		return []int64{from}, nil
	}

	idx := s.index()
	src, ok := idx.pos[from]
	dst, ok2 := idx.pos[to]
	if !ok || !ok2 {
		return nil, liberrors.Newf(liberrors.KindNotFound, op, "no path from %d to %d", from, to)
	}

	parent := make([]int, len(idx.nodes))
	for i := range parent {
		parent[i] = -1
	}
	parent[src] = src

	frontier := []int{src}
	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []int
		for _, u := range frontier {
			for _, a := range idx.out[u] {
				if parent[a.to] != -1 {
					continue
				}
				parent[a.to] = u
				if a.to == dst {
					return tracePath(idx, parent, src, dst), nil
				}
				next = append(next, a.to)
			}
		}
		frontier = next
	}

	return nil, liberrors.Newf(liberrors.KindNotFound, op, "no path from %d to %d within %d hops", from, to, maxDepth)
}

func tracePath(idx *adjacency, parent []int, src, dst int) []int64 {
	var rev []int64
	for v := dst; v != src; v = parent[v] {
		rev = append(rev, idx.nodes[v])
	}
	rev = append(rev, idx.nodes[src])

	path := make([]int64, len(rev))
	for i, id := range rev {
		path[len(rev)-1-i] = id
	}
	return path
}
