package citation

import (
	"sort"
	"sync"
)

// Snapshot is a frozen, Seq-ordered copy of the edge set. It is safe for
// concurrent use; the adjacency index is built on first use.
type Snapshot struct {
	edges []Edge

	once sync.Once
	idx  *adjacency
}

// arc is one collapsed edge: all edges of an ordered pair, weighted by count.
type arc struct {
	to     int
	weight float64
}

// adjacency is the multigraph collapsed to a weighted simple graph over dense
// node indices. Nodes are sorted by resource id; arcs keep first-discovery
// order. Self-loops mark a node as participating but produce no arc.
type adjacency struct {
	nodes []int64
	pos   map[int64]int
	out   [][]arc
	in    [][]arc
}

// NewSnapshot freezes edges. The slice is copied and sorted by Seq.
func NewSnapshot(edges []Edge) *Snapshot {
	cp := make([]Edge, len(edges))
	copy(cp, edges)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Seq < cp[j].Seq })
	return &Snapshot{edges: cp}
}

// Edges returns a copy of the edge list in Seq order.
func (s *Snapshot) Edges() []Edge {
	cp := make([]Edge, len(s.edges))
	copy(cp, s.edges)
	return cp
}

func (s *Snapshot) Len() int {
	return len(s.edges)
}

// Nodes returns every resource touching at least one edge, ascending.
func (s *Snapshot) Nodes() []int64 {
	idx := s.index()
	cp := make([]int64, len(idx.nodes))
	copy(cp, idx.nodes)
	return cp
}

// OutEdges groups edges by source, each group in Seq order.
func (s *Snapshot) OutEdges() map[int64][]Edge {
	out := make(map[int64][]Edge)
	for _, e := range s.edges {
		out[e.Source] = append(out[e.Source], e)
	}
	return out
}

// OutDegree counts edges leaving id, self-loops and parallel edges included.
func (s *Snapshot) OutDegree(id int64) int {
	n := 0
	for _, e := range s.edges {
		if e.Source == id {
			n++
		}
	}
	return n
}

// InDegree counts edges arriving at id, self-loops and parallel edges included.
func (s *Snapshot) InDegree(id int64) int {
	n := 0
	for _, e := range s.edges {
		if e.Target == id {
			n++
		}
	}
	return n
}

func (s *Snapshot) index() *adjacency {
	s.once.Do(func() {
		s.idx = buildAdjacency(s.edges)
	})
	return s.idx
}

func buildAdjacency(edges []Edge) *adjacency {
	seen := make(map[int64]struct{})
	for _, e := range edges {
		seen[e.Source] = struct{}{}
		seen[e.Target] = struct{}{}
	}

	nodes := make([]int64, 0, len(seen))
	for id := range seen {
		nodes = append(nodes, id)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	pos := make(map[int64]int, len(nodes))
	for i, id := range nodes {
		pos[id] = i
	}

	adj := &adjacency{
		nodes: nodes,
		pos:   pos,
		out:   make([][]arc, len(nodes)),
		in:    make([][]arc, len(nodes)),
	}

	// Edges are in Seq order, so arcs are appended in first-discovery order.
	outSlot := make(map[[2]int]int)
	inSlot := make(map[[2]int]int)
	for _, e := range edges {
		if e.Source == e.Target {
			continue
		}
		src, dst := pos[e.Source], pos[e.Target]

		if k, ok := outSlot[[2]int{src, dst}]; ok {
			adj.out[src][k].weight++
			adj.in[dst][inSlot[[2]int{dst, src}]].weight++
			continue
		}
		outSlot[[2]int{src, dst}] = len(adj.out[src])
		adj.out[src] = append(adj.out[src], arc{to: dst, weight: 1})
		inSlot[[2]int{dst, src}] = len(adj.in[dst])
		adj.in[dst] = append(adj.in[dst], arc{to: src, weight: 1})
	}

	return adj
}

func (a *adjacency) outWeight(i int) float64 {
	var w float64
	for _, x := range a.out[i] {
		w += x.weight
	}
	return w
}
