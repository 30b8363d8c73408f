package citation

import (
	"gonum.org/v1/gonum/floats"
)

const DefaultHITSIterations = 50

// HubAuthority is a node's HITS score pair.
type HubAuthority struct {
	Hub       float64 `json:"hub"`
	Authority float64 `json:"authority"`
}

// HITS computes hub and authority scores over the collapsed graph, weighting
// arcs by edge count and ignoring self-loops. Both vectors are L2-normalised
// every iteration; a vector that collapses to zero stays zero. maxIterations
// <= 0 uses DefaultHITSIterations.
func (s *Snapshot) HITS(maxIterations int) map[int64]HubAuthority {
	if maxIterations <= 0 {
		maxIterations = DefaultHITSIterations
	}

	idx := s.index()
	n := len(idx.nodes)
	scores := make(map[int64]HubAuthority, n)
	if n == 0 {
		return scores
	}

	hub := make([]float64, n)
	auth := make([]float64, n)
	prevHub := make([]float64, n)
	prevAuth := make([]float64, n)
	for i := range hub {
		hub[i] = 1
	}

	for iter := 0; iter < maxIterations; iter++ {
		copy(prevHub, hub)
		copy(prevAuth, auth)

		for i := range auth {
			auth[i] = 0
			for _, a := range idx.in[i] {
				auth[i] += a.weight * hub[a.to]
			}
		}
		normalizeL2(auth)

		for i := range hub {
			hub[i] = 0
			for _, a := range idx.out[i] {
				hub[i] += a.weight * auth[a.to]
			}
		}
		normalizeL2(hub)

		if iter > 0 && floats.Distance(hub, prevHub, 1)+floats.Distance(auth, prevAuth, 1) < DefaultEpsilon {
			break
		}
	}

	for i, id := range idx.nodes {
		scores[id] = HubAuthority{Hub: hub[i], Authority: auth[i]}
	}
	return scores
}

func normalizeL2(v []float64) {
	if norm := floats.Norm(v, 2); norm > 0 {
		floats.Scale(1/norm, v)
	}
}
