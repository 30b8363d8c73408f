package citation

import (
	"sort"

	"gonum.org/v1/gonum/floats"

	liberrors "github.com/adalundhe/shelf/core/errors"
)

const (
	DefaultDamping       = 0.85
	DefaultMaxIterations = 100
	DefaultEpsilon       = 1e-9
)

// PageRankOptions parameterise PageRank. Zero fields take the defaults.
type PageRankOptions struct {
	Damping       float64
	MaxIterations int
	Epsilon       float64
}

func DefaultPageRankOptions() PageRankOptions {
	return PageRankOptions{
		Damping:       DefaultDamping,
		MaxIterations: DefaultMaxIterations,
		Epsilon:       DefaultEpsilon,
	}
}

func (o PageRankOptions) resolve() (PageRankOptions, error) {
	const op = "citation.PageRank"

	if o.Damping == 0 {
		o.Damping = DefaultDamping
	}
	if o.MaxIterations == 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.Epsilon == 0 {
		o.Epsilon = DefaultEpsilon
	}

	switch {
	case o.Damping <= 0 || o.Damping >= 1:
		return o, liberrors.Newf(liberrors.KindInvalidConfiguration, op, "damping %v outside (0, 1)", o.Damping)
	case o.MaxIterations < 0:
		return o, liberrors.Newf(liberrors.KindInvalidConfiguration, op, "max iterations %d is negative", o.MaxIterations)
	case o.Epsilon < 0:
		return o, liberrors.Newf(liberrors.KindInvalidConfiguration, op, "epsilon %v is negative", o.Epsilon)
	}
	return o, nil
}

// PageRankResult holds scores for every participating resource (one that
// touches at least one edge). Scores over participating resources sum to 1.
type PageRankResult struct {
	Scores map[int64]float64 `json:"scores"`

	// Isolated lists requested resources with no edges; they score 0 and
	// are not part of the distribution.
	Isolated []int64 `json:"isolated,omitempty"`

	Iterations int  `json:"iterations"`
	Converged  bool `json:"converged"`
}

// PageRank runs power iteration over the collapsed graph. Self-loops are left
// out of the transitions, so a node whose only edges are self-loops is
// dangling. Dangling mass is spread uniformly over all participating nodes.
// Iteration stops when the L1 change falls below Epsilon or after
// MaxIterations.
func (s *Snapshot) PageRank(opts PageRankOptions) (PageRankResult, error) {
	opts, err := opts.resolve()
	if err != nil {
		return PageRankResult{}, err
	}

	idx := s.index()
	n := len(idx.nodes)
	result := PageRankResult{Scores: make(map[int64]float64, n)}
	if n == 0 {
		result.Converged = true
		return result, nil
	}

	outW := make([]float64, n)
	for i := range outW {
		outW[i] = idx.outWeight(i)
	}

	rank := make([]float64, n)
	next := make([]float64, n)
	for i := range rank {
		rank[i] = 1 / float64(n)
	}

	d := opts.Damping
	teleport := (1 - d) / float64(n)

	for iter := 1; iter <= opts.MaxIterations; iter++ {
		var dangling float64
		for i := range rank {
			if outW[i] == 0 {
				dangling += rank[i]
			}
		}

		base := teleport + d*dangling/float64(n)
		for i := range next {
			next[i] = base
		}
		for i, arcs := range idx.out {
			if outW[i] == 0 {
				continue
			}
			share := d * rank[i] / outW[i]
			for _, a := range arcs {
				next[a.to] += share * a.weight
			}
		}

		// Keep rounding drift from accumulating across iterations.
		if sum := floats.Sum(next); sum > 0 {
			floats.Scale(1/sum, next)
		}

		delta := floats.Distance(next, rank, 1)
		rank, next = next, rank
		result.Iterations = iter

		if delta < opts.Epsilon {
			result.Converged = true
			break
		}
	}

	for i, id := range idx.nodes {
		result.Scores[id] = rank[i]
	}
	return result, nil
}

// PageRankFor is PageRank with explicit zeros for the given resources that
// have no edges, which are also listed in Isolated.
func (s *Snapshot) PageRankFor(ids []int64, opts PageRankOptions) (PageRankResult, error) {
	result, err := s.PageRank(opts)
	if err != nil {
		return result, err
	}

	for _, id := range ids {
		if _, ok := result.Scores[id]; ok {
			continue
		}
		result.Scores[id] = 0
		result.Isolated = append(result.Isolated, id)
	}
	sort.Slice(result.Isolated, func(i, j int) bool { return result.Isolated[i] < result.Isolated[j] })
	return result, nil
}
