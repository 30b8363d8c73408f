// Package ranking fuses lexical relevance, citation centrality, recency and
// explicit importance into one score per resource, keeping the per-signal
// breakdown for explanation.
package ranking

import (
	"fmt"
	"math"

	liberrors "github.com/adalundhe/shelf/core/errors"
)

// Signal identifies one input to the fused score.
type Signal int

const (
	// SignalLexical is BM25 min-max normalised over the candidate set.
	SignalLexical Signal = iota

	// SignalGraph is the resource's PageRank over the citation graph.
	SignalGraph

	// SignalRecency decays exponentially with time since last sighting.
	SignalRecency

	// SignalImportance is the catalog's explicit importance value.
	SignalImportance
)

func (s Signal) String() string {
	switch s {
	case SignalLexical:
		return "lexical"
	case SignalGraph:
		return "graph"
	case SignalRecency:
		return "recency"
	case SignalImportance:
		return "importance"
	default:
		return "unknown"
	}
}

func (s Signal) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Signal) UnmarshalText(text []byte) error {
	for _, candidate := range AllSignals() {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return liberrors.Newf(liberrors.KindInvalidInput, "ranking.Signal", "unknown signal %q", text)
}

// AllSignals returns every signal in breakdown order.
func AllSignals() []Signal {
	return []Signal{SignalLexical, SignalGraph, SignalRecency, SignalImportance}
}

// Contribution captures a single signal's share of the final score.
type Contribution struct {
	Signal Signal `json:"signal"`

	// RawValue is the unweighted signal value in [0, 1].
	RawValue float64 `json:"raw_value"`

	Weight float64 `json:"weight"`

	// Contribution is RawValue * Weight.
	Contribution float64 `json:"contribution"`
}

// Weights are the fusion coefficients. They must be non-negative and sum to 1.
type Weights struct {
	Lexical    float64 `json:"lexical" yaml:"lexical"`
	Graph      float64 `json:"graph" yaml:"graph"`
	Recency    float64 `json:"recency" yaml:"recency"`
	Importance float64 `json:"importance" yaml:"importance"`
}

const weightTolerance = 1e-9

func DefaultWeights() Weights {
	return Weights{
		Lexical:    0.6,
		Graph:      0.3,
		Recency:    0.05,
		Importance: 0.05,
	}
}

// Validate fails with InvalidConfiguration unless every weight is
// non-negative and the weights sum to 1. Weights are never renormalised.
func (w Weights) Validate() error {
	const op = "ranking.Weights"

	for _, s := range AllSignals() {
		v := w.Of(s)
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return liberrors.Newf(liberrors.KindInvalidConfiguration, op, "%s weight %v must be a non-negative number", s, v)
		}
	}

	sum := w.Lexical + w.Graph + w.Recency + w.Importance
	if math.Abs(sum-1) > weightTolerance {
		return liberrors.Newf(liberrors.KindInvalidConfiguration, op, "weights sum to %v, want 1", sum)
	}
	return nil
}

// Of returns the weight of signal s.
func (w Weights) Of(s Signal) float64 {
	switch s {
	case SignalLexical:
		return w.Lexical
	case SignalGraph:
		return w.Graph
	case SignalRecency:
		return w.Recency
	case SignalImportance:
		return w.Importance
	default:
		return 0
	}
}

func (w Weights) String() string {
	return fmt.Sprintf("lexical=%.3g graph=%.3g recency=%.3g importance=%.3g", w.Lexical, w.Graph, w.Recency, w.Importance)
}
