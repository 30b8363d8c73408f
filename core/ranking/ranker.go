package ranking

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adalundhe/shelf/core/catalog"
	"github.com/adalundhe/shelf/core/citation"
	liberrors "github.com/adalundhe/shelf/core/errors"
	"github.com/adalundhe/shelf/core/search"
)

const DefaultHalfLife = 30 * 24 * time.Hour

// Searcher produces lexical candidates.
type Searcher interface {
	Query(terms []string, limit int) []search.Hit
}

// GraphSource provides the citation graph to rank over.
type GraphSource interface {
	Snapshot(ctx context.Context) (*citation.Snapshot, error)
}

// EntrySource resolves candidates to catalog entries.
type EntrySource interface {
	GetByID(ctx context.Context, id int64) (catalog.Entry, error)
}

type Options struct {
	Weights  Weights
	HalfLife time.Duration
	PageRank citation.PageRankOptions
	Logger   *slog.Logger
	Now      func() time.Time
}

// Request is one hybrid query. CandidateLimit bounds how many lexical
// candidates are re-ranked and must be at least Limit.
type Request struct {
	Terms          []string `json:"terms"`
	Limit          int      `json:"limit"`
	CandidateLimit int      `json:"candidate_limit"`
}

// Breakdown explains a fused score.
type Breakdown struct {
	// BM25 is the raw lexical score before normalisation.
	BM25       float64 `json:"bm25"`
	Lexical    float64 `json:"lexical"`
	PageRank   float64 `json:"pagerank"`
	Recency    float64 `json:"recency"`
	Importance float64 `json:"importance"`

	Contributions []Contribution `json:"contributions"`
}

type Result struct {
	Resource  int64     `json:"resource"`
	Score     float64   `json:"score"`
	Breakdown Breakdown `json:"breakdown"`
}

// Ranker re-scores search candidates. Weights can be swapped at runtime.
type Ranker struct {
	searcher Searcher
	graph    GraphSource
	entries  EntrySource
	weights  atomic.Pointer[Weights]
	halfLife time.Duration
	pagerank citation.PageRankOptions
	logger   *slog.Logger
	now      func() time.Time
}

// New validates the weights up front; a ranker never runs with bad weights.
func New(searcher Searcher, graph GraphSource, entries EntrySource, opts Options) (*Ranker, error) {
	weights := opts.Weights
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}

	halfLife := opts.HalfLife
	if halfLife == 0 {
		halfLife = DefaultHalfLife
	}
	if halfLife < 0 {
		return nil, liberrors.Newf(liberrors.KindInvalidConfiguration, "ranking.New", "half-life %v must be positive", halfLife)
	}

	r := &Ranker{
		searcher: searcher,
		graph:    graph,
		entries:  entries,
		halfLife: halfLife,
		pagerank: opts.PageRank,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	r.weights.Store(&weights)
	return r, nil
}

func (r *Ranker) Weights() Weights {
	return *r.weights.Load()
}

// SetWeights replaces the weights if they validate.
func (r *Ranker) SetWeights(w Weights) error {
	if err := w.Validate(); err != nil {
		return err
	}
	r.weights.Store(&w)
	r.logger.Info("ranker weights updated", "weights", w.String())
	return nil
}

// Query runs a hybrid query:
//
//  1. take up to CandidateLimit lexical candidates
//  2. min-max normalise their BM25 scores
//  3. fetch PageRank and catalog entries concurrently
//  4. fuse with the current weights, sort by score then resource id
//
// Candidates that no longer resolve in the catalog, or are archived, are
// dropped: the index may lag the catalog.
func (r *Ranker) Query(ctx context.Context, req Request) ([]Result, error) {
	const op = "ranking.Query"

	if req.Limit <= 0 {
		return nil, liberrors.Newf(liberrors.KindInvalidConfiguration, op, "limit %d must be positive", req.Limit)
	}
	if req.CandidateLimit < req.Limit {
		return nil, liberrors.Newf(liberrors.KindInvalidConfiguration, op, "candidate limit %d below limit %d", req.CandidateLimit, req.Limit)
	}

	weights := r.Weights()

	hits := r.searcher.Query(req.Terms, req.CandidateLimit)
	if len(hits) == 0 {
		return []Result{}, nil
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.Resource
	}

	var (
		ranks   citation.PageRankResult
		entries = make([]*catalog.Entry, len(hits))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		snap, err := r.graph.Snapshot(gctx)
		if err != nil {
			return err
		}
		ranks, err = snap.PageRankFor(ids, r.pagerank)
		return err
	})
	g.Go(func() error {
		for i, id := range ids {
			e, err := r.entries.GetByID(gctx, id)
			if liberrors.IsNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			entries[i] = &e
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	lexical := normalizeMinMax(hits)
	now := r.now()

	results := make([]Result, 0, len(hits))
	for i, h := range hits {
		e := entries[i]
		if e == nil || e.Archived {
			r.logger.Debug("skipping stale candidate", "resource", h.Resource)
			continue
		}

		b := Breakdown{
			BM25:       h.Score,
			Lexical:    lexical[i],
			PageRank:   ranks.Scores[h.Resource],
			Recency:    r.recency(e.LastSeenAt, now),
			Importance: e.Importance,
		}
		b.Contributions = []Contribution{
			contribution(SignalLexical, b.Lexical, weights),
			contribution(SignalGraph, b.PageRank, weights),
			contribution(SignalRecency, b.Recency, weights),
			contribution(SignalImportance, b.Importance, weights),
		}

		var score float64
		for _, c := range b.Contributions {
			score += c.Contribution
		}

		results = append(results, Result{Resource: h.Resource, Score: score, Breakdown: b})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Resource < results[j].Resource
	})
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}

	r.logger.Debug("hybrid query",
		"terms", req.Terms,
		"candidates", len(hits),
		"results", len(results),
	)
	return results, nil
}

func contribution(s Signal, raw float64, w Weights) Contribution {
	weight := w.Of(s)
	return Contribution{
		Signal:       s,
		RawValue:     raw,
		Weight:       weight,
		Contribution: raw * weight,
	}
}

// normalizeMinMax maps scores onto [0, 1]. When every score is equal each
// candidate gets 1.
func normalizeMinMax(hits []search.Hit) []float64 {
	out := make([]float64, len(hits))

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, h := range hits {
		lo = math.Min(lo, h.Score)
		hi = math.Max(hi, h.Score)
	}

	spread := hi - lo
	for i, h := range hits {
		if spread == 0 {
			out[i] = 1
			continue
		}
		out[i] = (h.Score - lo) / spread
	}
	return out
}

// recency is 0.5^(age/halfLife). Future timestamps count as age zero.
func (r *Ranker) recency(lastSeen, now time.Time) float64 {
	age := now.Sub(lastSeen)
	if age < 0 {
		age = 0
	}
	return math.Pow(0.5, float64(age)/float64(r.halfLife))
}
