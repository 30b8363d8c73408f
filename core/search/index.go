// Package search is the in-memory BM25 index over catalog text fields. The
// index is derived data: it is rebuilt from a catalog snapshot on demand and
// queried against the most recent build.
package search

import (
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/adalundhe/shelf/core/catalog"
	liberrors "github.com/adalundhe/shelf/core/errors"
)

// Params configure BM25 scoring and per-field weighting.
type Params struct {
	K1            float64 `json:"k1"`
	B             float64 `json:"b"`
	TitleWeight   float64 `json:"title_weight"`
	SummaryWeight float64 `json:"summary_weight"`
	BodyWeight    float64 `json:"body_weight"`
}

func DefaultParams() Params {
	return Params{
		K1:            1.5,
		B:             0.75,
		TitleWeight:   2.0,
		SummaryWeight: 1.5,
		BodyWeight:    1.0,
	}
}

func (p Params) Validate() error {
	const op = "search.Params"

	switch {
	case p.K1 < 0 || math.IsNaN(p.K1):
		return liberrors.Newf(liberrors.KindInvalidConfiguration, op, "k1 %v must be non-negative", p.K1)
	case p.B < 0 || p.B > 1 || math.IsNaN(p.B):
		return liberrors.Newf(liberrors.KindInvalidConfiguration, op, "b %v outside [0, 1]", p.B)
	case p.TitleWeight < 0 || p.SummaryWeight < 0 || p.BodyWeight < 0:
		return liberrors.New(liberrors.KindInvalidConfiguration, op, "field weights must be non-negative")
	}
	return nil
}

// Posting records the occurrences of one term in one field of one resource.
type Posting struct {
	Resource      int64   `json:"resource"`
	TermFrequency int     `json:"tf"`
	FieldWeight   float64 `json:"field_weight"`
}

// Hit is one scored resource.
type Hit struct {
	Resource int64   `json:"resource"`
	Score    float64 `json:"score"`
}

type Stats struct {
	Documents     int           `json:"documents"`
	Terms         int           `json:"terms"`
	AverageLength float64       `json:"average_length"`
	BuiltAt       time.Time     `json:"built_at"`
	BuildDuration time.Duration `json:"build_duration"`
}

// snapshot is one immutable build of the index.
type snapshot struct {
	params   Params
	postings map[string][]Posting // sorted by resource
	df       map[string]int
	lengths  map[int64]float64
	avgLen   float64
	stats    Stats
}

type Options struct {
	Params Params
	Logger *slog.Logger
	Now    func() time.Time
}

// Index holds the current build behind an atomic pointer: Rebuild swaps in a
// complete new build, so Query never blocks and never sees a partial one.
type Index struct {
	current  atomic.Pointer[snapshot]
	params   Params
	analyzer *Analyzer
	logger   *slog.Logger
	now      func() time.Time
}

func NewIndex(opts Options) (*Index, error) {
	params := opts.Params
	if params == (Params{}) {
		params = DefaultParams()
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	idx := &Index{
		params:   params,
		analyzer: NewAnalyzer(),
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if idx.logger == nil {
		idx.logger = slog.Default()
	}
	if idx.now == nil {
		idx.now = time.Now
	}
	return idx, nil
}

func (x *Index) Analyzer() *Analyzer {
	return x.analyzer
}

// Built reports whether any build is in place.
func (x *Index) Built() bool {
	return x.current.Load() != nil
}

// Rebuild derives postings from entries and swaps them in. It reads only the
// entries it is given and may be called any number of times.
func (x *Index) Rebuild(entries []catalog.Entry) Stats {
	start := x.now()

	snap := &snapshot{
		params:   x.params,
		postings: make(map[string][]Posting),
		df:       make(map[string]int),
		lengths:  make(map[int64]float64, len(entries)),
	}

	ordered := make([]catalog.Entry, len(entries))
	copy(ordered, entries)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	var total float64
	for _, e := range ordered {
		fields := []struct {
			text   string
			weight float64
		}{
			{e.Fields.Title, x.params.TitleWeight},
			{e.Fields.Summary, x.params.SummaryWeight},
			{e.Fields.Body, x.params.BodyWeight},
		}

		var length float64
		seen := make(map[string]struct{})
		for _, f := range fields {
			terms := x.analyzer.Terms(f.text)
			length += f.weight * float64(len(terms))

			tf := make(map[string]int)
			var order []string
			for _, t := range terms {
				if tf[t] == 0 {
					order = append(order, t)
				}
				tf[t]++
			}
			for _, t := range order {
				snap.postings[t] = append(snap.postings[t], Posting{
					Resource:      e.ID,
					TermFrequency: tf[t],
					FieldWeight:   f.weight,
				})
				if _, ok := seen[t]; !ok {
					seen[t] = struct{}{}
					snap.df[t]++
				}
			}
		}

		snap.lengths[e.ID] = length
		total += length
	}

	if len(ordered) > 0 {
		snap.avgLen = total / float64(len(ordered))
	}

	snap.stats = Stats{
		Documents:     len(snap.lengths),
		Terms:         len(snap.postings),
		AverageLength: snap.avgLen,
		BuiltAt:       x.now().UTC(),
	}
	snap.stats.BuildDuration = snap.stats.BuiltAt.Sub(start)

	x.current.Store(snap)

	x.logger.Info("index rebuilt",
		"documents", snap.stats.Documents,
		"terms", snap.stats.Terms,
		"duration", snap.stats.BuildDuration,
	)
	return snap.stats
}

// Stats describes the current build. The zero Stats means no build yet.
func (x *Index) Stats() Stats {
	snap := x.current.Load()
	if snap == nil {
		return Stats{}
	}
	return snap.stats
}

// Query scores resources against terms with BM25 and returns up to limit
// hits, best first, ties broken by ascending resource id. limit <= 0 returns
// every hit. An unbuilt or empty index yields no hits.
func (x *Index) Query(terms []string, limit int) []Hit {
	snap := x.current.Load()
	if snap == nil || len(snap.lengths) == 0 {
		return nil
	}

	query := x.analyzer.QueryTerms(terms)
	// Fixed summation order keeps scores bit-identical across calls.
	sort.Strings(query)

	k1, b := snap.params.K1, snap.params.B
	n := float64(len(snap.lengths))
	scores := make(map[int64]float64)

	for _, term := range query {
		postings := snap.postings[term]
		if len(postings) == 0 {
			continue
		}

		df := float64(snap.df[term])
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))

		for i := 0; i < len(postings); {
			id := postings[i].Resource
			var tf float64
			for ; i < len(postings) && postings[i].Resource == id; i++ {
				tf += postings[i].FieldWeight * float64(postings[i].TermFrequency)
			}
			if tf == 0 {
				continue
			}

			norm := 1 - b
			if snap.avgLen > 0 {
				norm += b * snap.lengths[id] / snap.avgLen
			}
			scores[id] += idf * tf * (k1 + 1) / (tf + k1*norm)
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, Hit{Resource: id, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Resource < hits[j].Resource
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
