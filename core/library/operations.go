package library

import (
	"context"
	"time"

	"github.com/adalundhe/shelf/core/catalog"
	"github.com/adalundhe/shelf/core/citation"
	"github.com/adalundhe/shelf/core/content"
	liberrors "github.com/adalundhe/shelf/core/errors"
	"github.com/adalundhe/shelf/core/ranking"
	"github.com/adalundhe/shelf/core/search"
)

// RegisterResource upserts a resource by canonical URL. The search index is
// not touched; call RebuildIndex to make new text searchable.
func (l *Library) RegisterResource(ctx context.Context, reg catalog.Registration) (catalog.Result, error) {
	if err := l.writable("library.RegisterResource"); err != nil {
		return catalog.Result{}, err
	}
	return l.catalog.Register(ctx, reg)
}

func (l *Library) LookupByID(ctx context.Context, id int64) (catalog.Entry, error) {
	return l.catalog.GetByID(ctx, id)
}

func (l *Library) LookupByURL(ctx context.Context, url string) (catalog.Entry, error) {
	return l.catalog.GetByURL(ctx, url)
}

// Visit records an access to id, bumping last_seen_at and access_count, and
// returns the updated entry.
func (l *Library) Visit(ctx context.Context, id int64) (catalog.Entry, error) {
	if err := l.writable("library.Visit"); err != nil {
		return catalog.Entry{}, err
	}
	if err := l.catalog.Touch(ctx, id); err != nil {
		return catalog.Entry{}, err
	}
	return l.catalog.GetByID(ctx, id)
}

func (l *Library) SetImportance(ctx context.Context, id int64, importance float64) error {
	if err := l.writable("library.SetImportance"); err != nil {
		return err
	}
	return l.catalog.SetImportance(ctx, id, importance)
}

// Archive hides a resource from snapshots and search until it is registered
// again. Its citations are kept.
func (l *Library) Archive(ctx context.Context, id int64) error {
	if err := l.writable("library.Archive"); err != nil {
		return err
	}
	return l.catalog.Archive(ctx, id)
}

// AssertCitation records that source cites target and returns the edge id.
func (l *Library) AssertCitation(ctx context.Context, source, target int64, citeContext string) (string, error) {
	if err := l.writable("library.AssertCitation"); err != nil {
		return "", err
	}
	return l.graph.AddEdge(ctx, source, target, citeContext)
}

func (l *Library) RetractCitation(ctx context.Context, edgeID string) error {
	if err := l.writable("library.RetractCitation"); err != nil {
		return err
	}
	return l.graph.RemoveEdge(ctx, edgeID)
}

func (l *Library) Citation(ctx context.Context, edgeID string) (citation.Edge, error) {
	return l.graph.Edge(ctx, edgeID)
}

// CitationGraphSnapshot returns a read-only copy of every edge, keyed by source.
func (l *Library) CitationGraphSnapshot(ctx context.Context) (map[int64][]citation.Edge, error) {
	return l.graph.OutEdges(ctx)
}

// Content returns the stored bytes for hash.
func (l *Library) Content(hash string) ([]byte, error) {
	return l.store.Get(hash)
}

// ContentInfo returns the sidecar metadata recorded when hash was stored.
func (l *Library) ContentInfo(hash string) (*content.Object, error) {
	return l.store.Stat(hash)
}

// VerifyContent rehashes one stored object. A mismatch returns false with a
// Corrupted error.
func (l *Library) VerifyContent(hash string) (bool, error) {
	if err := l.writable("library.VerifyContent"); err != nil {
		return false, err
	}
	return l.store.Verify(hash)
}

// Verification is the outcome for one stored object.
type Verification struct {
	Hash  string `json:"hash"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// VerifyAllContent rehashes every stored object in hash order. Corruption is
// reported per object, not returned as an error.
func (l *Library) VerifyAllContent() ([]Verification, error) {
	if err := l.writable("library.VerifyAllContent"); err != nil {
		return nil, err
	}
	objects, err := l.store.List()
	if err != nil {
		return nil, err
	}

	out := make([]Verification, 0, len(objects))
	for _, obj := range objects {
		ok, err := l.store.Verify(obj.Hash)
		v := Verification{Hash: obj.Hash, OK: ok}
		if err != nil {
			if !liberrors.IsCorrupted(err) {
				return nil, err
			}
			v.Error = err.Error()
		}
		out = append(out, v)
	}
	return out, nil
}

// RebuildIndex rebuilds the search index from the live catalog and persists
// it. Rebuilds are serialised; queries keep using the previous build until
// the new one is swapped in.
func (l *Library) RebuildIndex(ctx context.Context) (search.Stats, error) {
	if err := l.writable("library.RebuildIndex"); err != nil {
		return search.Stats{}, err
	}
	return l.rebuild(ctx, true)
}

func (l *Library) rebuild(ctx context.Context, persist bool) (search.Stats, error) {
	l.rebuildMu.Lock()
	defer l.rebuildMu.Unlock()

	entries, err := l.catalog.Snapshot(ctx)
	if err != nil {
		return search.Stats{}, err
	}

	stats := l.index.Rebuild(entries)
	if !persist {
		return stats, nil
	}
	if err := l.index.Save(l.layout.SearchArtifact()); err != nil {
		return stats, err
	}
	return stats, nil
}

// Status summarises what a library holds.
type Status struct {
	Root         string       `json:"root"`
	ReadOnly     bool         `json:"read_only"`
	Resources    int          `json:"resources"`
	Citations    int          `json:"citations"`
	Objects      int          `json:"objects"`
	ContentBytes int64        `json:"content_bytes"`
	Index        search.Stats `json:"index"`
}

func (l *Library) Status(ctx context.Context) (Status, error) {
	st := Status{Root: l.layout.Root, ReadOnly: l.readOnly, Index: l.index.Stats()}

	var err error
	if st.Resources, err = l.catalog.Count(ctx); err != nil {
		return Status{}, err
	}
	snap, err := l.graph.Snapshot(ctx)
	if err != nil {
		return Status{}, err
	}
	st.Citations = snap.Len()

	objects, err := l.store.List()
	if err != nil {
		return Status{}, err
	}
	st.Objects = len(objects)
	for _, obj := range objects {
		st.ContentBytes += obj.ByteLength
	}
	return st, nil
}

// SearchText runs a plain BM25 query with no graph or recency signals.
func (l *Library) SearchText(terms []string, limit int) []search.Hit {
	return l.index.Query(terms, limit)
}

// HybridQuery ranks resources for terms. A zero CandidateLimit means Limit
// times the configured candidate multiplier.
func (l *Library) HybridQuery(ctx context.Context, req ranking.Request) ([]ranking.Result, error) {
	if req.CandidateLimit == 0 {
		req.CandidateLimit = req.Limit * l.ranker.multiplier
	}
	return l.ranker.Query(ctx, req)
}

func (l *Library) Weights() ranking.Weights {
	return l.ranker.Weights()
}

// SetWeights swaps the hybrid weights; invalid weights leave the current
// ones in place.
func (l *Library) SetWeights(w ranking.Weights) error {
	return l.ranker.SetWeights(w)
}

// PageRank scores every resource that touches a citation edge.
func (l *Library) PageRank(ctx context.Context) (citation.PageRankResult, error) {
	snap, err := l.graph.Snapshot(ctx)
	if err != nil {
		return citation.PageRankResult{}, err
	}
	return snap.PageRank(l.pagerank)
}

func (l *Library) HITS(ctx context.Context) (map[int64]citation.HubAuthority, error) {
	snap, err := l.graph.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.HITS(l.hitsIterations), nil
}

// Degree counts the citation edges touching one resource.
type Degree struct {
	CitedBy int `json:"cited_by"`
	Cites   int `json:"cites"`
}

// Degrees counts incoming and outgoing edges for each id from one snapshot.
func (l *Library) Degrees(ctx context.Context, ids ...int64) (map[int64]Degree, error) {
	snap, err := l.graph.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]Degree, len(ids))
	for _, id := range ids {
		out[id] = Degree{CitedBy: snap.InDegree(id), Cites: snap.OutDegree(id)}
	}
	return out, nil
}

// Related holds the resources structurally close to one resource.
type Related struct {
	Resource int64 `json:"resource"`

	// Coupling counts shared references per resource.
	Coupling map[int64]int `json:"coupling"`

	// CoCitation counts shared citers per resource.
	CoCitation map[int64]int `json:"co_citation"`
}

func (l *Library) Related(ctx context.Context, id int64) (Related, error) {
	snap, err := l.snapshotFor(ctx, "library.Related", id)
	if err != nil {
		return Related{}, err
	}
	return Related{
		Resource:   id,
		Coupling:   snap.BibliographicCoupling(id),
		CoCitation: snap.CoCitation(id),
	}, nil
}

// Path finds the shortest citation chain from one resource to another.
func (l *Library) Path(ctx context.Context, from, to int64, maxDepth int) ([]int64, error) {
	snap, err := l.snapshotFor(ctx, "library.Path", from, to)
	if err != nil {
		return nil, err
	}
	return snap.ShortestPath(from, to, maxDepth)
}

// Velocity is citations per day received within the trailing window.
func (l *Library) Velocity(ctx context.Context, id int64, window time.Duration) (float64, error) {
	snap, err := l.snapshotFor(ctx, "library.Velocity", id)
	if err != nil {
		return 0, err
	}
	return snap.CitationVelocity(id, window, l.now())
}

// snapshotFor checks that every id is a known resource and returns a fresh
// graph snapshot.
func (l *Library) snapshotFor(ctx context.Context, op string, ids ...int64) (*citation.Snapshot, error) {
	for _, id := range ids {
		ok, err := l.catalog.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, liberrors.Newf(liberrors.KindNotFound, op, "resource %d", id)
		}
	}
	return l.graph.Snapshot(ctx)
}

// CheckCatalog runs SQLite's integrity check over the catalog database.
func (l *Library) CheckCatalog(ctx context.Context) error {
	return l.pool.IntegrityCheck(ctx)
}

// CheckContent rehashes every stored object and fails on the first mismatch
// reported by VerifyAllContent.
func (l *Library) CheckContent(ctx context.Context) error {
	report, err := l.VerifyAllContent()
	if err != nil {
		return err
	}
	bad := 0
	for _, v := range report {
		if !v.OK {
			bad++
		}
	}
	if bad > 0 {
		return liberrors.Newf(liberrors.KindCorrupted, "library.CheckContent", "%d of %d objects corrupted", bad, len(report))
	}
	return nil
}
