package library

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/shelf/core/catalog"
	"github.com/adalundhe/shelf/core/config"
	"github.com/adalundhe/shelf/core/content"
	liberrors "github.com/adalundhe/shelf/core/errors"
	"github.com/adalundhe/shelf/core/ranking"
	"github.com/adalundhe/shelf/core/search"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Store.Root = t.TempDir()
	return cfg
}

func openLibrary(t *testing.T, cfg *config.Config, clk *clock) *Library {
	t.Helper()
	lib, err := Open(context.Background(), cfg, Options{Now: clk.Now, LockTimeout: 200 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { lib.Close() })
	return lib
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func register(t *testing.T, lib *Library, url, title string) int64 {
	t.Helper()
	res, err := lib.RegisterResource(context.Background(), catalog.Registration{
		URL:    url,
		Fields: catalog.TextFields{Title: title},
	})
	require.NoError(t, err)
	return res.ID
}

func indexStats(t *testing.T, lib *Library) search.Stats {
	t.Helper()
	st, err := lib.Status(context.Background())
	require.NoError(t, err)
	return st.Index
}

func resultIDs(results []ranking.Result) []int64 {
	out := make([]int64, len(results))
	for i, r := range results {
		out[i] = r.Resource
	}
	return out
}

func TestOpenRequiresRoot(t *testing.T) {
	_, err := Open(context.Background(), config.DefaultConfig(), Options{})
	assert.ErrorIs(t, err, liberrors.ErrInvalidConfiguration)
}

func TestOpenCreatesLayout(t *testing.T) {
	cfg := testConfig(t)
	lib := openLibrary(t, cfg, newClock())

	for _, p := range []string{"catalog.db", "objects", "index/search.json", "locks"} {
		_, err := os.Stat(filepath.Join(cfg.Store.Root, p))
		assert.NoError(t, err, p)
	}
	assert.Equal(t, cfg.Store.Root, lib.Root())
	assert.True(t, indexStats(t, lib).BuiltAt.Equal(newClock().now))
}

func TestOpenLockedLibrary(t *testing.T) {
	cfg := testConfig(t)
	lib := openLibrary(t, cfg, newClock())

	_, err := Open(context.Background(), cfg, Options{LockTimeout: 150 * time.Millisecond})
	assert.True(t, liberrors.IsConflict(err))

	require.NoError(t, lib.Close())
	again := openLibrary(t, cfg, newClock())
	assert.NotNil(t, again)
}

// b cites a; c is isolated.
func TestCitedResourceOutranksIsolated(t *testing.T) {
	lib := openLibrary(t, testConfig(t), newClock())
	ctx := context.Background()

	a := register(t, lib, "https://x/a", "a")
	b := register(t, lib, "https://x/b", "b")
	c := register(t, lib, "https://x/c", "c")

	_, err := lib.AssertCitation(ctx, b, a, "")
	require.NoError(t, err)

	pr, err := lib.PageRank(ctx)
	require.NoError(t, err)
	assert.Greater(t, pr.Scores[a], pr.Scores[b])
	assert.NotContains(t, pr.Scores, c)
	assert.InDelta(t, 1.0, pr.Scores[a]+pr.Scores[b], 1e-9)
}

func TestSharedContentStoredOnce(t *testing.T) {
	cfg := testConfig(t)
	lib := openLibrary(t, cfg, newClock())
	ctx := context.Background()

	data := []byte("the same captured bytes")
	r1, err := lib.RegisterResource(ctx, catalog.Registration{URL: "https://x/one", Content: data})
	require.NoError(t, err)
	r2, err := lib.RegisterResource(ctx, catalog.Registration{URL: "https://x/two", Content: data})
	require.NoError(t, err)

	assert.NotEqual(t, r1.ID, r2.ID)
	assert.Equal(t, content.Hash(data), r1.ContentHash)
	assert.Equal(t, r1.ContentHash, r2.ContentHash)

	st, err := lib.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Objects)
	assert.Equal(t, 2, st.Resources)
	assert.Equal(t, int64(len(data)), st.ContentBytes)

	got, err := lib.Content(r1.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

// a is "graph databases", b is "graph traversal databases" and b cites a.
func TestHybridQuery(t *testing.T) {
	lib := openLibrary(t, testConfig(t), newClock())
	ctx := context.Background()

	a := register(t, lib, "https://x/a", "graph databases")
	b := register(t, lib, "https://x/b", "graph traversal databases")
	register(t, lib, "https://x/c", "cooking with cast iron")

	_, err := lib.AssertCitation(ctx, b, a, "see also")
	require.NoError(t, err)
	_, err = lib.RebuildIndex(ctx)
	require.NoError(t, err)

	results, err := lib.HybridQuery(ctx, ranking.Request{Terms: []string{"graph"}, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{a, b}, resultIDs(results))

	again, err := lib.HybridQuery(ctx, ranking.Request{Terms: []string{"graph"}, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, results, again)

	_, err = lib.HybridQuery(ctx, ranking.Request{Terms: []string{"graph"}, Limit: 2, CandidateLimit: 1})
	assert.ErrorIs(t, err, liberrors.ErrInvalidConfiguration)
}

func TestIndexIsStaleUntilRebuild(t *testing.T) {
	lib := openLibrary(t, testConfig(t), newClock())
	ctx := context.Background()

	a := register(t, lib, "https://x/a", "graph databases")
	_, err := lib.RebuildIndex(ctx)
	require.NoError(t, err)

	c := register(t, lib, "https://x/c", "graph theory")

	results, err := lib.HybridQuery(ctx, ranking.Request{Terms: []string{"graph"}, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, []int64{a}, resultIDs(results))

	stats, err := lib.RebuildIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)

	results, err = lib.HybridQuery(ctx, ranking.Request{Terms: []string{"graph"}, Limit: 5})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{a, c}, resultIDs(results))
}

func TestArchivedResourceLeavesResults(t *testing.T) {
	lib := openLibrary(t, testConfig(t), newClock())
	ctx := context.Background()

	a := register(t, lib, "https://x/a", "graph databases")
	b := register(t, lib, "https://x/b", "graph theory")
	_, err := lib.RebuildIndex(ctx)
	require.NoError(t, err)

	require.NoError(t, lib.Archive(ctx, b))

	results, err := lib.HybridQuery(ctx, ranking.Request{Terms: []string{"graph"}, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, []int64{a}, resultIDs(results))
}

func TestReopenLoadsIndexArtifact(t *testing.T) {
	cfg := testConfig(t)
	clk := newClock()
	ctx := context.Background()

	lib, err := Open(ctx, cfg, Options{Now: clk.Now})
	require.NoError(t, err)
	a := register(t, lib, "https://x/a", "graph databases")
	_, err = lib.RebuildIndex(ctx)
	require.NoError(t, err)
	builtAt := indexStats(t, lib).BuiltAt
	require.NoError(t, lib.Close())

	clk.Advance(time.Hour)
	reopened := openLibrary(t, cfg, clk)
	assert.True(t, indexStats(t, reopened).BuiltAt.Equal(builtAt), "index should come from the artifact")

	results, err := reopened.HybridQuery(ctx, ranking.Request{Terms: []string{"graph"}, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{a}, resultIDs(results))
}

func TestReopenRebuildsIncompatibleArtifact(t *testing.T) {
	cfg := testConfig(t)
	clk := newClock()
	ctx := context.Background()

	lib, err := Open(ctx, cfg, Options{Now: clk.Now})
	require.NoError(t, err)
	register(t, lib, "https://x/a", "graph databases")
	require.NoError(t, lib.Close())

	clk.Advance(time.Hour)
	cfg.Search.K1 = 1.2
	reopened := openLibrary(t, cfg, clk)

	stats := indexStats(t, reopened)
	assert.True(t, stats.BuiltAt.Equal(clk.Now()))
	assert.Equal(t, 1, stats.Documents)
}

func TestReopenRebuildsCorruptArtifact(t *testing.T) {
	cfg := testConfig(t)
	clk := newClock()

	lib, err := Open(context.Background(), cfg, Options{Now: clk.Now})
	require.NoError(t, err)
	register(t, lib, "https://x/a", "graph databases")
	require.NoError(t, lib.Close())

	require.NoError(t, os.WriteFile(filepath.Join(cfg.Store.Root, "index", "search.json"), []byte("{not json"), 0644))

	reopened := openLibrary(t, cfg, clk)
	assert.Equal(t, 1, indexStats(t, reopened).Documents)
}

func TestVerifyAllContent(t *testing.T) {
	cfg := testConfig(t)
	lib := openLibrary(t, cfg, newClock())
	ctx := context.Background()

	good, err := lib.RegisterResource(ctx, catalog.Registration{URL: "https://x/good", Content: []byte("good bytes")})
	require.NoError(t, err)
	bad, err := lib.RegisterResource(ctx, catalog.Registration{URL: "https://x/bad", Content: []byte("bad bytes")})
	require.NoError(t, err)

	require.NoError(t, lib.CheckContent(ctx))
	require.NoError(t, lib.CheckCatalog(ctx))

	path := filepath.Join(cfg.Store.Root, "objects", bad.ContentHash[:2], bad.ContentHash)
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0644))

	report, err := lib.VerifyAllContent()
	require.NoError(t, err)
	require.Len(t, report, 2)

	byHash := map[string]Verification{}
	for _, v := range report {
		byHash[v.Hash] = v
	}
	assert.True(t, byHash[good.ContentHash].OK)
	assert.False(t, byHash[bad.ContentHash].OK)
	assert.NotEmpty(t, byHash[bad.ContentHash].Error)

	ok, err := lib.VerifyContent(bad.ContentHash)
	assert.False(t, ok)
	assert.True(t, liberrors.IsCorrupted(err))

	err = lib.CheckContent(ctx)
	assert.True(t, liberrors.IsCorrupted(err))
	assert.Contains(t, err.Error(), "1 of 2 objects corrupted")
}

func TestGraphOperations(t *testing.T) {
	clk := newClock()
	lib := openLibrary(t, testConfig(t), clk)
	ctx := context.Background()

	a := register(t, lib, "https://x/a", "a")
	b := register(t, lib, "https://x/b", "b")
	c := register(t, lib, "https://x/c", "c")

	_, err := lib.AssertCitation(ctx, b, a, "")
	require.NoError(t, err)
	_, err = lib.AssertCitation(ctx, c, a, "")
	require.NoError(t, err)
	edge, err := lib.AssertCitation(ctx, c, b, "")
	require.NoError(t, err)

	related, err := lib.Related(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{c: 1}, related.Coupling)
	assert.Equal(t, map[int64]int{a: 1}, related.CoCitation)

	path, err := lib.Path(ctx, c, a, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{c, a}, path)

	velocity, err := lib.Velocity(ctx, a, 7*24*time.Hour)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/7.0, velocity, 1e-12)

	hits, err := lib.HITS(ctx)
	require.NoError(t, err)
	assert.Greater(t, hits[a].Authority, hits[c].Authority)

	graph, err := lib.CitationGraphSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, graph[c], 2)

	require.NoError(t, lib.RetractCitation(ctx, edge))
	graph, err = lib.CitationGraphSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, graph[c], 1)

	assert.True(t, liberrors.IsNotFound(lib.RetractCitation(ctx, edge)))
}

func TestGraphOperationsUnknownResource(t *testing.T) {
	lib := openLibrary(t, testConfig(t), newClock())
	ctx := context.Background()
	a := register(t, lib, "https://x/a", "a")

	_, err := lib.Related(ctx, 99)
	assert.True(t, liberrors.IsNotFound(err))

	_, err = lib.Path(ctx, a, 99, 3)
	assert.True(t, liberrors.IsNotFound(err))

	_, err = lib.Velocity(ctx, 99, time.Hour)
	assert.True(t, liberrors.IsNotFound(err))

	_, err = lib.AssertCitation(ctx, a, 99, "")
	assert.True(t, liberrors.IsNotFound(err))
}

func TestSetWeights(t *testing.T) {
	lib := openLibrary(t, testConfig(t), newClock())

	assert.ErrorIs(t, lib.SetWeights(ranking.Weights{Lexical: 0.5}), liberrors.ErrInvalidConfiguration)
	assert.Equal(t, ranking.DefaultWeights(), lib.Weights())

	require.NoError(t, lib.SetWeights(ranking.Weights{Lexical: 1}))
	assert.Equal(t, ranking.Weights{Lexical: 1}, lib.Weights())
}

func TestReadOnlyAlongsideWriter(t *testing.T) {
	cfg := testConfig(t)
	writer := openLibrary(t, cfg, newClock())
	ctx := context.Background()

	a := register(t, writer, "https://x/a", "graph databases")
	_, err := writer.RebuildIndex(ctx)
	require.NoError(t, err)

	reader, err := Open(ctx, cfg, Options{ReadOnly: true, LockTimeout: 100 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { reader.Close() })
	status, err := reader.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.ReadOnly)

	e, err := reader.LookupByID(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "https://x/a", e.CanonicalURL)

	results, err := reader.HybridQuery(ctx, ranking.Request{Terms: []string{"graph"}, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{a}, resultIDs(results))

	_, err = reader.RegisterResource(ctx, catalog.Registration{URL: "https://x/b"})
	assert.True(t, liberrors.IsConflict(err))
	_, err = reader.RebuildIndex(ctx)
	assert.True(t, liberrors.IsConflict(err))
	_, err = reader.Visit(ctx, a)
	assert.True(t, liberrors.IsConflict(err))
}

func TestReadOnlyRequiresLibrary(t *testing.T) {
	_, err := Open(context.Background(), testConfig(t), Options{ReadOnly: true})
	assert.True(t, liberrors.IsNotFound(err))
}

func TestReadOnlyKeepsRebuildInMemory(t *testing.T) {
	cfg := testConfig(t)
	writer := openLibrary(t, cfg, newClock())
	register(t, writer, "https://x/a", "graph databases")
	require.NoError(t, writer.Close())

	artifact := filepath.Join(cfg.Store.Root, "index", "search.json")
	require.NoError(t, os.Remove(artifact))

	reader, err := Open(context.Background(), cfg, Options{ReadOnly: true})
	require.NoError(t, err)
	t.Cleanup(func() { reader.Close() })

	assert.Equal(t, 1, indexStats(t, reader).Documents)
	_, err = os.Stat(artifact)
	assert.True(t, os.IsNotExist(err), "read-only open must not write the artifact")
}

func TestVisitRecordsAccess(t *testing.T) {
	clk := newClock()
	lib := openLibrary(t, testConfig(t), clk)
	ctx := context.Background()

	a := register(t, lib, "https://x/a", "a")
	clk.Advance(time.Hour)

	e, err := lib.Visit(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.AccessCount)
	assert.True(t, e.LastSeenAt.Equal(clk.Now()))

	_, err = lib.Visit(ctx, 999)
	assert.True(t, liberrors.IsNotFound(err))
}

func TestDegreesAndCitation(t *testing.T) {
	lib := openLibrary(t, testConfig(t), newClock())
	ctx := context.Background()

	a := register(t, lib, "https://x/a", "a")
	b := register(t, lib, "https://x/b", "b")
	c := register(t, lib, "https://x/c", "c")

	edge, err := lib.AssertCitation(ctx, b, a, "intro")
	require.NoError(t, err)
	_, err = lib.AssertCitation(ctx, c, a, "")
	require.NoError(t, err)

	degrees, err := lib.Degrees(ctx, a, b, c)
	require.NoError(t, err)
	assert.Equal(t, Degree{CitedBy: 2}, degrees[a])
	assert.Equal(t, Degree{Cites: 1}, degrees[b])

	got, err := lib.Citation(ctx, edge)
	require.NoError(t, err)
	assert.Equal(t, b, got.Source)
	assert.Equal(t, a, got.Target)
	assert.Equal(t, "intro", got.Context)

	st, err := lib.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Citations)

	require.NoError(t, lib.RetractCitation(ctx, edge))
	_, err = lib.Citation(ctx, edge)
	assert.True(t, liberrors.IsNotFound(err))
}

func TestContentInfo(t *testing.T) {
	lib := openLibrary(t, testConfig(t), newClock())
	res, err := lib.RegisterResource(context.Background(), catalog.Registration{
		URL: "https://x/a", Content: []byte("%PDF-1.4 body"), MediaType: "application/pdf",
	})
	require.NoError(t, err)

	info, err := lib.ContentInfo(res.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", info.MediaType)
	assert.Equal(t, int64(13), info.ByteLength)
}
