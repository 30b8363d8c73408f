package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/shelf/core/content"
	"github.com/adalundhe/shelf/core/database"
	liberrors "github.com/adalundhe/shelf/core/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type fixture struct {
	pool    *database.Pool
	catalog *Catalog
	store   *content.Store
	clock   *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	pool, err := database.Open(filepath.Join(root, "catalog.db"), database.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	require.NoError(t, database.NewMigrator(pool, database.LibraryMigrations(), nil).Migrate(context.Background()))

	store, err := content.NewStore(filepath.Join(root, "objects"), content.Options{})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	c, err := New(pool, store, Options{CacheEntries: 16, Now: clock.Now})
	require.NoError(t, err)

	return &fixture{pool: pool, catalog: c, store: store, clock: clock}
}

func TestCanonicalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://x/a", "https://x/a"},
		{"HTTPS://Example.COM/Path", "https://example.com/Path"},
		{"https://example.com/", "https://example.com"},
		{"https://example.com", "https://example.com"},
		{"https://example.com/page#section", "https://example.com/page"},
		{"http://example.com:80/a", "http://example.com/a"},
		{"https://example.com:8443/a", "https://example.com:8443/a"},
		{"  https://example.com/a?q=1  ", "https://example.com/a?q=1"},
		{"doi:10.1000/182", "doi:10.1000/182"},
		{"arXiv:2101.00001", "arxiv:2101.00001"},
		{"file:///tmp/notes.txt", "file:///tmp/notes.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CanonicalizeURL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalizeURLRejects(t *testing.T) {
	for _, raw := range []string{"", "   ", "example.com/page", "/relative/path", "https://", "file://"} {
		t.Run(raw, func(t *testing.T) {
			_, err := CanonicalizeURL(raw)
			assert.ErrorIs(t, err, liberrors.ErrInvalidInput)
		})
	}
}

func TestResourceTypeText(t *testing.T) {
	data, err := json.Marshal(TypeRepository)
	require.NoError(t, err)
	assert.Equal(t, `"repository"`, string(data))

	var typ ResourceType
	require.NoError(t, json.Unmarshal([]byte(`"Dataset"`), &typ))
	assert.Equal(t, TypeDataset, typ)

	assert.Error(t, json.Unmarshal([]byte(`"podcast"`), &typ))
	assert.False(t, ResourceType(42).Valid())
	assert.False(t, TypeUnspecified.Valid())
}

func TestRegisterNewAndExisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.catalog.Register(ctx, Registration{
		URL:    "https://x/a",
		Type:   TypePaper,
		Fields: TextFields{Title: "Graph databases", Summary: "a survey", Body: "nodes and edges"},
	})
	require.NoError(t, err)
	assert.True(t, first.IsNew)

	created := f.clock.Now()
	f.clock.Advance(time.Hour)

	second, err := f.catalog.Register(ctx, Registration{
		URL:    "https://x/a",
		Fields: TextFields{Summary: "an updated survey"},
	})
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.Equal(t, first.ID, second.ID)

	e, err := f.catalog.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, TypePaper, e.Type, "unspecified type keeps the stored one")
	assert.Equal(t, "Graph databases", e.Fields.Title, "empty fields keep stored text")
	assert.Equal(t, "an updated survey", e.Fields.Summary)
	assert.Equal(t, "nodes and edges", e.Fields.Body)
	assert.Equal(t, int64(2), e.AccessCount)
	assert.True(t, e.CreatedAt.Equal(created))
	assert.True(t, e.LastSeenAt.Equal(created.Add(time.Hour)))
	assert.Empty(t, e.ContentHash)
}

func TestRegisterDefaultsToPage(t *testing.T) {
	f := newFixture(t)

	res, err := f.catalog.Register(context.Background(), Registration{URL: "https://example.org/post"})
	require.NoError(t, err)

	e, err := f.catalog.GetByID(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, TypePage, e.Type)
}

func TestRegisterURLUniqueness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []int64
	for _, u := range []string{
		"https://example.com/",
		"HTTPS://EXAMPLE.com",
		"https://example.com#top",
		"https://example.com:443/",
	} {
		res, err := f.catalog.Register(ctx, Registration{URL: u, Fields: TextFields{Title: "home"}})
		require.NoError(t, err)
		ids = append(ids, res.ID)
	}

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	n, err := f.catalog.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRegisterConcurrentSameURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers = 24
	ids := make([]int64, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.catalog.Register(ctx, Registration{
				URL:     "https://example.com/contended",
				Fields:  TextFields{Title: "contended"},
				Content: []byte("shared body"),
			})
			ids[i], errs[i] = res.ID, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	e, err := f.catalog.GetByID(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, int64(workers), e.AccessCount)

	n, err := f.catalog.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, f.catalog.urlLocks.size())
}

func TestRegisterConcurrentAcrossPools(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other, err := database.Open(f.pool.Path(), database.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(func() { other.Close() })
	second, err := New(other, f.store, Options{Now: f.clock.Now})
	require.NoError(t, err)

	const workers = 16
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := f.catalog
			if i%2 == 1 {
				c = second
			}
			_, errs[i] = c.Register(ctx, Registration{URL: "https://example.com/shared"})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	n, err := f.catalog.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInsertDuplicateIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.catalog.Register(ctx, Registration{URL: "https://x/dup"})
	require.NoError(t, err)

	err = f.pool.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := f.catalog.insert(ctx, tx, "https://x/dup", Registration{}, "")
		return err
	})
	assert.True(t, liberrors.IsConflict(err), "got %v", err)
	assert.True(t, database.IsUniqueViolation(errors.Unwrap(err)))
}

func TestRegisterConcurrentDifferentURLs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers = 12
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.catalog.Register(ctx, Registration{
				URL: "https://example.com/doc/" + string(rune('a'+i)),
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	n, err := f.catalog.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, workers, n)
}

func TestRegisterMalformedURLHasNoSideEffects(t *testing.T) {
	f := newFixture(t)

	_, err := f.catalog.Register(context.Background(), Registration{
		URL:     "not a url",
		Content: []byte("orphan bytes"),
	})
	assert.ErrorIs(t, err, liberrors.ErrInvalidInput)

	objects, err := f.store.List()
	require.NoError(t, err)
	assert.Empty(t, objects, "content must not be stored for a rejected url")
}

func TestRegisterInvalidType(t *testing.T) {
	f := newFixture(t)

	_, err := f.catalog.Register(context.Background(), Registration{URL: "https://x/a", Type: ResourceType(99)})
	assert.ErrorIs(t, err, liberrors.ErrInvalidInput)
}

// Two URLs supplying identical bytes share one content object.
func TestRegisterSharedContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bytesV1 := []byte("version one of the paper")

	h, err := f.store.Put(bytesV1, "")
	require.NoError(t, err)

	a, err := f.catalog.Register(ctx, Registration{URL: "https://mirror-one.org/paper", Type: TypePaper, Content: bytesV1})
	require.NoError(t, err)
	b, err := f.catalog.Register(ctx, Registration{URL: "https://mirror-two.org/paper", Type: TypePaper, Content: bytesV1})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	for _, id := range []int64{a.ID, b.ID} {
		e, err := f.catalog.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, h, e.ContentHash)
	}

	objects, err := f.store.List()
	require.NoError(t, err)
	assert.Len(t, objects, 1)
}

func TestRegisterRepointsContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.catalog.Register(ctx, Registration{URL: "https://x/a", Content: []byte("v1")})
	require.NoError(t, err)

	second, err := f.catalog.Register(ctx, Registration{URL: "https://x/a", Content: []byte("v2")})
	require.NoError(t, err)
	assert.NotEqual(t, first.ContentHash, second.ContentHash)

	third, err := f.catalog.Register(ctx, Registration{URL: "https://x/a"})
	require.NoError(t, err)
	assert.Equal(t, second.ContentHash, third.ContentHash, "no content keeps the current hash")

	e, err := f.catalog.GetByURL(ctx, "https://x/a")
	require.NoError(t, err)
	assert.Equal(t, content.Hash([]byte("v2")), e.ContentHash)
	_, err = f.store.Stat(first.ContentHash)
	assert.NoError(t, err, "old object stays in the store")
}

func TestGetNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.catalog.GetByID(ctx, 404)
	assert.True(t, liberrors.IsNotFound(err))

	_, err = f.catalog.GetByURL(ctx, "https://nowhere.example")
	assert.True(t, liberrors.IsNotFound(err))

	ok, err := f.catalog.Exists(ctx, 404)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetImportance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.catalog.Register(ctx, Registration{URL: "https://x/a"})
	require.NoError(t, err)

	// Prime the cache so the update has to invalidate it.
	_, err = f.catalog.GetByID(ctx, res.ID)
	require.NoError(t, err)

	require.NoError(t, f.catalog.SetImportance(ctx, res.ID, 0.8))
	e, err := f.catalog.GetByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.8, e.Importance)

	assert.ErrorIs(t, f.catalog.SetImportance(ctx, res.ID, 1.5), liberrors.ErrInvalidInput)
	assert.ErrorIs(t, f.catalog.SetImportance(ctx, res.ID, -0.1), liberrors.ErrInvalidInput)
	assert.True(t, liberrors.IsNotFound(f.catalog.SetImportance(ctx, 999, 0.5)))
}

func TestArchiveAndSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []int64
	for _, u := range []string{"https://x/a", "https://x/b", "https://x/c"} {
		res, err := f.catalog.Register(ctx, Registration{URL: u})
		require.NoError(t, err)
		ids = append(ids, res.ID)
	}

	require.NoError(t, f.catalog.Archive(ctx, ids[1]))

	snap, err := f.catalog.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, ids[0], snap[0].ID)
	assert.Equal(t, ids[2], snap[1].ID)

	archived, err := f.catalog.GetByURL(ctx, "https://x/b")
	require.NoError(t, err)
	assert.True(t, archived.Archived, "archived entries stay navigable")

	_, err = f.catalog.Register(ctx, Registration{URL: "https://x/b"})
	require.NoError(t, err)
	snap, err = f.catalog.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap, 3, "re-registration revives an archived entry")

	assert.True(t, liberrors.IsNotFound(f.catalog.Archive(ctx, 999)))
}

func TestTouch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.catalog.Register(ctx, Registration{URL: "https://x/a"})
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)
	require.NoError(t, f.catalog.Touch(ctx, res.ID))

	e, err := f.catalog.GetByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.AccessCount)
	assert.True(t, e.LastSeenAt.Equal(f.clock.Now()))

	assert.True(t, liberrors.IsNotFound(f.catalog.Touch(ctx, 999)))
}

func TestMetadataRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.catalog.Register(ctx, Registration{
		URL:      "https://github.com/example/repo",
		Type:     TypeRepository,
		Metadata: json.RawMessage(`{"stars":42}`),
	})
	require.NoError(t, err)

	e, err := f.catalog.GetByID(ctx, res.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"stars":42}`, string(e.Metadata))

	// Mutating the returned entry must not leak into the cache.
	e.Metadata[0] = 'X'
	again, err := f.catalog.GetByID(ctx, res.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"stars":42}`, string(again.Metadata))
}
