// Package catalog is the durable record of logical resources. Each entry is
// keyed by a canonical URL and points at zero or one content object.
package catalog

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adalundhe/shelf/core/content"
	"github.com/adalundhe/shelf/core/database"
	liberrors "github.com/adalundhe/shelf/core/errors"
)

const DefaultCacheEntries = 4096

type Options struct {
	// CacheEntries bounds the entry cache. If <= 0, uses DefaultCacheEntries.
	CacheEntries int

	Logger *slog.Logger
	Now    func() time.Time
}

// Catalog owns the resources table and the entry-to-content relation.
type Catalog struct {
	pool   *database.Pool
	store  *content.Store
	logger *slog.Logger
	now    func() time.Time

	urlLocks *keyedMutex

	// cacheMu orders cache fills against invalidation: a fill holds the read
	// lock across its database read, an invalidation takes the write lock
	// after commit, so a stale row can never outlive the mutation.
	cacheMu sync.RWMutex
	byID    *lru.Cache[int64, Entry]
	byURL   *lru.Cache[string, int64]
}

func New(pool *database.Pool, store *content.Store, opts Options) (*Catalog, error) {
	size := opts.CacheEntries
	if size <= 0 {
		size = DefaultCacheEntries
	}

	byID, err := lru.New[int64, Entry](size)
	if err != nil {
		return nil, err
	}
	byURL, err := lru.New[string, int64](size)
	if err != nil {
		return nil, err
	}

	c := &Catalog{
		pool:     pool,
		store:    store,
		logger:   opts.Logger,
		now:      opts.Now,
		urlLocks: newKeyedMutex(),
		byID:     byID,
		byURL:    byURL,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Register is the single ingestion path. The URL is canonicalised before any
// side effect; content bytes are stored before the row that references them.
//
// A known URL is updated in place: last_seen_at and access_count are bumped,
// non-empty text fields replace the stored ones, supplied content repoints
// the content hash, and an archived entry is revived. Registrations of the
// same URL are serialized; different URLs proceed in parallel.
func (c *Catalog) Register(ctx context.Context, reg Registration) (Result, error) {
	const op = "catalog.Register"

	canonical, err := CanonicalizeURL(reg.URL)
	if err != nil {
		return Result{}, err
	}
	if reg.Type != TypeUnspecified && !reg.Type.Valid() {
		return Result{}, liberrors.Newf(liberrors.KindInvalidInput, op, "invalid resource type %d", int(reg.Type))
	}

	unlock := c.urlLocks.Lock(canonical)
	defer unlock()

	var hash string
	if reg.Content != nil {
		hash, err = c.store.Put(reg.Content, reg.MediaType)
		if err != nil {
			return Result{}, err
		}
	}

	res, err := c.upsert(ctx, canonical, reg, hash)
	if err != nil {
		return Result{}, err
	}

	c.invalidate(res.ID)

	if res.IsNew {
		c.logger.Info("resource registered", "id", res.ID, "url", canonical, "content_hash", res.ContentHash)
	} else {
		c.logger.Debug("resource updated", "id", res.ID, "url", canonical, "content_hash", res.ContentHash)
	}
	return res, nil
}

// upsert looks the URL up and inserts or updates in one transaction. Pools
// begin transactions IMMEDIATE, so the lookup and the insert are atomic even
// against other connections and processes; a unique violation in insert means
// the row was written outside a transaction and surfaces as Conflict.
func (c *Catalog) upsert(ctx context.Context, canonical string, reg Registration, hash string) (Result, error) {
	var res Result

	err := c.pool.Transaction(ctx, func(tx *sql.Tx) error {
		var id int64
		var storedHash sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT id, content_hash FROM resources WHERE canonical_url = ?`, canonical,
		).Scan(&id, &storedHash)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err = c.insert(ctx, tx, canonical, reg, hash)
			return err
		case err != nil:
			return err
		}

		res = Result{ID: id, ContentHash: storedHash.String}
		if hash != "" {
			res.ContentHash = hash
		}
		return c.update(ctx, tx, id, reg, hash)
	})

	return res, err
}

func (c *Catalog) insert(ctx context.Context, tx *sql.Tx, canonical string, reg Registration, hash string) (Result, error) {
	typ := reg.Type
	if typ == TypeUnspecified {
		typ = TypePage
	}
	now := c.now().UnixNano()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO resources
			(canonical_url, resource_type, title, summary, body, content_hash,
			 created_at, last_seen_at, access_count, importance, archived, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, 0, 0, ?)`,
		canonical, typ.String(), reg.Fields.Title, reg.Fields.Summary, reg.Fields.Body,
		nullString(hash), now, now, nullBytes(reg.Metadata),
	)
	if database.IsUniqueViolation(err) {
		return Result{}, liberrors.Wrap(liberrors.KindConflict, "catalog.Register", canonical, err)
	}
	if err != nil {
		return Result{}, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return Result{}, err
	}
	return Result{ID: id, IsNew: true, ContentHash: hash}, nil
}

func (c *Catalog) update(ctx context.Context, tx *sql.Tx, id int64, reg Registration, hash string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE resources SET
			last_seen_at = ?,
			access_count = access_count + 1,
			archived = 0,
			resource_type = COALESCE(?, resource_type),
			title = COALESCE(?, title),
			summary = COALESCE(?, summary),
			body = COALESCE(?, body),
			content_hash = COALESCE(?, content_hash),
			metadata = COALESCE(?, metadata)
		WHERE id = ?`,
		c.now().UnixNano(),
		nullString(typeName(reg.Type)),
		nullString(reg.Fields.Title),
		nullString(reg.Fields.Summary),
		nullString(reg.Fields.Body),
		nullString(hash),
		nullBytes(reg.Metadata),
		id,
	)
	return err
}

func typeName(t ResourceType) string {
	if t == TypeUnspecified {
		return ""
	}
	return t.String()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

const selectEntry = `
	SELECT id, canonical_url, resource_type, title, summary, body, content_hash,
	       created_at, last_seen_at, access_count, importance, archived, metadata
	FROM resources`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e        Entry
		typ      string
		hash     sql.NullString
		created  int64
		lastSeen int64
		archived int
		metadata []byte
	)
	err := row.Scan(&e.ID, &e.CanonicalURL, &typ, &e.Fields.Title, &e.Fields.Summary, &e.Fields.Body,
		&hash, &created, &lastSeen, &e.AccessCount, &e.Importance, &archived, &metadata)
	if err != nil {
		return Entry{}, err
	}

	if e.Type, err = ParseResourceType(typ); err != nil {
		return Entry{}, err
	}
	e.ContentHash = hash.String
	e.CreatedAt = time.Unix(0, created).UTC()
	e.LastSeenAt = time.Unix(0, lastSeen).UTC()
	e.Archived = archived != 0
	if len(metadata) > 0 {
		e.Metadata = metadata
	}
	return e, nil
}

// GetByID returns the entry with the given id, archived or not.
func (c *Catalog) GetByID(ctx context.Context, id int64) (Entry, error) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()

	if e, ok := c.byID.Get(id); ok {
		return cloneEntry(e), nil
	}

	e, err := scanEntry(c.pool.QueryRow(ctx, selectEntry+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, liberrors.Newf(liberrors.KindNotFound, "catalog.GetByID", "resource %d", id)
	}
	if err != nil {
		return Entry{}, err
	}

	c.byID.Add(e.ID, e)
	c.byURL.Add(e.CanonicalURL, e.ID)
	return cloneEntry(e), nil
}

// GetByURL canonicalises url and returns its entry.
func (c *Catalog) GetByURL(ctx context.Context, url string) (Entry, error) {
	canonical, err := CanonicalizeURL(url)
	if err != nil {
		return Entry{}, err
	}

	// canonical_url -> id never changes once assigned.
	if id, ok := c.byURL.Get(canonical); ok {
		return c.GetByID(ctx, id)
	}

	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()

	e, err := scanEntry(c.pool.QueryRow(ctx, selectEntry+` WHERE canonical_url = ?`, canonical))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, liberrors.Newf(liberrors.KindNotFound, "catalog.GetByURL", "resource %s", canonical)
	}
	if err != nil {
		return Entry{}, err
	}

	c.byID.Add(e.ID, e)
	c.byURL.Add(e.CanonicalURL, e.ID)
	return cloneEntry(e), nil
}

func cloneEntry(e Entry) Entry {
	e.Metadata = bytes.Clone(e.Metadata)
	return e
}

func (c *Catalog) invalidate(id int64) {
	c.cacheMu.Lock()
	c.byID.Remove(id)
	c.cacheMu.Unlock()
}

// SetImportance sets the importance of an entry; v must lie in [0, 1].
func (c *Catalog) SetImportance(ctx context.Context, id int64, v float64) error {
	const op = "catalog.SetImportance"

	if math.IsNaN(v) || v < 0 || v > 1 {
		return liberrors.Newf(liberrors.KindInvalidInput, op, "importance %v outside [0, 1]", v)
	}
	return c.mutate(ctx, op, id, `UPDATE resources SET importance = ? WHERE id = ?`, v, id)
}

// Archive soft-deletes an entry: it leaves Snapshot but stays reachable by
// id and url. Registering the URL again revives it.
func (c *Catalog) Archive(ctx context.Context, id int64) error {
	return c.mutate(ctx, "catalog.Archive", id, `UPDATE resources SET archived = 1 WHERE id = ?`, id)
}

// Touch records an access without re-registration.
func (c *Catalog) Touch(ctx context.Context, id int64) error {
	return c.mutate(ctx, "catalog.Touch", id,
		`UPDATE resources SET last_seen_at = ?, access_count = access_count + 1 WHERE id = ?`,
		c.now().UnixNano(), id)
}

func (c *Catalog) mutate(ctx context.Context, op string, id int64, query string, args ...any) error {
	result, err := c.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return liberrors.Newf(liberrors.KindNotFound, op, "resource %d", id)
	}

	c.invalidate(id)
	return nil
}

// Snapshot returns every live (non-archived) entry ordered by id.
func (c *Catalog) Snapshot(ctx context.Context) ([]Entry, error) {
	rows, err := c.pool.Query(ctx, selectEntry+` WHERE archived = 0 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Exists reports whether id names an entry, archived or not.
func (c *Catalog) Exists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := c.pool.QueryRow(ctx, `SELECT 1 FROM resources WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// Count returns the number of entries, archived included.
func (c *Catalog) Count(ctx context.Context) (int, error) {
	var n int
	err := c.pool.QueryRow(ctx, `SELECT COUNT(*) FROM resources`).Scan(&n)
	return n, err
}
