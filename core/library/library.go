// Package library wires the content store, resource catalog, citation graph,
// search index and hybrid ranker over one library directory.
package library

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/adalundhe/shelf/core/catalog"
	"github.com/adalundhe/shelf/core/citation"
	"github.com/adalundhe/shelf/core/config"
	"github.com/adalundhe/shelf/core/content"
	"github.com/adalundhe/shelf/core/database"
	liberrors "github.com/adalundhe/shelf/core/errors"
	"github.com/adalundhe/shelf/core/ranking"
	"github.com/adalundhe/shelf/core/search"
	"github.com/adalundhe/shelf/core/storage"
)

const DefaultLockTimeout = 2 * time.Second

type Options struct {
	Logger *slog.Logger

	// Now is the clock shared by every component.
	Now func() time.Time

	LockTimeout time.Duration

	// ReadOnly opens an existing library without taking the root lock, so it
	// can run next to a writer such as "shelf serve". Mutations fail with
	// Conflict and a rebuilt index is kept in memory only.
	ReadOnly bool
}

// Library owns one library root. A writable library holds an exclusive
// advisory lock on the root for its lifetime.
type Library struct {
	layout   storage.Layout
	readOnly bool
	lock    *database.AdvisoryLock
	pool    *database.Pool
	store   *content.Store
	catalog *catalog.Catalog
	graph   *citation.Graph
	index   *search.Index
	ranker  *ranker

	pagerank       citation.PageRankOptions
	hitsIterations int

	rebuildMu sync.Mutex
	logger    *slog.Logger
	now       func() time.Time
	closeOnce sync.Once
}

// ranker pairs the hybrid ranker with its candidate multiplier.
type ranker struct {
	*ranking.Ranker
	multiplier int
}

// Open prepares the directory layout under cfg.Store.Root, takes the lock,
// migrates the catalog and loads the persisted search index. A missing or
// incompatible index artifact is rebuilt from the catalog.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Library, error) {
	const op = "library.Open"

	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Store.Root == "" {
		return nil, liberrors.New(liberrors.KindInvalidConfiguration, op, "library root is not set")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	timeout := opts.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}

	layout := storage.NewLayout(cfg.Store.Root)
	var lock *database.AdvisoryLock
	if opts.ReadOnly {
		if _, err := os.Stat(layout.CatalogDB()); err != nil {
			return nil, liberrors.Newf(liberrors.KindNotFound, op, "no library at %s", layout.Root)
		}
	} else {
		if err := layout.Ensure(); err != nil {
			return nil, err
		}
		var err error
		if lock, err = database.NewAdvisoryLock(layout.LockDir(), "library"); err != nil {
			return nil, err
		}
		if err := lock.Acquire(ctx, timeout); err != nil {
			return nil, err
		}
		logger.Debug("library lock acquired", "path", lock.Path())
	}

	lib := &Library{
		layout:   layout,
		readOnly: opts.ReadOnly,
		lock:     lock,
		pagerank: citation.PageRankOptions{
			Damping:       cfg.Graph.Damping,
			MaxIterations: cfg.Graph.MaxIterations,
			Epsilon:       cfg.Graph.Epsilon,
		},
		hitsIterations: cfg.Graph.HITSIterations,
		logger:         logger,
		now:            now,
	}

	if err := lib.wire(ctx, cfg); err != nil {
		lib.Close()
		return nil, err
	}

	logger.Info("library opened", "root", layout.Root, "read_only", opts.ReadOnly)
	return lib, nil
}

func (l *Library) wire(ctx context.Context, cfg *config.Config) error {
	var err error

	l.pool, err = database.Open(l.layout.CatalogDB(), database.DefaultPoolConfig())
	if err != nil {
		return err
	}
	migrator := database.NewMigrator(l.pool, database.LibraryMigrations(), l.logger.With("component", "database"))
	if l.readOnly {
		err = migrator.Check(ctx)
	} else {
		err = migrator.Migrate(ctx)
	}
	if err != nil {
		return err
	}

	l.store, err = content.NewStore(l.layout.ObjectsDir(), content.Options{
		ShardPrefix:   cfg.Store.ShardPrefix,
		CacheMaxBytes: cfg.Store.CacheMaxBytes,
		Logger:        l.logger.With("component", "content"),
		Now:           l.now,
	})
	if err != nil {
		return err
	}

	l.catalog, err = catalog.New(l.pool, l.store, catalog.Options{
		CacheEntries: cfg.Catalog.CacheEntries,
		Logger:       l.logger.With("component", "catalog"),
		Now:          l.now,
	})
	if err != nil {
		return err
	}

	l.graph = citation.NewGraph(l.pool, l.catalog, citation.Options{
		Logger: l.logger.With("component", "citation"),
		Now:    l.now,
	})

	l.index, err = search.NewIndex(search.Options{
		Params: search.Params{
			K1:            cfg.Search.K1,
			B:             cfg.Search.B,
			TitleWeight:   cfg.Search.TitleWeight,
			SummaryWeight: cfg.Search.SummaryWeight,
			BodyWeight:    cfg.Search.BodyWeight,
		},
		Logger: l.logger.With("component", "search"),
		Now:    l.now,
	})
	if err != nil {
		return err
	}

	r, err := ranking.New(l.index, l.graph, l.catalog, ranking.Options{
		Weights:  WeightsFromConfig(cfg.Ranker.Weights),
		HalfLife: cfg.Ranker.HalfLife,
		PageRank: l.pagerank,
		Logger:   l.logger.With("component", "ranking"),
		Now:      l.now,
	})
	if err != nil {
		return err
	}
	l.ranker = &ranker{Ranker: r, multiplier: cfg.Ranker.CandidateMultiplier}

	return l.loadIndex(ctx)
}

func (l *Library) loadIndex(ctx context.Context) error {
	err := l.index.Load(l.layout.SearchArtifact())
	switch {
	case err == nil:
		return nil
	case liberrors.IsNotFound(err):
		l.logger.Debug("no search index artifact, building")
	case liberrors.IsCorrupted(err), errors.Is(err, liberrors.ErrInvalidConfiguration):
		l.logger.Warn("discarding search index artifact", "error", err)
	default:
		return err
	}

	_, err = l.rebuild(ctx, !l.readOnly)
	return err
}

// WeightsFromConfig converts the config section into ranker weights.
func WeightsFromConfig(w config.WeightsConfig) ranking.Weights {
	return ranking.Weights{
		Lexical:    w.Lexical,
		Graph:      w.Graph,
		Recency:    w.Recency,
		Importance: w.Importance,
	}
}

// Close releases the database, caches and root lock. It is safe to call
// more than once.
func (l *Library) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.store != nil {
			l.store.Close()
		}
		if l.pool != nil {
			err = l.pool.Close()
		}
		if l.lock != nil && l.lock.IsHeld() {
			if relErr := l.lock.Release(); err == nil {
				err = relErr
			}
		}
		l.logger.Debug("library closed", "root", l.layout.Root)
	})
	return err
}

func (l *Library) Root() string {
	return l.layout.Root
}

// writable rejects mutations on a read-only library.
func (l *Library) writable(op string) error {
	if l.readOnly {
		return liberrors.Newf(liberrors.KindConflict, op, "library %s is open read-only", l.layout.Root)
	}
	return nil
}
