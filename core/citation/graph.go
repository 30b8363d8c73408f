// Package citation stores directed "cites" edges between catalog resources
// and computes graph analytics over frozen snapshots of them.
package citation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/adalundhe/shelf/core/database"
	liberrors "github.com/adalundhe/shelf/core/errors"
)

// Edge is one asserted citation. Multiple edges may join the same ordered
// pair; Seq is the discovery order and pins iteration order everywhere.
type Edge struct {
	ID           string    `json:"id"`
	Seq          int64     `json:"seq"`
	Source       int64     `json:"source"`
	Target       int64     `json:"target"`
	Context      string    `json:"context,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Resources validates edge endpoints.
type Resources interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

type Options struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// Graph is the edge store. Analytics never run against it directly: callers
// take a Snapshot and compute on that, so ingestion is never blocked.
type Graph struct {
	pool      *database.Pool
	resources Resources
	logger    *slog.Logger
	now       func() time.Time
}

func NewGraph(pool *database.Pool, resources Resources, opts Options) *Graph {
	g := &Graph{
		pool:      pool,
		resources: resources,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// AddEdge records that source cites target. Both endpoints must exist;
// self-loops are accepted.
func (g *Graph) AddEdge(ctx context.Context, source, target int64, citeContext string) (string, error) {
	const op = "citation.AddEdge"

	for _, id := range []int64{source, target} {
		ok, err := g.resources.Exists(ctx, id)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", liberrors.Newf(liberrors.KindNotFound, op, "resource %d", id)
		}
	}

	id := uuid.NewString()
	_, err := g.pool.Exec(ctx,
		`INSERT INTO citations (id, source_id, target_id, context, discovered_at) VALUES (?, ?, ?, ?, ?)`,
		id, source, target, citeContext, g.now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("insert edge: %w", err)
	}

	g.logger.Info("citation added", "edge", id, "source", source, "target", target)
	return id, nil
}

// RemoveEdge retracts a single edge.
func (g *Graph) RemoveEdge(ctx context.Context, edgeID string) error {
	result, err := g.pool.Exec(ctx, `DELETE FROM citations WHERE id = ?`, edgeID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return liberrors.Newf(liberrors.KindNotFound, "citation.RemoveEdge", "edge %s", edgeID)
	}

	g.logger.Info("citation removed", "edge", edgeID)
	return nil
}

// Edge returns a single edge by id.
func (g *Graph) Edge(ctx context.Context, edgeID string) (Edge, error) {
	row := g.pool.QueryRow(ctx,
		`SELECT seq, id, source_id, target_id, context, discovered_at FROM citations WHERE id = ?`, edgeID)

	e, err := scanEdge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Edge{}, liberrors.Newf(liberrors.KindNotFound, "citation.Edge", "edge %s", edgeID)
	}
	return e, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEdge(row rowScanner) (Edge, error) {
	var e Edge
	var discovered int64
	if err := row.Scan(&e.Seq, &e.ID, &e.Source, &e.Target, &e.Context, &discovered); err != nil {
		return Edge{}, err
	}
	e.DiscoveredAt = time.Unix(0, discovered).UTC()
	return e, nil
}

// Snapshot copies every edge, in Seq order, into an immutable Snapshot.
func (g *Graph) Snapshot(ctx context.Context) (*Snapshot, error) {
	rows, err := g.pool.Query(ctx,
		`SELECT seq, id, source_id, target_id, context, discovered_at FROM citations ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return NewSnapshot(edges), nil
}

// OutEdges returns resource id -> outgoing edges, for export.
func (g *Graph) OutEdges(ctx context.Context) (map[int64][]Edge, error) {
	snap, err := g.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.OutEdges(), nil
}

// PageRank snapshots the graph and ranks it.
func (g *Graph) PageRank(ctx context.Context, opts PageRankOptions) (PageRankResult, error) {
	snap, err := g.Snapshot(ctx)
	if err != nil {
		return PageRankResult{}, err
	}
	return snap.PageRank(opts)
}
