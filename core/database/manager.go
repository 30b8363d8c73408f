// Package database opens and migrates the SQLite database backing a library's
// catalog and citation tables.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	liberrors "github.com/adalundhe/shelf/core/errors"
)

// Pool wraps a *sql.DB opened against one SQLite file.
type Pool struct {
	db     *sql.DB
	path   string
	config PoolConfig
	mu     sync.RWMutex
}

type PoolConfig struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	BusyTimeout time.Duration
	EnableWAL   bool
	ForeignKeys bool
	CacheSize   int
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpen:     10,
		MaxIdle:     5,
		MaxLifetime: time.Hour,
		BusyTimeout: 30 * time.Second,
		EnableWAL:   true,
		ForeignKeys: true,
		CacheSize:   -2000,
	}
}

// Open opens (creating if needed) the SQLite database at path.
// Write transactions take the lock up front (_txlock=immediate) so that a
// read-then-write transaction never fails mid-way with SQLITE_BUSY.
func Open(path string, config PoolConfig) (*Pool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create dir: %w", err)
	}

	db, err := sql.Open("sqlite3", buildDSN(path, config))
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpen)
	db.SetMaxIdleConns(config.MaxIdle)
	db.SetConnMaxLifetime(config.MaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Pool{
		db:     db,
		path:   path,
		config: config,
	}, nil
}

func buildDSN(path string, config PoolConfig) string {
	params := []string{
		fmt.Sprintf("_busy_timeout=%d", int(config.BusyTimeout.Milliseconds())),
		fmt.Sprintf("_foreign_keys=%d", boolToInt(config.ForeignKeys)),
		fmt.Sprintf("_cache_size=%d", config.CacheSize),
		"_txlock=immediate",
	}
	if config.EnableWAL {
		params = append(params, "_journal_mode=WAL")
	}
	return "file:" + path + "?" + strings.Join(params, "&")
}

func (p *Pool) DB() *sql.DB {
	return p.db
}

func (p *Pool) Path() string {
	return p.path
}

func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db == nil {
		return nil
	}

	err := p.db.Close()
	p.db = nil
	return err
}

func (p *Pool) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return p.db.ExecContext(ctx, query, args...)
}

func (p *Pool) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return p.db.QueryContext(ctx, query, args...)
}

func (p *Pool) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return p.db.QueryRowContext(ctx, query, args...)
}

func (p *Pool) Begin(ctx context.Context) (*sql.Tx, error) {
	return p.db.BeginTx(ctx, nil)
}

// Transaction runs fn inside a transaction, rolling back when fn fails.
func (p *Pool) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (p *Pool) Version(ctx context.Context) (int, error) {
	var version int
	err := p.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version)
	return version, err
}

// IntegrityCheck runs PRAGMA integrity_check and reports every problem
// SQLite lists as one Corrupted error.
func (p *Pool) IntegrityCheck(ctx context.Context) error {
	const op = "database.IntegrityCheck"

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.db == nil {
		return liberrors.Newf(liberrors.KindInvalidInput, op, "%s is closed", p.path)
	}

	rows, err := p.db.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return liberrors.Wrap(liberrors.KindCorrupted, op, p.path, err)
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return err
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		return liberrors.Wrap(liberrors.KindCorrupted, op, p.path, err)
	}
	if len(problems) > 0 {
		return liberrors.Newf(liberrors.KindCorrupted, op, "%s: %s", p.path, strings.Join(problems, "; "))
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
