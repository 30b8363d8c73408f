package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"

	liberrors "github.com/adalundhe/shelf/core/errors"
)

// Migration is one schema step. Down may be nil for steps that cannot be
// reversed.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
	Down        func(tx *sql.Tx) error
}

// Migrator moves a database between schema versions. The applied version is
// stored in PRAGMA user_version and each step commits atomically with it.
type Migrator struct {
	pool       *Pool
	migrations []Migration
	logger     *slog.Logger
}

// NewMigrator orders migrations by version. A nil logger means slog.Default.
func NewMigrator(pool *Pool, migrations []Migration, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	sorted := slices.Clone(migrations)
	slices.SortFunc(sorted, func(a, b Migration) int { return a.Version - b.Version })
	return &Migrator{pool: pool, migrations: sorted, logger: logger}
}

// Latest is the highest version this binary knows about.
func (m *Migrator) Latest() int {
	if len(m.migrations) == 0 {
		return 0
	}
	return m.migrations[len(m.migrations)-1].Version
}

// Migrate applies every pending migration. A database already past Latest
// was written by a newer build and is refused.
func (m *Migrator) Migrate(ctx context.Context) error {
	const op = "database.Migrate"

	current, err := m.pool.Version(ctx)
	if err != nil {
		return liberrors.Wrap(liberrors.KindCorrupted, op, "read schema version", err)
	}
	if current > m.Latest() {
		return liberrors.Newf(liberrors.KindInvalidConfiguration, op,
			"%s has schema version %d, newer than supported %d", m.pool.Path(), current, m.Latest())
	}

	for _, mig := range m.migrations {
		if mig.Version <= current {
			continue
		}
		if err := m.step(ctx, mig.Version, mig.Up); err != nil {
			return fmt.Errorf("migration %d (%s): %w", mig.Version, mig.Description, err)
		}
		m.logger.Debug("migration applied", "version", mig.Version, "description", mig.Description)
	}
	return nil
}

// Check verifies the schema is exactly Latest without changing it. Used by
// read-only opens, which must not migrate.
func (m *Migrator) Check(ctx context.Context) error {
	const op = "database.Check"

	current, err := m.pool.Version(ctx)
	if err != nil {
		return liberrors.Wrap(liberrors.KindCorrupted, op, "read schema version", err)
	}
	if current != m.Latest() {
		return liberrors.Newf(liberrors.KindInvalidConfiguration, op,
			"%s has schema version %d, want %d", m.pool.Path(), current, m.Latest())
	}
	return nil
}

// Rollback undoes applied migrations, newest first, until the schema is at
// target.
func (m *Migrator) Rollback(ctx context.Context, target int) error {
	current, err := m.pool.Version(ctx)
	if err != nil {
		return err
	}

	for i := len(m.migrations) - 1; i >= 0; i-- {
		mig := m.migrations[i]
		if mig.Version <= target || mig.Version > current {
			continue
		}
		if mig.Down == nil {
			return liberrors.Newf(liberrors.KindInvalidInput, "database.Rollback",
				"migration %d (%s) cannot be reversed", mig.Version, mig.Description)
		}

		prev := 0
		if i > 0 {
			prev = m.migrations[i-1].Version
		}
		if err := m.step(ctx, prev, mig.Down); err != nil {
			return fmt.Errorf("rollback %d: %w", mig.Version, err)
		}
		m.logger.Debug("migration reverted", "version", mig.Version)
	}
	return nil
}

// PendingMigrations lists migrations Migrate would apply.
func (m *Migrator) PendingMigrations(ctx context.Context) ([]Migration, error) {
	current, err := m.pool.Version(ctx)
	if err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(m.migrations, func(mig Migration) bool { return mig.Version > current })
	if idx < 0 {
		return nil, nil
	}
	return slices.Clone(m.migrations[idx:]), nil
}

func (m *Migrator) step(ctx context.Context, version int, fn func(tx *sql.Tx) error) error {
	return m.pool.Transaction(ctx, func(tx *sql.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version))
		return err
	})
}
