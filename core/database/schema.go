package database

import "database/sql"

const schemaResources = `
CREATE TABLE IF NOT EXISTS resources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    canonical_url TEXT NOT NULL UNIQUE,
    resource_type TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT '',
    content_hash TEXT,
    created_at INTEGER NOT NULL,
    last_seen_at INTEGER NOT NULL,
    access_count INTEGER NOT NULL DEFAULT 1,
    importance REAL NOT NULL DEFAULT 0,
    archived INTEGER NOT NULL DEFAULT 0,
    metadata BLOB
)`

const schemaCitations = `
CREATE TABLE IF NOT EXISTS citations (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    source_id INTEGER NOT NULL REFERENCES resources(id),
    target_id INTEGER NOT NULL REFERENCES resources(id),
    context TEXT NOT NULL DEFAULT '',
    discovered_at INTEGER NOT NULL
)`

const indexResourcesContentHash = `CREATE INDEX IF NOT EXISTS idx_resources_content_hash ON resources(content_hash)`
const indexCitationsPair = `CREATE INDEX IF NOT EXISTS idx_citations_pair ON citations(source_id, target_id)`
const indexCitationsTarget = `CREATE INDEX IF NOT EXISTS idx_citations_target ON citations(target_id)`

// LibraryMigrations returns the schema history of a library database.
func LibraryMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "resources",
			Up:          execAll(schemaResources, indexResourcesContentHash),
			Down:        execAll(`DROP TABLE IF EXISTS resources`),
		},
		{
			Version:     2,
			Description: "citations",
			Up:          execAll(schemaCitations, indexCitationsPair, indexCitationsTarget),
			Down:        execAll(`DROP TABLE IF EXISTS citations`),
		},
	}
}

func execAll(stmts ...string) func(tx *sql.Tx) error {
	return func(tx *sql.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	}
}
