package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schema contains the DDL for all run history tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		workflow    TEXT NOT NULL,
		version     TEXT NOT NULL DEFAULT '',
		outcome     TEXT NOT NULL DEFAULT 'running',
		params      TEXT NOT NULL DEFAULT '{}',
		error       TEXT NOT NULL DEFAULT '',
		started_at  TEXT NOT NULL,
		finished_at TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS step_results (
		run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		step        TEXT NOT NULL,
		seq         INTEGER NOT NULL,
		status      TEXT NOT NULL,
		mode        TEXT NOT NULL DEFAULT '',
		produces    TEXT NOT NULL DEFAULT '[]',
		outputs     TEXT NOT NULL DEFAULT '{}',
		invocations INTEGER NOT NULL DEFAULT 0,
		failed      INTEGER NOT NULL DEFAULT 0,
		attempts    INTEGER NOT NULL DEFAULT 0,
		failures    TEXT NOT NULL DEFAULT '[]',
		error       TEXT NOT NULL DEFAULT '',
		started_at  TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		PRIMARY KEY (run_id, step)
	)`,

	`CREATE TABLE IF NOT EXISTS artifacts (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		name   TEXT NOT NULL,
		seq    INTEGER NOT NULL,
		path   TEXT NOT NULL DEFAULT '',
		expr   TEXT NOT NULL DEFAULT '',
		bytes  INTEGER NOT NULL DEFAULT 0,
		error  TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, name)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_runs_workflow ON runs(workflow)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_outcome ON runs(outcome)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
}

// columnAdditions are columns added after the first release. SQLite has no
// ADD COLUMN IF NOT EXISTS, so each is applied only when missing.
var columnAdditions = []struct {
	table, column, ddl string
}{
	{"runs", "run_dir", "ALTER TABLE runs ADD COLUMN run_dir TEXT NOT NULL DEFAULT ''"},
	{"step_results", "fanout", "ALTER TABLE step_results ADD COLUMN fanout INTEGER NOT NULL DEFAULT 0"},
}

// migrate brings the schema up to date. It is safe to run on every start.
func migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	for _, add := range columnAdditions {
		exists, err := hasColumn(ctx, db, add.table, add.column)
		if err != nil {
			return fmt.Errorf("inspect %s: %w", add.table, err)
		}
		if exists {
			continue
		}
		if _, err := db.ExecContext(ctx, add.ddl); err != nil {
			return fmt.Errorf("add %s.%s: %w", add.table, add.column, err)
		}
	}
	return nil
}

func hasColumn(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ? COLLATE NOCASE", table, column).Scan(&n)
	return n > 0, err
}
