package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// migration holds a versioned SQL migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{Version: 1, Name: "initial_schema", SQL: `
-- Definition library, keyed by workflow id.
CREATE TABLE IF NOT EXISTS workflows (
	id          TEXT PRIMARY KEY,
	name        TEXT,
	description TEXT,
	definition  TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);

-- One row per finished run.
CREATE TABLE IF NOT EXISTS executions (
	id          TEXT PRIMARY KEY,
	workflow_id TEXT,
	status      TEXT NOT NULL,
	success     INTEGER NOT NULL,
	error       TEXT,
	error_code  TEXT,
	input       TEXT,
	result      TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	started_at  TIMESTAMP NOT NULL,
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id, created_at);

-- One row per step execution, written after its retry loop.
CREATE TABLE IF NOT EXISTS tool_usage (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	tool_name    TEXT NOT NULL,
	category     TEXT,
	workflow_id  TEXT,
	execution_id TEXT NOT NULL,
	step_id      TEXT NOT NULL,
	input        TEXT,
	output       TEXT,
	success      INTEGER NOT NULL,
	error        TEXT,
	duration_ms  INTEGER NOT NULL,
	attempts     INTEGER NOT NULL,
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_usage_execution ON tool_usage(execution_id);
CREATE INDEX IF NOT EXISTS idx_tool_usage_tool ON tool_usage(tool_name, created_at);

-- Append-only run event journal.
CREATE TABLE IF NOT EXISTS events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id TEXT NOT NULL,
	workflow_id  TEXT,
	step_id      TEXT,
	event_type   TEXT NOT NULL,
	payload      TEXT,
	timestamp    TIMESTAMP NOT NULL,
	sequence     INTEGER NOT NULL,
	UNIQUE(execution_id, sequence)
);
`},
}

// runMigrations creates the schema_version table and applies any pending migrations.
func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range splitStatements(m.SQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version, name) VALUES (?, ?)`, m.Version, m.Name); err != nil {
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return nil
}

// splitStatements splits a SQL script on semicolons and drops comment-only chunks.
func splitStatements(script string) []string {
	var stmts []string
	for _, raw := range strings.Split(script, ";") {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		for _, l := range strings.Split(s, "\n") {
			l = strings.TrimSpace(l)
			if l != "" && !strings.HasPrefix(l, "--") {
				stmts = append(stmts, s)
				break
			}
		}
	}
	return stmts
}
