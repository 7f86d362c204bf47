package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the current schema version written to schema_meta.
const SchemaVersion = 1

// Migrate creates (or upgrades) the store schema in-place.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS job_instances (
			instance_id TEXT PRIMARY KEY,
			job_name TEXT NOT NULL,
			identity_key TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(job_name, identity_key)
		);`,

		`CREATE TABLE IF NOT EXISTS executions (
			execution_id INTEGER PRIMARY KEY AUTOINCREMENT,
			instance_id TEXT NOT NULL,
			job_name TEXT NOT NULL,
			status TEXT NOT NULL,
			exit_code TEXT,
			exit_description TEXT,
			start_time TEXT,
			end_time TEXT,
			parameters_json TEXT NOT NULL,
			context_json TEXT NOT NULL,
			trigger_id TEXT UNIQUE NOT NULL,
			FOREIGN KEY(instance_id) REFERENCES job_instances(instance_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_executions_instance_id ON executions(instance_id);`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);`,

		`CREATE TABLE IF NOT EXISTS step_executions (
			execution_id INTEGER NOT NULL,
			step_name TEXT NOT NULL,
			seq INTEGER NOT NULL,
			status TEXT NOT NULL,
			start_time TEXT,
			end_time TEXT,
			read_count INTEGER NOT NULL DEFAULT 0,
			write_count INTEGER NOT NULL DEFAULT 0,
			skip_count INTEGER NOT NULL DEFAULT 0,
			exit_code TEXT,
			PRIMARY KEY(execution_id, step_name),
			FOREIGN KEY(execution_id) REFERENCES executions(execution_id)
		);`,

		`CREATE TABLE IF NOT EXISTS aggregation_rows (
			execution_id INTEGER NOT NULL,
			aggregation_type TEXT NOT NULL,
			group_key TEXT NOT NULL,
			record_count INTEGER NOT NULL DEFAULT 0,
			total_salary REAL NOT NULL DEFAULT 0,
			total_hours REAL NOT NULL DEFAULT 0,
			total_bonus REAL NOT NULL DEFAULT 0,
			min_salary REAL,
			max_salary REAL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY(execution_id, aggregation_type, group_key)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
		return fmt.Errorf("update schema_version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
