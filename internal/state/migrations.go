package state

import (
	"database/sql"
	"fmt"
)

// migrations are applied in order. Each entry runs once; the applied version
// is tracked in schema_version.
var migrations = []string{
	// 1: verdicts keyed by session
	`CREATE TABLE IF NOT EXISTS verdicts (
		id             TEXT PRIMARY KEY,
		session_id     TEXT NOT NULL UNIQUE,
		project        TEXT,
		created_at     TIMESTAMP NOT NULL,
		updated_at     TIMESTAMP NOT NULL,
		engine_version TEXT NOT NULL,
		outcome        TEXT NOT NULL,
		quality        INTEGER NOT NULL,
		dq_score       REAL NOT NULL,
		confidence     REAL NOT NULL,
		optimal_model  TEXT NOT NULL,
		result_json    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_verdicts_created ON verdicts(created_at);
	CREATE INDEX IF NOT EXISTS idx_verdicts_outcome ON verdicts(outcome);`,
}

// SchemaVersion is the schema version after all migrations apply.
func SchemaVersion() int {
	return len(migrations)
}

func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}
	return nil
}
