package database

import (
	"database/sql"
	"fmt"
)

// Schema statements for the interview archive database.
// TECHNICAL DISCOVERY: JSON columns for participant snapshots and summaries
// keep the schema stable while the store-side record shapes evolve
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS session_archives (
		code TEXT PRIMARY KEY CHECK(length(code) = 6),
		created INTEGER NOT NULL,
		created_by TEXT NOT NULL,
		terminated_by TEXT NOT NULL,
		terminated_at INTEGER NOT NULL,
		preserved_participants TEXT NOT NULL DEFAULT '{}',
		final_summary TEXT,
		notes TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS tracking_events (
		id TEXT PRIMARY KEY,
		session_code TEXT NOT NULL,
		user_id TEXT NOT NULL,
		user_name TEXT NOT NULL,
		event_type TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_archives_terminated_at ON session_archives(terminated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_tracking_session_time ON tracking_events(session_code, created_at)`,
}

// Initialize applies the schema. Statements are idempotent so startup can
// run this unconditionally.
func Initialize(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}

// ValidateTablesExist verifies that all required tables exist.
// FUNCTIONAL DISCOVERY: Explicit table validation prevents runtime errors
// from missing tables during database operations
func ValidateTablesExist(db *sql.DB) error {
	requiredTables := map[string]string{
		"session_archives": "terminated session snapshots",
		"tracking_events":  "audit trail entries",
	}

	for table, description := range requiredTables {
		var count int
		err := db.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if count == 0 {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}
