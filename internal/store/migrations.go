package store

import (
	"fmt"
	"time"
)

// migrate creates all tables if they don't exist and seeds metadata.
func (s *SQLiteStore) migrate() error {
	if err := s.runBootstrapDDL(); err != nil {
		return err
	}

	if err := s.seedMeta(); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}

	// Schema evolution: add max_attempts column to clustering_jobs.
	// Uses ALTER TABLE which can't be inside CREATE TABLE IF NOT EXISTS,
	// so we check for column existence first to make it idempotent.
	if err := s.migrateJobMaxAttemptsColumn(); err != nil {
		return fmt.Errorf("migrating max_attempts column: %w", err)
	}

	return nil
}

func (s *SQLiteStore) runBootstrapDDL() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS polls (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS statements (
			id         TEXT PRIMARY KEY,
			poll_id    TEXT NOT NULL REFERENCES polls(id),
			text       TEXT NOT NULL DEFAULT '',
			approved   INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			deleted_at DATETIME
		)`,

		`CREATE INDEX IF NOT EXISTS idx_statements_poll
			ON statements(poll_id)`,

		// Latest vote per (user, statement); revotes overwrite via upsert.
		`CREATE TABLE IF NOT EXISTS votes (
			user_id      TEXT NOT NULL,
			statement_id TEXT NOT NULL REFERENCES statements(id),
			poll_id      TEXT NOT NULL REFERENCES polls(id),
			value        INTEGER NOT NULL CHECK (value IN (-1, 0, 1)),
			cast_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, statement_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_votes_poll
			ON votes(poll_id)`,

		`CREATE TABLE IF NOT EXISTS landscape_snapshots (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id          TEXT UNIQUE NOT NULL,
			poll_id         TEXT NOT NULL REFERENCES polls(id),
			user_count      INTEGER NOT NULL,
			statement_count INTEGER NOT NULL,
			group_count     INTEGER NOT NULL,
			payload         TEXT NOT NULL,
			computed_at     DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_snapshots_poll
			ON landscape_snapshots(poll_id, computed_at)`,

		`CREATE TABLE IF NOT EXISTS clustering_jobs (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			poll_id       TEXT NOT NULL,
			status        TEXT NOT NULL DEFAULT 'pending',
			attempt_count INTEGER NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			created_at    DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME DEFAULT CURRENT_TIMESTAMP,
			processed_at  DATETIME
		)`,

		// Dedup invariant: at most one pending/processing job per poll.
		// The partial unique index makes the check-then-insert atomic.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_active_poll
			ON clustering_jobs(poll_id)
			WHERE status IN ('pending', 'processing')`,

		`CREATE INDEX IF NOT EXISTS idx_jobs_status_created
			ON clustering_jobs(status, created_at)`,

		// Key-value metadata (schema version, creation time)
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing bootstrap DDL: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) seedMeta() error {
	seeds := map[string]string{
		"schema_version": "1",
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}
	for key, value := range seeds {
		_, err := s.db.Exec(
			`INSERT INTO meta (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO NOTHING`,
			key, value,
		)
		if err != nil {
			return fmt.Errorf("seeding meta key %q: %w", key, err)
		}
	}
	return nil
}

func (s *SQLiteStore) migrateJobMaxAttemptsColumn() error {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('clustering_jobs') WHERE name = 'max_attempts'`,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking max_attempts column: %w", err)
	}
	if count > 0 {
		return nil
	}

	_, err = s.db.Exec(
		`ALTER TABLE clustering_jobs ADD COLUMN max_attempts INTEGER NOT NULL DEFAULT 3`,
	)
	if err != nil {
		return fmt.Errorf("adding max_attempts column: %w", err)
	}
	return nil
}
