// Package store provides the SQLite storage layer for Agora.
//
// All engine data lives in a single SQLite database file, including:
// - Polls, statements, and the raw vote log
// - Persisted opinion landscape snapshots
// - The clustering job queue
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.agora/agora.db"

// Vote values. A revote overwrites; only the latest value per
// (user, statement) is kept.
const (
	VoteDisagree = -1
	VoteNeutral  = 0
	VoteAgree    = 1
)

// Poll represents a deliberation poll.
type Poll struct {
	ID        string
	Title     string
	CreatedAt time.Time
}

// Statement represents a single votable statement within a poll.
type Statement struct {
	ID        string
	PollID    string
	Text      string
	Approved  bool
	CreatedAt time.Time
	DeletedAt *time.Time
}

// Vote is the latest recorded vote of one user on one statement.
type Vote struct {
	UserID      string
	StatementID string
	PollID      string
	Value       int
	CastAt      time.Time
}

// Snapshot is one persisted opinion landscape computation.
// Payload holds the full landscape result as JSON.
type Snapshot struct {
	ID             int64
	RunID          string
	PollID         string
	UserCount      int
	StatementCount int
	GroupCount     int
	Payload        []byte
	ComputedAt     time.Time
}

// StoreStats holds observability statistics about the store.
type StoreStats struct {
	PollCount      int64
	StatementCount int64
	VoteCount      int64
	SnapshotCount  int64
	JobCount       int64
	DBSizeBytes    int64
}

// StoreConfig holds configuration for NewStore.
type StoreConfig struct {
	DBPath string
}

// Store defines the storage interface consumed by the engine and queue.
type Store interface {
	// Polls and statements
	UpsertPoll(ctx context.Context, p *Poll) error
	AddStatement(ctx context.Context, st *Statement) error
	SetStatementApproved(ctx context.Context, statementID string, approved bool) error

	// Votes
	CastVote(ctx context.Context, v *Vote) error
	PollVotes(ctx context.Context, pollID string) ([]Vote, error)
	CountDistinctVoters(ctx context.Context, pollID string) (int, error)
	CountApprovedStatements(ctx context.Context, pollID string) (int, error)

	// Landscape snapshots
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	LatestSnapshot(ctx context.Context, pollID string) (*Snapshot, error)

	// Job queue
	EnqueueJob(ctx context.Context, pollID string, maxAttempts int) (bool, error)
	ClaimNextJob(ctx context.Context) (*Job, error)
	CompleteJob(ctx context.Context, jobID int64, message string) error
	RetryJob(ctx context.Context, jobID int64, errMessage string) error
	FailJob(ctx context.Context, jobID int64, errMessage string) error
	QueueStats(ctx context.Context) (*QueueStats, error)
	CleanupOldJobs(ctx context.Context, daysToKeep int) (int64, error)
	RequeueStuckJobs(ctx context.Context, olderThan time.Duration) (int64, error)

	// Observability
	Stats(ctx context.Context) (*StoreStats, error)

	// Maintenance
	Vacuum(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewStore creates a new SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg StoreConfig) (Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}

	// Create parent directory for non-memory databases
	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Enable WAL mode and foreign keys
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		dbPath: cfg.DBPath,
	}

	// Run migrations
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// GetDB exposes the underlying handle for callers that need raw SQL
// (tests, the MCP server's resource queries).
func (s *SQLiteStore) GetDB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Vacuum runs VACUUM on the database. Manual only — never auto-vacuum.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Stats returns entity counts and the database size on disk.
func (s *SQLiteStore) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{}

	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM polls", &stats.PollCount},
		{"SELECT COUNT(*) FROM statements WHERE deleted_at IS NULL", &stats.StatementCount},
		{"SELECT COUNT(*) FROM votes", &stats.VoteCount},
		{"SELECT COUNT(*) FROM landscape_snapshots", &stats.SnapshotCount},
		{"SELECT COUNT(*) FROM clustering_jobs", &stats.JobCount},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("counting rows: %w", err)
		}
	}

	if s.dbPath != ":memory:" {
		if info, err := os.Stat(s.dbPath); err == nil {
			stats.DBSizeBytes = info.Size()
		}
	}

	return stats, nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
