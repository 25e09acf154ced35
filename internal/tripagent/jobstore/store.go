// Package jobstore records assembly jobs in a SQLite ledger.
package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"k8s.io/utils/clock"
	_ "modernc.org/sqlite"
)

type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateRejected  State = "rejected"
)

var ErrNotFound = errors.New("job not found")

// Job is one assembly attempt of a session.
type Job struct {
	ID       string
	Session  string
	State    State
	Frames   int
	Written  int
	Skipped  int
	Coverage bool
	Output   string
	Error    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Outcome is the terminal result recorded by Finish.
type Outcome struct {
	State    State
	Written  int
	Skipped  int
	Coverage bool
	Output   string
	Err      error
}

type Store struct {
	db    *sql.DB
	clock clock.PassiveClock
}

// Open opens or creates the ledger at path. An empty path keeps it in memory.
func Open(path string) (*Store, error) {
	return open(path, clock.RealClock{})
}

func open(path string, clk clock.PassiveClock) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers and keeps an in-memory database alive.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db, clock: clk}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		session TEXT NOT NULL,
		state TEXT NOT NULL,
		frames INTEGER NOT NULL DEFAULT 0,
		written INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		coverage INTEGER NOT NULL DEFAULT 0,
		output TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_session ON jobs(session);
	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Create records a running job for session.
func (s *Store) Create(ctx context.Context, session string, frames int) (*Job, error) {
	now := s.clock.Now()
	job := &Job{
		ID:        ulid.Make().String(),
		Session:   session,
		State:     StateRunning,
		Frames:    frames,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, session, state, frames, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.Session, string(job.State), job.Frames, now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to create job record: %w", err)
	}
	return job, nil
}

// Finish records the terminal outcome of a running job.
func (s *Store) Finish(ctx context.Context, id string, out Outcome) error {
	if out.State == StateRunning || out.State == "" {
		return fmt.Errorf("job %s: %q is not a terminal state", id, out.State)
	}

	var errText string
	if out.Err != nil {
		errText = out.Err.Error()
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, written = ?, skipped = ?, coverage = ?, output = ?, error = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		string(out.State), out.Written, out.Skipped, out.Coverage, out.Output, errText, s.clock.Now().UnixNano(),
		id, string(StateRunning))
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: no running job %s", ErrNotFound, id)
	}
	return nil
}

const selectJob = `SELECT id, session, state, frames, written, skipped, coverage, output, error, created_at, updated_at FROM jobs`

// Get returns the job with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, selectJob+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return job, err
}

// Recent returns up to limit jobs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, selectJob+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		job              Job
		state            string
		created, updated int64
	)
	if err := row.Scan(&job.ID, &job.Session, &state, &job.Frames, &job.Written, &job.Skipped,
		&job.Coverage, &job.Output, &job.Error, &created, &updated); err != nil {
		return nil, err
	}
	job.State = State(state)
	job.CreatedAt = time.Unix(0, created)
	job.UpdatedAt = time.Unix(0, updated)
	return &job, nil
}
