// Package stores provides the SQLite-backed run journal. Each migration run
// records its identity, phase transitions, and final status so partial runs
// can be listed and resumed. Journaling is best-effort; the engine treats
// journal failures as warnings, never as run failures.
package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	pipeline "github.com/smartsheet-platform/project-online-import-sub000/pkg/migrate"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run is one journaled migration run.
type Run struct {
	ID         string
	ProjectID  string
	State      pipeline.RunState
	Error      *string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Config holds journal database configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLiteJournal implements the engine's Journal interface on SQLite.
type SQLiteJournal struct {
	db  *sql.DB
	cfg Config
}

// NewSQLiteJournal creates a journal instance. Call Init and Migrate before
// use.
func NewSQLiteJournal(cfg Config) (*SQLiteJournal, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	return &SQLiteJournal{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (j *SQLiteJournal) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", j.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if j.cfg.Path == ":memory:" {
		// An in-memory database exists per connection; the pool must not
		// hand out a second one.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(j.cfg.MaxOpenConns)
		db.SetMaxIdleConns(j.cfg.MaxIdleConns)
		db.SetConnMaxLifetime(j.cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	j.db = db
	return nil
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (j *SQLiteJournal) Migrate(_ context.Context) error {
	if j.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(j.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// StartRun records a new run in its initial state.
func (j *SQLiteJournal) StartRun(ctx context.Context, runID, projectID string) error {
	query := `
		INSERT INTO runs (id, project_id, state, started_at)
		VALUES (?, ?, ?, ?)
	`
	_, err := j.db.ExecContext(ctx, query,
		runID, projectID, pipeline.RunStateNotStarted, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// RecordTransition appends a state transition and updates the run's state.
func (j *SQLiteJournal) RecordTransition(ctx context.Context, runID string, state pipeline.RunState) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO run_transitions (run_id, state, recorded_at) VALUES (?, ?, ?)`,
		runID, state, now); err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET state = ? WHERE id = ?`, state, runID); err != nil {
		return fmt.Errorf("failed to update run state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	return nil
}

// FinishRun records the run's terminal state. message carries the failure
// cause for failed runs and is empty otherwise.
func (j *SQLiteJournal) FinishRun(ctx context.Context, runID string, state pipeline.RunState, message string) error {
	var errMsg *string
	if message != "" {
		errMsg = &message
	}

	result, err := j.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, error = ?, finished_at = ? WHERE id = ?`,
		state, errMsg, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (j *SQLiteJournal) GetRun(ctx context.Context, runID string) (*Run, error) {
	query := `
		SELECT id, project_id, state, error, started_at, finished_at
		FROM runs
		WHERE id = ?
	`
	run := &Run{}
	err := j.db.QueryRowContext(ctx, query, runID).Scan(
		&run.ID, &run.ProjectID, &run.State, &run.Error,
		&run.StartedAt, &run.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns lists the most recent runs.
func (j *SQLiteJournal) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `
		SELECT id, project_id, state, error, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`
	return j.queryRuns(ctx, query, limit)
}

// ListResumable lists runs that stopped short of completion: failed runs and
// runs that never reached a terminal state.
func (j *SQLiteJournal) ListResumable(ctx context.Context) ([]*Run, error) {
	query := `
		SELECT id, project_id, state, error, started_at, finished_at
		FROM runs
		WHERE state != ?
		ORDER BY started_at DESC
	`
	return j.queryRuns(ctx, query, pipeline.RunStateComplete)
}

// Transitions returns a run's state transitions in order.
func (j *SQLiteJournal) Transitions(ctx context.Context, runID string) ([]pipeline.RunState, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT state FROM run_transitions WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	var states []pipeline.RunState
	for rows.Next() {
		var s pipeline.RunState
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		states = append(states, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transitions: %w", err)
	}
	return states, nil
}

func (j *SQLiteJournal) queryRuns(ctx context.Context, query string, args ...interface{}) ([]*Run, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(
			&run.ID, &run.ProjectID, &run.State, &run.Error,
			&run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}
