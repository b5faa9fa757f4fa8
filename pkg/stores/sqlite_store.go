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
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database with WAL mode and foreign keys enabled.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
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

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CreateRun creates a new run record. An empty ID is filled with a new UUID,
// zero timestamps with the current time.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	now := time.Now().UTC()
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	if run.Metadata == "" {
		run.Metadata = "{}"
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	query := `
		INSERT INTO runs (id, instance, mode, status, actions, committed, rounds, duration_ms,
			started_at, completed_at, error, error_class, error_code, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Instance,
		run.Mode,
		run.Status,
		run.Actions,
		run.Committed,
		run.Rounds,
		run.DurationMS,
		run.StartedAt,
		run.CompletedAt,
		run.Error,
		run.ErrorClass,
		run.ErrorCode,
		run.Metadata,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

const runColumns = `id, instance, mode, status, actions, committed, rounds, duration_ms,
	started_at, completed_at, error, error_class, error_code, metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID,
		&run.Instance,
		&run.Mode,
		&run.Status,
		&run.Actions,
		&run.Committed,
		&run.Rounds,
		&run.DurationMS,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
		&run.ErrorClass,
		&run.ErrorCode,
		&run.Metadata,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	return run, err
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// CompleteRun records the outcome of a run. The status must be terminal.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, result RunResult) error {
	if !result.Status.Terminal() {
		return fmt.Errorf("run status %q is not terminal", result.Status)
	}

	query := `
		UPDATE runs
		SET status = ?, committed = ?, rounds = ?, duration_ms = ?, completed_at = ?,
			error = ?, error_class = ?, error_code = ?, updated_at = ?
		WHERE id = ?
	`

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, query,
		result.Status,
		result.Committed,
		result.Rounds,
		result.Duration.Milliseconds(),
		now,
		nullString(result.Error),
		nullString(result.ErrorClass),
		nullString(result.ErrorCode),
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	return nil
}

// ListRuns lists runs, most recent first, optionally for one instance.
func (s *SQLiteStore) ListRuns(ctx context.Context, instance *string, limit, offset int) ([]*Run, error) {
	query := `SELECT ` + runColumns + `
		FROM runs
		WHERE (? IS NULL OR instance = ?)
		ORDER BY started_at DESC, created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, instance, instance, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run with its commits, violations and events.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	query := `DELETE FROM runs WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	return nil
}

// AppendCommits stores committed actions of a run in a single transaction.
func (s *SQLiteStore) AppendCommits(ctx context.Context, runID string, commits []*Commit) error {
	if len(commits) == 0 {
		return nil
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO commits (run_id, position, action_index, kind, action, start_time, end_time, committed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare commit insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range commits {
		c.RunID = runID
		if c.CommittedAt.IsZero() {
			c.CommittedAt = time.Now().UTC()
		}
		result, err := stmt.ExecContext(ctx,
			c.RunID, c.Position, c.ActionIndex, c.Kind, c.Action, c.Start, c.End, c.CommittedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to append commit %d: %w", c.Position, err)
		}
		if c.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get commit ID: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListCommits returns the commits of a run in commit order.
func (s *SQLiteStore) ListCommits(ctx context.Context, runID string) ([]*Commit, error) {
	query := `
		SELECT id, run_id, position, action_index, kind, action, start_time, end_time, committed_at
		FROM commits
		WHERE run_id = ?
		ORDER BY position
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list commits: %w", err)
	}
	defer rows.Close()

	commits := []*Commit{}
	for rows.Next() {
		c := &Commit{}
		err := rows.Scan(
			&c.ID,
			&c.RunID,
			&c.Position,
			&c.ActionIndex,
			&c.Kind,
			&c.Action,
			&c.Start,
			&c.End,
			&c.CommittedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan commit: %w", err)
		}
		commits = append(commits, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating commits: %w", err)
	}

	return commits, nil
}

// AppendViolation stores a constraint violation.
func (s *SQLiteStore) AppendViolation(ctx context.Context, v *Violation) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO violations (run_id, constraint_name, constraint_text, code, hook,
			action_index, position, action, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		v.RunID,
		v.ConstraintName,
		v.Constraint,
		v.Code,
		v.Hook,
		v.ActionIndex,
		v.Position,
		v.Action,
		v.Message,
		v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append violation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get violation ID: %w", err)
	}

	v.ID = id
	return nil
}

// ListViolations returns the violations of a run.
func (s *SQLiteStore) ListViolations(ctx context.Context, runID string) ([]*Violation, error) {
	query := `
		SELECT id, run_id, constraint_name, constraint_text, code, hook,
			action_index, position, action, message, created_at
		FROM violations
		WHERE run_id = ?
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list violations: %w", err)
	}
	defer rows.Close()

	violations := []*Violation{}
	for rows.Next() {
		v := &Violation{}
		err := rows.Scan(
			&v.ID,
			&v.RunID,
			&v.ConstraintName,
			&v.Constraint,
			&v.Code,
			&v.Hook,
			&v.ActionIndex,
			&v.Position,
			&v.Action,
			&v.Message,
			&v.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		violations = append(violations, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating violations: %w", err)
	}

	return violations, nil
}

// AppendEvent appends a new event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO events (run_id, type, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.RunID,
		event.Type,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// GetEvents retrieves events with optional filters and pagination, oldest first.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, run_id, type, level, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR run_id = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY timestamp, id
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, runID, runID, level, level, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.Type,
			&event.Level,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
