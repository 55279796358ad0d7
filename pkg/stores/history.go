package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/hpcops/allocsync/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// HistoryStore records runs and their report rows in SQLite
type HistoryStore struct {
	db  *sql.DB
	cfg Config
}

// NewHistoryStore creates a new history store instance
func NewHistoryStore(cfg Config) (*HistoryStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &HistoryStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *HistoryStore) Init(ctx context.Context) error {
	db, err := openSQLite(ctx, s.cfg, true)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

// Close closes the database connection
func (s *HistoryStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *HistoryStore) migrator() (*migrate.Migrate, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return m, nil
}

// Migrate runs database migrations.
func (s *HistoryStore) Migrate(_ context.Context) error {
	m, err := s.migrator()
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Version returns the applied schema version. A fresh database reports version 0.
func (s *HistoryStore) Version(_ context.Context) (version uint, dirty bool, err error) {
	m, err := s.migrator()
	if err != nil {
		return 0, false, err
	}

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}

// CreateRun creates a new run record
func (s *HistoryStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO allocsync_runs (id, job, sync, noop, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Job,
		run.Sync,
		run.Noop,
		run.Status,
		run.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// FinishRun stores the summary of a run and marks it completed, or failed when runErr is set.
func (s *HistoryStore) FinishRun(ctx context.Context, id string, summary *engine.RunSummary, runErr error) error {
	query := `
		UPDATE allocsync_runs
		SET status = ?, processed = ?, succeeded = ?, skipped = ?, failed = ?, error = ?, completed_at = ?
		WHERE id = ?
	`

	status := RunStatusCompleted
	var errMsg *string
	if runErr != nil {
		status = RunStatusFailed
		msg := runErr.Error()
		errMsg = &msg
	}
	if summary == nil {
		summary = engine.NewRunSummary()
	}

	result, err := s.db.ExecContext(ctx, query,
		status,
		summary.Processed,
		summary.Succeeded,
		summary.Skipped,
		summary.Failed,
		errMsg,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// GetRun retrieves a run by ID
func (s *HistoryStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, job, sync, noop, status, processed, succeeded, skipped, failed, error, started_at, completed_at
		FROM allocsync_runs
		WHERE id = ?
	`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs newest first. An empty job lists every job.
func (s *HistoryStore) ListRuns(ctx context.Context, job string, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, job, sync, noop, status, processed, succeeded, skipped, failed, error, started_at, completed_at
		FROM allocsync_runs
		WHERE (? = '' OR job = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, job, job, limit, offset)
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

// DeleteRunsBefore deletes runs started before t together with their rows.
func (s *HistoryStore) DeleteRunsBefore(ctx context.Context, t time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM allocsync_runs WHERE started_at < ?`, t.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// RecordOutcome appends the outcome of one entity to a run.
func (s *HistoryStore) RecordOutcome(ctx context.Context, runID string, outcome engine.Outcome) error {
	query := `
		INSERT INTO allocsync_rows (run_id, entity_kind, entity, result, row, actions, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	var line string
	if outcome.Row != nil {
		line = engine.FormatLine(outcome.Row.Fields())
	}

	actions := outcome.Actions
	if actions == nil {
		actions = []engine.Action{}
	}
	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	var errMsg *string
	if outcome.Err != nil {
		msg := outcome.Err.Error()
		errMsg = &msg
	}

	_, err = s.db.ExecContext(ctx, query,
		runID,
		outcome.Kind,
		outcome.Entity,
		outcome.Result,
		line,
		string(actionsJSON),
		errMsg,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}

	return nil
}

// ListRows returns the stored rows of a run in insertion order.
func (s *HistoryStore) ListRows(ctx context.Context, runID string) ([]*RowRecord, error) {
	query := `
		SELECT id, run_id, entity_kind, entity, result, row, actions, error, created_at
		FROM allocsync_rows
		WHERE run_id = ?
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rows: %w", err)
	}
	defer rows.Close()

	records := []*RowRecord{}
	for rows.Next() {
		record := &RowRecord{}
		err := rows.Scan(
			&record.ID,
			&record.RunID,
			&record.EntityKind,
			&record.Entity,
			&record.Result,
			&record.Row,
			&record.Actions,
			&record.Error,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// HealthCheck verifies the database connection is healthy
func (s *HistoryStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID,
		&run.Job,
		&run.Sync,
		&run.Noop,
		&run.Status,
		&run.Processed,
		&run.Succeeded,
		&run.Skipped,
		&run.Failed,
		&run.Error,
		&run.StartedAt,
		&run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}
