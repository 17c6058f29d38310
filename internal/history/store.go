// Package history keeps compliance runs in a local SQLite database so drift
// between runs can be reviewed.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/assetguard/assetguard/internal/compliance"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned by Get for an unknown run ID
var ErrRunNotFound = errors.New("check run not found")

// Run summarizes one stored check run
type Run struct {
	ID         string    `json:"id" yaml:"id"`
	Endpoint   string    `json:"endpoint" yaml:"endpoint"`
	Bucket     string    `json:"bucket" yaml:"bucket"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	Passed     bool      `json:"passed" yaml:"passed"`
	Failed     int       `json:"failed" yaml:"failed"`
	Skipped    int       `json:"skipped" yaml:"skipped"`
}

// Store persists compliance reports
type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewStore opens (or creates) the history database at path
func NewStore(path string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// A single writer avoids SQLITE_BUSY between concurrent runs
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	logger.WithField("path", path).Debug("History store opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS check_runs (
		id TEXT PRIMARY KEY,
		endpoint TEXT NOT NULL,
		bucket TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		passed INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		skipped INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS check_results (
		run_id TEXT NOT NULL REFERENCES check_runs(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		property TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		details TEXT,
		duration_ns INTEGER NOT NULL,
		PRIMARY KEY (run_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_check_runs_started_at ON check_runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_check_results_property ON check_results(property, status);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create history schema: %w", err)
	}
	return nil
}

// Record stores a report and its results in one transaction
func (s *Store) Record(ctx context.Context, r *compliance.Report) error {
	if r == nil || r.ID == "" {
		return errors.New("report has no ID")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO check_runs (id, endpoint, bucket, started_at, finished_at, passed, failed, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Endpoint, r.Bucket,
		r.StartedAt.UnixNano(), r.FinishedAt.UnixNano(),
		r.Passed(), r.Count(compliance.StatusFail), r.Count(compliance.StatusSkip),
	)
	if err != nil {
		return fmt.Errorf("failed to insert check run: %w", err)
	}

	for n, res := range r.Results {
		details := "[]"
		if len(res.Details) > 0 {
			b, err := json.Marshal(res.Details)
			if err != nil {
				s.logger.WithError(err).Warn("Failed to marshal result details")
			} else {
				details = string(b)
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO check_results (run_id, position, property, status, reason, details, duration_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, n, res.Property, string(res.Status), res.Reason, details, int64(res.Duration),
		)
		if err != nil {
			return fmt.Errorf("failed to insert result %s: %w", res.Property, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit check run: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"run_id": r.ID,
		"passed": r.Passed(),
	}).Debug("Check run recorded")
	return nil
}

// ListRecent returns the newest runs first
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, endpoint, bucket, started_at, finished_at, passed, failed, skipped
		FROM check_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query check runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating check runs: %w", err)
	}
	return runs, nil
}

// Get loads a full report by run ID
func (s *Store) Get(ctx context.Context, id string) (*compliance.Report, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, endpoint, bucket, started_at, finished_at, passed, failed, skipped
		FROM check_runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	report := &compliance.Report{
		ID:         run.ID,
		Endpoint:   run.Endpoint,
		Bucket:     run.Bucket,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT property, status, reason, details, duration_ns
		FROM check_results WHERE run_id = ?
		ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			res      compliance.Result
			status   string
			reason   sql.NullString
			details  sql.NullString
			duration int64
		)
		if err := rows.Scan(&res.Property, &status, &reason, &details, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		res.Status = compliance.Status(status)
		res.Reason = reason.String
		res.Duration = time.Duration(duration)
		if details.Valid && details.String != "" && details.String != "[]" {
			if err := json.Unmarshal([]byte(details.String), &res.Details); err != nil {
				s.logger.WithError(err).Warn("Failed to unmarshal result details")
			}
		}
		report.Results = append(report.Results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}
	return report, nil
}

// Purge deletes runs that started before cutoff
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM check_results WHERE run_id IN (
			SELECT id FROM check_runs WHERE started_at < ?)`, cutoff.UnixNano()); err != nil {
		return 0, fmt.Errorf("failed to purge results: %w", err)
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM check_runs WHERE started_at < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to purge check runs: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted rows count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit purge: %w", err)
	}
	return int(deleted), nil
}

// Close closes the database
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run               Run
		started, finished int64
	)
	err := row.Scan(&run.ID, &run.Endpoint, &run.Bucket, &started, &finished, &run.Passed, &run.Failed, &run.Skipped)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, err
		}
		return run, fmt.Errorf("failed to scan check run: %w", err)
	}
	run.StartedAt = time.Unix(0, started).UTC()
	run.FinishedAt = time.Unix(0, finished).UTC()
	return run, nil
}
