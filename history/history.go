// Package history records generation runs and the tests each run imported.
package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/storytest/errors"
)

// Source values for Run.Source
const (
	SourceModel    = "model"
	SourceManual   = "manual"
	SourceScenario = "scenario"
	SourceImport   = "import" // re-import of saved case files
)

// Run is one generate or import invocation for a story
type Run struct {
	ID             string     `json:"id"`
	StoryKey       string     `json:"story_key"`
	StorySummary   string     `json:"story_summary"`
	Source         string     `json:"source"`
	GeneratedCount int        `json:"generated_count"`
	ImportedCount  int        `json:"imported_count"`
	LinkedCount    int        `json:"linked_count"`
	JobID          string     `json:"job_id,omitempty"`
	JobStatus      string     `json:"job_status,omitempty"`
	Success        bool       `json:"success"`
	Message        string     `json:"message"`
	OutputDir      string     `json:"output_dir"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`

	Tests []ImportedTest `json:"tests,omitempty"`
}

// ImportedTest is a test key created by a run
type ImportedTest struct {
	Key    string `json:"key"`
	Linked bool   `json:"linked"`
}

// Store reads and writes runs in the generation_runs and imported_tests tables
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a store over a migrated database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// NewRunID returns a fresh run identifier
func NewRunID() string {
	return uuid.NewString()
}

// Start inserts a run and returns it with ID and StartedAt set
func (s *Store) Start(ctx context.Context, storyKey, storySummary, outputDir string) (*Run, error) {
	run := &Run{
		ID:           NewRunID(),
		StoryKey:     storyKey,
		StorySummary: storySummary,
		Source:       SourceModel,
		OutputDir:    outputDir,
		StartedAt:    s.now(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generation_runs (id, story_key, story_summary, source, output_dir, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.StoryKey, run.StorySummary, run.Source, run.OutputDir, run.StartedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to record run for %s", storyKey)
	}
	return run, nil
}

// Finish stores the outcome of run and its imported tests in one transaction
func (s *Store) Finish(ctx context.Context, run *Run) error {
	finished := s.now()
	run.FinishedAt = &finished

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin run update")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE generation_runs SET
			source = ?, generated_count = ?, imported_count = ?, linked_count = ?,
			job_id = ?, job_status = ?, success = ?, message = ?, finished_at = ?
		WHERE id = ?`,
		run.Source, run.GeneratedCount, run.ImportedCount, run.LinkedCount,
		nullString(run.JobID), nullString(run.JobStatus), run.Success, run.Message, finished,
		run.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to update run %s", run.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "run %s", run.ID)
	}

	for _, test := range run.Tests {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO imported_tests (run_id, test_key, linked) VALUES (?, ?, ?)
			ON CONFLICT(run_id, test_key) DO UPDATE SET linked = excluded.linked`,
			run.ID, test.Key, test.Linked)
		if err != nil {
			return errors.Wrapf(err, "failed to record test %s", test.Key)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit run update")
	}
	return nil
}

const runColumns = `id, story_key, story_summary, source, generated_count, imported_count,
	linked_count, job_id, job_status, success, message, output_dir, started_at, finished_at`

// Recent returns the latest runs, newest first. An empty storyKey matches all stories.
func (s *Store) Recent(ctx context.Context, storyKey string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + runColumns + ` FROM generation_runs`
	args := []interface{}{}
	if storyKey != "" {
		query += ` WHERE story_key = ?`
		args = append(args, storyKey)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query runs")
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read runs")
	}
	return runs, nil
}

// Get returns a run with its imported tests
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM generation_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "run %s", id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT test_key, linked FROM imported_tests WHERE run_id = ? ORDER BY test_key`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query tests of run %s", id)
	}
	defer rows.Close()

	for rows.Next() {
		var test ImportedTest
		if err := rows.Scan(&test.Key, &test.Linked); err != nil {
			return nil, errors.Wrap(err, "failed to scan imported test")
		}
		run.Tests = append(run.Tests, test)
	}
	return run, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var jobID, jobStatus sql.NullString
	var finished sql.NullTime
	err := row.Scan(&run.ID, &run.StoryKey, &run.StorySummary, &run.Source,
		&run.GeneratedCount, &run.ImportedCount, &run.LinkedCount,
		&jobID, &jobStatus, &run.Success, &run.Message, &run.OutputDir,
		&run.StartedAt, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan run")
	}
	run.JobID = jobID.String
	run.JobStatus = jobStatus.String
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
