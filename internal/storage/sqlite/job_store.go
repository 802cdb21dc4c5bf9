// Package sqlite implements a durable job store on embedded SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/docpress/docpress/internal/clock/system"
	"github.com/docpress/docpress/internal/crawler"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	base_url   TEXT NOT NULL,
	status     TEXT NOT NULL,
	submitted  INTEGER NOT NULL,
	started    INTEGER,
	finished   INTEGER,
	error_text TEXT NOT NULL DEFAULT '',
	options    TEXT NOT NULL,
	counters   TEXT NOT NULL,
	artifact   TEXT,
	structure  TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_submitted ON jobs(submitted DESC);
`

// JobStore persists jobs in a single SQLite database file.
type JobStore struct {
	db    *sql.DB
	clock crawler.Clock
}

// Open creates or opens the database at path and applies the schema. A nil
// clock falls back to wall time.
func Open(path string, clk crawler.Clock) (*JobStore, error) {
	if clk == nil {
		clk = system.NewClock()
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent workers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &JobStore{db: db, clock: clk}, nil
}

// Close releases the database handle.
func (s *JobStore) Close() error {
	return s.db.Close()
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) error {
	options, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	counters, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, base_url, status, submitted, error_text, options, counters)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.BaseURL, string(job.Status), job.Submitted.UnixMilli(), job.ErrorText, string(options), string(counters),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus transitions the job, merging counters monotonically.
// Terminal statuses are sticky: once a job is completed, failed, or canceled,
// later transitions are dropped so a stale queue item cannot resurrect it.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		current      string
		countersJSON string
		started      sql.NullInt64
	)
	row := tx.QueryRowContext(ctx, `SELECT status, counters, started FROM jobs WHERE id = ?`, jobID)
	if err := row.Scan(&current, &countersJSON, &started); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return crawler.ErrJobNotFound
		}
		return fmt.Errorf("load job: %w", err)
	}
	if crawler.JobStatus(current).IsTerminal() {
		return nil
	}

	var existing crawler.JobCounters
	if err := json.Unmarshal([]byte(countersJSON), &existing); err != nil {
		return fmt.Errorf("unmarshal counters: %w", err)
	}
	merged, err := json.Marshal(existing.Merge(counters))
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}

	now := s.clock.Now().UTC().UnixMilli()
	startedVal := started
	if status == crawler.JobStatusCrawling && !started.Valid {
		startedVal = sql.NullInt64{Int64: now, Valid: true}
	}
	var finishedVal sql.NullInt64
	if status.IsTerminal() {
		finishedVal = sql.NullInt64{Int64: now, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, error_text = ?, counters = ?, started = ?, finished = COALESCE(finished, ?)
		WHERE id = ?`,
		string(status), errText, string(merged), startedVal, finishedVal, jobID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SetArtifact records the generated artifact for a job.
func (s *JobStore) SetArtifact(ctx context.Context, jobID string, artifact crawler.ArtifactInfo) error {
	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET artifact = ? WHERE id = ?`, string(data), jobID)
	if err != nil {
		return fmt.Errorf("update artifact: %w", err)
	}
	return requireRow(res)
}

// SetStructure records the site structure summary for a job.
func (s *JobStore) SetStructure(ctx context.Context, jobID string, structure crawler.SiteStructure) error {
	data, err := json.Marshal(structure)
	if err != nil {
		return fmt.Errorf("marshal structure: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET structure = ? WHERE id = ?`, string(data), jobID)
	if err != nil {
		return fmt.Errorf("update structure: %w", err)
	}
	return requireRow(res)
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, base_url, status, submitted, started, finished, error_text, options, counters, artifact
		FROM jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return crawler.Job{}, crawler.ErrJobNotFound
		}
		return crawler.Job{}, err
	}
	return job, nil
}

// GetStructure fetches the site structure summary for a job.
func (s *JobStore) GetStructure(ctx context.Context, jobID string) (crawler.SiteStructure, error) {
	var data sql.NullString
	row := s.db.QueryRowContext(ctx, `SELECT structure FROM jobs WHERE id = ?`, jobID)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return crawler.SiteStructure{}, crawler.ErrJobNotFound
		}
		return crawler.SiteStructure{}, fmt.Errorf("load structure: %w", err)
	}
	if !data.Valid {
		return crawler.SiteStructure{}, crawler.ErrJobNotFound
	}
	var structure crawler.SiteStructure
	if err := json.Unmarshal([]byte(data.String), &structure); err != nil {
		return crawler.SiteStructure{}, fmt.Errorf("unmarshal structure: %w", err)
	}
	return structure, nil
}

// ListJobs returns all jobs, newest first.
func (s *JobStore) ListJobs(ctx context.Context) ([]crawler.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, base_url, status, submitted, started, finished, error_text, options, counters, artifact
		FROM jobs ORDER BY submitted DESC`)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []crawler.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (crawler.Job, error) {
	var (
		job          crawler.Job
		status       string
		submitted    int64
		started      sql.NullInt64
		finished     sql.NullInt64
		optionsJSON  string
		countersJSON string
		artifactJSON sql.NullString
	)
	err := row.Scan(&job.ID, &job.BaseURL, &status, &submitted, &started, &finished,
		&job.ErrorText, &optionsJSON, &countersJSON, &artifactJSON)
	if err != nil {
		return crawler.Job{}, err
	}
	job.Status = crawler.JobStatus(status)
	job.Submitted = time.UnixMilli(submitted).UTC()
	if started.Valid {
		t := time.UnixMilli(started.Int64).UTC()
		job.Started = &t
	}
	if finished.Valid {
		t := time.UnixMilli(finished.Int64).UTC()
		job.Finished = &t
	}
	if err := json.Unmarshal([]byte(optionsJSON), &job.Options); err != nil {
		return crawler.Job{}, fmt.Errorf("unmarshal options: %w", err)
	}
	if err := json.Unmarshal([]byte(countersJSON), &job.Counters); err != nil {
		return crawler.Job{}, fmt.Errorf("unmarshal counters: %w", err)
	}
	if artifactJSON.Valid {
		var artifact crawler.ArtifactInfo
		if err := json.Unmarshal([]byte(artifactJSON.String), &artifact); err != nil {
			return crawler.Job{}, fmt.Errorf("unmarshal artifact: %w", err)
		}
		job.Artifact = &artifact
	}
	return job, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return crawler.ErrJobNotFound
	}
	return nil
}
