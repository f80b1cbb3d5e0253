// Package store persists automation jobs in PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/api/schemas"
)

// ErrJobNotFound is returned when no job has the requested ID.
var ErrJobNotFound = errors.New("job not found")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS automation_jobs (
    id           TEXT PRIMARY KEY,
    job_type     TEXT NOT NULL,
    status       TEXT NOT NULL,
    parameters   JSONB NOT NULL,
    results      JSONB,
    logs         JSONB NOT NULL DEFAULT '[]',
    attempts     INTEGER NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ NOT NULL,
    started_at   TIMESTAMPTZ,
    completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS automation_jobs_created_at_idx ON automation_jobs (created_at DESC);
`

const jobColumns = `id, job_type, status, parameters, results, logs, attempts, created_at, started_at, completed_at`

// Store is the PostgreSQL implementation of schemas.JobStore.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.JobStore = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Migrate creates the jobs table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	s.log.Debug("Job schema is up to date.")
	return nil
}

// CreateJob inserts a new job.
func (s *Store) CreateJob(ctx context.Context, job *schemas.Job) error {
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode job parameters: %w", err)
	}
	logs, err := encodeLog(job.Log)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO automation_jobs (id, job_type, status, parameters, logs, attempts, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7);
    `
	if _, err := s.pool.Exec(ctx, query,
		job.ID, string(job.Type), string(job.Status), params, logs, job.Attempts, job.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}
	return nil
}

// MarkRunning moves a job to the running state and records the attempt count.
func (s *Store) MarkRunning(ctx context.Context, id string, startedAt time.Time, attempts int) error {
	query := `
        UPDATE automation_jobs
        SET status = $2, started_at = $3, attempts = $4
        WHERE id = $1;
    `
	tag, err := s.pool.Exec(ctx, query, id, string(schemas.JobRunning), startedAt.UTC(), attempts)
	if err != nil {
		return fmt.Errorf("failed to mark job %s running: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}

// CompleteJob stores the final status, the workflow result and the job log.
func (s *Store) CompleteJob(ctx context.Context, id string, status schemas.JobStatus, result *schemas.WorkflowResult, log []string, completedAt time.Time) error {
	var results []byte
	if result != nil {
		var err error
		if results, err = json.Marshal(result); err != nil {
			return fmt.Errorf("failed to encode job results: %w", err)
		}
	}
	logs, err := encodeLog(log)
	if err != nil {
		return err
	}

	query := `
        UPDATE automation_jobs
        SET status = $2, results = $3, logs = $4, completed_at = $5
        WHERE id = $1;
    `
	tag, err := s.pool.Exec(ctx, query, id, string(status), results, logs, completedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}

// GetJob loads one job.
func (s *Store) GetJob(ctx context.Context, id string) (*schemas.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM automation_jobs WHERE id = $1;`
	job, err := scanJob(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns up to limit jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]schemas.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM automation_jobs ORDER BY created_at DESC LIMIT $1;`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	jobs := []schemas.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (*schemas.Job, error) {
	var (
		job                    schemas.Job
		jobType, status        string
		params, results, logs  []byte
		startedAt, completedAt *time.Time
	)
	if err := row.Scan(&job.ID, &jobType, &status, &params, &results, &logs,
		&job.Attempts, &job.CreatedAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	job.Type = schemas.JobType(jobType)
	job.Status = schemas.JobStatus(status)
	job.StartedAt = startedAt
	job.CompletedAt = completedAt

	if err := json.Unmarshal(params, &job.Parameters); err != nil {
		return nil, fmt.Errorf("corrupt parameters for job %s: %w", job.ID, err)
	}
	if len(results) > 0 && string(results) != "null" {
		job.Results = &schemas.WorkflowResult{}
		if err := json.Unmarshal(results, job.Results); err != nil {
			return nil, fmt.Errorf("corrupt results for job %s: %w", job.ID, err)
		}
	}
	job.Log = []string{}
	if len(logs) > 0 {
		if err := json.Unmarshal(logs, &job.Log); err != nil {
			return nil, fmt.Errorf("corrupt logs for job %s: %w", job.ID, err)
		}
	}
	return &job, nil
}

func encodeLog(log []string) ([]byte, error) {
	if log == nil {
		log = []string{}
	}
	data, err := json.Marshal(log)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job log: %w", err)
	}
	return data, nil
}
