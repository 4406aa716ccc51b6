package cron

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store persists scheduled jobs.
type Store interface {
	Save(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context) ([]*Job, error)
	Remove(ctx context.Context, id string) error
	Close() error
}

// SQLiteStore is the durable job store. Writes are serialised by the
// database; the scheduler's in-memory timer state is derived from it.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the job database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	// modernc sqlite serialises writes itself; a single connection avoids
	// SQLITE_BUSY under concurrent savers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS scheduled_jobs (
			id TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			trigger_args_json TEXT NOT NULL,
			job_type TEXT NOT NULL,
			job_args_json TEXT NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create jobs table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save upserts a job by id.
func (s *SQLiteStore) Save(ctx context.Context, job *Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (id, description, trigger_type, trigger_args_json, job_type, job_args_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			trigger_type = excluded.trigger_type,
			trigger_args_json = excluded.trigger_args_json,
			job_type = excluded.job_type,
			job_args_json = excluded.job_args_json
	`,
		job.ID,
		job.Description,
		string(job.TriggerType),
		string(job.TriggerArgs),
		string(job.JobType),
		string(job.JobArgs),
	)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// Get returns a job by id, nil when absent.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, description, trigger_type, trigger_args_json, job_type, job_args_json
		FROM scheduled_jobs WHERE id = ?
	`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns all persisted jobs ordered by id.
func (s *SQLiteStore) List(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, trigger_type, trigger_args_json, job_type, job_args_json
		FROM scheduled_jobs ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Remove deletes a job by id; removing an absent job is not an error.
func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove job: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var triggerType, jobType, triggerArgs, jobArgs string
	if err := row.Scan(&job.ID, &job.Description, &triggerType, &triggerArgs, &jobType, &jobArgs); err != nil {
		return nil, err
	}
	job.TriggerType = TriggerType(triggerType)
	job.TriggerArgs = []byte(triggerArgs)
	job.JobType = JobType(jobType)
	job.JobArgs = []byte(jobArgs)
	return &job, nil
}
