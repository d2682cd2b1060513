package scheduler

import (
	"database/sql"
	"time"
)

// SQLJobStorage persists jobs in the shared clawbridge.db jobs table.
type SQLJobStorage struct {
	db *sql.DB
}

// NewSQLJobStorage wraps an open database handle.
func NewSQLJobStorage(db *sql.DB) *SQLJobStorage {
	return &SQLJobStorage{db: db}
}

// Save inserts or replaces a job row.
func (s *SQLJobStorage) Save(job *Job) error {
	var lastRun any
	if job.LastRunAt != nil {
		lastRun = job.LastRunAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO jobs
			(id, schedule, prompt, session_id, enabled, created_at, last_run_at, last_error, run_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Schedule, job.Prompt, job.SessionID, boolToInt(job.Enabled),
		job.CreatedAt.UTC().Format(time.RFC3339Nano), lastRun, job.LastError, job.RunCount,
	)
	return err
}

// Delete removes a job row.
func (s *SQLJobStorage) Delete(id string) error {
	_, err := s.db.Exec("DELETE FROM jobs WHERE id = ?", id)
	return err
}

// LoadAll reads every persisted job.
func (s *SQLJobStorage) LoadAll() ([]*Job, error) {
	rows, err := s.db.Query(`
		SELECT id, schedule, prompt, session_id, enabled, created_at, last_run_at, last_error, run_count
		FROM jobs ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var (
			job       Job
			enabled   int
			createdAt string
			lastRunAt sql.NullString
		)
		if err := rows.Scan(&job.ID, &job.Schedule, &job.Prompt, &job.SessionID,
			&enabled, &createdAt, &lastRunAt, &job.LastError, &job.RunCount); err != nil {
			return nil, err
		}
		job.Enabled = enabled != 0
		job.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if lastRunAt.Valid && lastRunAt.String != "" {
			if ts, err := time.Parse(time.RFC3339Nano, lastRunAt.String); err == nil {
				job.LastRunAt = &ts
			}
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
