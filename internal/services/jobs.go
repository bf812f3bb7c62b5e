package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"studyforge/internal/models"
)

// ErrJobNotFound indicates the requested job identifier is unknown.
var ErrJobNotFound = errors.New("job not found")

// JobStore persists generation job lifecycle and progress. Each job has a
// single writer (the orchestrator that owns it); progress updates overwrite
// the previous record.
type JobStore struct {
	db *sql.DB
}

func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, job *models.GenerationJob) error {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = models.JobProcessing
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, kind, title, status, progress, partial_results, error, result_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, NULL, NULL, NULL, ?, ?);
	`, job.ID, job.Kind, job.Title, job.Status, now, now); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateProgress overwrites the job's progress percentage and accumulated
// partial results. Last write wins.
func (s *JobStore) UpdateProgress(ctx context.Context, id string, progress int, partial []byte) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET progress = ?, partial_results = ?, updated_at = ? WHERE id = ?;
	`, progress, string(partial), time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

func (s *JobStore) MarkCompleted(ctx context.Context, id, resultID string) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, progress = 100, result_id = ?, error = NULL, updated_at = ? WHERE id = ?;
	`, models.JobCompleted, resultID, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	return nil
}

func (s *JobStore) MarkFailed(ctx context.Context, id, msg string) error {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "generation failed"
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?;
	`, models.JobError, msg, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*models.GenerationJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, title, status, progress, partial_results, error, result_id, created_at, updated_at
		FROM jobs WHERE id = ?;
	`, id)

	var (
		job     models.GenerationJob
		partial sql.NullString
		jobErr  sql.NullString
		result  sql.NullString
	)
	if err := row.Scan(
		&job.ID,
		&job.Kind,
		&job.Title,
		&job.Status,
		&job.Progress,
		&partial,
		&jobErr,
		&result,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	if partial.Valid {
		job.PartialResults = []byte(partial.String)
	}
	if jobErr.Valid {
		job.Error = jobErr.String
	}
	if result.Valid {
		job.ResultID = result.String
	}
	return &job, nil
}

// CountJobs reports the number of stored jobs. Used to verify that invalid
// configurations leave no trace.
func (s *JobStore) CountJobs(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs;`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return count, nil
}
