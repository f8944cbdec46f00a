package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/forgemedia/genjobs/internal/api/domain"
	"github.com/forgemedia/genjobs/internal/api/model"
	"github.com/forgemedia/genjobs/shared/postgresql"
)

const jobColumns = `
	job_id, user_id, category, duration_seconds, prompt,
	payload, cost, priority, status, worker_id, progress,
	stalled_count, refunded, result_ref, error_message,
	created_at, started_at, completed_at, updated_at
`

// Storage is the API-side view of the job store
type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

// CreateJob persists a new job row in pending status
func (s *Storage) CreateJob(ctx context.Context, job *model.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, user_id, category, duration_seconds, prompt,
			payload, cost, priority, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, NOW(), NOW()
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.UserID,
		job.Category,
		job.DurationSeconds,
		job.Prompt,
		job.Payload,
		job.Cost,
		job.Priority,
		job.Status,
	)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetOwnedJob fetches a job only if it belongs to ownerID; a job owned by
// someone else is indistinguishable from a missing one
func (s *Storage) GetOwnedJob(ctx context.Context, jobID, ownerID string) (*model.Job, error) {
	var job model.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1 AND user_id = $2`

	err := s.db.GetContext(ctx, &job, query, jobID, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// CountRecentActive counts the owner's non-terminal jobs created within the
// trailing window. A long-running job older than the window intentionally
// stops counting toward the cap (sliding-window behavior).
func (s *Storage) CountRecentActive(ctx context.Context, ownerID string, windowSeconds int64) (int, error) {
	var count int
	query := `
		SELECT COUNT(*)
		FROM jobs
		WHERE user_id = $1
		  AND status IN ($2, $3, $4)
		  AND created_at > NOW() - ($5 * INTERVAL '1 second')
	`

	err := s.db.GetContext(ctx, &count, query, ownerID,
		domain.JobStatusPending, domain.JobStatusQueued, domain.JobStatusActive, windowSeconds)
	if err != nil {
		return 0, fmt.Errorf("failed to count active jobs: %w", err)
	}

	return count, nil
}

// MarkQueued transitions a job from pending to queued once it has been
// durably published to the broker
func (s *Storage) MarkQueued(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET status = $2,
		    updated_at = NOW()
		WHERE job_id = $1
		  AND status = $3
	`

	_, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusQueued, domain.JobStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark job queued: %w", err)
	}

	return nil
}

// QueuePosition returns the 0-indexed rank of a queued job among all queued
// jobs, ordered the way the broker dispatches them (priority descending,
// arrival ascending). Best-effort: concurrent admissions may shift it.
func (s *Storage) QueuePosition(ctx context.Context, jobID string) (int, error) {
	var position int
	query := `
		SELECT COUNT(*)
		FROM jobs q, jobs j
		WHERE j.job_id = $1
		  AND q.status = $2
		  AND q.job_id <> j.job_id
		  AND (q.priority > j.priority
		       OR (q.priority = j.priority AND q.created_at < j.created_at))
	`

	err := s.db.GetContext(ctx, &position, query, jobID, domain.JobStatusQueued)
	if err != nil {
		return 0, fmt.Errorf("failed to compute queue position: %w", err)
	}

	return position, nil
}

// AverageJobDuration returns the mean wall-clock seconds of completed jobs,
// or ok=false when no completed job exists yet
func (s *Storage) AverageJobDuration(ctx context.Context) (float64, bool, error) {
	var avg sql.NullFloat64
	query := `
		SELECT AVG(EXTRACT(EPOCH FROM (completed_at - started_at)))
		FROM jobs
		WHERE status = $1
		  AND started_at IS NOT NULL
		  AND completed_at IS NOT NULL
	`

	err := s.db.GetContext(ctx, &avg, query, domain.JobStatusCompleted)
	if err != nil {
		return 0, false, fmt.Errorf("failed to compute average job duration: %w", err)
	}

	if !avg.Valid {
		return 0, false, nil
	}

	return avg.Float64, true, nil
}
