package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/forgemedia/genjobs/internal/worker/domain"
)

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// ClaimJob attempts to claim a job with a conditional status transition.
// Claiming from pending as well as queued covers the small window where a
// job was published to the broker before its row reached queued. Returns
// ErrJobAlreadyClaimed when another worker holds the job or it is already
// settled; the caller must not requeue in that case.
func (s *Storage) ClaimJob(ctx context.Context, jobID, workerID string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    worker_id = $2,
		    started_at = COALESCE(started_at, NOW()),
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status IN ($4, $5)
		RETURNING job_id, user_id, category, duration_seconds, payload, cost, priority, stalled_count
	`

	var job domain.Job
	err := s.db.QueryRowxContext(ctx, query,
		domain.JobStatusActive, workerID, jobID,
		domain.JobStatusPending, domain.JobStatusQueued,
	).Scan(
		&job.JobID,
		&job.UserID,
		&job.Category,
		&job.DurationSeconds,
		&job.Payload,
		&job.Cost,
		&job.Priority,
		&job.StalledCount,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim job - already claimed or settled",
				slog.String("job_id", jobID),
				slog.String("worker_id", workerID),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	job.Status = domain.JobStatusActive
	job.WorkerID = workerID

	s.logger.Info("Job claimed successfully",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
		slog.String("category", job.Category),
	)

	return &job, nil
}

// UpdateHeartbeat refreshes the liveness timestamp and the reported progress
// of an active job. Progress never decreases; GREATEST keeps it monotonic
// even if a recovered job's second worker reports from scratch.
func (s *Storage) UpdateHeartbeat(ctx context.Context, jobID string, progress int) error {
	query := `
		UPDATE jobs
		SET last_heartbeat_at = NOW(),
		    progress = GREATEST(progress, $2),
		    updated_at = NOW()
		WHERE job_id = $1 AND status = $3
	`

	result, err := s.db.ExecContext(ctx, query, jobID, progress, domain.JobStatusActive)
	if err != nil {
		return fmt.Errorf("failed to update job heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Job heartbeat update - no rows affected (job may not be active)",
			slog.String("job_id", jobID),
		)
	}

	return nil
}

// RequeueStalled resets active jobs whose heartbeat is older than
// stallSeconds back to queued, provided they have not used up their stall
// allowance. Settled jobs are untouched: the status condition means a job
// whose worker finished between the scan and this update stays settled.
func (s *Storage) RequeueStalled(ctx context.Context, stallSeconds int64, maxStalled int) ([]domain.StalledJob, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    worker_id = NULL,
		    stalled_count = stalled_count + 1,
		    updated_at = NOW()
		WHERE status = $2
		  AND last_heartbeat_at < NOW() - ($3 * INTERVAL '1 second')
		  AND stalled_count < $4
		RETURNING job_id, priority
	`

	rows, err := s.db.QueryxContext(ctx, query,
		domain.JobStatusQueued, domain.JobStatusActive, stallSeconds, maxStalled)
	if err != nil {
		return nil, fmt.Errorf("failed to requeue stalled jobs: %w", err)
	}
	defer rows.Close()

	var stalled []domain.StalledJob
	for rows.Next() {
		var job domain.StalledJob
		if err := rows.StructScan(&job); err != nil {
			return nil, fmt.Errorf("failed to scan stalled job: %w", err)
		}
		stalled = append(stalled, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stalled jobs: %w", err)
	}

	return stalled, nil
}

// AbandonedJobs lists active jobs whose heartbeat is stale and whose stall
// allowance is exhausted. These are settled as failed by the reaper; only
// the settlement protocol transitions them.
func (s *Storage) AbandonedJobs(ctx context.Context, stallSeconds int64, maxStalled int) ([]domain.AbandonedJob, error) {
	query := `
		SELECT job_id, user_id, cost
		FROM jobs
		WHERE status = $1
		  AND last_heartbeat_at < NOW() - ($2 * INTERVAL '1 second')
		  AND stalled_count >= $3
	`

	var abandoned []domain.AbandonedJob
	err := s.db.SelectContext(ctx, &abandoned, query, domain.JobStatusActive, stallSeconds, maxStalled)
	if err != nil {
		return nil, fmt.Errorf("failed to list abandoned jobs: %w", err)
	}

	return abandoned, nil
}
