// Package settlement implements the single terminal transition for a job.
// Every admitted job ends in exactly one call that sticks: either a
// completion that keeps the earlier reservation as the final charge, or a
// failure that refunds it. Both run as one database transaction holding the
// job row lock, so duplicate and concurrent invocations observe the first
// writer's result and change nothing.
package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/forgemedia/genjobs/internal/billing"
	"github.com/forgemedia/genjobs/shared/postgresql"
)

const (
	statusCompleted = "completed"
	statusFailed    = "failed"
)

var (
	ErrJobNotFound = errors.New("job not found")
)

// Result reports the outcome of a settlement attempt. WasDuplicate means a
// terminal settlement already existed and nothing was mutated beyond the
// audit counter.
type Result struct {
	WasDuplicate bool
	Balance      int64
}

// Protocol performs atomic job settlement against the jobs and accounts tables
type Protocol struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New creates a settlement Protocol
func New(db *sqlx.DB, logger *slog.Logger) *Protocol {
	return &Protocol{
		db:     db,
		logger: logger,
	}
}

// CompleteAtomic marks the job completed with its result reference. The
// reservation made at admission becomes the final charge; the ledger is not
// touched. If the job is already terminal the call is a no-op that only
// records the duplicate attempt for audit.
func (p *Protocol) CompleteAtomic(ctx context.Context, jobID, resultRef string, engineMS int64) (Result, error) {
	var result Result

	err := postgresql.WithTx(ctx, p.db, func(tx *sqlx.Tx) error {
		status, _, err := lockJob(ctx, tx, jobID)
		if err != nil {
			return err
		}

		if status == statusCompleted || status == statusFailed {
			result.WasDuplicate = true
			return recordDuplicate(ctx, tx, jobID)
		}

		query := `
			UPDATE jobs
			SET status = $2,
			    result_ref = $3,
			    engine_ms = $4,
			    progress = 100,
			    completed_at = NOW(),
			    updated_at = NOW()
			WHERE job_id = $1
		`

		if _, err := tx.ExecContext(ctx, query, jobID, statusCompleted, resultRef, engineMS); err != nil {
			return fmt.Errorf("failed to complete job: %w", err)
		}

		return nil
	})

	if err != nil {
		return Result{}, err
	}

	if result.WasDuplicate {
		p.logger.Warn("Duplicate completion ignored",
			slog.String("job_id", jobID),
		)
	} else {
		p.logger.Info("Job settled as completed",
			slog.String("job_id", jobID),
			slog.String("result_ref", resultRef),
			slog.Int64("engine_ms", engineMS),
		)
	}

	return result, nil
}

// RefundAtomic marks the job failed and credits the reserved amount back, in
// one transaction. A job that already reached a terminal settlement with a
// refund recorded is left untouched and reported as a duplicate. A job that
// was marked failed without a refund (the infrastructure-fault fallback) is
// still refundable here.
func (p *Protocol) RefundAtomic(ctx context.Context, jobID, ownerID string, amount int64, errorMessage string) (Result, error) {
	var result Result

	err := postgresql.WithTx(ctx, p.db, func(tx *sqlx.Tx) error {
		status, refunded, err := lockJob(ctx, tx, jobID)
		if err != nil {
			return err
		}

		if status == statusCompleted || (status == statusFailed && refunded) {
			result.WasDuplicate = true
			return recordDuplicate(ctx, tx, jobID)
		}

		balance, err := billing.CreditInTx(ctx, tx, ownerID, amount, billing.ReasonRefund, jobID)
		if err != nil {
			return err
		}
		result.Balance = balance

		query := `
			UPDATE jobs
			SET status = $2,
			    error_message = $3,
			    refunded = TRUE,
			    completed_at = COALESCE(completed_at, NOW()),
			    updated_at = NOW()
			WHERE job_id = $1
		`

		if _, err := tx.ExecContext(ctx, query, jobID, statusFailed, errorMessage); err != nil {
			return fmt.Errorf("failed to mark job failed: %w", err)
		}

		return nil
	})

	if err != nil {
		return Result{}, err
	}

	if result.WasDuplicate {
		p.logger.Warn("Duplicate refund ignored",
			slog.String("job_id", jobID),
		)
	} else {
		p.logger.Info("Job settled as failed, credits refunded",
			slog.String("job_id", jobID),
			slog.String("owner_id", ownerID),
			slog.Int64("amount", amount),
			slog.Int64("balance", result.Balance),
		)
	}

	return result, nil
}

// MarkFailedNoRefund records the failure without touching the ledger. This
// is the fallback when RefundAtomic itself failed on infrastructure: the job
// must still reach a terminal state, but a second automated refund attempt
// is not made. The unrefunded reservation is logged for manual
// reconciliation.
func (p *Protocol) MarkFailedNoRefund(ctx context.Context, jobID, errorMessage string) error {
	query := `
		UPDATE jobs
		SET status = $2,
		    error_message = $3,
		    completed_at = COALESCE(completed_at, NOW()),
		    updated_at = NOW()
		WHERE job_id = $1
		  AND status NOT IN ($4, $5)
	`

	res, err := p.db.ExecContext(ctx, query, jobID, statusFailed, errorMessage, statusCompleted, statusFailed)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	rows, err := res.RowsAffected()
	if err == nil && rows > 0 {
		p.logger.Error("Job failed without refund, manual reconciliation required",
			slog.String("job_id", jobID),
			slog.String("error_message", errorMessage),
		)
	}

	return nil
}

// lockJob locks the job row for the duration of the transaction and returns
// its current status and refund flag
func lockJob(ctx context.Context, tx *sqlx.Tx, jobID string) (string, bool, error) {
	var status string
	var refunded bool

	query := `SELECT status, refunded FROM jobs WHERE job_id = $1 FOR UPDATE`

	err := tx.QueryRowxContext(ctx, query, jobID).Scan(&status, &refunded)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, ErrJobNotFound
		}
		return "", false, fmt.Errorf("failed to lock job: %w", err)
	}

	return status, refunded, nil
}

// recordDuplicate bumps the audit counter on an already-settled job; the
// terminal fields themselves are immutable
func recordDuplicate(ctx context.Context, tx *sqlx.Tx, jobID string) error {
	query := `
		UPDATE jobs
		SET duplicate_settlements = duplicate_settlements + 1,
		    updated_at = NOW()
		WHERE job_id = $1
	`

	if _, err := tx.ExecContext(ctx, query, jobID); err != nil {
		return fmt.Errorf("failed to record duplicate settlement: %w", err)
	}

	return nil
}
