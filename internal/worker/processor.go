package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgemedia/genjobs/internal/worker/domain"
)

// Heartbeat progress is a liveness token, not real completion progress: it
// climbs a fixed step per tick and never reaches 100 until settlement does.
const (
	progressStart = 5
	progressStep  = 5
	progressCap   = 95
)

// settleTimeout bounds settlement calls independently of the run context.
const settleTimeout = 30 * time.Second

// processJob executes a single claimed job and always drives it to a
// terminal settlement. Returns an error only when the claim fails; every
// path after a successful claim settles the job (complete or refund) and
// returns nil so the broker message is acked.
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	w.logger.Info("Processing job",
		slog.String("job_id", msg.JobID),
		slog.String("worker_id", w.workerID),
	)

	job, err := w.storage.ClaimJob(ctx, msg.JobID, w.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			w.logger.Warn("Job already claimed, skipping",
				slog.String("job_id", msg.JobID),
			)
			return fmt.Errorf("job already claimed: %w", err)
		}
		w.logger.Error("Failed to claim job",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to claim job: %w", err)
	}

	// The lease on the job: the engine call must finish inside it. Long by
	// design to tolerate slow external calls.
	jobCtx, cancel := context.WithTimeout(ctx, w.lockDuration)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, job.JobID, heartbeatDone)

	start := time.Now()
	result, runErr := w.engine.Run(jobCtx, job.Payload)
	engineMS := time.Since(start).Milliseconds()
	close(heartbeatDone)

	// Settlement does not ride the run context: once the engine has executed,
	// the outcome must be recorded even when shutdown cancels the run
	// mid-drain. Canceling settlement here would strand the job active with
	// the engine work already done.
	settleCtx, settleCancel := context.WithTimeout(context.Background(), settleTimeout)
	defer settleCancel()

	if runErr != nil {
		w.logger.Error("Engine run failed",
			slog.String("job_id", job.JobID),
			slog.String("category", job.Category),
			slog.String("error", runErr.Error()),
		)
		w.settleFailure(settleCtx, job, fmt.Sprintf("generation failed: %s", runErr.Error()))
		return nil
	}

	resultRef, saveErr := w.artifacts.Save(job.JobID, result.Data, result.MimeType)
	if saveErr != nil {
		w.logger.Error("Failed to store result artifact",
			slog.String("job_id", job.JobID),
			slog.String("error", saveErr.Error()),
		)
		w.settleFailure(settleCtx, job, fmt.Sprintf("failed to store result: %s", saveErr.Error()))
		return nil
	}

	settleResult, settleErr := w.settler.CompleteAtomic(settleCtx, job.JobID, resultRef, engineMS)
	if settleErr != nil {
		// Infrastructure fault on completion: the job stays active and the
		// stall reaper recovers it later; the idempotent settlement makes a
		// second completion safe
		w.logger.Error("Failed to settle completion",
			slog.String("job_id", job.JobID),
			slog.String("error", settleErr.Error()),
		)
		return nil
	}

	if settleResult.WasDuplicate {
		w.logger.Warn("Completion was a duplicate, another settlement won",
			slog.String("job_id", job.JobID),
		)
		return nil
	}

	w.logger.Info("Job completed",
		slog.String("job_id", job.JobID),
		slog.String("category", job.Category),
		slog.String("result_ref", resultRef),
		slog.Int64("engine_ms", engineMS),
	)

	return nil
}

// settleFailure refunds the job's reservation and marks it failed. If the
// refund itself fails on infrastructure, the job is marked failed without a
// refund and logged for manual reconciliation; a second automated refund
// attempt is never made.
func (w *Worker) settleFailure(ctx context.Context, job *domain.Job, errorMessage string) {
	result, err := w.settler.RefundAtomic(ctx, job.JobID, job.UserID, job.Cost, errorMessage)
	if err != nil {
		w.logger.Error("Refund failed",
			slog.String("job_id", job.JobID),
			slog.String("owner_id", job.UserID),
			slog.Int64("cost", job.Cost),
			slog.String("error", err.Error()),
		)
		if markErr := w.settler.MarkFailedNoRefund(ctx, job.JobID, errorMessage); markErr != nil {
			w.logger.Error("Failed to mark job failed after refund failure",
				slog.String("job_id", job.JobID),
				slog.String("error", markErr.Error()),
			)
		}
		return
	}

	if result.WasDuplicate {
		w.logger.Warn("Refund was a duplicate, another settlement won",
			slog.String("job_id", job.JobID),
		)
		return
	}

	w.logger.Info("Job failed, credits refunded",
		slog.String("job_id", job.JobID),
		slog.String("owner_id", job.UserID),
		slog.Int64("amount", job.Cost),
		slog.Int64("balance", result.Balance),
	)
}

// sendJobHeartbeat periodically refreshes the job's liveness timestamp with
// a monotonically climbing progress value
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	w.logger.Debug("Job heartbeat started",
		slog.String("job_id", jobID),
	)

	tick := 0
	for {
		select {
		case <-done:
			w.logger.Debug("Job heartbeat stopped",
				slog.String("job_id", jobID),
			)
			return

		case <-ctx.Done():
			w.logger.Debug("Job heartbeat stopped - context canceled",
				slog.String("job_id", jobID),
			)
			return

		case <-ticker.C:
			tick++
			if err := w.storage.UpdateHeartbeat(ctx, jobID, progressForTick(tick)); err != nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// progressForTick maps heartbeat tick count to the advisory progress value,
// capped below 100 so only settlement completes the bar
func progressForTick(tick int) int {
	progress := progressStart + progressStep*tick
	if progress > progressCap {
		return progressCap
	}
	return progress
}
