package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// reaperLoop periodically recovers jobs whose worker stopped heartbeating.
// A first stall re-queues the job for another worker; a job that stalls
// again past its allowance is settled as failed with a refund. Settlement
// idempotency makes the race with a slow-but-alive original worker safe:
// whichever settles first wins, the other observes a duplicate.
func (w *Worker) reaperLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.stallCheckInterval)
	defer ticker.Stop()

	w.logger.Info("Stall reaper started",
		slog.Duration("stall_interval", w.stallInterval),
		slog.Duration("check_interval", w.stallCheckInterval),
		slog.Int("max_stalled_count", w.maxStalledCount),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stall reaper stopped - context canceled")
			return

		case <-w.stopChan:
			w.logger.Info("Stall reaper stopped - worker stopping")
			return

		case <-ticker.C:
			w.reapStalled(ctx)
		}
	}
}

// reapStalled runs one recovery pass
func (w *Worker) reapStalled(ctx context.Context) {
	stallSeconds := int64(w.stallInterval.Seconds())

	stalled, err := w.storage.RequeueStalled(ctx, stallSeconds, w.maxStalledCount)
	if err != nil {
		w.logger.Error("Failed to requeue stalled jobs",
			slog.String("error", err.Error()),
		)
	} else {
		for _, job := range stalled {
			w.logger.Warn("Stalled job requeued",
				slog.String("job_id", job.JobID),
				slog.Int("priority", job.Priority),
			)

			body, marshalErr := json.Marshal(map[string]string{"job_id": job.JobID})
			if marshalErr != nil {
				w.logger.Error("Failed to encode requeue message",
					slog.String("job_id", job.JobID),
					slog.String("error", marshalErr.Error()),
				)
				continue
			}

			priority := job.Priority
			if priority > 255 {
				priority = 255
			}
			if priority < 0 {
				priority = 0
			}

			// Publish failures are tolerable: the broker still holds the
			// original delivery unacked, so when the stalled consumer's
			// channel closes the message is redelivered and claims the
			// queued row
			if pubErr := w.publisher.PublishWithRetry(ctx, body, "application/json", uint8(priority)); pubErr != nil {
				w.logger.Error("Failed to republish stalled job",
					slog.String("job_id", job.JobID),
					slog.String("error", pubErr.Error()),
				)
			}
		}
	}

	abandoned, err := w.storage.AbandonedJobs(ctx, stallSeconds, w.maxStalledCount)
	if err != nil {
		w.logger.Error("Failed to list abandoned jobs",
			slog.String("error", err.Error()),
		)
		return
	}

	for _, job := range abandoned {
		w.logger.Warn("Abandoned job detected, settling as failed",
			slog.String("job_id", job.JobID),
			slog.String("owner_id", job.UserID),
		)

		const reason = "worker lost: job stalled past its recovery allowance"

		result, refundErr := w.settler.RefundAtomic(ctx, job.JobID, job.UserID, job.Cost, reason)
		if refundErr != nil {
			w.logger.Error("Refund failed for abandoned job",
				slog.String("job_id", job.JobID),
				slog.String("error", refundErr.Error()),
			)
			if markErr := w.settler.MarkFailedNoRefund(ctx, job.JobID, reason); markErr != nil {
				w.logger.Error("Failed to mark abandoned job failed",
					slog.String("job_id", job.JobID),
					slog.String("error", markErr.Error()),
				)
			}
			continue
		}

		if result.WasDuplicate {
			w.logger.Info("Abandoned job was already settled",
				slog.String("job_id", job.JobID),
			)
		}
	}
}
