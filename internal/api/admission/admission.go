// Package admission implements the synchronous phase of a job's life:
// validate, enforce the per-owner cap, price, reserve credits, persist the
// job, and hand it to the broker. Ordering is the point: any failure after a
// successful reserve issues a compensating refund before Submit returns, so
// a reservation never outlives its job record.
package admission

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/forgemedia/genjobs/internal/api/domain"
	"github.com/forgemedia/genjobs/internal/api/model"
	"github.com/forgemedia/genjobs/internal/billing"
	"github.com/forgemedia/genjobs/internal/settlement"
)

// JobStore is the slice of the job store admission needs
type JobStore interface {
	CreateJob(ctx context.Context, job *model.Job) error
	CountRecentActive(ctx context.Context, ownerID string, windowSeconds int64) (int, error)
	MarkQueued(ctx context.Context, jobID string) error
}

// Ledger is the slice of the credit ledger admission needs
type Ledger interface {
	Reserve(ctx context.Context, ownerID string, amount int64, jobID string) (int64, error)
	Credit(ctx context.Context, ownerID string, amount int64, reason, jobID string) (int64, error)
}

// Settler settles jobs that failed after their row was persisted
type Settler interface {
	RefundAtomic(ctx context.Context, jobID, ownerID string, amount int64, errorMessage string) (settlement.Result, error)
	MarkFailedNoRefund(ctx context.Context, jobID, errorMessage string) error
}

// Publisher hands admitted jobs to the broker
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string, priority uint8) error
}

// Config holds admission tuning
type Config struct {
	MaxActiveJobs int
	Window        time.Duration
	CostPerUnit   int64
	MaxPriority   int
}

// Controller admits jobs
type Controller struct {
	cfg       Config
	store     JobStore
	ledger    Ledger
	settler   Settler
	publisher Publisher
	logger    *slog.Logger
}

// NewController creates an admission Controller
func NewController(cfg Config, store JobStore, ledger Ledger, settler Settler, publisher Publisher, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:       cfg,
		store:     store,
		ledger:    ledger,
		settler:   settler,
		publisher: publisher,
		logger:    logger,
	}
}

// brokerMessage is the envelope published to the job queue
type brokerMessage struct {
	JobID string `json:"job_id"`
}

// Submit runs the full admission pipeline and returns the new job id. The
// caller polls for progress afterwards.
func (c *Controller) Submit(ctx context.Context, ownerID string, req SubmitRequest) (string, error) {
	if err := Validate(req); err != nil {
		return "", err
	}

	active, err := c.store.CountRecentActive(ctx, ownerID, int64(c.cfg.Window.Seconds()))
	if err != nil {
		return "", fmt.Errorf("failed to check admission limit: %w", err)
	}

	if active >= c.cfg.MaxActiveJobs {
		return "", &domain.AdmissionLimitError{Limit: c.cfg.MaxActiveJobs, Active: active}
	}

	cost := Cost(req.DurationSeconds, c.cfg.CostPerUnit)
	priority := PriorityForCost(cost, c.cfg.CostPerUnit, c.cfg.MaxPriority)
	jobID := uuid.New().String()

	payload, err := json.Marshal(map[string]interface{}{
		"category":         req.Category,
		"duration_seconds": req.DurationSeconds,
		"prompt":           req.Prompt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	balance, err := c.ledger.Reserve(ctx, ownerID, cost, jobID)
	if err != nil {
		return "", err
	}

	c.logger.Info("Credits reserved for job",
		slog.String("job_id", jobID),
		slog.String("owner_id", ownerID),
		slog.Int64("cost", cost),
		slog.Int64("balance", balance),
	)

	job := &model.Job{
		JobID:           jobID,
		UserID:          ownerID,
		Category:        req.Category,
		DurationSeconds: req.DurationSeconds,
		Prompt:          req.Prompt,
		Payload:         string(payload),
		Cost:            cost,
		Priority:        priority,
		Status:          domain.JobStatusPending,
	}

	if err := c.store.CreateJob(ctx, job); err != nil {
		// The reservation must never outlive its job record; give the
		// credits back before surfacing the error
		if _, creditErr := c.ledger.Credit(ctx, ownerID, cost, billing.ReasonAdmissionRollback, jobID); creditErr != nil {
			c.logger.Error("Failed to roll back reservation, manual reconciliation required",
				slog.String("job_id", jobID),
				slog.String("owner_id", ownerID),
				slog.Int64("cost", cost),
				slog.Any("error", creditErr),
			)
		}
		return "", fmt.Errorf("failed to persist job: %w", err)
	}

	body, err := json.Marshal(brokerMessage{JobID: jobID})
	if err != nil {
		c.failAndRefund(ctx, jobID, ownerID, cost, fmt.Sprintf("failed to encode broker message: %s", err))
		return "", fmt.Errorf("failed to encode broker message: %w", err)
	}

	if err := c.publisher.PublishWithRetry(ctx, body, "application/json", uint8(priority)); err != nil {
		c.failAndRefund(ctx, jobID, ownerID, cost, "failed to enqueue job")
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	// Best-effort: the worker claims from pending as well, so a failed
	// transition here does not strand the job
	if err := c.store.MarkQueued(ctx, jobID); err != nil {
		c.logger.Warn("Failed to mark job queued",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}

	c.logger.Info("Job admitted",
		slog.String("job_id", jobID),
		slog.String("owner_id", ownerID),
		slog.String("category", req.Category),
		slog.Int("duration_seconds", req.DurationSeconds),
		slog.Int64("cost", cost),
		slog.Int("priority", priority),
	)

	return jobID, nil
}

// failAndRefund settles a persisted-but-unenqueued job as failed with a
// refund. If the refund itself fails on infrastructure the job is still
// driven to a terminal state, without a second refund attempt.
func (c *Controller) failAndRefund(ctx context.Context, jobID, ownerID string, cost int64, reason string) {
	if _, err := c.settler.RefundAtomic(ctx, jobID, ownerID, cost, reason); err != nil {
		c.logger.Error("Refund failed during admission remediation",
			slog.String("job_id", jobID),
			slog.String("owner_id", ownerID),
			slog.Int64("cost", cost),
			slog.Any("error", err),
		)
		if markErr := c.settler.MarkFailedNoRefund(ctx, jobID, reason); markErr != nil {
			c.logger.Error("Failed to mark job failed after refund failure",
				slog.String("job_id", jobID),
				slog.Any("error", markErr),
			)
		}
	}
}
