package handler

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/forgemedia/genjobs/internal/api/admission"
	"github.com/forgemedia/genjobs/internal/api/domain"
	"github.com/forgemedia/genjobs/internal/api/dto"
	"github.com/forgemedia/genjobs/internal/billing"
)

// ownerID extracts the verified caller identity. Authentication itself is an
// upstream concern; the gateway injects the header after verifying the
// session.
func ownerID(c *gin.Context) (string, bool) {
	owner := c.GetHeader("X-User-ID")
	if owner == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "missing user identity",
		})
		return "", false
	}
	return owner, true
}

// SubmitJob handles POST /api/v1/jobs
// Runs admission: validate, cap check, cost, credit reservation, persist,
// enqueue. Returns the job id immediately; the caller polls GET /jobs/:id.
func (h *JobHandler) SubmitJob(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	jobID, err := h.admitter.Submit(c.Request.Context(), owner, admission.SubmitRequest{
		Category:        req.Category,
		DurationSeconds: req.DurationSeconds,
		Prompt:          req.Prompt,
	})
	if err != nil {
		h.renderSubmitError(c, owner, err)
		return
	}

	c.JSON(http.StatusOK, dto.SubmitJobResponse{JobID: jobID})
}

// renderSubmitError maps admission failures onto the HTTP contract
func (h *JobHandler) renderSubmitError(c *gin.Context, owner string, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": validationErr.Error(),
		})
		return
	}

	var limitErr *domain.AdmissionLimitError
	if errors.As(err, &limitErr) {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": limitErr.Error(),
			"limit": limitErr.Limit,
		})
		return
	}

	var balanceErr *billing.InsufficientBalanceError
	if errors.As(err, &balanceErr) {
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":    "insufficient balance",
			"required": balanceErr.Required,
			"current":  balanceErr.Current,
		})
		return
	}

	h.logger.Error("Failed to admit job",
		slog.String("owner_id", owner),
		slog.String("error", err.Error()),
	)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": "Failed to submit job",
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the job status document with queue position and wait estimate
// while queued, heartbeat progress while active, and the result reference or
// error verbatim once terminal.
func (h *JobHandler) GetJob(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.store.GetOwnedJob(c.Request.Context(), jobID, owner)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	resp := dto.JobStatusResponse{
		JobID:           job.JobID,
		Status:          job.Status,
		Category:        job.Category,
		DurationSeconds: job.DurationSeconds,
		Cost:            job.Cost,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
	}

	if job.StartedAt.Valid {
		resp.StartedAt = job.StartedAt.Time.Format(time.RFC3339)
	}
	if job.CompletedAt.Valid {
		resp.CompletedAt = job.CompletedAt.Time.Format(time.RFC3339)
	}

	switch job.Status {
	case domain.JobStatusPending, domain.JobStatusQueued:
		h.attachEstimate(c, &resp, job.JobID)

	case domain.JobStatusActive:
		progress := job.Progress
		resp.Progress = &progress

	case domain.JobStatusCompleted:
		if job.ResultRef.Valid {
			resp.ResultRef = job.ResultRef.String
		}

	case domain.JobStatusFailed:
		if job.ErrorMessage.Valid {
			resp.Error = job.ErrorMessage.String
		}
	}

	c.JSON(http.StatusOK, resp)
}

// attachEstimate fills in the advisory queue position and wait estimate.
// Both are best-effort; failures degrade to a status document without them.
func (h *JobHandler) attachEstimate(c *gin.Context, resp *dto.JobStatusResponse, jobID string) {
	position, err := h.store.QueuePosition(c.Request.Context(), jobID)
	if err != nil {
		h.logger.Warn("Failed to compute queue position",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	avg, ok, err := h.store.AverageJobDuration(c.Request.Context())
	if err != nil {
		h.logger.Warn("Failed to compute average job duration",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !ok {
		avg = float64(h.estimation.DefaultAvgSeconds)
	}

	estimate := waitEstimate(position, h.estimation.WorkerConcurrency, avg)

	resp.QueuePosition = &position
	resp.EstimatedSeconds = &estimate
}

// waitEstimate computes ceil(position / concurrency * averageSeconds). The
// position is 0-indexed, so the head of the queue estimates zero.
func waitEstimate(position, concurrency int, averageSeconds float64) int {
	if concurrency <= 0 {
		concurrency = 1
	}

	return int(math.Ceil(float64(position) / float64(concurrency) * averageSeconds))
}
