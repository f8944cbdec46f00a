package handler

import (
	"context"
	"log/slog"

	"github.com/forgemedia/genjobs/internal/api/admission"
	"github.com/forgemedia/genjobs/internal/api/model"
	"github.com/forgemedia/genjobs/internal/billing"
)

// Admitter runs the admission pipeline for a submission
type Admitter interface {
	Submit(ctx context.Context, ownerID string, req admission.SubmitRequest) (string, error)
}

// StatusStore is the read-only job store view the status API needs
type StatusStore interface {
	GetOwnedJob(ctx context.Context, jobID, ownerID string) (*model.Job, error)
	QueuePosition(ctx context.Context, jobID string) (int, error)
	AverageJobDuration(ctx context.Context) (float64, bool, error)
}

// LedgerReader exposes the owner-facing ledger reads
type LedgerReader interface {
	Balance(ctx context.Context, ownerID string) (int64, error)
	ListEntries(ctx context.Context, filter billing.EntryFilter) ([]billing.Entry, error)
}

// EstimationConfig holds the parameters for queue wait estimates
type EstimationConfig struct {
	WorkerConcurrency int
	DefaultAvgSeconds int
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger     *slog.Logger
	Admitter   Admitter
	Store      StatusStore
	Ledger     LedgerReader
	Estimation EstimationConfig
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger     *slog.Logger
	admitter   Admitter
	store      StatusStore
	ledger     LedgerReader
	estimation EstimationConfig
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:     deps.Logger,
		admitter:   deps.Admitter,
		store:      deps.Store,
		ledger:     deps.Ledger,
		estimation: deps.Estimation,
	}
}
