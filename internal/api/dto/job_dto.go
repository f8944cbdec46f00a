package dto

// SubmitJobRequest is the body of POST /api/v1/jobs. Category, duration and
// prompt are validated against the fixed schema at admission.
type SubmitJobRequest struct {
	Category        string `json:"category" binding:"required"`
	DurationSeconds int    `json:"duration_seconds" binding:"required"`
	Prompt          string `json:"prompt" binding:"required"`
}

// SubmitJobResponse acknowledges an admitted job; the caller polls for
// progress
type SubmitJobResponse struct {
	JobID string `json:"job_id"`
}

// JobStatusResponse is the status poll document. Queue position and wait
// estimate are advisory and only present while the job is queued; progress
// is a liveness signal, not real completion progress.
type JobStatusResponse struct {
	JobID            string `json:"job_id"`
	Status           string `json:"status"`
	Category         string `json:"category"`
	DurationSeconds  int    `json:"duration_seconds"`
	Cost             int64  `json:"cost"`
	CreatedAt        string `json:"created_at"`
	StartedAt        string `json:"started_at,omitempty"`
	CompletedAt      string `json:"completed_at,omitempty"`
	Progress         *int   `json:"progress,omitempty"`
	QueuePosition    *int   `json:"queue_position,omitempty"`
	EstimatedSeconds *int   `json:"estimated_seconds,omitempty"`
	ResultRef        string `json:"result_ref,omitempty"`
	Error            string `json:"error,omitempty"`
}

// BalanceResponse is the body of GET /api/v1/account
type BalanceResponse struct {
	OwnerID string `json:"owner_id"`
	Balance int64  `json:"balance"`
}

// ListLedgerRequest holds query parameters for GET /api/v1/account/ledger
type ListLedgerRequest struct {
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

// LedgerEntryDTO is one immutable ledger entry as rendered to the owner
type LedgerEntryDTO struct {
	EntryID       string `json:"entry_id"`
	Delta         int64  `json:"delta"`
	Reason        string `json:"reason"`
	BalanceBefore int64  `json:"balance_before"`
	BalanceAfter  int64  `json:"balance_after"`
	JobID         string `json:"job_id,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// ListLedgerResponse pages through ledger entries, newest first
type ListLedgerResponse struct {
	Entries    []LedgerEntryDTO `json:"entries"`
	NextCursor string           `json:"next_cursor,omitempty"`
}
