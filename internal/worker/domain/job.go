package domain

// Job status constants, shared with the API service through the jobs table
const (
	JobStatusPending   = "pending"
	JobStatusQueued    = "queued"
	JobStatusActive    = "active"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job is the worker's view of a claimed job
type Job struct {
	JobID           string
	UserID          string
	Category        string
	DurationSeconds int
	Payload         string // JSON string
	Cost            int64
	Priority        int
	Status          string
	WorkerID        string
	StalledCount    int
}

// JobMessage is the broker envelope handed to the worker pool
type JobMessage struct {
	JobID       string `json:"job_id"`
	DeliveryTag uint64 `json:"-"`
}

// StalledJob is an active job whose heartbeat went silent and which is
// eligible for re-dispatch
type StalledJob struct {
	JobID    string `db:"job_id"`
	Priority int    `db:"priority"`
}

// AbandonedJob is a stalled job that already used up its re-dispatch
// allowance and must be settled as failed
type AbandonedJob struct {
	JobID  string `db:"job_id"`
	UserID string `db:"user_id"`
	Cost   int64  `db:"cost"`
}
