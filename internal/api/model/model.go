package model

import (
	"database/sql"
	"time"
)

// Job is the durable job record as stored in the jobs table
type Job struct {
	JobID           string         `db:"job_id"`
	UserID          string         `db:"user_id"`
	Category        string         `db:"category"`
	DurationSeconds int            `db:"duration_seconds"`
	Prompt          string         `db:"prompt"`
	Payload         string         `db:"payload"`
	Cost            int64          `db:"cost"`
	Priority        int            `db:"priority"`
	Status          string         `db:"status"`
	WorkerID        sql.NullString `db:"worker_id"`
	Progress        int            `db:"progress"`
	StalledCount    int            `db:"stalled_count"`
	Refunded        bool           `db:"refunded"`
	ResultRef       sql.NullString `db:"result_ref"`
	ErrorMessage    sql.NullString `db:"error_message"`
	CreatedAt       time.Time      `db:"created_at"`
	StartedAt       sql.NullTime   `db:"started_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}
