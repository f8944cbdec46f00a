package domain

import (
	"errors"
	"fmt"
)

// Job lifecycle states. Terminal states are never left once entered; the
// settlement protocol enforces the single transition into them.
const (
	JobStatusPending   = "pending"
	JobStatusQueued    = "queued"
	JobStatusActive    = "active"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Generation categories accepted at admission
var Categories = []string{"music", "ambient", "voiceover", "sfx"}

// Durations (seconds) accepted at admission; each 30s is one billing unit
var Durations = []int{30, 60, 120, 180}

var (
	ErrJobNotFound = errors.New("job not found")
)

// ValidationError rejects a malformed submission. No side effects occurred.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AdmissionLimitError rejects a submission because the owner already has too
// many in-flight jobs. No side effects occurred.
type AdmissionLimitError struct {
	Limit  int
	Active int
}

func (e *AdmissionLimitError) Error() string {
	return fmt.Sprintf("too many active jobs: %d of %d allowed", e.Active, e.Limit)
}
