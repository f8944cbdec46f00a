package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when attempting to claim a job that is
	// already active or settled. A stalled-then-recovered job delivered twice
	// hits this on the second claim.
	ErrJobAlreadyClaimed = errors.New("job already claimed or settled")

	// ErrInvalidPayload is returned when a broker message is malformed or
	// carries a job_id that is not a UUID
	ErrInvalidPayload = errors.New("invalid job payload")
)
