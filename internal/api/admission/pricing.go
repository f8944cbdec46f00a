package admission

import (
	"fmt"
	"strings"

	"github.com/forgemedia/genjobs/internal/api/domain"
)

const maxPromptLength = 2000

// SubmitRequest is the validated admission input
type SubmitRequest struct {
	Category        string
	DurationSeconds int
	Prompt          string
}

// Validate checks the request against the fixed payload schema. It performs
// no I/O and has no side effects.
func Validate(req SubmitRequest) error {
	if !contains(domain.Categories, req.Category) {
		return &domain.ValidationError{
			Field:  "category",
			Reason: fmt.Sprintf("must be one of %s", strings.Join(domain.Categories, ", ")),
		}
	}

	if !containsInt(domain.Durations, req.DurationSeconds) {
		return &domain.ValidationError{
			Field:  "duration_seconds",
			Reason: fmt.Sprintf("must be one of %v", domain.Durations),
		}
	}

	if strings.TrimSpace(req.Prompt) == "" {
		return &domain.ValidationError{
			Field:  "prompt",
			Reason: "must not be empty",
		}
	}

	if len(req.Prompt) > maxPromptLength {
		return &domain.ValidationError{
			Field:  "prompt",
			Reason: fmt.Sprintf("must not exceed %d characters", maxPromptLength),
		}
	}

	return nil
}

// Cost computes the credit price of a job deterministically from its
// duration: one unit per 30 seconds of requested output
func Cost(durationSeconds int, costPerUnit int64) int64 {
	units := int64(durationSeconds / 30)
	return units * costPerUnit
}

// PriorityForCost maps a job's cost onto the broker's priority scale. More
// expensive jobs dispatch first; ties fall back to arrival order.
func PriorityForCost(cost, costPerUnit int64, maxPriority int) int {
	if costPerUnit <= 0 {
		return 0
	}

	priority := int(cost / costPerUnit)
	if priority > maxPriority {
		priority = maxPriority
	}
	if priority < 0 {
		priority = 0
	}

	return priority
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func containsInt(values []int, v int) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
