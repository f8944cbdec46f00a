package admission

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgemedia/genjobs/internal/api/domain"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		req       SubmitRequest
		wantErr   bool
		wantField string
	}{
		{
			name:    "valid music request",
			req:     SubmitRequest{Category: "music", DurationSeconds: 60, Prompt: "lofi beats"},
			wantErr: false,
		},
		{
			name:    "valid sfx request at minimum duration",
			req:     SubmitRequest{Category: "sfx", DurationSeconds: 30, Prompt: "glass breaking"},
			wantErr: false,
		},
		{
			name:    "valid voiceover at maximum duration",
			req:     SubmitRequest{Category: "voiceover", DurationSeconds: 180, Prompt: "welcome message"},
			wantErr: false,
		},
		{
			name:      "unknown category",
			req:       SubmitRequest{Category: "podcast", DurationSeconds: 60, Prompt: "x"},
			wantErr:   true,
			wantField: "category",
		},
		{
			name:      "empty category",
			req:       SubmitRequest{Category: "", DurationSeconds: 60, Prompt: "x"},
			wantErr:   true,
			wantField: "category",
		},
		{
			name:      "duration off the grid",
			req:       SubmitRequest{Category: "music", DurationSeconds: 45, Prompt: "x"},
			wantErr:   true,
			wantField: "duration_seconds",
		},
		{
			name:      "zero duration",
			req:       SubmitRequest{Category: "music", DurationSeconds: 0, Prompt: "x"},
			wantErr:   true,
			wantField: "duration_seconds",
		},
		{
			name:      "empty prompt",
			req:       SubmitRequest{Category: "music", DurationSeconds: 60, Prompt: ""},
			wantErr:   true,
			wantField: "prompt",
		},
		{
			name:      "whitespace-only prompt",
			req:       SubmitRequest{Category: "music", DurationSeconds: 60, Prompt: "   \t"},
			wantErr:   true,
			wantField: "prompt",
		},
		{
			name:      "prompt over length limit",
			req:       SubmitRequest{Category: "music", DurationSeconds: 60, Prompt: strings.Repeat("a", 2001)},
			wantErr:   true,
			wantField: "prompt",
		},
		{
			name:    "prompt exactly at length limit",
			req:     SubmitRequest{Category: "music", DurationSeconds: 60, Prompt: strings.Repeat("a", 2000)},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.req)

			if tt.wantErr {
				require.Error(t, err)

				var vErr *domain.ValidationError
				require.True(t, errors.As(err, &vErr))
				assert.Equal(t, tt.wantField, vErr.Field)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestCost(t *testing.T) {
	tests := []struct {
		name            string
		durationSeconds int
		costPerUnit     int64
		want            int64
	}{
		{name: "30 seconds is one unit", durationSeconds: 30, costPerUnit: 10, want: 10},
		{name: "60 seconds is two units", durationSeconds: 60, costPerUnit: 10, want: 20},
		{name: "120 seconds is four units", durationSeconds: 120, costPerUnit: 10, want: 40},
		{name: "180 seconds is six units", durationSeconds: 180, costPerUnit: 10, want: 60},
		{name: "alternate unit price", durationSeconds: 60, costPerUnit: 25, want: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Cost(tt.durationSeconds, tt.costPerUnit))
		})
	}
}

func TestPriorityForCost(t *testing.T) {
	tests := []struct {
		name        string
		cost        int64
		costPerUnit int64
		maxPriority int
		want        int
	}{
		{name: "one unit", cost: 10, costPerUnit: 10, maxPriority: 10, want: 1},
		{name: "six units", cost: 60, costPerUnit: 10, maxPriority: 10, want: 6},
		{name: "capped at max", cost: 500, costPerUnit: 10, maxPriority: 10, want: 10},
		{name: "zero cost", cost: 0, costPerUnit: 10, maxPriority: 10, want: 0},
		{name: "zero unit price", cost: 60, costPerUnit: 0, maxPriority: 10, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PriorityForCost(tt.cost, tt.costPerUnit, tt.maxPriority))
		})
	}
}
