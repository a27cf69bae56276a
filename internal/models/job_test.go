package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/autopatch-dev/autopatch/internal/models"
)

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to models.JobStatus }{
		{models.JobStatusPendingApproval, models.JobStatusScheduled},
		{models.JobStatusPendingApproval, models.JobStatusDenied},
		{models.JobStatusScheduled, models.JobStatusDispatched},
		{models.JobStatusScheduled, models.JobStatusDenied},
		{models.JobStatusDispatched, models.JobStatusRunning},
		{models.JobStatusDispatched, models.JobStatusFailed},
		{models.JobStatusRunning, models.JobStatusSucceeded},
		{models.JobStatusRunning, models.JobStatusFailed},
	}
	for _, tt := range legal {
		assert.True(t, models.CanTransition(tt.from, tt.to), "%s -> %s must be legal", tt.from, tt.to)
	}

	illegal := []struct{ from, to models.JobStatus }{
		{models.JobStatusPendingApproval, models.JobStatusDispatched},
		{models.JobStatusScheduled, models.JobStatusRunning},
		{models.JobStatusDispatched, models.JobStatusSucceeded},
		{models.JobStatusDenied, models.JobStatusScheduled},
		{models.JobStatusSucceeded, models.JobStatusRunning},
		{models.JobStatusFailed, models.JobStatusScheduled},
		{models.JobStatusRunning, models.JobStatusDispatched},
	}
	for _, tt := range illegal {
		assert.False(t, models.CanTransition(tt.from, tt.to), "%s -> %s must be rejected", tt.from, tt.to)
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, models.JobStatusDenied.Terminal())
	assert.True(t, models.JobStatusSucceeded.Terminal())
	assert.True(t, models.JobStatusFailed.Terminal())
	assert.False(t, models.JobStatusPendingApproval.Terminal())
	assert.False(t, models.JobStatusScheduled.Terminal())
	assert.False(t, models.JobStatusDispatched.Terminal())
	assert.False(t, models.JobStatusRunning.Terminal())
}

func TestJobTypeValid(t *testing.T) {
	for _, jobType := range models.JobTypes() {
		assert.True(t, jobType.Valid())
	}
	assert.False(t, models.JobType("DEFRAG").Valid())
	assert.False(t, models.JobType("").Valid())
}
