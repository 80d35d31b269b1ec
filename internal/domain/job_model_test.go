package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusQueued, JobStatusProcessing, true},
		{JobStatusQueued, JobStatusFailed, true},
		{JobStatusQueued, JobStatusCompleted, false},
		{JobStatusProcessing, JobStatusProcessing, true},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusProcessing, JobStatusQueued, false},
		{JobStatusCompleted, JobStatusFailed, false},
		{JobStatusFailed, JobStatusFailed, false},
		{JobStatus("deleted"), JobStatusQueued, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestJob_Snapshot(t *testing.T) {
	job := Job{ID: "j1", Status: JobStatusProcessing, ProgressPercent: 30, CurrentStep: "TrainDesign",
		Result: &ProposalResult{}, Error: "stale"}
	snap := job.Snapshot()
	assert.Nil(t, snap.Result)
	assert.Nil(t, snap.Error)
	assert.Equal(t, 30, snap.ProgressPercent)

	job.Status = JobStatusFailed
	job.Error = ""
	snap = job.Snapshot()
	if assert.NotNil(t, snap.Error) {
		assert.NotEmpty(t, *snap.Error)
	}

	job.Status = JobStatusCompleted
	snap = job.Snapshot()
	assert.NotNil(t, snap.Result)
	assert.Nil(t, snap.Error)
}
