package domain

import "time"

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) order() int {
	switch s {
	case JobStatusQueued:
		return 1
	case JobStatusProcessing:
		return 2
	case JobStatusCompleted, JobStatusFailed:
		return 3
	default:
		return 0
	}
}

// CanTransition enforces queued -> processing -> completed|failed. A queued
// job may fail directly (deadline elapsed before it started).
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.order() == 0 || next.order() == 0 || s.IsTerminal() {
		return false
	}
	if s == next {
		return s == JobStatusProcessing
	}
	if s == JobStatusQueued && next == JobStatusCompleted {
		return false
	}
	return s.order() < next.order()
}

// Job is the persisted record of one asynchronous proposal generation.
type Job struct {
	ID              string          `json:"id"`
	Status          JobStatus       `json:"status"`
	ProgressPercent int             `json:"progress_percent"`
	CurrentStep     string          `json:"current_step"`
	Request         DesignRequest   `json:"request"`
	Result          *ProposalResult `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	Deadline        time.Time       `json:"deadline"`
}

// JobSnapshot is the polling view of a job.
type JobSnapshot struct {
	JobID           string          `json:"job_id"`
	Status          JobStatus       `json:"status"`
	ProgressPercent int             `json:"progress_percent"`
	CurrentStep     string          `json:"current_step"`
	Result          *ProposalResult `json:"result"`
	Error           *string         `json:"error"`
}

// Snapshot returns the polling view. Result is only set when completed and
// Error only when failed.
func (j Job) Snapshot() JobSnapshot {
	snap := JobSnapshot{
		JobID:           j.ID,
		Status:          j.Status,
		ProgressPercent: j.ProgressPercent,
		CurrentStep:     j.CurrentStep,
	}
	if j.Status == JobStatusCompleted {
		snap.Result = j.Result
	}
	if j.Status == JobStatusFailed {
		msg := j.Error
		if msg == "" {
			msg = "job failed"
		}
		snap.Error = &msg
	}
	return snap
}
