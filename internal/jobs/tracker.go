package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"h2o-proposal-system/internal/domain"
	"h2o-proposal-system/internal/workflow"
)

// tracker serializes the writes of one job and drops any write after the
// job reached a terminal status.
type tracker struct {
	m        *Manager
	mu       sync.Mutex
	job      domain.Job
	deadline time.Time
	finished bool
}

func (t *tracker) progress(p workflow.Progress) {
	t.update(func(j *domain.Job) {
		j.Status = domain.JobStatusProcessing
		j.ProgressPercent = p.Percent
		j.CurrentStep = p.Message
		if j.CurrentStep == "" {
			j.CurrentStep = p.State.Description()
		}
	})
}

// complete stores the result, or fails the job when the deadline has already
// passed so that it agrees with what Poll reports. It reports whether the job
// completed.
func (t *tracker) complete(result domain.ProposalResult) bool {
	if t.m.now().After(t.deadline) {
		t.fail(t.m.timeoutError())
		return false
	}
	t.update(func(j *domain.Job) {
		j.Status = domain.JobStatusCompleted
		j.ProgressPercent = 100
		j.CurrentStep = workflow.StateDone.Description()
		j.Result = &result
	})
	return true
}

func (t *tracker) fail(err error) {
	t.update(func(j *domain.Job) {
		j.Status = domain.JobStatusFailed
		j.Error = err.Error()
		if j.Error == "" {
			j.Error = "job failed"
		}
	})
}

func (t *tracker) update(mutate func(*domain.Job)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return
	}
	next := t.job
	mutate(&next)
	if !t.job.Status.CanTransition(next.Status) {
		t.m.logger.Warn("illegal job transition ignored",
			zap.String("job_id", t.job.ID),
			zap.String("from", string(t.job.Status)),
			zap.String("to", string(next.Status)))
		return
	}
	if next.ProgressPercent < t.job.ProgressPercent {
		next.ProgressPercent = t.job.ProgressPercent
	}

	now := t.m.now()
	next.UpdatedAt = now

	ctx, cancel := context.WithTimeout(context.Background(), t.m.cfg.WriteTimeout)
	defer cancel()
	if err := saveJob(ctx, t.m.store, next, now); err != nil {
		t.m.logger.Error("failed to persist job", zap.String("job_id", next.ID), zap.Error(err))
	}

	t.job = next
	if next.Status.IsTerminal() {
		t.finished = true
	}
}
