package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"h2o-proposal-system/internal/domain"
	"h2o-proposal-system/internal/kvstore"
	"h2o-proposal-system/internal/workflow"
)

// Runner executes one proposal workflow.
type Runner interface {
	Run(ctx context.Context, req domain.DesignRequest, progress workflow.ProgressFunc) (domain.ProposalResult, error)
}

type Config struct {
	TTL          time.Duration
	MaxDuration  time.Duration
	Concurrency  int
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		TTL:          24 * time.Hour,
		MaxDuration:  10 * time.Minute,
		Concurrency:  4,
		WriteTimeout: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxDuration <= 0 {
		c.MaxDuration = d.MaxDuration
	}
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	if c.TTL < c.MaxDuration {
		c.TTL = c.MaxDuration
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	return c
}

// Stats is a point-in-time view of the executor.
type Stats struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	InFlight  int32 `json:"in_flight"`
	Queued    int32 `json:"queued"`
	Running   bool  `json:"running"`
}

// Manager owns the job lifecycle: it persists records, runs the workflow on
// a bounded number of goroutines and answers polls.
type Manager struct {
	store  kvstore.Store
	runner Runner
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	slots     chan struct{}
	mu        sync.Mutex // orders wg.Add in Submit before Shutdown's Wait
	baseCtx   context.Context
	cancelAll context.CancelFunc
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup

	closing   atomic.Bool
	processed atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Int32
	queued    atomic.Int32
}

func NewManager(store kvstore.Store, runner Runner, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:     store,
		runner:    runner,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		slots:     make(chan struct{}, cfg.Concurrency),
		baseCtx:   baseCtx,
		cancelAll: cancel,
		stopCh:    make(chan struct{}),
	}
}

// Submit validates the request, stores a queued job and schedules it. It
// does not wait for the workflow.
func (m *Manager) Submit(ctx context.Context, req domain.DesignRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if !m.acquire() {
		return "", ErrShutdown
	}

	now := m.now()
	job := domain.Job{
		ID:          uuid.NewString(),
		Status:      domain.JobStatusQueued,
		CurrentStep: queuedStep,
		Request:     req,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(m.cfg.TTL),
		Deadline:    now.Add(m.cfg.MaxDuration),
	}
	if err := saveJob(ctx, m.store, job, now); err != nil {
		m.wg.Done()
		return "", err
	}

	m.queued.Add(1)
	go m.execute(job)

	m.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("sector", req.Sector),
		zap.Float64("flow_m3_day", req.FlowRateM3Day))
	return job.ID, nil
}

// Poll returns the current view of a job. Unknown and expired jobs are
// ErrNotFound. A record left unfinished past its deadline reads as failed.
func (m *Manager) Poll(ctx context.Context, jobID string) (domain.JobSnapshot, error) {
	job, err := loadJob(ctx, m.store, jobID)
	if err != nil {
		return domain.JobSnapshot{}, err
	}
	now := m.now()
	if !now.Before(job.ExpiresAt) {
		return domain.JobSnapshot{}, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if !job.Status.IsTerminal() && now.After(job.Deadline) {
		job.Status = domain.JobStatusFailed
		job.Error = m.timeoutError().Error()
	}
	return job.Snapshot(), nil
}

// acquire registers one more job with the wait group unless shutdown has
// begun.
func (m *Manager) acquire() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing.Load() {
		return false
	}
	m.wg.Add(1)
	return true
}

func (m *Manager) timeoutError() error {
	return fmt.Errorf("%w (%v)", ErrJobTimeout, m.cfg.MaxDuration)
}

const queuedStep = "Waiting for an executor slot"

type outcome struct {
	result domain.ProposalResult
	err    error
}

func (m *Manager) execute(job domain.Job) {
	defer m.wg.Done()

	ctx, cancel := context.WithDeadline(m.baseCtx, job.Deadline)
	defer cancel()

	t := &tracker{m: m, job: job, deadline: job.Deadline}

	select {
	case m.slots <- struct{}{}:
		defer func() { <-m.slots }()
	case <-ctx.Done():
		m.queued.Add(-1)
		t.fail(m.contextError(ctx))
		return
	case <-m.stopCh:
		m.queued.Add(-1)
		t.fail(ErrShutdown)
		return
	}
	m.queued.Add(-1)
	m.inFlight.Add(1)
	defer m.inFlight.Add(-1)

	start := time.Now()
	t.update(func(j *domain.Job) {
		j.Status = domain.JobStatusProcessing
		j.CurrentStep = workflow.StateInit.Description()
	})

	done := make(chan outcome, 1)
	go func() {
		result, err := m.runner.Run(ctx, job.Request, t.progress)
		done <- outcome{result: result, err: err}
	}()

	var err error
	select {
	case o := <-done:
		if o.err == nil && t.complete(o.result) {
			m.processed.Add(1)
			m.logger.Info("job completed",
				zap.String("job_id", job.ID),
				zap.Duration("duration", time.Since(start)))
			return
		}
		err = o.err
		switch {
		case err == nil:
			// finished after the deadline; complete already failed the job
			m.failed.Add(1)
			m.logger.Warn("job finished past its deadline",
				zap.String("job_id", job.ID),
				zap.Duration("duration", time.Since(start)))
			return
		case ctx.Err() != nil:
			err = m.contextError(ctx)
		}
	case <-ctx.Done():
		// cancel() on return stops the in-flight generative call
		err = m.contextError(ctx)
	}

	t.fail(err)
	m.failed.Add(1)
	m.logger.Warn("job failed",
		zap.String("job_id", job.ID),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))
}

func (m *Manager) contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return m.timeoutError()
	}
	return ErrShutdown
}

// Stats reports executor counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Processed: m.processed.Load(),
		Failed:    m.failed.Load(),
		InFlight:  m.inFlight.Load(),
		Queued:    m.queued.Load(),
		Running:   !m.closing.Load(),
	}
}

// RunMonitor logs Stats every interval until ctx is done.
func (m *Manager) RunMonitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.stopCh:
			return nil
		case <-ticker.C:
			s := m.Stats()
			m.logger.Info("job manager stats",
				zap.Int64("processed", s.Processed),
				zap.Int64("failed", s.Failed),
				zap.Int32("in_flight", s.InFlight),
				zap.Int32("queued", s.Queued))
		}
	}
}

// Shutdown stops accepting jobs, fails the ones still queued and waits for
// running jobs. When ctx expires first the running jobs are cancelled.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.closing.Store(true)
		close(m.stopCh)
		m.mu.Unlock()
	})

	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		m.cancelAll()
		<-finished
	}
	m.cancelAll()

	s := m.Stats()
	m.logger.Info("job manager stopped",
		zap.Int64("processed", s.Processed),
		zap.Int64("failed", s.Failed))
	return ctx.Err()
}
