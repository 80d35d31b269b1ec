package generative

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"h2o-proposal-system/internal/domain"
	"h2o-proposal-system/pkg/treatment"
)

const maxAttempts = 2

// Adapter wraps a Client with a fixed prompt layout, a per-attempt timeout
// and a single retry.
type Adapter struct {
	client         Client
	attemptTimeout time.Duration
	logger         *zap.Logger
}

func NewAdapter(client Client, attemptTimeout time.Duration, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if attemptTimeout <= 0 {
		attemptTimeout = 2 * time.Minute
	}
	return &Adapter{
		client:         client,
		attemptTimeout: attemptTimeout,
		logger:         logger,
	}
}

// GenerateDesign runs the reasoning step. A timed-out or malformed attempt
// is retried once with the same prompt; cancellation of ctx is never
// retried. Every failure wraps ErrGenerationFailed.
func (a *Adapter) GenerateDesign(ctx context.Context, req domain.DesignRequest, massBalance treatment.MassBalance,
	cases []domain.ProvenCase, tools ToolContext) (RawGenerativeOutput, error) {

	prompt := BuildPrompt(req, massBalance, cases, tools)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		start := time.Now()
		out, err := a.attempt(ctx, prompt)
		if err == nil {
			a.logger.Info("generative design received",
				zap.Int("attempt", attempt),
				zap.Int("equipment", len(out.Equipment)),
				zap.Duration("duration", time.Since(start)))
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) {
			break
		}
		if attempt < maxAttempts {
			a.logger.Warn("retrying generative call",
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
	}

	return RawGenerativeOutput{}, fmt.Errorf("%w: %w", ErrGenerationFailed, lastErr)
}

type completion struct {
	raw string
	err error
}

func (a *Adapter) attempt(ctx context.Context, prompt string) (RawGenerativeOutput, error) {
	actx, cancel := context.WithTimeout(ctx, a.attemptTimeout)
	defer cancel()

	// The client may ignore ctx; the buffered channel lets it finish late
	// without blocking.
	done := make(chan completion, 1)
	go func() {
		raw, err := a.client.Complete(actx, prompt)
		done <- completion{raw: raw, err: err}
	}()

	select {
	case c := <-done:
		if c.err != nil {
			if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
				return RawGenerativeOutput{}, fmt.Errorf("%w after %v: %w", errAttemptTimeout, a.attemptTimeout, c.err)
			}
			return RawGenerativeOutput{}, c.err
		}
		return ParseOutput(c.raw)
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return RawGenerativeOutput{}, err
		}
		return RawGenerativeOutput{}, fmt.Errorf("%w after %v", errAttemptTimeout, a.attemptTimeout)
	}
}

func retryable(err error) bool {
	return errors.Is(err, errAttemptTimeout) || errors.Is(err, ErrMalformedOutput)
}
