package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noterang/internal/interfaces"
	"github.com/ternarybob/noterang/internal/models"
)

// ChainMethod is one export method with its own timeout
type ChainMethod struct {
	Method  interfaces.ExportMethod
	Timeout time.Duration
}

// abandonGrace is how long a method past its deadline has to return
// before the chain moves on without it
const abandonGrace = 5 * time.Second

// Chain tries export methods strictly in declared order, one attempt each.
// It keeps no state between Export calls.
type Chain struct {
	methods []ChainMethod
	grace   time.Duration
	logger  arbor.ILogger
}

// NewChain creates a strategy chain; methods must be non-empty
func NewChain(logger arbor.ILogger, methods ...ChainMethod) (*Chain, error) {
	if len(methods) == 0 {
		return nil, fmt.Errorf("export chain requires at least one method")
	}
	for i, m := range methods {
		if m.Method == nil {
			return nil, fmt.Errorf("export method %d is nil", i)
		}
		if m.Timeout <= 0 {
			return nil, fmt.Errorf("export method %s has no timeout", m.Method.Name())
		}
	}
	return &Chain{methods: methods, grace: abandonGrace, logger: logger}, nil
}

// Methods returns the declared method names in order
func (c *Chain) Methods() []string {
	names := make([]string, len(c.methods))
	for i, m := range c.methods {
		names[i] = m.Method.Name()
	}
	return names
}

// Export returns the handle of the first method that succeeds together with
// the ordered attempt history. When every method fails the error is an
// ExportExhausted StageError carrying one attempt per method. A deadline on
// ctx ends the chain early and the methods not yet run are recorded as
// failed attempts; cancellation of ctx yields Cancelled.
func (c *Chain) Export(ctx context.Context, ref models.ArtifactRef) (models.ArtifactHandle, []models.StrategyAttempt, error) {
	attempts := make([]models.StrategyAttempt, 0, len(c.methods))

	for i, m := range c.methods {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				attempts = append(attempts, c.skipped(i)...)
				return models.ArtifactHandle{}, attempts, c.exhausted(attempts)
			}
			return models.ArtifactHandle{}, attempts, &StageError{
				Stage: models.StageExport, Kind: models.ErrorKindCancelled, Attempts: attempts, Err: err,
			}
		}

		name := m.Method.Name()
		attempt := models.StrategyAttempt{Method: name, StartedAt: time.Now()}
		handle, err := c.try(ctx, m, ref)
		attempt.EndedAt = time.Now()

		if err == nil {
			attempt.Succeeded = true
			attempt.Handle = &handle
			attempts = append(attempts, attempt)

			c.logger.Info().
				Str("method", name).
				Str("path", handle.Path).
				Int("attempts", len(attempts)).
				Dur("duration", attempt.EndedAt.Sub(attempt.StartedAt)).
				Msg("Export method succeeded")
			return handle, attempts, nil
		}

		attempt.Reason = err.Error()
		attempts = append(attempts, attempt)

		c.logger.Warn().
			Err(err).
			Str("method", name).
			Dur("duration", attempt.EndedAt.Sub(attempt.StartedAt)).
			Msg("Export method failed, trying next")
	}

	return models.ArtifactHandle{}, attempts, c.exhausted(attempts)
}

func (c *Chain) exhausted(attempts []models.StrategyAttempt) *StageError {
	return &StageError{
		Stage:    models.StageExport,
		Kind:     models.ErrorKindExportExhausted,
		Attempts: attempts,
		Err:      fmt.Errorf("all %d export methods failed", len(c.methods)),
	}
}

// skipped records the methods from index i on as failed attempts that never
// ran because the export stage deadline passed first
func (c *Chain) skipped(i int) []models.StrategyAttempt {
	now := time.Now()
	rest := make([]models.StrategyAttempt, 0, len(c.methods)-i)
	for _, m := range c.methods[i:] {
		rest = append(rest, models.StrategyAttempt{
			Method:    m.Method.Name(),
			StartedAt: now,
			EndedAt:   now,
			Reason:    "not attempted: export stage deadline reached",
		})
	}

	c.logger.Warn().
		Int("skipped", len(rest)).
		Msg("Export stage deadline reached before every method ran")
	return rest
}

type exportResult struct {
	handle models.ArtifactHandle
	err    error
}

// try runs one method under its own deadline. Methods must return once ctx
// is done; try waits up to c.grace for that so the method stops driving the
// shared browser before the next method starts. A method still running after
// the grace is abandoned.
func (c *Chain) try(ctx context.Context, m ChainMethod, ref models.ArtifactRef) (models.ArtifactHandle, error) {
	mctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	done := make(chan exportResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- exportResult{err: fmt.Errorf("export method panicked: %v", r)}
			}
		}()
		handle, err := m.Method.Attempt(mctx, ref, m.Timeout)
		done <- exportResult{handle: handle, err: err}
	}()

	var res exportResult
	select {
	case res = <-done:
	case <-mctx.Done():
		grace := time.NewTimer(c.grace)
		defer grace.Stop()

		select {
		case <-done:
		case <-grace.C:
			c.logger.Warn().
				Str("method", m.Method.Name()).
				Dur("grace", c.grace).
				Msg("Export method ignored its deadline, abandoning it")
		}
		res.err = mctx.Err()
	}

	if res.err != nil {
		if errors.Is(mctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return models.ArtifactHandle{}, fmt.Errorf("timed out after %s: %w", m.Timeout, res.err)
		}
		return models.ArtifactHandle{}, res.err
	}
	if res.handle.Path == "" {
		return models.ArtifactHandle{}, errors.New("method returned an empty artifact handle")
	}
	if res.handle.Method == "" {
		res.handle.Method = m.Method.Name()
	}
	return res.handle, nil
}
