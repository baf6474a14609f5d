package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noterang/internal/models"
)

// PollFunc performs one completion check
type PollFunc func(ctx context.Context) (models.PollStatus, error)

// StallFunc is invoked once per await attempt when polling exceeds the stall threshold
type StallFunc func(ctx context.Context) models.PollStatus

// AwaitTiming bounds the completion poll loop
type AwaitTiming struct {
	PollInterval   time.Duration
	StallThreshold time.Duration
	StallExtension time.Duration
}

// Executor runs a single stage attempt and maps its failure to a StageError
type Executor struct {
	logger arbor.ILogger
}

// NewExecutor creates a stage executor
func NewExecutor(logger arbor.ILogger) *Executor {
	return &Executor{logger: logger}
}

// Execute runs fn under the stage timeout
func (e *Executor) Execute(ctx context.Context, policy StagePolicy, fn func(ctx context.Context) error) *StageError {
	if err := ctx.Err(); err != nil {
		return cancelled(policy.Stage, err)
	}

	sctx, cancel := ctx, context.CancelFunc(func() {})
	if policy.Timeout > 0 {
		sctx, cancel = context.WithTimeout(ctx, policy.Timeout)
	}
	defer cancel()

	err := fn(sctx)
	if err == nil {
		return nil
	}

	serr := classify(ctx, policy.Stage, err)
	if serr.Kind == models.ErrorKindTransient && errors.Is(sctx.Err(), context.DeadlineExceeded) {
		serr.Err = fmt.Errorf("stage timed out after %s: %w", policy.Timeout, serr.Err)
	}
	return serr
}

// Await polls until completion. Crossing the stall threshold invokes stall
// once and grants the shorter extension budget; a stall that persists after
// that fails with GenerationTimeout. policy.Timeout bounds each poll call.
// Poll call errors other than auth and cancellation are logged and polling
// continues, since they still count against the stall budget.
func (e *Executor) Await(ctx context.Context, policy StagePolicy, timing AwaitTiming, poll PollFunc, stall StallFunc) *StageError {
	stage := policy.Stage

	ticker := time.NewTicker(timing.PollInterval)
	defer ticker.Stop()

	stallTimer := time.NewTimer(timing.StallThreshold)
	defer stallTimer.Stop()

	escalated := false
	polls := 0
	started := time.Now()

	for {
		status, serr := e.pollOnce(ctx, policy, poll)
		polls++
		if serr != nil {
			switch serr.Kind {
			case models.ErrorKindCancelled, models.ErrorKindAuthExpired, models.ErrorKindSourceAmbiguous:
				return serr
			}
			e.logger.Warn().
				Err(serr).
				Int("poll", polls).
				Msg("Completion check failed, continuing to poll")
		}

		switch status {
		case models.PollDone:
			e.logger.Debug().
				Int("polls", polls).
				Dur("elapsed", time.Since(started)).
				Bool("escalated", escalated).
				Msg("Generation completed")
			return nil
		case models.PollError:
			return newStageError(stage, models.ErrorKindGenerationFailed, errors.New("remote generation reported an error"))
		}

		select {
		case <-ctx.Done():
			return cancelled(stage, ctx.Err())

		case <-ticker.C:

		case <-stallTimer.C:
			if escalated {
				return newStageError(stage, models.ErrorKindGenerationTimeout,
					fmt.Errorf("no completion after %d polls in %s, including stall extension", polls, time.Since(started).Round(time.Millisecond)))
			}
			escalated = true

			e.logger.Warn().
				Int("polls", polls).
				Dur("elapsed", time.Since(started)).
				Dur("extension", timing.StallExtension).
				Msg("Generation stalled, escalating")

			switch stall(ctx) {
			case models.PollDone:
				return nil
			case models.PollError:
				return newStageError(stage, models.ErrorKindGenerationFailed, errors.New("stall check reported a generation error"))
			}
			if err := ctx.Err(); err != nil {
				return cancelled(stage, err)
			}
			stallTimer.Reset(timing.StallExtension)
		}
	}
}

func (e *Executor) pollOnce(ctx context.Context, policy StagePolicy, poll PollFunc) (models.PollStatus, *StageError) {
	var status models.PollStatus
	serr := e.Execute(ctx, policy, func(pctx context.Context) error {
		var err error
		status, err = poll(pctx)
		return err
	})
	if serr != nil {
		return models.PollPending, serr
	}
	return status, nil
}
