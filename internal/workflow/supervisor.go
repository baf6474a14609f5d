package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noterang/internal/common"
	"github.com/ternarybob/noterang/internal/interfaces"
	"github.com/ternarybob/noterang/internal/models"
)

// captureTimeout bounds one diagnostic capture
const captureTimeout = 30 * time.Second

// Hooks are the escalation points the orchestrator calls into
type Hooks interface {
	// OnStall is called once per await attempt when polling stalls
	OnStall(ctx context.Context, run *models.WorkflowRun, job models.JobRef) models.PollStatus
	// OnFailure is called for every stage failure before retry is decided; it never fails
	OnFailure(ctx context.Context, run *models.WorkflowRun, serr *StageError, attempt int, exclusiveHeld bool)
	// Recover decides whether the failed stage is retried and waits out the backoff
	Recover(ctx context.Context, run *models.WorkflowRun, policy StagePolicy, serr *StageError, attempt int) (bool, *StageError)
}

// Supervisor implements Hooks with a stall helper, a diagnostic capturer and
// exponential backoff recovery. Helper and capturer are optional.
type Supervisor struct {
	helper   interfaces.StallHelper
	capturer interfaces.DiagnosticCapturer
	events   interfaces.EventService
	logger   arbor.ILogger

	backoffBase    time.Duration
	backoffCeiling time.Duration
}

// NewSupervisor creates a supervisor
func NewSupervisor(logger arbor.ILogger, options Options, helper interfaces.StallHelper, capturer interfaces.DiagnosticCapturer, events interfaces.EventService) *Supervisor {
	return &Supervisor{
		helper:         helper,
		capturer:       capturer,
		events:         events,
		logger:         logger,
		backoffBase:    options.BackoffBase,
		backoffCeiling: options.BackoffCeiling,
	}
}

// OnStall runs the stall helper. Helper errors are logged and read as pending.
func (s *Supervisor) OnStall(ctx context.Context, run *models.WorkflowRun, job models.JobRef) models.PollStatus {
	run.Escalations++
	publish(ctx, s.events, interfaces.EventStallEscalated, run, map[string]interface{}{
		"stage":   string(models.StageAwaitCompletion),
		"attempt": run.Attempts[models.StageAwaitCompletion],
	})

	if s.helper == nil {
		return models.PollPending
	}

	status, err := s.helper.Nudge(ctx, job)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", string(run.Key)).Msg("Stall helper failed")
		return models.PollPending
	}

	s.logger.Info().
		Str("key", string(run.Key)).
		Str("status", string(status)).
		Msg("Stall helper finished")
	return status
}

// OnFailure captures a diagnostic snapshot. Capture errors and panics are swallowed.
func (s *Supervisor) OnFailure(ctx context.Context, run *models.WorkflowRun, serr *StageError, attempt int, exclusiveHeld bool) {
	if s.capturer == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("key", string(run.Key)).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Diagnostic capture panicked")
		}
	}()

	snapshot := models.DiagnosticSnapshot{
		ID:             common.NewSnapshotID(),
		RunID:          run.ID,
		Key:            run.Key,
		Title:          run.Topic.Title,
		Stage:          serr.Stage,
		Attempt:        attempt,
		State:          run.State,
		Kind:           serr.Kind,
		Error:          serr.Error(),
		Attempts:       copyAttempts(run.Attempts),
		Failures:       append([]models.StageFailure(nil), run.Failures...),
		ExclusiveHeld:  exclusiveHeld,
		Source:         run.Source,
		Job:            run.Job,
		StrategyTrials: serr.Attempts,
		CapturedAt:     time.Now(),
	}

	// Capture must still work for cancelled runs
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), captureTimeout)
	defer cancel()

	if err := s.capturer.Capture(cctx, snapshot); err != nil {
		s.logger.Warn().
			Err(err).
			Str("key", string(run.Key)).
			Str("stage", string(serr.Stage)).
			Msg("Diagnostic capture failed")
		return
	}

	publish(ctx, s.events, interfaces.EventDiagnosticCaptured, run, map[string]interface{}{
		"stage":       string(serr.Stage),
		"snapshot_id": snapshot.ID,
	})
}

// Recover returns true after the backoff when the stage may be retried.
// The second result is a Cancelled error when ctx ends during the backoff.
func (s *Supervisor) Recover(ctx context.Context, run *models.WorkflowRun, policy StagePolicy, serr *StageError, attempt int) (bool, *StageError) {
	if IsFatal(serr.Kind) || policy.Fatal {
		return false, nil
	}
	if attempt > policy.RetryBudget {
		s.logger.Warn().
			Str("key", string(run.Key)).
			Str("stage", string(policy.Stage)).
			Int("attempts", attempt).
			Int("retry_budget", policy.RetryBudget).
			Msg("Retry budget exhausted")
		return false, nil
	}

	delay := s.Backoff(attempt)
	publish(ctx, s.events, interfaces.EventRecovering, run, map[string]interface{}{
		"stage":   string(policy.Stage),
		"kind":    string(serr.Kind),
		"attempt": attempt,
		"delay":   delay.String(),
	})

	s.logger.Info().
		Str("key", string(run.Key)).
		Str("stage", string(policy.Stage)).
		Str("kind", string(serr.Kind)).
		Int("attempt", attempt).
		Dur("backoff", delay).
		Msg("Retrying stage after backoff")

	if err := sleep(ctx, delay); err != nil {
		return false, cancelled(policy.Stage, err)
	}
	return true, nil
}

// Backoff returns the delay before retry number attempt (1-based):
// base doubled per attempt, capped at the ceiling.
func (s *Supervisor) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := s.backoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay <= 0 || delay >= s.backoffCeiling {
			return s.backoffCeiling
		}
	}
	if s.backoffCeiling > 0 && delay > s.backoffCeiling {
		return s.backoffCeiling
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func copyAttempts(in map[models.Stage]int) map[models.Stage]int {
	out := make(map[models.Stage]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func publish(ctx context.Context, events interfaces.EventService, eventType interfaces.EventType, run *models.WorkflowRun, extra map[string]interface{}) {
	if events == nil {
		return
	}
	payload := map[string]interface{}{
		"run_id": run.ID,
		"key":    string(run.Key),
		"state":  string(run.State),
	}
	for k, v := range extra {
		payload[k] = v
	}
	_ = events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload})
}
