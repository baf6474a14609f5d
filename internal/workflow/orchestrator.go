package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noterang/internal/common"
	"github.com/ternarybob/noterang/internal/interfaces"
	"github.com/ternarybob/noterang/internal/models"
)

// Dependencies are the collaborators one orchestrator drives
type Dependencies struct {
	Session   *Session
	Resolver  interfaces.SourceResolver
	Generator interfaces.Generator
	Chain     *Chain
	Converter interfaces.Converter
	Ledger    interfaces.RunLedger
	Events    interfaces.EventService // optional
}

func (d Dependencies) validate() error {
	switch {
	case d.Session == nil:
		return errors.New("session is required")
	case d.Resolver == nil:
		return errors.New("source resolver is required")
	case d.Generator == nil:
		return errors.New("generator is required")
	case d.Chain == nil:
		return errors.New("export chain is required")
	case d.Converter == nil:
		return errors.New("converter is required")
	case d.Ledger == nil:
		return errors.New("run ledger is required")
	}
	return nil
}

// Orchestrator drives one topic through the stage state machine:
// INIT → AUTHENTICATED → SOURCE_READY → GENERATING → GENERATED → EXPORTED → CONVERTED → DONE.
// Every transition is written to the ledger before the next stage begins.
type Orchestrator struct {
	deps     Dependencies
	options  Options
	gate     *Gate
	executor *Executor
	hooks    Hooks
	logger   arbor.ILogger
	validate *validator.Validate

	activeMu sync.Mutex
	active   map[models.TopicKey]bool
}

// NewOrchestrator creates an orchestrator. gate is shared by every
// orchestrator call of one batch.
func NewOrchestrator(logger arbor.ILogger, options Options, gate *Gate, deps Dependencies, hooks Hooks) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if gate == nil {
		gate = NewGate(options.ConcurrencyLimit)
	}
	if hooks == nil {
		hooks = NewSupervisor(logger, options, nil, nil, deps.Events)
	}
	if options.PollInterval <= 0 {
		return nil, errors.New("poll interval must be positive")
	}
	if options.StallThreshold <= 0 {
		return nil, errors.New("stall threshold must be positive")
	}

	return &Orchestrator{
		deps:     deps,
		options:  options,
		gate:     gate,
		executor: NewExecutor(logger),
		hooks:    hooks,
		logger:   logger,
		validate: validator.New(),
		active:   make(map[models.TopicKey]bool),
	}, nil
}

// Prepare applies the default language and validates a topic
func (o *Orchestrator) Prepare(topic models.Topic) (models.Topic, error) {
	if topic.Language == "" {
		topic.Language = o.options.DefaultLanguage
	}
	if err := o.validate.Struct(topic); err != nil {
		return topic, fmt.Errorf("invalid topic %q: %w", topic.Title, err)
	}
	if !common.IsSupportedLanguage(topic.Language) {
		return topic, fmt.Errorf("invalid topic %q: unsupported language %q", topic.Title, topic.Language)
	}
	if topic.Design != "" {
		if _, ok := models.LookupDesign(topic.Design); !ok {
			return topic, fmt.Errorf("invalid topic %q: unknown design %q", topic.Title, topic.Design)
		}
	}
	return topic, nil
}

func (o *Orchestrator) claim(key models.TopicKey) bool {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	if o.active[key] {
		return false
	}
	o.active[key] = true
	return true
}

func (o *Orchestrator) unclaim(key models.TopicKey) {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	delete(o.active, key)
}

// Advance runs topic to a terminal state and returns the run.
// Entries already DONE in the ledger are returned without running any stage;
// other entries resume from their last durable state. A returned error means
// the run could not start (invalid topic, active duplicate, unreadable ledger);
// stage failures are reported through the run itself.
func (o *Orchestrator) Advance(ctx context.Context, topic models.Topic) (*models.WorkflowRun, error) {
	topic, err := o.Prepare(topic)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	key := topic.Key()
	if !o.claim(key) {
		return nil, fmt.Errorf("%w: %s", ErrTopicActive, key)
	}
	defer o.unclaim(key)

	entry, err := o.deps.Ledger.Get(ctx, key)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("failed to read ledger entry %s: %w", key, err)
	}

	run := models.NewWorkflowRun(common.NewRunID(), topic)
	logger := o.logger.WithCorrelationId(run.ID)

	if entry != nil {
		resumeFrom(run, entry)
		if entry.State == models.StateDone {
			run.Outcome = models.OutcomeSucceeded
			run.FinishedAt = time.Now()
			logger.Info().
				Str("key", string(key)).
				Strs("artifacts", run.ArtifactPaths()).
				Msg("Topic already completed, skipping")
			publish(ctx, o.deps.Events, interfaces.EventRunResumed, run, nil)
			return run, nil
		}
	}

	logger.Info().
		Str("key", string(key)).
		Str("state", string(run.State)).
		Bool("resumed", run.Resumed).
		Msg("Starting workflow run")
	publish(ctx, o.deps.Events, interfaces.EventRunStarted, run, nil)

	if err := o.record(ctx, run); err != nil {
		o.fail(ctx, logger, run, newStageError(models.StageAuthenticate, models.ErrorKindTransient, err))
		return run, nil
	}

	for {
		stage, ok := run.Durable.NextStage()
		if !ok {
			o.complete(ctx, logger, run)
			return run, nil
		}

		serr := o.runStage(ctx, logger, run, stage)
		if serr == nil {
			continue
		}

		if stage == models.StageAwaitCompletion && serr.Kind == models.ErrorKindGenerationFailed {
			if o.rewind(ctx, logger, run, serr) {
				continue
			}
		}

		o.fail(ctx, logger, run, serr)
		return run, nil
	}
}

// runStage retries one stage until it succeeds or its policy gives up
func (o *Orchestrator) runStage(ctx context.Context, logger arbor.ILogger, run *models.WorkflowRun, stage models.Stage) *StageError {
	policy := o.options.Policy(stage)
	reauths := 0

	for {
		run.Attempts[stage]++
		attempt := run.Attempts[stage]
		run.State = run.Durable
		run.CurrentStage = stage

		publish(ctx, o.deps.Events, interfaces.EventStageStarted, run, map[string]interface{}{
			"stage":   string(stage),
			"attempt": attempt,
		})

		generation := o.deps.Session.Generation()
		started := time.Now()
		serr := o.attempt(ctx, run, policy, attempt)

		if serr == nil {
			run.Durable = stage.Target()
			run.State = run.Durable
			run.CurrentStage = ""
			if err := o.record(ctx, run); err != nil {
				return newStageError(stage, models.ErrorKindTransient, err)
			}

			logger.Info().
				Str("stage", string(stage)).
				Str("state", string(run.State)).
				Int("attempt", attempt).
				Dur("duration", time.Since(started)).
				Msg("Stage completed")
			publish(ctx, o.deps.Events, interfaces.EventStageCompleted, run, map[string]interface{}{
				"stage":   string(stage),
				"attempt": attempt,
			})
			return nil
		}

		if serr.Kind == models.ErrorKindResourceBusy {
			// Scheduling wait only: not recorded, not counted
			run.Attempts[stage]--
			if err := sleep(ctx, o.options.BackoffBase); err != nil {
				return cancelled(stage, err)
			}
			continue
		}

		run.Failures = append(run.Failures, models.StageFailure{
			Stage:            stage,
			Attempt:          attempt,
			Kind:             serr.Kind,
			Message:          serr.Error(),
			At:               time.Now(),
			StrategyAttempts: serr.Attempts,
		})

		logger.Warn().
			Err(serr).
			Str("stage", string(stage)).
			Str("kind", string(serr.Kind)).
			Int("attempt", attempt).
			Msg("Stage failed")
		publish(ctx, o.deps.Events, interfaces.EventStageFailed, run, map[string]interface{}{
			"stage":   string(stage),
			"kind":    string(serr.Kind),
			"attempt": attempt,
		})

		if serr.Kind == models.ErrorKindCancelled {
			return serr
		}

		run.State = models.StateRecovering
		if err := o.record(ctx, run); err != nil {
			logger.Warn().Err(err).Msg("Failed to record recovering state")
		}

		if serr.Kind == models.ErrorKindAuthExpired {
			reauths++
			if reauths > o.options.ReauthLimit {
				logger.Error().
					Int("reauth_limit", o.options.ReauthLimit).
					Str("stage", string(stage)).
					Msg("Re-authentication limit reached")
				return serr
			}
			// Re-authentication does not consume the stage retry budget
			run.Attempts[stage]--
			if err := o.deps.Session.Renew(ctx, generation); err != nil {
				if ctx.Err() != nil {
					return cancelled(stage, ctx.Err())
				}
				logger.Warn().Err(err).Str("stage", string(stage)).Msg("Re-authentication failed")
				if err := sleep(ctx, o.options.BackoffBase); err != nil {
					return cancelled(stage, err)
				}
				continue
			}
			publish(ctx, o.deps.Events, interfaces.EventReauthenticated, run, map[string]interface{}{
				"stage": string(stage),
			})
			continue
		}

		if stage == models.StageAwaitCompletion && serr.Kind == models.ErrorKindGenerationFailed {
			// Retrying the poll cannot help; the caller restarts GENERATE
			return serr
		}

		retry, cerr := o.hooks.Recover(ctx, run, policy, serr, attempt)
		if cerr != nil {
			return cerr
		}
		if !retry {
			return serr
		}
	}
}

// attempt runs one stage attempt inside its phase gate. Diagnostic capture
// happens before the gate is released so snapshots of the shared session are
// taken while the permit is still held.
func (o *Orchestrator) attempt(ctx context.Context, run *models.WorkflowRun, policy StagePolicy, attempt int) *StageError {
	release, err := o.gate.Enter(ctx, policy.Stage)
	if err != nil {
		return cancelled(policy.Stage, err)
	}
	defer release()

	serr := o.execute(ctx, run, policy)
	if serr != nil && serr.Kind != models.ErrorKindResourceBusy {
		o.hooks.OnFailure(ctx, run, serr, attempt, policy.Exclusive())
	}
	return serr
}

func (o *Orchestrator) execute(ctx context.Context, run *models.WorkflowRun, policy StagePolicy) *StageError {
	topic := run.Topic

	switch policy.Stage {
	case models.StageAuthenticate:
		return o.executor.Execute(ctx, policy, o.deps.Session.Ensure)

	case models.StageResolveSource:
		return o.executor.Execute(ctx, policy, func(sctx context.Context) error {
			ref, err := o.deps.Resolver.FindOrCreate(sctx, topic)
			if err != nil {
				return err
			}
			run.Source = &ref
			return nil
		})

	case models.StageGenerate:
		if run.Source == nil {
			return newStageError(policy.Stage, models.ErrorKindTransient, errors.New("no source reference recorded"))
		}
		source := *run.Source
		return o.executor.Execute(ctx, policy, func(sctx context.Context) error {
			job, err := o.deps.Generator.Start(sctx, source, topic.Queries, topic.DesignFocus(), topic.Language)
			if err != nil {
				return err
			}
			run.Job = &job
			return nil
		})

	case models.StageAwaitCompletion:
		if run.Job == nil {
			return newStageError(policy.Stage, models.ErrorKindGenerationFailed, errors.New("no generation job recorded"))
		}
		job := *run.Job
		timing := AwaitTiming{
			PollInterval:   o.options.PollInterval,
			StallThreshold: o.options.StallThreshold,
			StallExtension: o.options.stallExtension(),
		}
		return o.executor.Await(ctx, policy, timing,
			func(pctx context.Context) (models.PollStatus, error) {
				return o.deps.Generator.Poll(pctx, job)
			},
			func(sctx context.Context) models.PollStatus {
				return o.hooks.OnStall(sctx, run, job)
			})

	case models.StageExport:
		if run.Source == nil || run.Job == nil {
			return newStageError(policy.Stage, models.ErrorKindExportExhausted, errors.New("no generated artifact recorded"))
		}
		ref := models.ArtifactRef{
			SourceID:  run.Source.ID,
			JobID:     run.Job.ID,
			FileStem:  topic.FileStem(),
			OutputDir: o.options.DownloadDirectory,
		}
		return o.executor.Execute(ctx, policy, func(sctx context.Context) error {
			handle, attempts, err := o.deps.Chain.Export(sctx, ref)
			run.StrategyAttempts = attempts
			if err != nil {
				return err
			}
			run.Artifact = &handle
			return nil
		})

	case models.StageConvert:
		if run.Artifact == nil {
			return newStageError(policy.Stage, models.ErrorKindConversionFailed, errors.New("no exported artifact recorded"))
		}
		handle := *run.Artifact
		return o.executor.Execute(ctx, policy, func(sctx context.Context) error {
			path, err := o.deps.Converter.Convert(sctx, handle)
			if err != nil {
				return err
			}
			run.ConvertedPath = path
			return nil
		})
	}

	return newStageError(policy.Stage, models.ErrorKindTransient, fmt.Errorf("unknown stage %s", policy.Stage))
}

// rewind sends a run whose remote generation failed back to GENERATE,
// governed by the GENERATE retry budget
func (o *Orchestrator) rewind(ctx context.Context, logger arbor.ILogger, run *models.WorkflowRun, serr *StageError) bool {
	policy := o.options.Policy(models.StageGenerate)
	retry, cerr := o.hooks.Recover(ctx, run, policy, serr, run.Attempts[models.StageGenerate])
	if cerr != nil || !retry {
		return false
	}

	logger.Info().
		Int("generate_attempts", run.Attempts[models.StageGenerate]).
		Msg("Remote generation failed, restarting generation")

	run.Job = nil
	run.Durable = models.StateSourceReady
	run.State = models.StateSourceReady
	if err := o.record(ctx, run); err != nil {
		logger.Warn().Err(err).Msg("Failed to record generation restart")
		return false
	}
	return true
}

func (o *Orchestrator) complete(ctx context.Context, logger arbor.ILogger, run *models.WorkflowRun) {
	run.State = models.StateDone
	run.Durable = models.StateDone
	run.CurrentStage = ""
	run.Outcome = models.OutcomeSucceeded
	run.ErrorKind = models.ErrorKindNone
	run.FinishedAt = time.Now()

	if err := o.record(ctx, run); err != nil {
		// The next run redoes CONVERT, which is redo-safe
		logger.Warn().Err(err).Msg("Failed to record completed run")
	}

	logger.Info().
		Str("key", string(run.Key)).
		Strs("artifacts", run.ArtifactPaths()).
		Dur("duration", run.FinishedAt.Sub(run.StartedAt)).
		Msg("Workflow run completed")
	publish(ctx, o.deps.Events, interfaces.EventRunCompleted, run, nil)
}

// fail ends the run. The ledger keeps the last durable state so a later
// run resumes from there.
func (o *Orchestrator) fail(ctx context.Context, logger arbor.ILogger, run *models.WorkflowRun, serr *StageError) {
	run.State = models.StateFailed
	run.Outcome = models.OutcomeFailed
	run.ErrorKind = serr.Kind
	run.FinishedAt = time.Now()

	if err := o.record(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn().Err(err).Msg("Failed to record failed run")
	}

	logger.Error().
		Err(serr).
		Str("key", string(run.Key)).
		Str("stage", string(serr.Stage)).
		Str("kind", string(serr.Kind)).
		Str("durable_state", string(run.Durable)).
		Msg("Workflow run failed")
	publish(ctx, o.deps.Events, interfaces.EventRunFailed, run, map[string]interface{}{
		"stage": string(serr.Stage),
		"kind":  string(serr.Kind),
	})
}

func (o *Orchestrator) record(ctx context.Context, run *models.WorkflowRun) error {
	run.UpdatedAt = time.Now()
	if err := o.deps.Ledger.Put(ctx, entryFromRun(run)); err != nil {
		return fmt.Errorf("failed to write ledger entry %s: %w", run.Key, err)
	}
	return nil
}

func entryFromRun(run *models.WorkflowRun) *models.LedgerEntry {
	entry := &models.LedgerEntry{
		Key:           run.Key,
		Title:         run.Topic.Title,
		Language:      run.Topic.Language,
		State:         run.Durable,
		Outcome:       run.Outcome,
		ErrorKind:     run.ErrorKind,
		RunID:         run.ID,
		Source:        run.Source,
		Job:           run.Job,
		ConvertedPath: run.ConvertedPath,
		UpdatedAt:     run.UpdatedAt,
	}
	if run.Artifact != nil {
		entry.ArtifactPath = run.Artifact.Path
		entry.ArtifactVia = run.Artifact.Method
	}
	if n := len(run.Failures); n > 0 {
		entry.LastError = run.Failures[n-1].Message
	}
	return entry
}

func resumeFrom(run *models.WorkflowRun, entry *models.LedgerEntry) {
	run.State = entry.State
	run.Durable = entry.State
	run.Source = entry.Source
	run.Job = entry.Job
	run.ConvertedPath = entry.ConvertedPath
	if entry.ArtifactPath != "" {
		run.Artifact = &models.ArtifactHandle{Path: entry.ArtifactPath, Method: entry.ArtifactVia}
	}
	if run.State == "" || run.State == models.StateFailed || run.State == models.StateRecovering {
		run.State = models.StateInit
		run.Durable = models.StateInit
	}
	run.Resumed = run.Durable != models.StateInit
}
