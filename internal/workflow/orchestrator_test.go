package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/noterang/internal/interfaces"
	"github.com/ternarybob/noterang/internal/models"
)

func ankleSprain() models.Topic {
	return models.Topic{
		Title:    "Ankle sprain",
		Queries:  []string{"ankle sprain rehabilitation", "ankle proprioception exercises"},
		Focus:    "return to sport",
		Language: "ko",
	}
}

func TestAdvance_CompletesAndRerunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t)
	topic := ankleSprain()

	first, err := o.Advance(context.Background(), topic)
	require.NoError(t, err)
	assert.Equal(t, models.StateDone, first.State)
	assert.Equal(t, models.OutcomeSucceeded, first.Outcome)
	assert.False(t, first.Resumed)

	pdf := filepath.Join(h.options.DownloadDirectory, topic.FileStem()+".pdf")
	pptx := filepath.Join(h.options.DownloadDirectory, topic.FileStem()+".pptx")
	assert.Equal(t, []string{pdf, pptx}, first.ArtifactPaths())
	assert.Equal(t, "cli", first.Artifact.Method)

	entry := h.ledger.entry(topic.Key())
	assert.Equal(t, models.StateDone, entry.State)
	assert.Equal(t, models.OutcomeSucceeded, entry.Outcome)

	second, err := o.Advance(context.Background(), topic)
	require.NoError(t, err)
	assert.True(t, second.Resumed)
	assert.Equal(t, models.OutcomeSucceeded, second.Outcome)
	assert.Equal(t, first.ArtifactPaths(), second.ArtifactPaths())

	// Nothing remote was created or run twice
	assert.Equal(t, 1, h.resolver.created)
	assert.Equal(t, 1, h.resolver.calls)
	assert.Equal(t, 1, h.generator.startCount(topic.RemoteName()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.methods[0].calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.converter.calls))
}

func TestAdvance_RecordsEveryTransition(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t)

	run, err := o.Advance(context.Background(), ankleSprain())
	require.NoError(t, err)
	require.Equal(t, models.OutcomeSucceeded, run.Outcome)

	// start + six stages + done
	assert.Equal(t, 8, h.ledger.puts)
	for _, stage := range models.Stages() {
		assert.Equal(t, 1, run.Attempts[stage], string(stage))
	}
}

func TestAdvance_RetryBudgetBoundsAttempts(t *testing.T) {
	h := newHarness(t)
	h.resolver.errs = []error{errFlaky}
	o := h.orchestrator(t)
	topic := ankleSprain()

	run, err := o.Advance(context.Background(), topic)
	require.NoError(t, err)

	// Budget of 2 retries allows exactly 3 attempts
	assert.Equal(t, 3, h.resolver.calls)
	assert.Equal(t, 3, run.Attempts[models.StageResolveSource])
	assert.Equal(t, models.StateFailed, run.State)
	assert.Equal(t, models.ErrorKindTransient, run.ErrorKind)
	assert.Len(t, run.Failures, 3)
	assert.Equal(t, 3, h.capturer.count())

	entry := h.ledger.entry(topic.Key())
	assert.Equal(t, models.StateAuthenticated, entry.State)
	assert.Equal(t, models.OutcomeFailed, entry.Outcome)
	assert.Contains(t, entry.LastError, "flaky remote")
}

func TestAdvance_TransientFailureRecovers(t *testing.T) {
	h := newHarness(t)
	h.resolver.errs = []error{errFlaky, nil}
	o := h.orchestrator(t)

	run, err := o.Advance(context.Background(), ankleSprain())
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeSucceeded, run.Outcome)
	assert.Equal(t, 2, run.Attempts[models.StageResolveSource])
	if assert.Len(t, run.Failures, 1) {
		assert.Equal(t, models.StageResolveSource, run.Failures[0].Stage)
	}
}

func TestAdvance_AmbiguousSourceIsFatal(t *testing.T) {
	h := newHarness(t)
	h.resolver.errs = []error{fmt.Errorf("2 notebooks named %q: %w", "Ankle sprain (ko)", interfaces.ErrSourceAmbiguous)}
	o := h.orchestrator(t)

	run, err := o.Advance(context.Background(), ankleSprain())
	require.NoError(t, err)

	assert.Equal(t, 1, h.resolver.calls)
	assert.Equal(t, models.ErrorKindSourceAmbiguous, run.ErrorKind)
	assert.Equal(t, models.OutcomeFailed, run.Outcome)
}

func TestAdvance_AuthExpiryReauthenticatesWithoutSpendingBudget(t *testing.T) {
	h := newHarness(t)
	h.resolver.errs = []error{interfaces.ErrAuthExpired, nil}
	o := h.orchestrator(t)

	run, err := o.Advance(context.Background(), ankleSprain())
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeSucceeded, run.Outcome)
	assert.Equal(t, 1, run.Attempts[models.StageResolveSource])
	// Initial validation plus one renewal
	assert.Equal(t, 2, h.auth.count())
}

func TestAdvance_ReauthLimit(t *testing.T) {
	h := newHarness(t)
	h.resolver.errs = []error{interfaces.ErrAuthExpired}
	o := h.orchestrator(t)

	run, err := o.Advance(context.Background(), ankleSprain())
	require.NoError(t, err)

	assert.Equal(t, models.ErrorKindAuthExpired, run.ErrorKind)
	assert.Equal(t, h.options.ReauthLimit+1, h.resolver.calls)
	assert.Equal(t, h.options.ReauthLimit+1, h.auth.count())
}

func TestAdvance_ResumesFromDurableState(t *testing.T) {
	h := newHarness(t)
	topic := ankleSprain()
	require.NoError(t, h.ledger.Put(context.Background(), &models.LedgerEntry{
		Key:      topic.Key(),
		Title:    topic.Title,
		Language: topic.Language,
		State:    models.StateGenerated,
		Outcome:  models.OutcomeFailed,
		Source:   &models.SourceRef{ID: "nb-7", Name: topic.RemoteName()},
		Job:      &models.JobRef{SourceID: "nb-7", ID: "task-7"},
	}))
	o := h.orchestrator(t)

	run, err := o.Advance(context.Background(), topic)
	require.NoError(t, err)

	assert.True(t, run.Resumed)
	assert.Equal(t, models.OutcomeSucceeded, run.Outcome)
	assert.Equal(t, 0, h.resolver.calls)
	assert.Equal(t, 0, h.generator.startCount(topic.RemoteName()))
	assert.Equal(t, 0, run.Attempts[models.StageGenerate])
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.methods[0].calls))
	assert.Equal(t, "nb-7", run.Source.ID)
}

func TestAdvance_ExportFailureResumesWithoutRegenerating(t *testing.T) {
	h := newHarness(t)
	h.options.Policies[models.StageExport] = StagePolicy{Stage: models.StageExport, Timeout: time.Second, RetryBudget: 1}
	h.methods = []*fakeMethod{
		{name: "cli", err: errors.New("download returned 403")},
		{name: "menu", err: errors.New("menu item not found")},
	}
	topic := ankleSprain()

	run, err := h.orchestrator(t).Advance(context.Background(), topic)
	require.NoError(t, err)
	assert.Equal(t, models.ErrorKindExportExhausted, run.ErrorKind)
	assert.Equal(t, 2, run.Attempts[models.StageExport])
	assert.Len(t, run.StrategyAttempts, 2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&h.methods[0].calls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&h.methods[1].calls))
	assert.Equal(t, models.StateGenerated, h.ledger.entry(topic.Key()).State)

	// Fix the menu path and run again: only EXPORT and CONVERT execute
	h.methods[1].err = nil
	rerun, err := h.orchestrator(t).Advance(context.Background(), topic)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSucceeded, rerun.Outcome)
	assert.True(t, rerun.Resumed)
	assert.Equal(t, "menu", rerun.Artifact.Method)
	assert.Equal(t, 1, h.generator.startCount(topic.RemoteName()))
	assert.Equal(t, 1, h.resolver.calls)
}

func TestAdvance_ExportStageDeadlineIsExportExhausted(t *testing.T) {
	h := newHarness(t)
	h.options.Policies[models.StageExport] = StagePolicy{Stage: models.StageExport, Timeout: 700 * time.Millisecond, RetryBudget: 0}
	h.methods = []*fakeMethod{
		{name: "cli", delay: 2 * time.Second},
		{name: "menu", delay: 2 * time.Second},
		{name: "button", delay: 2 * time.Second},
	}

	run, err := h.orchestrator(t).Advance(context.Background(), ankleSprain())
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeFailed, run.Outcome)
	assert.Equal(t, models.ErrorKindExportExhausted, run.ErrorKind)
	require.Len(t, run.StrategyAttempts, 3)
	assert.Equal(t, "button", run.StrategyAttempts[2].Method)
	assert.Equal(t, int32(0), atomic.LoadInt32(&h.methods[2].calls))
}

func TestAdvance_ConversionFailure(t *testing.T) {
	h := newHarness(t)
	h.converter.err = errors.New("soffice exited with status 1")
	topic := ankleSprain()

	run, err := h.orchestrator(t).Advance(context.Background(), topic)
	require.NoError(t, err)

	assert.Equal(t, models.ErrorKindConversionFailed, run.ErrorKind)
	assert.Equal(t, int32(2), atomic.LoadInt32(&h.converter.calls))
	entry := h.ledger.entry(topic.Key())
	assert.Equal(t, models.StateExported, entry.State)
	assert.NotEmpty(t, entry.ArtifactPath)
}

func TestAdvance_CancellationKeepsDurableState(t *testing.T) {
	h := newHarness(t)
	topic := ankleSprain()
	h.generator.doneAt[topic.RemoteName()] = 0
	o := h.orchestrator(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	run, err := o.Advance(ctx, topic)
	require.NoError(t, err)

	assert.Equal(t, models.ErrorKindCancelled, run.ErrorKind)
	assert.Equal(t, models.StateFailed, run.State)
	entry := h.ledger.entry(topic.Key())
	assert.Equal(t, models.StateGenerating, entry.State)
	assert.Equal(t, models.ErrorKindCancelled, entry.ErrorKind)
	assert.NotNil(t, entry.Job)
}

func TestAdvance_FailedGenerationRestartsGenerate(t *testing.T) {
	h := newHarness(t)
	topic := ankleSprain()
	h.generator.failFirst[topic.RemoteName()] = true
	o := h.orchestrator(t)

	run, err := o.Advance(context.Background(), topic)
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeSucceeded, run.Outcome)
	assert.Equal(t, 2, h.generator.startCount(topic.RemoteName()))
	assert.Equal(t, 2, run.Attempts[models.StageGenerate])
	assert.Equal(t, topic.RemoteName()+"#2", run.Job.ID)
}

func TestAdvance_FailedGenerationRespectsGenerateBudget(t *testing.T) {
	h := newHarness(t)
	h.options.Policies[models.StageGenerate] = StagePolicy{Stage: models.StageGenerate, Timeout: time.Second, RetryBudget: 0}
	topic := ankleSprain()
	h.generator.failFirst[topic.RemoteName()] = true

	run, err := h.orchestrator(t).Advance(context.Background(), topic)
	require.NoError(t, err)

	assert.Equal(t, models.ErrorKindGenerationFailed, run.ErrorKind)
	assert.Equal(t, 1, h.generator.startCount(topic.RemoteName()))
}

func TestAdvance_StallHelperCompletesGeneration(t *testing.T) {
	h := newHarness(t)
	h.helper.status = models.PollDone
	topic := ankleSprain()
	h.generator.doneAt[topic.RemoteName()] = 0

	run, err := h.orchestrator(t).Advance(context.Background(), topic)
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeSucceeded, run.Outcome)
	assert.Equal(t, 1, run.Escalations)
	assert.Equal(t, 1, h.helper.total())
}

func TestAdvance_PersistentStallTimesOut(t *testing.T) {
	h := newHarness(t)
	h.options.Policies[models.StageAwaitCompletion] = StagePolicy{Stage: models.StageAwaitCompletion, Timeout: time.Second, RetryBudget: 0}
	topic := ankleSprain()
	h.generator.doneAt[topic.RemoteName()] = 0

	run, err := h.orchestrator(t).Advance(context.Background(), topic)
	require.NoError(t, err)

	assert.Equal(t, models.ErrorKindGenerationTimeout, run.ErrorKind)
	assert.Equal(t, 1, h.helper.total())
	assert.Equal(t, 1, run.Escalations)
	assert.Equal(t, int32(0), atomic.LoadInt32(&h.methods[0].calls))
}

func TestAdvance_CaptureFailuresDoNotChangeOutcome(t *testing.T) {
	for _, capturer := range []*fakeCapturer{{err: errors.New("disk full")}, {panics: true}} {
		h := newHarness(t)
		h.capturer = capturer
		h.resolver.errs = []error{errFlaky, nil}

		run, err := h.orchestrator(t).Advance(context.Background(), ankleSprain())
		require.NoError(t, err)

		assert.Equal(t, models.OutcomeSucceeded, run.Outcome)
		assert.Equal(t, 1, capturer.count())
	}
}

func TestAdvance_RejectsInvalidTopics(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t)

	tests := []struct {
		name  string
		topic models.Topic
	}{
		{"missing title", models.Topic{Language: "ko"}},
		{"unsupported language", models.Topic{Title: "Ankle sprain", Language: "xx"}},
		{"empty query", models.Topic{Title: "Ankle sprain", Queries: []string{""}}},
		{"unknown design", models.Topic{Title: "Ankle sprain", Design: "neon-vapor"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Advance(context.Background(), tt.topic)
			var cerr *ConfigError
			assert.ErrorAs(t, err, &cerr)
		})
	}
	assert.Equal(t, 0, h.resolver.calls)
}

func TestAdvance_DesignPromptPrecedesFocus(t *testing.T) {
	h := newHarness(t)
	topic := ankleSprain()
	topic.Design = "medical-care"

	run, err := h.orchestrator(t).Advance(context.Background(), topic)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeSucceeded, run.Outcome)

	focus := h.generator.focus[topic.RemoteName()]
	preset, ok := models.LookupDesign("medical-care")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(focus, preset.Prompt()))
	assert.True(t, strings.HasSuffix(focus, "Focus: return to sport"))
}

func TestAdvance_DefaultLanguageApplied(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t)

	run, err := o.Advance(context.Background(), models.Topic{Title: "Plantar fasciitis"})
	require.NoError(t, err)
	assert.Equal(t, "ko", run.Topic.Language)
	assert.Equal(t, models.TopicKey("plantar fasciitis|ko"), run.Key)
}

func TestAdvance_RejectsConcurrentRunOfSameKey(t *testing.T) {
	h := newHarness(t)
	h.resolver.delay = 50 * time.Millisecond
	o := h.orchestrator(t)
	topic := ankleSprain()

	done := make(chan *models.WorkflowRun, 1)
	go func() {
		run, _ := o.Advance(context.Background(), topic)
		done <- run
	}()

	require.Eventually(t, func() bool {
		_, err := h.ledger.Get(context.Background(), topic.Key())
		return err == nil
	}, time.Second, time.Millisecond)

	_, err := o.Advance(context.Background(), topic)
	assert.ErrorIs(t, err, ErrTopicActive)

	run := <-done
	assert.Equal(t, models.OutcomeSucceeded, run.Outcome)
}
