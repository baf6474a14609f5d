package workflow

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/noterang/internal/models"
)

func topics(titles ...string) []models.Topic {
	out := make([]models.Topic, len(titles))
	for i, title := range titles {
		out[i] = models.Topic{Title: title, Queries: []string{title + " treatment"}, Language: "ko"}
	}
	return out
}

func TestCoordinator_RespectsConcurrencyLimit(t *testing.T) {
	h := newHarness(t)
	h.options.ConcurrencyLimit = 2
	h.resolver.delay = 20 * time.Millisecond
	h.resolver.inside = &gauge{}

	results, err := h.coordinator(t).Run(context.Background(), topics("Ankle sprain", "Tennis elbow", "Rotator cuff"))
	require.NoError(t, err)

	assert.Len(t, results, 3)
	for key, run := range results {
		assert.Equal(t, models.OutcomeSucceeded, run.Outcome, string(key))
	}
	assert.LessOrEqual(t, h.resolver.inside.peak(), 2)
	assert.Equal(t, 3, h.resolver.created)
}

func TestCoordinator_ExclusiveStagesNeverInterleave(t *testing.T) {
	h := newHarness(t)
	h.options.ConcurrencyLimit = 3
	log := &actionLog{}
	h.methods = []*fakeMethod{{name: "cli", delay: 5 * time.Millisecond, log: log}}
	h.converter = &fakeConverter{delay: 5 * time.Millisecond, log: log}

	results, err := h.coordinator(t).Run(context.Background(), topics("Ankle sprain", "Tennis elbow", "Rotator cuff"))
	require.NoError(t, err)
	require.Len(t, results, 3)

	events := log.snapshot()
	require.Len(t, events, 12)
	for i := 0; i < len(events); i += 2 {
		enter, exit := events[i], events[i+1]
		require.True(t, strings.HasPrefix(enter, "enter:"), "event %d: %s", i, enter)
		assert.Equal(t, "exit:"+strings.TrimPrefix(enter, "enter:"), exit, "exclusive action interleaved at %d", i)
	}
}

func TestCoordinator_StalledTopicDoesNotBlockSiblings(t *testing.T) {
	h := newHarness(t)
	h.options.Policies[models.StageAwaitCompletion] = StagePolicy{Stage: models.StageAwaitCompletion, Timeout: time.Second, RetryBudget: 0}
	batch := topics("Ankle sprain", "Frozen shoulder")
	h.generator.doneAt[batch[1].RemoteName()] = 0

	results, err := h.coordinator(t).Run(context.Background(), batch)
	require.NoError(t, err)

	fast := results[batch[0].Key()]
	stalled := results[batch[1].Key()]
	require.NotNil(t, fast)
	require.NotNil(t, stalled)

	assert.Equal(t, models.OutcomeSucceeded, fast.Outcome)
	assert.Equal(t, models.ErrorKindGenerationTimeout, stalled.ErrorKind)
	assert.True(t, fast.FinishedAt.Before(stalled.FinishedAt))
	assert.Equal(t, 1, h.helper.total())
	assert.Equal(t, 0, fast.Escalations)
	assert.Equal(t, 1, stalled.Escalations)
}

func TestCoordinator_FailureIsIsolated(t *testing.T) {
	h := newHarness(t)
	batch := topics("Ankle sprain", "Tennis elbow")
	h.generator.failFirst[batch[0].RemoteName()] = true
	h.options.Policies[models.StageGenerate] = StagePolicy{Stage: models.StageGenerate, Timeout: time.Second, RetryBudget: 0}

	results, err := h.coordinator(t).Run(context.Background(), batch)
	require.NoError(t, err)

	assert.Equal(t, models.ErrorKindGenerationFailed, results[batch[0].Key()].ErrorKind)
	assert.Equal(t, models.OutcomeSucceeded, results[batch[1].Key()].Outcome)

	report := BuildReport(time.Now(), results)
	assert.Equal(t, ExitPartial, ExitCode(report))
}

func TestCoordinator_DuplicateKeysRejectedBeforeStart(t *testing.T) {
	h := newHarness(t)

	_, err := h.coordinator(t).Run(context.Background(), topics("Ankle sprain", "ankle  SPRAIN"))

	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.ErrorIs(t, err, ErrDuplicateTopic)
	assert.Equal(t, 0, h.resolver.calls)
	assert.Equal(t, 0, h.auth.count())
}

func TestCoordinator_SameTitleDifferentLanguagesAreDistinct(t *testing.T) {
	h := newHarness(t)
	batch := []models.Topic{
		{Title: "Ankle sprain", Language: "ko"},
		{Title: "Ankle sprain", Language: "en"},
	}

	results, err := h.coordinator(t).Run(context.Background(), batch)
	require.NoError(t, err)

	assert.Len(t, results, 2)
	assert.Equal(t, 2, h.resolver.created)
}

func TestCoordinator_EmptyBatch(t *testing.T) {
	h := newHarness(t)
	_, err := h.coordinator(t).Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoTopics)
}

func TestCoordinator_SharesOneSession(t *testing.T) {
	h := newHarness(t)

	_, err := h.coordinator(t).Run(context.Background(), topics("Ankle sprain", "Tennis elbow", "Rotator cuff"))
	require.NoError(t, err)
	assert.Equal(t, 1, h.auth.count())
}

func TestCoordinator_InitialAuthFailureIsRetriedPerTopic(t *testing.T) {
	h := newHarness(t)
	h.auth.errs = []error{errFlaky}

	results, err := h.coordinator(t).Run(context.Background(), topics("Ankle sprain", "Tennis elbow"))
	require.NoError(t, err)

	for _, run := range results {
		assert.Equal(t, models.OutcomeSucceeded, run.Outcome)
	}
	assert.Equal(t, 2, h.auth.count())
}

func TestCoordinator_CancellationEndsEveryTopic(t *testing.T) {
	h := newHarness(t)
	batch := topics("Ankle sprain", "Tennis elbow")
	for _, topic := range batch {
		h.generator.doneAt[topic.RemoteName()] = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	go func() {
		time.Sleep(15 * time.Millisecond)
		once.Do(cancel)
	}()
	defer once.Do(cancel)

	results, err := h.coordinator(t).Run(ctx, batch)
	require.NoError(t, err)

	for _, topic := range batch {
		run := results[topic.Key()]
		require.NotNil(t, run)
		assert.Equal(t, models.ErrorKindCancelled, run.ErrorKind)
		assert.Equal(t, models.StateGenerating, h.ledger.entry(topic.Key()).State)
	}
}
