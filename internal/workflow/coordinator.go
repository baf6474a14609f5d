package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noterang/internal/common"
	"github.com/ternarybob/noterang/internal/interfaces"
	"github.com/ternarybob/noterang/internal/models"
)

// Coordinator runs a batch of topics. Parallel-eligible stages run
// concurrently up to the gate limit; EXPORT and CONVERT are serialized on the
// gate's exclusive permit. One topic's failure never affects its siblings.
type Coordinator struct {
	orchestrator *Orchestrator
	session      *Session
	events       interfaces.EventService
	logger       arbor.ILogger
}

// NewCoordinator creates a batch coordinator
func NewCoordinator(logger arbor.ILogger, orchestrator *Orchestrator, session *Session, events interfaces.EventService) *Coordinator {
	return &Coordinator{
		orchestrator: orchestrator,
		session:      session,
		events:       events,
		logger:       logger,
	}
}

// Validate prepares every topic and rejects duplicate keys.
// Errors are ConfigErrors.
func (c *Coordinator) Validate(topics []models.Topic) ([]models.Topic, error) {
	if len(topics) == 0 {
		return nil, &ConfigError{Err: ErrNoTopics}
	}

	prepared := make([]models.Topic, 0, len(topics))
	seen := make(map[models.TopicKey]int, len(topics))
	for i, topic := range topics {
		p, err := c.orchestrator.Prepare(topic)
		if err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("topic %d: %w", i+1, err)}
		}
		key := p.Key()
		if first, ok := seen[key]; ok {
			return nil, &ConfigError{Err: fmt.Errorf("%w: topics %d and %d share key %q", ErrDuplicateTopic, first+1, i+1, key)}
		}
		seen[key] = i
		prepared = append(prepared, p)
	}
	return prepared, nil
}

// Run processes topics and returns every topic's terminal run keyed by topic key.
// The only error is a ConfigError raised before any workflow starts.
func (c *Coordinator) Run(ctx context.Context, topics []models.Topic) (map[models.TopicKey]*models.WorkflowRun, error) {
	prepared, err := c.Validate(topics)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	c.logger.Info().
		Int("topics", len(prepared)).
		Int("concurrency_limit", c.orchestrator.gate.Limit()).
		Msg("Starting batch")

	// Authenticate once up front; topics share the validated session
	if err := c.session.Ensure(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Initial authentication failed, topics will retry it")
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[models.TopicKey]*models.WorkflowRun, len(prepared))
	)

	store := func(key models.TopicKey, run *models.WorkflowRun) {
		mu.Lock()
		defer mu.Unlock()
		results[key] = run
	}

	// Goroutines start in submission order so equally ready topics reach the
	// FIFO gates in that order
	for _, topic := range prepared {
		topic := topic
		key := topic.Key()
		wg.Add(1)

		common.SafeGoWithRecover(c.logger, "topic:"+string(key), func() {
			run, err := c.orchestrator.Advance(ctx, topic)
			if err != nil {
				run = failedRun(topic, KindOf(err), err)
			}
			store(key, run)
			wg.Done()
		}, func(recovered interface{}) {
			store(key, failedRun(topic, models.ErrorKindTransient, fmt.Errorf("workflow panicked: %v", recovered)))
			wg.Done()
		})
	}

	wg.Wait()

	succeeded := 0
	for _, run := range results {
		if run.Outcome == models.OutcomeSucceeded {
			succeeded++
		}
	}

	c.logger.Info().
		Int("topics", len(results)).
		Int("succeeded", succeeded).
		Int("failed", len(results)-succeeded).
		Dur("duration", time.Since(started)).
		Msg("Batch finished")

	if c.events != nil {
		_ = c.events.Publish(ctx, interfaces.Event{
			Type: interfaces.EventBatchCompleted,
			Payload: map[string]interface{}{
				"topics":    len(results),
				"succeeded": succeeded,
			},
		})
	}

	return results, nil
}

func failedRun(topic models.Topic, kind models.ErrorKind, err error) *models.WorkflowRun {
	run := models.NewWorkflowRun(common.NewRunID(), topic)
	run.State = models.StateFailed
	run.Outcome = models.OutcomeFailed
	run.ErrorKind = kind
	run.FinishedAt = time.Now()
	run.Failures = append(run.Failures, models.StageFailure{
		Kind:    kind,
		Message: err.Error(),
		At:      run.FinishedAt,
	})
	return run
}
