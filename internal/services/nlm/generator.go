package nlm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noterang/internal/interfaces"
	"github.com/ternarybob/noterang/internal/models"
)

// GeneratorOptions tunes research ingestion before slide generation
type GeneratorOptions struct {
	ResearchMode string        // "fast" or "deep"
	ResearchWait time.Duration // max wait for one research task
	ResearchPoll time.Duration // research status interval
}

// Generator imports research for each query and starts slide generation
type Generator struct {
	client  *Client
	options GeneratorOptions
	logger  arbor.ILogger
}

var (
	_ interfaces.Generator   = (*Generator)(nil)
	_ interfaces.StallHelper = (*Generator)(nil)
)

// NewGenerator creates a generator
func NewGenerator(client *Client, options GeneratorOptions, logger arbor.ILogger) *Generator {
	if options.ResearchMode == "" {
		options.ResearchMode = "fast"
	}
	if options.ResearchWait <= 0 {
		options.ResearchWait = 2 * time.Minute
	}
	if options.ResearchPoll <= 0 {
		options.ResearchPoll = 5 * time.Second
	}
	return &Generator{client: client, options: options, logger: logger}
}

// Start researches every query into the notebook, then requests the slide
// deck. A query whose research fails or does not finish in time is skipped;
// session and cancellation errors abort.
func (g *Generator) Start(ctx context.Context, source models.SourceRef, queries []string, focus, language string) (models.JobRef, error) {
	imported := 0
	for _, query := range queries {
		n, err := g.research(ctx, source.ID, query)
		if err != nil {
			if errors.Is(err, interfaces.ErrAuthExpired) || ctx.Err() != nil {
				return models.JobRef{}, err
			}
			g.logger.Warn().Err(err).Str("query", query).Msg("Research query skipped")
			continue
		}
		imported += n
	}

	g.logger.Info().
		Str("notebook", source.ID).
		Int("queries", len(queries)).
		Int("sources", imported).
		Msg("Research imported")

	artifactID, err := g.client.CreateSlides(ctx, source.ID, language, focus)
	if err != nil {
		return models.JobRef{}, fmt.Errorf("slides create: %w", err)
	}

	g.logger.Info().
		Str("notebook", source.ID).
		Str("artifact", artifactID).
		Str("language", language).
		Msg("Slide generation started")
	return models.JobRef{SourceID: source.ID, ID: artifactID}, nil
}

func (g *Generator) research(ctx context.Context, notebookID, query string) (int, error) {
	taskID, err := g.client.StartResearch(ctx, notebookID, query, g.options.ResearchMode)
	if err != nil {
		return 0, fmt.Errorf("research start: %w", err)
	}

	deadline := time.NewTimer(g.options.ResearchWait)
	defer deadline.Stop()
	ticker := time.NewTicker(g.options.ResearchPoll)
	defer ticker.Stop()

	for {
		done, err := g.client.ResearchCompleted(ctx, notebookID)
		if err != nil && (errors.Is(err, interfaces.ErrAuthExpired) || ctx.Err() != nil) {
			return 0, err
		}
		if done {
			break
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-deadline.C:
			return 0, fmt.Errorf("research task %s not completed after %s", taskID, g.options.ResearchWait)
		case <-ticker.C:
		}
	}

	return g.client.ImportResearch(ctx, notebookID, taskID)
}

// Poll checks the job's slide deck artifact
func (g *Generator) Poll(ctx context.Context, job models.JobRef) (models.PollStatus, error) {
	status, err := g.client.StudioStatus(ctx, job.SourceID)
	if err != nil {
		return models.PollPending, err
	}

	decks := status.SlideDecks()
	for _, deck := range decks {
		if deck.ID == job.ID {
			return pollStatus(normalizeStatus(deck.Status)), nil
		}
	}
	if len(decks) > 0 {
		// Decks from earlier generations do not count
		return models.PollPending, nil
	}
	return pollStatus(status.Status), nil
}

// Nudge is the stall helper: an alternate completion check that accepts any
// completed slide deck of the notebook, tolerating artifact ID drift
func (g *Generator) Nudge(ctx context.Context, job models.JobRef) (models.PollStatus, error) {
	status, err := g.client.StudioStatus(ctx, job.SourceID)
	if err != nil {
		return models.PollPending, err
	}

	decks := status.SlideDecks()
	g.logger.Info().
		Str("notebook", job.SourceID).
		Str("artifact", job.ID).
		Int("slide_decks", len(decks)).
		Str("status", status.Status).
		Msg("Stall check")

	if len(decks) == 0 {
		return pollStatus(status.Status), nil
	}
	return pollStatus(aggregate(decks)), nil
}

func pollStatus(status string) models.PollStatus {
	switch status {
	case StudioCompleted:
		return models.PollDone
	case StudioFailed:
		return models.PollError
	}
	return models.PollPending
}
