package nlm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noterang/internal/interfaces"
	"github.com/ternarybob/noterang/internal/models"
)

// SourceResolver maps a topic to exactly one notebook named after its key
type SourceResolver struct {
	client *Client
	logger arbor.ILogger
}

var _ interfaces.SourceResolver = (*SourceResolver)(nil)

// NewSourceResolver creates a resolver
func NewSourceResolver(client *Client, logger arbor.ILogger) *SourceResolver {
	return &SourceResolver{client: client, logger: logger}
}

// FindOrCreate returns the topic's notebook, creating it when none exists.
// Several notebooks with the topic's name, or one whose slide generation is
// still running, cannot be disambiguated and fail with ErrAmbiguous.
func (r *SourceResolver) FindOrCreate(ctx context.Context, topic models.Topic) (models.SourceRef, error) {
	name := topic.RemoteName()

	notebooks, err := r.client.ListNotebooks(ctx)
	if err != nil {
		return models.SourceRef{}, fmt.Errorf("list notebooks: %w", err)
	}

	var matches []Notebook
	for _, nb := range notebooks {
		if nb.Title == name {
			matches = append(matches, nb)
		}
	}

	switch len(matches) {
	case 0:
		id, err := r.client.CreateNotebook(ctx, name)
		if err != nil {
			return models.SourceRef{}, fmt.Errorf("create notebook %q: %w", name, err)
		}
		r.logger.Info().Str("notebook", id).Str("name", name).Msg("Notebook created")
		return models.SourceRef{ID: id, Name: name}, nil

	case 1:
		nb := matches[0]
		status, err := r.client.StudioStatus(ctx, nb.ID)
		if err != nil {
			if errors.Is(err, interfaces.ErrAuthExpired) || ctx.Err() != nil {
				return models.SourceRef{}, fmt.Errorf("studio status %s: %w", nb.ID, err)
			}
			// A notebook without studio artifacts may not report a status
			r.logger.Warn().Err(err).Str("notebook", nb.ID).Msg("Studio status unavailable")
		}
		if err == nil && status.Status == StudioInProgress {
			return models.SourceRef{}, fmt.Errorf("%w: notebook %s (%q) has a generation in progress", ErrAmbiguous, nb.ID, name)
		}
		r.logger.Info().Str("notebook", nb.ID).Str("name", name).Msg("Reusing existing notebook")
		return models.SourceRef{ID: nb.ID, Name: name}, nil
	}

	ids := make([]string, len(matches))
	for i, nb := range matches {
		ids[i] = nb.ID
	}
	return models.SourceRef{}, fmt.Errorf("%w: %d notebooks named %q: %v", ErrAmbiguous, len(matches), name, ids)
}
