package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/noterang/internal/models"
)

// Authenticator verifies (and where possible refreshes) the remote session
type Authenticator interface {
	// EnsureValidSession returns nil when the session is usable.
	// An expired session that could not be refreshed wraps ErrAuthExpired.
	EnsureValidSession(ctx context.Context) error
}

// SourceResolver maps a topic to its remote resource
type SourceResolver interface {
	// FindOrCreate looks up the resource for topic.Key() and creates it only when absent.
	// More than one match, or a match in an unknown partial state, wraps ErrSourceAmbiguous.
	FindOrCreate(ctx context.Context, topic models.Topic) (models.SourceRef, error)
}

// Generator starts and polls remote artifact generation
type Generator interface {
	Start(ctx context.Context, source models.SourceRef, queries []string, focus, language string) (models.JobRef, error)
	Poll(ctx context.Context, job models.JobRef) (models.PollStatus, error)
}

// StallHelper is the intervention used when generation polling stalls
type StallHelper interface {
	// Nudge performs an alternate completion check or nudge action and reports what it saw
	Nudge(ctx context.Context, job models.JobRef) (models.PollStatus, error)
}

// ExportMethod is one independent way of exporting a generated artifact
type ExportMethod interface {
	Name() string
	// Attempt must return promptly once ctx is done; the browser is shared
	// and the next method starts as soon as this one returns
	Attempt(ctx context.Context, ref models.ArtifactRef, timeout time.Duration) (models.ArtifactHandle, error)
}

// Converter turns an exported artifact into the target presentation format
type Converter interface {
	// Convert returns the converted file path; malformed or missing input wraps ErrConversionFailed
	Convert(ctx context.Context, handle models.ArtifactHandle) (string, error)
}

// DiagnosticCapturer stores failure snapshots for offline inspection
type DiagnosticCapturer interface {
	Capture(ctx context.Context, snapshot models.DiagnosticSnapshot) error
}
