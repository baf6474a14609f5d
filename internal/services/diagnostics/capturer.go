// Package diagnostics writes failure snapshots for offline inspection.
package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noterang/internal/common"
	"github.com/ternarybob/noterang/internal/interfaces"
	"github.com/ternarybob/noterang/internal/models"
)

// Screenshotter captures the interactive session's current page
type Screenshotter interface {
	Screenshot(ctx context.Context, path string) error
}

// Capturer writes <dir>/<snapshot id>.json and, when the failing stage held
// the exclusive session permit, <dir>/<snapshot id>.png
type Capturer struct {
	dir         string
	screenshots Screenshotter
	// skip is returned by the screenshotter when there is nothing to capture
	skip   error
	logger arbor.ILogger
}

var _ interfaces.DiagnosticCapturer = (*Capturer)(nil)

// NewCapturer creates a capturer. A nil screenshotter disables screenshots;
// skip is an error the screenshotter returns when no page is open.
func NewCapturer(dir string, screenshots Screenshotter, skip error, logger arbor.ILogger) *Capturer {
	return &Capturer{dir: dir, screenshots: screenshots, skip: skip, logger: logger}
}

// Capture implements interfaces.DiagnosticCapturer
func (c *Capturer) Capture(ctx context.Context, snapshot models.DiagnosticSnapshot) error {
	if snapshot.ID == "" {
		snapshot.ID = common.NewSnapshotID()
	}
	if snapshot.CapturedAt.IsZero() {
		snapshot.CapturedAt = time.Now()
	}

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("failed to create diagnostics directory: %w", err)
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	path := filepath.Join(c.dir, snapshot.ID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	logEvent := c.logger.Info().
		Str("run_id", snapshot.RunID).
		Str("stage", string(snapshot.Stage)).
		Str("kind", string(snapshot.Kind)).
		Str("path", path)

	if snapshot.ExclusiveHeld && c.screenshots != nil {
		shot := filepath.Join(c.dir, snapshot.ID+".png")
		switch err := c.screenshots.Screenshot(ctx, shot); {
		case err == nil:
			logEvent = logEvent.Str("screenshot", shot)
		case c.skip != nil && errors.Is(err, c.skip):
		default:
			c.logger.Warn().Err(err).Str("run_id", snapshot.RunID).Msg("Failed to capture diagnostic screenshot")
		}
	}

	logEvent.Msg("Diagnostic snapshot captured")
	return nil
}
