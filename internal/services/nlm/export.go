package nlm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noterang/internal/common"
	"github.com/ternarybob/noterang/internal/interfaces"
	"github.com/ternarybob/noterang/internal/models"
)

// ExportMethod downloads the slide deck PDF through "download slide-deck"
type ExportMethod struct {
	client *Client
	logger arbor.ILogger
}

var _ interfaces.ExportMethod = (*ExportMethod)(nil)

// NewExportMethod creates the CLI export method
func NewExportMethod(client *Client, logger arbor.ILogger) *ExportMethod {
	return &ExportMethod{client: client, logger: logger}
}

// Name implements interfaces.ExportMethod
func (m *ExportMethod) Name() string {
	return common.ExportMethodCLI
}

// Attempt implements interfaces.ExportMethod
func (m *ExportMethod) Attempt(ctx context.Context, ref models.ArtifactRef, timeout time.Duration) (models.ArtifactHandle, error) {
	if err := os.MkdirAll(ref.OutputDir, 0755); err != nil {
		return models.ArtifactHandle{}, fmt.Errorf("failed to create download directory: %w", err)
	}

	path := filepath.Join(ref.OutputDir, ref.FileStem+".pdf")
	if err := m.client.DownloadSlideDeck(ctx, ref.SourceID, path); err != nil {
		return models.ArtifactHandle{}, fmt.Errorf("download slide-deck: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return models.ArtifactHandle{}, fmt.Errorf("download reported success but %s is missing: %w", path, err)
	}
	if info.Size() == 0 {
		return models.ArtifactHandle{}, fmt.Errorf("downloaded file %s is empty", path)
	}

	m.logger.Debug().Str("path", path).Int64("bytes", info.Size()).Msg("Slide deck downloaded")
	return models.ArtifactHandle{Path: path, Method: m.Name()}, nil
}
