package browser

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noterang/internal/common"
	"github.com/ternarybob/noterang/internal/interfaces"
	"github.com/ternarybob/noterang/internal/models"
)

var pdfMagic = []byte("%PDF")

// FileWatchExport waits for a PDF to land in the download directory.
// It picks up downloads started by an earlier method that finished late.
type FileWatchExport struct {
	interval time.Duration
	lookback time.Duration
	logger   arbor.ILogger
}

var _ interfaces.ExportMethod = (*FileWatchExport)(nil)

// NewFileWatchExport creates the file watch method. Browser downloads
// without an extension are accepted when modified within lookback.
func NewFileWatchExport(interval, lookback time.Duration, logger arbor.ILogger) *FileWatchExport {
	if interval <= 0 {
		interval = time.Second
	}
	if lookback <= 0 {
		lookback = 5 * time.Minute
	}
	return &FileWatchExport{interval: interval, lookback: lookback, logger: logger}
}

// Name implements interfaces.ExportMethod
func (f *FileWatchExport) Name() string {
	return common.ExportMethodFileWatch
}

type fileState struct {
	size    int64
	modTime time.Time
}

// Attempt implements interfaces.ExportMethod
func (f *FileWatchExport) Attempt(ctx context.Context, ref models.ArtifactRef, timeout time.Duration) (models.ArtifactHandle, error) {
	if err := os.MkdirAll(ref.OutputDir, 0755); err != nil {
		return models.ArtifactHandle{}, fmt.Errorf("failed to create download directory: %w", err)
	}

	started := time.Now()
	baseline := f.scan(ref.OutputDir)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	// A candidate is accepted once its size is unchanged between two scans
	pending := map[string]int64{}

	for {
		for path, state := range f.scan(ref.OutputDir) {
			if !f.candidate(path, state, baseline, started) {
				continue
			}
			if size, seen := pending[path]; seen && size == state.size && state.size > 0 {
				f.logger.Debug().Str("path", path).Int64("bytes", state.size).Msg("Download detected")
				return finalize(path, ref, f.Name())
			}
			pending[path] = state.size
		}

		select {
		case <-ctx.Done():
			return models.ArtifactHandle{}, fmt.Errorf("no new PDF in %s: %w", ref.OutputDir, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (f *FileWatchExport) candidate(path string, state fileState, baseline map[string]fileState, started time.Time) bool {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf":
		before, existed := baseline[path]
		return !existed || !before.modTime.Equal(state.modTime) || before.size != state.size
	case "":
		return state.modTime.After(started.Add(-f.lookback)) && hasPDFMagic(path)
	}
	return false
}

func (f *FileWatchExport) scan(dir string) map[string]fileState {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	states := make(map[string]fileState, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		states[filepath.Join(dir, entry.Name())] = fileState{size: info.Size(), modTime: info.ModTime()}
	}
	return states
}

func hasPDFMagic(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	head := make([]byte, len(pdfMagic))
	if _, err := file.Read(head); err != nil {
		return false
	}
	return bytes.Equal(head, pdfMagic)
}
