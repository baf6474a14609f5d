// Package convert turns an exported slide deck PDF into a presentation file.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noterang/internal/common"
	"github.com/ternarybob/noterang/internal/interfaces"
	"github.com/ternarybob/noterang/internal/models"
)

var (
	// ErrMalformedPDF marks an input pdfcpu cannot read or with too few pages
	ErrMalformedPDF = fmt.Errorf("malformed PDF: %w", interfaces.ErrConversionFailed)

	errEmptyCommand = errors.New("conversion command is empty")
)

// Placeholders substituted in the command template
const (
	PlaceholderInput  = "{input}"
	PlaceholderOutput = "{output}"
	PlaceholderOutDir = "{outdir}"
)

// CommandFunc runs one external command and returns its combined output
type CommandFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Converter preflights the PDF with pdfcpu then runs the command template
type Converter struct {
	command  []string
	format   string
	minPages int
	run      CommandFunc
	logger   arbor.ILogger
}

var _ interfaces.Converter = (*Converter)(nil)

// NewConverter creates a converter from the [convert] section.
// A nil run executes the command with os/exec.
func NewConverter(config common.ConvertConfig, run CommandFunc, logger arbor.ILogger) *Converter {
	if run == nil {
		run = execCommand
	}
	api.DisableConfigDir()
	return &Converter{
		command:  append([]string(nil), config.Command...),
		format:   strings.TrimPrefix(config.OutputFormat, "."),
		minPages: config.MinPages,
		run:      run,
		logger:   logger,
	}
}

// Convert implements interfaces.Converter. The output is written next to
// the input with the configured extension.
func (c *Converter) Convert(ctx context.Context, handle models.ArtifactHandle) (string, error) {
	pages, err := c.preflight(handle.Path)
	if err != nil {
		return "", err
	}

	if len(c.command) == 0 {
		return "", fmt.Errorf("%w: %w", interfaces.ErrConversionFailed, errEmptyCommand)
	}

	outDir := filepath.Dir(handle.Path)
	stem := strings.TrimSuffix(filepath.Base(handle.Path), filepath.Ext(handle.Path))
	output := filepath.Join(outDir, stem+"."+c.format)

	replacer := strings.NewReplacer(
		PlaceholderInput, handle.Path,
		PlaceholderOutput, output,
		PlaceholderOutDir, outDir,
	)
	args := make([]string, len(c.command))
	for i, arg := range c.command {
		args[i] = replacer.Replace(arg)
	}

	// A stale file from an earlier attempt must not pass the output check
	_ = os.Remove(output)

	c.logger.Debug().
		Str("input", handle.Path).
		Int("pages", pages).
		Strs("command", args).
		Msg("Converting artifact")

	combined, err := c.run(ctx, args[0], args[1:]...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %s: %w: %s", interfaces.ErrConversionFailed, args[0], err, strings.TrimSpace(string(combined)))
	}

	info, err := os.Stat(output)
	if err != nil {
		return "", fmt.Errorf("%w: expected output %s: %w", interfaces.ErrConversionFailed, output, err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("%w: output %s is empty", interfaces.ErrConversionFailed, output)
	}

	c.logger.Info().Str("output", output).Int64("bytes", info.Size()).Msg("Artifact converted")
	return output, nil
}

func (c *Converter) preflight(path string) (int, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, fmt.Errorf("%w: %w", interfaces.ErrConversionFailed, err)
	}

	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrMalformedPDF, path, err)
	}
	if pdfCtx.PageCount < c.minPages {
		return pdfCtx.PageCount, fmt.Errorf("%w: %s has %d pages, need at least %d", ErrMalformedPDF, path, pdfCtx.PageCount, c.minPages)
	}
	return pdfCtx.PageCount, nil
}
