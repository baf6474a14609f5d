package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
)

type downloadResult struct {
	guid string
	err  error
}

// Download runs trigger and waits for the download it starts to complete.
// The file is saved into dir and its path returned; chrome names it by GUID.
func (s *Session) Download(ctx context.Context, dir string, trigger chromedp.Action) (string, error) {
	browserCtx, err := s.ensure()
	if err != nil {
		return "", err
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve download directory: %w", err)
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	lctx, cancel := context.WithCancel(browserCtx)
	defer cancel()

	done := make(chan downloadResult, 1)
	chromedp.ListenTarget(lctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *cdpbrowser.EventDownloadWillBegin:
			s.logger.Debug().
				Str("guid", ev.GUID).
				Str("suggested_filename", ev.SuggestedFilename).
				Msg("Download started")
		case *cdpbrowser.EventDownloadProgress:
			switch ev.State {
			case cdpbrowser.DownloadProgressStateCompleted:
				select {
				case done <- downloadResult{guid: ev.GUID}:
				default:
				}
			case cdpbrowser.DownloadProgressStateCanceled:
				select {
				case done <- downloadResult{err: fmt.Errorf("download %s was canceled", ev.GUID)}:
				default:
				}
			}
		}
	})

	err = s.run(ctx, browserCtx,
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(absDir).
			WithEventsEnabled(true),
		trigger,
	)
	if err != nil {
		return "", err
	}

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for download: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return "", res.err
		}
		return filepath.Join(absDir, res.guid), nil
	}
}
