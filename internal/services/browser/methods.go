package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noterang/internal/common"
	"github.com/ternarybob/noterang/internal/interfaces"
	"github.com/ternarybob/noterang/internal/models"
)

// Labels of the download control in the supported UI languages
var downloadLabels = []string{"Download", "다운로드"}

const (
	overflowSelector = `[aria-haspopup="menu"], button[aria-label*="more"]`
	menuSettle       = 500 * time.Millisecond
	pageSettle       = 3 * time.Second
)

var (
	errNoDownloadItem   = errors.New("no overflow menu offers a download item")
	errNoDownloadButton = errors.New("no download button on the page")
)

// NotebookURL is the page of one notebook
func NotebookURL(baseURL, notebookID string) string {
	return strings.TrimRight(baseURL, "/") + "/notebook/" + notebookID
}

func labelsJS() string {
	quoted := make([]string, len(downloadLabels))
	for i, l := range downloadLabels {
		quoted[i] = fmt.Sprintf("%q", l)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

// MenuExport opens the notebook and walks its overflow menus, last one
// first, until one offers a Download item
type MenuExport struct {
	session *Session
	logger  arbor.ILogger
}

var _ interfaces.ExportMethod = (*MenuExport)(nil)

// NewMenuExport creates the menu export method
func NewMenuExport(session *Session, logger arbor.ILogger) *MenuExport {
	return &MenuExport{session: session, logger: logger}
}

// Name implements interfaces.ExportMethod
func (m *MenuExport) Name() string {
	return common.ExportMethodMenu
}

// Attempt implements interfaces.ExportMethod
func (m *MenuExport) Attempt(ctx context.Context, ref models.ArtifactRef, timeout time.Duration) (models.ArtifactHandle, error) {
	if err := openNotebook(ctx, m.session, ref); err != nil {
		return models.ArtifactHandle{}, err
	}

	var count int
	if err := m.session.Run(ctx, chromedp.Evaluate(fmt.Sprintf(`document.querySelectorAll(%q).length`, overflowSelector), &count)); err != nil {
		return models.ArtifactHandle{}, fmt.Errorf("failed to count overflow menus: %w", err)
	}
	m.logger.Debug().Int("menus", count).Str("notebook", ref.SourceID).Msg("Overflow menus found")

	for i := count - 1; i >= 0; i-- {
		var hasItem bool
		err := m.session.Run(ctx,
			chromedp.Evaluate(fmt.Sprintf(`(() => {
				const menus = document.querySelectorAll(%q);
				if (!menus[%d]) return false;
				menus[%d].click();
				return true;
			})()`, overflowSelector, i, i), nil),
			chromedp.Sleep(menuSettle),
			chromedp.Evaluate(fmt.Sprintf(`(() => {
				const labels = %s;
				return Array.from(document.querySelectorAll('[role="menuitem"]'))
					.some(el => labels.some(l => el.textContent.includes(l)));
			})()`, labelsJS()), &hasItem),
		)
		if err != nil {
			return models.ArtifactHandle{}, fmt.Errorf("failed to open overflow menu %d: %w", i, err)
		}
		if !hasItem {
			_ = m.session.Run(ctx, chromedp.KeyEvent(kb.Escape), chromedp.Sleep(menuSettle))
			continue
		}

		path, err := m.session.Download(ctx, ref.OutputDir, clickAction(fmt.Sprintf(`(() => {
			const labels = %s;
			const item = Array.from(document.querySelectorAll('[role="menuitem"]'))
				.find(el => labels.some(l => el.textContent.includes(l)));
			if (!item) return false;
			item.click();
			return true;
		})()`, labelsJS()), errNoDownloadItem))
		if err != nil {
			return models.ArtifactHandle{}, err
		}
		return finalize(path, ref, m.Name())
	}

	return models.ArtifactHandle{}, errNoDownloadItem
}

// ButtonExport clicks a direct Download button on the notebook page
type ButtonExport struct {
	session *Session
	logger  arbor.ILogger
}

var _ interfaces.ExportMethod = (*ButtonExport)(nil)

// NewButtonExport creates the button export method
func NewButtonExport(session *Session, logger arbor.ILogger) *ButtonExport {
	return &ButtonExport{session: session, logger: logger}
}

// Name implements interfaces.ExportMethod
func (b *ButtonExport) Name() string {
	return common.ExportMethodButton
}

// Attempt implements interfaces.ExportMethod
func (b *ButtonExport) Attempt(ctx context.Context, ref models.ArtifactRef, timeout time.Duration) (models.ArtifactHandle, error) {
	if err := openNotebook(ctx, b.session, ref); err != nil {
		return models.ArtifactHandle{}, err
	}

	path, err := b.session.Download(ctx, ref.OutputDir, clickAction(fmt.Sprintf(`(() => {
		const labels = %s;
		const button = Array.from(document.querySelectorAll('button, [role="button"]'))
			.find(el => labels.some(l => (el.getAttribute('aria-label') || '').includes(l) || el.textContent.trim() === l));
		if (!button) return false;
		button.click();
		return true;
	})()`, labelsJS()), errNoDownloadButton))
	if err != nil {
		return models.ArtifactHandle{}, err
	}
	return finalize(path, ref, b.Name())
}

func openNotebook(ctx context.Context, session *Session, ref models.ArtifactRef) error {
	url := NotebookURL(session.BaseURL(), ref.SourceID)
	if err := session.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(pageSettle),
	); err != nil {
		return fmt.Errorf("failed to open %s: %w", url, err)
	}
	return nil
}

// clickAction evaluates script and fails with notFound when it returns false
func clickAction(script string, notFound error) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var clicked bool
		if err := chromedp.Evaluate(script, &clicked).Do(ctx); err != nil {
			return err
		}
		if !clicked {
			return notFound
		}
		return nil
	})
}

// finalize moves a downloaded file to the topic's artifact path
func finalize(downloaded string, ref models.ArtifactRef, method string) (models.ArtifactHandle, error) {
	target := filepath.Join(ref.OutputDir, ref.FileStem+".pdf")

	if downloaded != target {
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return models.ArtifactHandle{}, fmt.Errorf("failed to create download directory: %w", err)
		}
		if err := os.Rename(downloaded, target); err != nil {
			return models.ArtifactHandle{}, fmt.Errorf("failed to move download to %s: %w", target, err)
		}
	}

	info, err := os.Stat(target)
	if err != nil {
		return models.ArtifactHandle{}, fmt.Errorf("downloaded artifact missing: %w", err)
	}
	if info.Size() == 0 {
		return models.ArtifactHandle{}, fmt.Errorf("downloaded artifact %s is empty", target)
	}
	return models.ArtifactHandle{Path: target, Method: method}, nil
}
