// Package browser owns the interactive chromedp session used by the
// browser export methods and diagnostic screenshots.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noterang/internal/common"
)

// ErrNotStarted is returned by operations that never launch the browser themselves
var ErrNotStarted = errors.New("browser session not started")

// Config holds configuration for the browser session
type Config struct {
	Headless       bool
	NoSandbox      bool
	DisableGPU     bool
	UserAgent      string
	ProfileDir     string
	BaseURL        string
	ViewportWidth  int
	ViewportHeight int
	StartupTimeout time.Duration
}

// ConfigFrom converts the [browser] section
func ConfigFrom(c common.BrowserConfig) Config {
	return Config{
		Headless:       c.Headless,
		NoSandbox:      c.NoSandbox,
		DisableGPU:     c.DisableGPU,
		UserAgent:      c.UserAgent,
		ProfileDir:     c.ProfileDir,
		BaseURL:        c.BaseURL,
		ViewportWidth:  c.ViewportWidth,
		ViewportHeight: c.ViewportHeight,
		StartupTimeout: common.Duration(c.StartupTimeout),
	}
}

// Session is one browser with one tab, started on first use. Callers
// serialize their use of it; the workflow's exclusive permit does that.
type Session struct {
	config Config
	logger arbor.ILogger

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	started       bool
}

// NewSession creates a session; no browser is launched yet
func NewSession(config Config, logger arbor.ILogger) *Session {
	if config.ViewportWidth == 0 {
		config.ViewportWidth = 1920
	}
	if config.ViewportHeight == 0 {
		config.ViewportHeight = 1080
	}
	if config.StartupTimeout <= 0 {
		config.StartupTimeout = 30 * time.Second
	}
	return &Session{config: config, logger: logger}
}

// BaseURL returns the application base URL
func (s *Session) BaseURL() string {
	return s.config.BaseURL
}

// Started reports whether the browser is running
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Session) ensure() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return s.browserCtx, nil
	}

	startTime := time.Now()

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.config.Headless),
		chromedp.Flag("disable-gpu", s.config.DisableGPU),
		chromedp.Flag("no-sandbox", s.config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(s.config.ViewportWidth, s.config.ViewportHeight),
	)
	if s.config.UserAgent != "" {
		allocatorOpts = append(allocatorOpts, chromedp.UserAgent(s.config.UserAgent))
	}
	if s.config.ProfileDir != "" {
		// The persistent profile carries the signed-in session
		if err := os.MkdirAll(s.config.ProfileDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create browser profile directory: %w", err)
		}
		profile, err := filepath.Abs(s.config.ProfileDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve browser profile directory: %w", err)
		}
		allocatorOpts = append(allocatorOpts, chromedp.UserDataDir(profile))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	testCtx, testCancel := context.WithTimeout(browserCtx, s.config.StartupTimeout)
	defer testCancel()

	// Run startup test
	var title string
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank"), chromedp.Title(&title)); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	s.allocCancel = allocatorCancel
	s.started = true

	s.logger.Info().
		Bool("headless", s.config.Headless).
		Str("profile", s.config.ProfileDir).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser session started")

	return browserCtx, nil
}

// Run executes actions on the session tab, starting the browser if needed.
// ctx bounds the actions; ending it does not close the tab.
func (s *Session) Run(ctx context.Context, actions ...chromedp.Action) error {
	browserCtx, err := s.ensure()
	if err != nil {
		return err
	}
	return s.run(ctx, browserCtx, actions...)
}

func (s *Session) run(ctx, browserCtx context.Context, actions ...chromedp.Action) error {
	tctx, cancel := context.WithCancel(browserCtx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		tctx, cancelDeadline = context.WithDeadline(tctx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(tctx, actions...)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Screenshot writes a full page PNG of the current tab to path.
// It returns ErrNotStarted instead of launching a browser.
func (s *Session) Screenshot(ctx context.Context, path string) error {
	s.mu.Lock()
	started, browserCtx := s.started, s.browserCtx
	s.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	var buf []byte
	if err := s.run(ctx, browserCtx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	return os.WriteFile(path, buf, 0644)
}

// Close shuts the browser down
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.browserCancel()
		s.allocCancel()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Browser shutdown timed out")
	}

	s.started = false
	s.browserCtx = nil
	s.logger.Info().Msg("Browser session closed")
	return nil
}
