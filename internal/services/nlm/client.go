// Package nlm drives the NotebookLM command line client.
package nlm

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noterang/internal/interfaces"
	"golang.org/x/time/rate"
)

const (
	// DefaultBinary is the CLI looked up on PATH
	DefaultBinary = "nlm"

	// DefaultCallTimeout bounds one CLI invocation
	DefaultCallTimeout = 120 * time.Second

	// DefaultRateLimit is the default rate limit (calls per second)
	DefaultRateLimit = 1
)

var (
	// ErrAuthExpired means the CLI session is missing or expired
	ErrAuthExpired = fmt.Errorf("nlm session expired: %w", interfaces.ErrAuthExpired)

	// ErrAmbiguous means a topic maps to more than one usable remote notebook
	ErrAmbiguous = fmt.Errorf("ambiguous notebook: %w", interfaces.ErrSourceAmbiguous)

	// ErrUnexpectedOutput means the CLI succeeded but printed nothing usable
	ErrUnexpectedOutput = errors.New("unexpected nlm output")
)

// authFailure matches CLI phrases that mean the session is not usable.
// Status codes only count next to an HTTP context word, so IDs containing
// 401 do not match.
var authFailure = regexp.MustCompile(`(?i)\b(` +
	`not logged in|login required|unauthenticated|unauthori[sz]ed|` +
	`session (has )?expired|cookies (have )?expired|` +
	`authentication (failed|required|expired|error)|` +
	`(http|status|status code|error|code)[ :=]+401` +
	`)\b`)

// CommandError is a failed CLI invocation
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("nlm %s failed (exit %d): %s", commandName(e.Args), e.ExitCode, msg)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func commandName(args []string) string {
	if len(args) > 2 {
		args = args[:2]
	}
	return strings.Join(args, " ")
}

// Client is a rate limited nlm CLI client
type Client struct {
	binary       string
	runner       Runner
	limiter      *rate.Limiter
	callTimeout  time.Duration
	loginTimeout time.Duration
	logger       arbor.ILogger
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBinary sets the CLI executable.
func WithBinary(binary string) ClientOption {
	return func(c *Client) {
		c.binary = binary
	}
}

// WithRunner sets the command runner.
func WithRunner(runner Runner) ClientOption {
	return func(c *Client) {
		c.runner = runner
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(callsPerSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(callsPerSecond), burst)
	}
}

// WithCallTimeout bounds each invocation.
func WithCallTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.callTimeout = timeout
	}
}

// WithLoginTimeout bounds the interactive login.
func WithLoginTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.loginTimeout = timeout
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new nlm CLI client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		binary:       DefaultBinary,
		runner:       ExecRunner{},
		limiter:      rate.NewLimiter(rate.Limit(DefaultRateLimit), 2),
		callTimeout:  DefaultCallTimeout,
		loginTimeout: DefaultCallTimeout,
		logger:       arbor.NewLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// run performs one invocation under the rate limit and the call timeout
func (c *Client) run(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	cctx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	started := time.Now()
	stdoutBytes, stderrBytes, err := c.runner.Run(cctx, c.binary, args...)
	stdout := string(stdoutBytes)
	stderr := string(stderrBytes)

	c.logger.Debug().
		Str("command", commandName(args)).
		Dur("duration", time.Since(started)).
		Bool("ok", err == nil).
		Msg("nlm call")

	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("nlm %s timed out after %s", commandName(args), timeout)
		}

		cerr := &CommandError{Args: args, ExitCode: -1, Stderr: stderr, Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cerr.ExitCode = exitErr.ExitCode()
		}
		if isAuthFailure(stderr) || isAuthFailure(stdout) {
			return "", fmt.Errorf("%w: %s", ErrAuthExpired, cerr.Error())
		}
		return "", cerr
	}

	return stdout, nil
}

func isAuthFailure(output string) bool {
	return authFailure.MatchString(output)
}
