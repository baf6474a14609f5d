package common

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// SupportedLanguages lists the output-language tags the remote application accepts.
var SupportedLanguages = []string{"ko", "en", "ja", "zh", "es", "fr", "de"}

// Export method identifiers recognised in [export] methods.
const (
	ExportMethodCLI       = "cli"
	ExportMethodMenu      = "menu"
	ExportMethodButton    = "button"
	ExportMethodFileWatch = "file_watch"
)

// Config represents the application configuration
type Config struct {
	Workflow    WorkflowConfig    `toml:"workflow"`
	Stages      StagesConfig      `toml:"stages"`
	Export      ExportConfig      `toml:"export"`
	Browser     BrowserConfig     `toml:"browser"`
	NLM         NLMConfig         `toml:"nlm"`
	Convert     ConvertConfig     `toml:"convert"`
	Diagnostics DiagnosticsConfig `toml:"diagnostics"`
	Logging     LoggingConfig     `toml:"logging"`
	Schedule    ScheduleConfig    `toml:"schedule"`
}

// WorkflowConfig holds the coordinator and orchestrator options
type WorkflowConfig struct {
	ConcurrencyLimit  int    `toml:"concurrency_limit" validate:"gte=1,lte=32"`
	StallThreshold    string `toml:"stall_threshold"`    // e.g. "10m" - polling time before stall escalation
	StallExtension    string `toml:"stall_extension"`    // fresh budget granted after escalation
	PollInterval      string `toml:"poll_interval"`      // completion poll interval
	BackoffBase       string `toml:"backoff_base"`       // first recovery delay
	BackoffCeiling    string `toml:"backoff_ceiling"`    // maximum recovery delay
	ReauthLimit       int    `toml:"reauth_limit" validate:"gte=0"`
	OutputLanguage    string `toml:"output_language" validate:"required,oneof=ko en ja zh es fr de"`
	DownloadDirectory string `toml:"download_directory" validate:"required"`
	LedgerPath        string `toml:"ledger_path" validate:"required"`
	ResetLedger       bool   `toml:"reset_ledger"` // Delete ledger on startup for clean runs
}

// StageConfig holds the per-stage execution policy
type StageConfig struct {
	StageTimeout string `toml:"stage_timeout"`
	RetryBudget  int    `toml:"retry_budget" validate:"gte=0,lte=10"`
	Fatal        bool   `toml:"fatal"` // failure is workflow-fatal regardless of budget
}

// StagesConfig has one policy per workflow stage
type StagesConfig struct {
	Authenticate    StageConfig `toml:"authenticate"`
	ResolveSource   StageConfig `toml:"resolve_source"`
	Generate        StageConfig `toml:"generate"`
	AwaitCompletion StageConfig `toml:"await_completion"` // stage_timeout bounds a single poll call
	Export          StageConfig `toml:"export"`
	Convert         StageConfig `toml:"convert"`
}

// ExportConfig declares the export strategy chain
type ExportConfig struct {
	Methods        []string          `toml:"methods" validate:"required,min=1,dive,oneof=cli menu button file_watch"`
	MethodTimeout  string            `toml:"method_timeout"`  // default per-method timeout
	MethodTimeouts map[string]string `toml:"method_timeouts"` // per-method override, keyed by method name
}

// BrowserConfig configures the interactive chromedp session
type BrowserConfig struct {
	Headless       bool   `toml:"headless"`
	NoSandbox      bool   `toml:"no_sandbox"`
	DisableGPU     bool   `toml:"disable_gpu"`
	UserAgent      string `toml:"user_agent"`
	ProfileDir     string `toml:"profile_dir"` // persistent profile carrying the authenticated session
	BaseURL        string `toml:"base_url" validate:"required,url"`
	ViewportWidth  int    `toml:"viewport_width" validate:"gte=320"`
	ViewportHeight int    `toml:"viewport_height" validate:"gte=240"`
	StartupTimeout string `toml:"startup_timeout"`
}

// NLMConfig configures the NotebookLM command line client
type NLMConfig struct {
	Binary       string  `toml:"binary" validate:"required"`
	CallTimeout  string  `toml:"call_timeout"`  // per invocation
	LoginTimeout string  `toml:"login_timeout"` // interactive login
	AutoLogin    bool    `toml:"auto_login"`    // run "login" when the session check fails
	RateLimit    float64 `toml:"rate_limit" validate:"gt=0"` // calls per second
	RateBurst    int     `toml:"rate_burst" validate:"gte=1"`
	ResearchMode string  `toml:"research_mode" validate:"oneof=fast deep"`
	ResearchWait string  `toml:"research_wait"` // max wait for one research task
}

// ConvertConfig configures PDF to presentation conversion
type ConvertConfig struct {
	Command      []string `toml:"command" validate:"required,min=1"` // placeholders: {input} {output} {outdir}
	OutputFormat string   `toml:"output_format" validate:"required"`
	MinPages     int      `toml:"min_pages" validate:"gte=0"`
}

// DiagnosticsConfig configures failure snapshots
type DiagnosticsConfig struct {
	Enabled     bool   `toml:"enabled"`
	Directory   string `toml:"directory"`
	Screenshots bool   `toml:"screenshots"`
}

type LoggingConfig struct {
	Level    string   `toml:"level" validate:"oneof=trace debug info warn error"`
	Output   []string `toml:"output"`    // "stdout", "file"
	FilePath string   `toml:"file_path"` // default: <exe dir>/logs/noterang.log
}

// ScheduleConfig drives unattended batch re-runs
type ScheduleConfig struct {
	Cron      string `toml:"cron"`
	BatchFile string `toml:"batch_file"`
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// output_language is intentionally left empty: it must be set explicitly.
func NewDefaultConfig() *Config {
	return &Config{
		Workflow: WorkflowConfig{
			ConcurrencyLimit:  2,
			StallThreshold:    "10m",
			StallExtension:    "3m",
			PollInterval:      "10s",
			BackoffBase:       "5s",
			BackoffCeiling:    "2m",
			ReauthLimit:       2,
			DownloadDirectory: "./output",
			LedgerPath:        "./data/ledger",
		},
		Stages: StagesConfig{
			Authenticate:    StageConfig{StageTimeout: "2m", RetryBudget: 2},
			ResolveSource:   StageConfig{StageTimeout: "2m", RetryBudget: 2},
			Generate:        StageConfig{StageTimeout: "15m", RetryBudget: 1},
			AwaitCompletion: StageConfig{StageTimeout: "1m", RetryBudget: 1},
			Export:          StageConfig{StageTimeout: "10m", RetryBudget: 2},
			Convert:         StageConfig{StageTimeout: "5m", RetryBudget: 1},
		},
		Export: ExportConfig{
			Methods:       []string{ExportMethodCLI, ExportMethodMenu, ExportMethodButton, ExportMethodFileWatch},
			MethodTimeout: "60s",
		},
		Browser: BrowserConfig{
			Headless:       false,
			NoSandbox:      false,
			DisableGPU:     false,
			UserAgent:      "",
			ProfileDir:     "./data/browser_profile",
			BaseURL:        "https://notebooklm.google.com",
			ViewportWidth:  1920,
			ViewportHeight: 1080,
			StartupTimeout: "30s",
		},
		NLM: NLMConfig{
			Binary:       "nlm",
			CallTimeout:  "120s",
			LoginTimeout: "120s",
			AutoLogin:    false,
			RateLimit:    1,
			RateBurst:    2,
			ResearchMode: "fast",
			ResearchWait: "2m",
		},
		Convert: ConvertConfig{
			Command:      []string{"soffice", "--headless", "--convert-to", "pptx", "--outdir", "{outdir}", "{input}"},
			OutputFormat: "pptx",
			MinPages:     1,
		},
		Diagnostics: DiagnosticsConfig{
			Enabled:     true,
			Directory:   "./logs/diagnostics",
			Screenshots: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env.
// Later files override earlier files. Unknown keys in any file are rejected.
// Validate must be called after CLI overrides have been applied.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		decoder := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
		if err := decoder.Decode(config); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, fmt.Errorf("unknown keys in config file %s:\n%s", path, strict.String())
			}
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if lang := os.Getenv("NOTERANG_OUTPUT_LANGUAGE"); lang != "" {
		config.Workflow.OutputLanguage = lang
	}
	if limit := os.Getenv("NOTERANG_CONCURRENCY_LIMIT"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			config.Workflow.ConcurrencyLimit = l
		}
	}
	if stall := os.Getenv("NOTERANG_STALL_THRESHOLD"); stall != "" {
		config.Workflow.StallThreshold = stall
	}
	if dir := os.Getenv("NOTERANG_DOWNLOAD_DIRECTORY"); dir != "" {
		config.Workflow.DownloadDirectory = dir
	}
	if path := os.Getenv("NOTERANG_LEDGER_PATH"); path != "" {
		config.Workflow.LedgerPath = path
	}

	if binary := os.Getenv("NOTERANG_NLM_BINARY"); binary != "" {
		config.NLM.Binary = binary
	}
	if headless := os.Getenv("NOTERANG_BROWSER_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = h
		}
	}
	if profile := os.Getenv("NOTERANG_BROWSER_PROFILE"); profile != "" {
		config.Browser.ProfileDir = profile
	}

	if level := os.Getenv("NOTERANG_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("NOTERANG_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command line flag overrides (highest priority).
// Zero values leave the configuration untouched.
func ApplyFlagOverrides(config *Config, language string, concurrency int, downloadDir string) {
	if language != "" {
		config.Workflow.OutputLanguage = language
	}
	if concurrency > 0 {
		config.Workflow.ConcurrencyLimit = concurrency
	}
	if downloadDir != "" {
		config.Workflow.DownloadDirectory = downloadDir
	}
}

// Validate checks struct tags, durations and cron expressions. The export
// stage timeout must be at least the sum of the export method timeouts.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"workflow.stall_threshold":                c.Workflow.StallThreshold,
		"workflow.stall_extension":                c.Workflow.StallExtension,
		"workflow.poll_interval":                  c.Workflow.PollInterval,
		"workflow.backoff_base":                   c.Workflow.BackoffBase,
		"workflow.backoff_ceiling":                c.Workflow.BackoffCeiling,
		"stages.authenticate.stage_timeout":       c.Stages.Authenticate.StageTimeout,
		"stages.resolve_source.stage_timeout":     c.Stages.ResolveSource.StageTimeout,
		"stages.generate.stage_timeout":           c.Stages.Generate.StageTimeout,
		"stages.await_completion.stage_timeout":   c.Stages.AwaitCompletion.StageTimeout,
		"stages.export.stage_timeout":             c.Stages.Export.StageTimeout,
		"stages.convert.stage_timeout":            c.Stages.Convert.StageTimeout,
		"export.method_timeout":                   c.Export.MethodTimeout,
		"browser.startup_timeout":                 c.Browser.StartupTimeout,
		"nlm.call_timeout":                        c.NLM.CallTimeout,
		"nlm.login_timeout":                       c.NLM.LoginTimeout,
		"nlm.research_wait":                       c.NLM.ResearchWait,
	}
	for field, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %q: %w", field, value, err)
		}
		if d <= 0 {
			return fmt.Errorf("duration for %s must be positive, got %s", field, value)
		}
	}

	for method, value := range c.Export.MethodTimeouts {
		if !containsString(c.Export.Methods, method) {
			return fmt.Errorf("export.method_timeouts references undeclared method %q", method)
		}
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			return fmt.Errorf("invalid duration for export.method_timeouts.%s: %q", method, value)
		}
	}

	seen := make(map[string]bool)
	for _, method := range c.Export.Methods {
		if seen[method] {
			return fmt.Errorf("export method %q declared more than once", method)
		}
		seen[method] = true
	}

	var chain time.Duration
	for _, method := range c.Export.Methods {
		chain += c.MethodTimeout(method)
	}
	if stage := Duration(c.Stages.Export.StageTimeout); stage < chain {
		return fmt.Errorf("stages.export.stage_timeout (%s) must cover every export method timeout (%s in total)",
			c.Stages.Export.StageTimeout, chain)
	}

	if Duration(c.Workflow.BackoffCeiling) < Duration(c.Workflow.BackoffBase) {
		return fmt.Errorf("workflow.backoff_ceiling (%s) must not be below workflow.backoff_base (%s)",
			c.Workflow.BackoffCeiling, c.Workflow.BackoffBase)
	}

	if c.Schedule.Cron != "" {
		if err := ValidateSchedule(c.Schedule.Cron); err != nil {
			return err
		}
	}

	return nil
}

// MethodTimeout returns the timeout for one export method
func (c *Config) MethodTimeout(method string) time.Duration {
	if value, ok := c.Export.MethodTimeouts[method]; ok {
		return Duration(value)
	}
	return Duration(c.Export.MethodTimeout)
}

// ValidateSchedule validates a standard five-field cron expression
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}
	return nil
}

// IsSupportedLanguage reports whether tag is an accepted output language
func IsSupportedLanguage(tag string) bool {
	return containsString(SupportedLanguages, tag)
}

// Duration parses a duration string that has already passed Validate.
// Invalid values yield zero.
func Duration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
