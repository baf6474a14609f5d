package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noterang/internal/app"
	"github.com/ternarybob/noterang/internal/common"
	"github.com/ternarybob/noterang/internal/workflow"
)

var (
	// Command-line flags
	configFiles     []string // Multiple --config flags supported
	flagLanguage    string
	flagConcurrency int
	flagDownloadDir string

	// Global state
	config *common.Config
	logger arbor.ILogger
)

// exitError carries a process exit code out of a command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit code %d", e.code)
}

func (e *exitError) Unwrap() error {
	return e.err
}

var rootCmd = &cobra.Command{
	Use:           "noterang",
	Short:         "Generate slide decks for topics through NotebookLM",
	Long:          `Noterang drives topics through authentication, notebook resolution, slide generation, export and conversion, resuming from the run ledger.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil, "Configuration file path (can be specified multiple times, later files override earlier ones)")
	rootCmd.PersistentFlags().StringVarP(&flagLanguage, "language", "l", "", "Output language tag (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagConcurrency, "concurrency", 0, "Maximum topics in parallel stages (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagDownloadDir, "download-dir", "", "Directory for exported artifacts (overrides config)")

	rootCmd.AddCommand(runCmd, batchCmd, statusCmd, resetCmd, designsCmd, versionCmd)
}

func main() {
	os.Exit(execute())
}

func execute() int {
	defer common.RecoverWithCrashFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return workflow.ExitSuccess
	}

	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			fmt.Fprintln(os.Stderr, "Error:", exit.err)
		}
		return exit.code
	}

	fmt.Fprintln(os.Stderr, "Error:", err)
	var configErr *workflow.ConfigError
	if errors.As(err, &configErr) {
		return workflow.ExitConfigError
	}
	return workflow.ExitTotalFailure
}

// loadConfig runs the startup sequence (REQUIRED ORDER):
// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
// 2. Apply CLI overrides (highest priority)
// 3. Validate
// 4. Initialize logger
// 5. Print banner
func loadConfig() error {
	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("noterang.toml"); err == nil {
			configFiles = append(configFiles, "noterang.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		return &workflow.ConfigError{Err: err}
	}

	common.ApplyFlagOverrides(config, flagLanguage, flagConcurrency, flagDownloadDir)

	if err := config.Validate(); err != nil {
		return &workflow.ConfigError{Err: err}
	}

	logger = common.InitLogger(config)
	common.InstallCrashHandler(filepath.Dir(config.Diagnostics.Directory))
	common.PrintBanner(common.LoadVersionFromFile())

	logger.Debug().
		Strs("config_files", configFiles).
		Str("output_language", config.Workflow.OutputLanguage).
		Int("concurrency_limit", config.Workflow.ConcurrencyLimit).
		Str("download_directory", config.Workflow.DownloadDirectory).
		Str("ledger_path", config.Workflow.LedgerPath).
		Strs("export_methods", config.Export.Methods).
		Str("log_level", config.Logging.Level).
		Msg("Resolved configuration")

	return nil
}

// startApp loads configuration once and wires the application
func startApp() (*app.App, error) {
	if config == nil {
		if err := loadConfig(); err != nil {
			return nil, err
		}
	}
	application, err := app.New(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	return application, nil
}
