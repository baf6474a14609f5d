package app

import (
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noterang/internal/common"
	"github.com/ternarybob/noterang/internal/interfaces"
	"github.com/ternarybob/noterang/internal/services/browser"
	"github.com/ternarybob/noterang/internal/services/convert"
	"github.com/ternarybob/noterang/internal/services/diagnostics"
	"github.com/ternarybob/noterang/internal/services/events"
	"github.com/ternarybob/noterang/internal/services/nlm"
	"github.com/ternarybob/noterang/internal/storage/badger"
	"github.com/ternarybob/noterang/internal/workflow"
)

// File watch polling used as the last export method
const (
	fileWatchInterval = 2 * time.Second
	fileWatchLookback = 10 * time.Minute
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	EventService   interfaces.EventService
	StorageManager *badger.Manager

	// Remote application adapters
	NLMClient *nlm.Client
	Browser   *browser.Session

	// Workflow core
	Session      *workflow.Session
	Chain        *workflow.Chain
	Orchestrator *workflow.Orchestrator
	Coordinator  *workflow.Coordinator
}

// New initializes the application with all dependencies.
// cfg must already be validated. No browser or CLI process is started.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	app.EventService = events.NewService(app.Logger)
	if err := events.SubscribeLoggerToAllEvents(app.EventService, app.Logger); err != nil {
		return nil, fmt.Errorf("failed to subscribe event logger: %w", err)
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.Logger.Info().
		Strs("export_methods", app.Chain.Methods()).
		Int("concurrency_limit", cfg.Workflow.ConcurrencyLimit).
		Str("output_language", cfg.Workflow.OutputLanguage).
		Msg("Application initialized")

	return app, nil
}

func (a *App) initDatabase() error {
	manager, err := badger.NewManager(a.Logger, &a.Config.Workflow)
	if err != nil {
		return err
	}
	a.StorageManager = manager
	return nil
}

func (a *App) initServices() error {
	cfg := a.Config

	a.NLMClient = nlm.NewClient(
		nlm.WithBinary(cfg.NLM.Binary),
		nlm.WithRateLimit(cfg.NLM.RateLimit, cfg.NLM.RateBurst),
		nlm.WithCallTimeout(common.Duration(cfg.NLM.CallTimeout)),
		nlm.WithLoginTimeout(common.Duration(cfg.NLM.LoginTimeout)),
		nlm.WithLogger(a.Logger),
	)
	generator := nlm.NewGenerator(a.NLMClient, nlm.GeneratorOptions{
		ResearchMode: cfg.NLM.ResearchMode,
		ResearchWait: common.Duration(cfg.NLM.ResearchWait),
	}, a.Logger)

	a.Browser = browser.NewSession(browser.ConfigFrom(cfg.Browser), a.Logger)

	methods := map[string]interfaces.ExportMethod{
		common.ExportMethodCLI:       nlm.NewExportMethod(a.NLMClient, a.Logger),
		common.ExportMethodMenu:      browser.NewMenuExport(a.Browser, a.Logger),
		common.ExportMethodButton:    browser.NewButtonExport(a.Browser, a.Logger),
		common.ExportMethodFileWatch: browser.NewFileWatchExport(fileWatchInterval, fileWatchLookback, a.Logger),
	}
	chain, err := BuildExportChain(cfg, methods, a.Logger)
	if err != nil {
		return err
	}
	a.Chain = chain

	var capturer interfaces.DiagnosticCapturer
	if cfg.Diagnostics.Enabled {
		var screens diagnostics.Screenshotter
		if cfg.Diagnostics.Screenshots {
			screens = a.Browser
		}
		capturer = diagnostics.NewCapturer(cfg.Diagnostics.Directory, screens, browser.ErrNotStarted, a.Logger)
	}

	options := workflow.OptionsFromConfig(cfg)
	a.Session = workflow.NewSession(nlm.NewAuthenticator(a.NLMClient, cfg.NLM.AutoLogin, a.Logger), a.Logger)
	gate := workflow.NewGate(options.ConcurrencyLimit)
	supervisor := workflow.NewSupervisor(a.Logger, options, generator, capturer, a.EventService)

	a.Orchestrator, err = workflow.NewOrchestrator(a.Logger, options, gate, workflow.Dependencies{
		Session:   a.Session,
		Resolver:  nlm.NewSourceResolver(a.NLMClient, a.Logger),
		Generator: generator,
		Chain:     a.Chain,
		Converter: convert.NewConverter(cfg.Convert, nil, a.Logger),
		Ledger:    a.StorageManager.RunLedger(),
		Events:    a.EventService,
	}, supervisor)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	a.Coordinator = workflow.NewCoordinator(a.Logger, a.Orchestrator, a.Session, a.EventService)
	return nil
}

// BuildExportChain orders the available methods as declared in [export] methods
func BuildExportChain(cfg *common.Config, available map[string]interfaces.ExportMethod, logger arbor.ILogger) (*workflow.Chain, error) {
	chain := make([]workflow.ChainMethod, 0, len(cfg.Export.Methods))
	for _, name := range cfg.Export.Methods {
		method, ok := available[name]
		if !ok {
			return nil, fmt.Errorf("unknown export method %q", name)
		}
		chain = append(chain, workflow.ChainMethod{Method: method, Timeout: cfg.MethodTimeout(name)})
	}
	return workflow.NewChain(logger, chain...)
}

// RunLedger returns the persistent run ledger
func (a *App) RunLedger() interfaces.RunLedger {
	return a.StorageManager.RunLedger()
}

// Close shuts down the browser, event service and storage
func (a *App) Close() error {
	if a.Browser != nil {
		if err := a.Browser.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close browser session")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
			return err
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
