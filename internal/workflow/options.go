package workflow

import (
	"time"

	"github.com/ternarybob/noterang/internal/common"
	"github.com/ternarybob/noterang/internal/models"
)

// StagePolicy is the execution policy declared for one stage
type StagePolicy struct {
	Stage       models.Stage
	Timeout     time.Duration // zero means unbounded; for AWAIT_COMPLETION it bounds one poll call
	RetryBudget int           // retries after the first attempt
	Fatal       bool          // any failure ends the workflow
}

// Exclusive reports whether the stage runs under the shared session permit
func (p StagePolicy) Exclusive() bool {
	return p.Stage.Exclusive()
}

// Options configures the orchestrator, supervisor and coordinator
type Options struct {
	Policies          map[models.Stage]StagePolicy
	ConcurrencyLimit  int
	PollInterval      time.Duration
	StallThreshold    time.Duration
	StallExtension    time.Duration
	BackoffBase       time.Duration
	BackoffCeiling    time.Duration
	ReauthLimit       int
	DefaultLanguage   string
	DownloadDirectory string
}

// DefaultOptions mirrors common.NewDefaultConfig
func DefaultOptions() Options {
	return Options{
		Policies: map[models.Stage]StagePolicy{
			models.StageAuthenticate:    {Stage: models.StageAuthenticate, Timeout: 2 * time.Minute, RetryBudget: 2},
			models.StageResolveSource:   {Stage: models.StageResolveSource, Timeout: 2 * time.Minute, RetryBudget: 2},
			models.StageGenerate:        {Stage: models.StageGenerate, Timeout: 15 * time.Minute, RetryBudget: 1},
			models.StageAwaitCompletion: {Stage: models.StageAwaitCompletion, Timeout: time.Minute, RetryBudget: 1},
			models.StageExport:          {Stage: models.StageExport, Timeout: 10 * time.Minute, RetryBudget: 2},
			models.StageConvert:         {Stage: models.StageConvert, Timeout: 5 * time.Minute, RetryBudget: 1},
		},
		ConcurrencyLimit:  2,
		PollInterval:      10 * time.Second,
		StallThreshold:    10 * time.Minute,
		StallExtension:    3 * time.Minute,
		BackoffBase:       5 * time.Second,
		BackoffCeiling:    2 * time.Minute,
		ReauthLimit:       2,
		DownloadDirectory: "./output",
	}
}

// OptionsFromConfig builds Options from a validated configuration
func OptionsFromConfig(config *common.Config) Options {
	stage := func(s models.Stage, c common.StageConfig) StagePolicy {
		return StagePolicy{
			Stage:       s,
			Timeout:     common.Duration(c.StageTimeout),
			RetryBudget: c.RetryBudget,
			Fatal:       c.Fatal,
		}
	}

	return Options{
		Policies: map[models.Stage]StagePolicy{
			models.StageAuthenticate:    stage(models.StageAuthenticate, config.Stages.Authenticate),
			models.StageResolveSource:   stage(models.StageResolveSource, config.Stages.ResolveSource),
			models.StageGenerate:        stage(models.StageGenerate, config.Stages.Generate),
			models.StageAwaitCompletion: stage(models.StageAwaitCompletion, config.Stages.AwaitCompletion),
			models.StageExport:          stage(models.StageExport, config.Stages.Export),
			models.StageConvert:         stage(models.StageConvert, config.Stages.Convert),
		},
		ConcurrencyLimit:  config.Workflow.ConcurrencyLimit,
		PollInterval:      common.Duration(config.Workflow.PollInterval),
		StallThreshold:    common.Duration(config.Workflow.StallThreshold),
		StallExtension:    common.Duration(config.Workflow.StallExtension),
		BackoffBase:       common.Duration(config.Workflow.BackoffBase),
		BackoffCeiling:    common.Duration(config.Workflow.BackoffCeiling),
		ReauthLimit:       config.Workflow.ReauthLimit,
		DefaultLanguage:   config.Workflow.OutputLanguage,
		DownloadDirectory: config.Workflow.DownloadDirectory,
	}
}

// Policy returns the policy for stage; undeclared stages get one attempt and no timeout
func (o Options) Policy(stage models.Stage) StagePolicy {
	if p, ok := o.Policies[stage]; ok {
		p.Stage = stage
		return p
	}
	return StagePolicy{Stage: stage}
}

// stallExtension defaults to half the stall threshold
func (o Options) stallExtension() time.Duration {
	if o.StallExtension > 0 {
		return o.StallExtension
	}
	return o.StallThreshold / 2
}
