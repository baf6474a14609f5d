// Package scheduler re-runs registered jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noterang/internal/common"
)

// JobFunc is a scheduled job. ctx ends when the scheduler stops.
type JobFunc func(ctx context.Context) error

// JobStatus describes one registered job
type JobStatus struct {
	Name      string
	Schedule  string
	LastRun   *time.Time
	NextRun   *time.Time
	IsRunning bool
	Runs      int
	Skipped   int
	LastError string
}

type jobEntry struct {
	name      string
	schedule  string
	handler   JobFunc
	autoStart bool
	cronID    cron.EntryID
	lastRun   *time.Time
	isRunning bool
	runs      int
	skipped   int
	lastError string
}

// Service runs jobs on cron schedules. A job whose previous run is still
// in progress is skipped for that tick.
type Service struct {
	cron   *cron.Cron
	logger arbor.ILogger

	jobMu   sync.Mutex // Protects jobs map and entries
	jobs    map[string]*jobEntry
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a new scheduler service
func NewService(logger arbor.ILogger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cron:   cron.New(),
		logger: logger,
		jobs:   make(map[string]*jobEntry),
		ctx:    ctx,
		cancel: cancel,
	}
}

// RegisterJob registers a job. autoStart runs it once as soon as the
// scheduler starts.
func (s *Service) RegisterJob(name, schedule string, autoStart bool, handler JobFunc) error {
	if err := common.ValidateSchedule(schedule); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	entry := &jobEntry{
		name:      name,
		schedule:  schedule,
		handler:   handler,
		autoStart: autoStart,
	}

	cronID, err := s.cron.AddFunc(schedule, func() {
		s.executeJob(name)
	})
	if err != nil {
		return fmt.Errorf("failed to add job to cron: %w", err)
	}

	entry.cronID = cronID
	s.jobs[name] = entry

	s.logger.Info().
		Str("job_name", name).
		Str("schedule", schedule).
		Msg("Job registered")

	return nil
}

// Start begins scheduling
func (s *Service) Start() error {
	s.jobMu.Lock()
	if s.running {
		s.jobMu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true

	autoStart := make([]string, 0)
	for name, entry := range s.jobs {
		if entry.autoStart {
			autoStart = append(autoStart, name)
		}
	}
	s.jobMu.Unlock()

	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")

	sort.Strings(autoStart)
	for _, name := range autoStart {
		s.logger.Info().Str("job_name", name).Msg("Executing auto-start job")
		s.TriggerJob(name)
	}
	return nil
}

// Stop halts scheduling, cancels running jobs and waits for them
func (s *Service) Stop() error {
	s.jobMu.Lock()
	if !s.running {
		s.jobMu.Unlock()
		return nil
	}
	s.running = false
	s.jobMu.Unlock()

	<-s.cron.Stop().Done()
	s.cancel()
	s.wg.Wait()

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning returns true if scheduler is active
func (s *Service) IsRunning() bool {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	return s.running
}

// TriggerJob runs a job now in the background
func (s *Service) TriggerJob(name string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.executeJob(name)
	}()
}

// GetJobStatus returns the status of one job
func (s *Service) GetJobStatus(name string) (*JobStatus, error) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	entry, exists := s.jobs[name]
	if !exists {
		return nil, fmt.Errorf("job %s not found", name)
	}

	var nextRun *time.Time
	if next := s.cron.Entry(entry.cronID).Next; !next.IsZero() {
		nextRun = &next
	}

	return &JobStatus{
		Name:      entry.name,
		Schedule:  entry.schedule,
		LastRun:   entry.lastRun,
		NextRun:   nextRun,
		IsRunning: entry.isRunning,
		Runs:      entry.runs,
		Skipped:   entry.skipped,
		LastError: entry.lastError,
	}, nil
}

// executeJob wraps job execution with overlap protection, panic recovery and status tracking
func (s *Service) executeJob(name string) {
	s.jobMu.Lock()
	entry, exists := s.jobs[name]
	if !exists {
		s.jobMu.Unlock()
		s.logger.Warn().Str("job_name", name).Msg("Job not found")
		return
	}
	if entry.isRunning {
		entry.skipped++
		s.jobMu.Unlock()
		s.logger.Warn().Str("job_name", name).Msg("Previous run still in progress, skipping")
		return
	}
	entry.isRunning = true
	handler := entry.handler
	s.jobMu.Unlock()

	started := time.Now()
	s.logger.Info().Str("job_name", name).Msg("Job execution started")

	err := s.invoke(handler)

	completed := time.Now()
	s.jobMu.Lock()
	entry.isRunning = false
	entry.lastRun = &completed
	entry.runs++
	if err != nil {
		entry.lastError = err.Error()
	} else {
		entry.lastError = ""
	}
	s.jobMu.Unlock()

	if err != nil {
		s.logger.Error().
			Str("job_name", name).
			Err(err).
			Dur("duration", completed.Sub(started)).
			Msg("Job execution failed")
		return
	}
	s.logger.Info().
		Str("job_name", name).
		Dur("duration", completed.Sub(started)).
		Msg("Job execution completed")
}

func (s *Service) invoke(handler JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(s.ctx)
}
