package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/noterang/internal/services/scheduler"
	"github.com/ternarybob/noterang/internal/workflow"
)

var batchCmd = &cobra.Command{
	Use:   "batch [file]",
	Short: "Run every topic in a JSON or YAML file",
	Long: `Runs a batch of topics concurrently. The file holds a list of topics or a
"topics" key with that list. With --schedule the batch is run at once and then
again on the cron schedule until interrupted; completed topics are skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBatchFile,
}

var batchSchedule string

func init() {
	batchCmd.Flags().StringVar(&batchSchedule, "schedule", "", "Cron expression for unattended re-runs (overrides [schedule] cron)")
}

func runBatchFile(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	path := config.Schedule.BatchFile
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		return &workflow.ConfigError{Err: errors.New("no batch file given")}
	}

	topics, err := loadTopics(path)
	if err != nil {
		return &workflow.ConfigError{Err: err}
	}

	schedule := config.Schedule.Cron
	if batchSchedule != "" {
		schedule = batchSchedule
	}
	if schedule == "" {
		return runBatch(cmd.Context(), topics)
	}

	application, err := startApp()
	if err != nil {
		return err
	}
	defer application.Close()

	// Duplicate keys and invalid topics fail here, not on every tick
	if _, err := application.Coordinator.Validate(topics); err != nil {
		return err
	}

	service := scheduler.NewService(logger)
	err = service.RegisterJob("batch:"+path, schedule, true, func(ctx context.Context) error {
		code, err := executeBatch(ctx, application, topics, os.Stdout)
		if err != nil {
			return err
		}
		if code != workflow.ExitSuccess {
			return fmt.Errorf("batch finished with exit code %d", code)
		}
		return nil
	})
	if err != nil {
		return &workflow.ConfigError{Err: err}
	}
	if err := service.Start(); err != nil {
		return err
	}

	logger.Info().
		Str("schedule", schedule).
		Str("batch_file", path).
		Int("topics", len(topics)).
		Msg("Scheduled batch running - Press Ctrl+C to stop")

	<-cmd.Context().Done()
	logger.Info().Msg("Interrupt signal received")

	return service.Stop()
}
