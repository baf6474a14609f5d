package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ternarybob/noterang/internal/models"
)

// Process exit codes
const (
	ExitSuccess      = 0
	ExitTotalFailure = 1
	ExitPartial      = 2
	ExitConfigError  = 3
)

// BuildReport summarises batch results, ordered by topic key
func BuildReport(started time.Time, results map[models.TopicKey]*models.WorkflowRun) *models.BatchReport {
	report := &models.BatchReport{
		StartedAt:  started,
		FinishedAt: time.Now(),
		Total:      len(results),
		Topics:     make([]models.TopicReport, 0, len(results)),
	}

	keys := make([]models.TopicKey, 0, len(results))
	for key := range results {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, key := range keys {
		run := results[key]
		if run.Outcome == models.OutcomeSucceeded {
			report.Succeeded++
		} else {
			report.Failed++
		}
		report.Topics = append(report.Topics, models.TopicReport{
			Key:           key,
			Title:         run.Topic.Title,
			Language:      run.Topic.Language,
			State:         run.State,
			Outcome:       run.Outcome,
			ErrorKind:     run.ErrorKind,
			Resumed:       run.Resumed,
			Attempts:      run.Attempts,
			Failures:      run.Failures,
			Strategy:      run.StrategyAttempts,
			Escalations:   run.Escalations,
			ArtifactPaths: run.ArtifactPaths(),
		})
	}

	return report
}

// ExitCode maps a report to the process exit code
func ExitCode(report *models.BatchReport) int {
	switch {
	case report.Total == 0:
		return ExitTotalFailure
	case report.Failed == 0:
		return ExitSuccess
	case report.Succeeded == 0:
		return ExitTotalFailure
	}
	return ExitPartial
}

// WriteReport writes report as JSON into dir and returns the file path
func WriteReport(dir string, report *models.BatchReport) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("batch-report-%s.json", report.FinishedAt.Format("20060102-150405")))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}
