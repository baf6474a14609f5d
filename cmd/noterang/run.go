package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/ternarybob/noterang/internal/app"
	"github.com/ternarybob/noterang/internal/models"
	"github.com/ternarybob/noterang/internal/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run <title>",
	Short: "Run one topic through the full workflow",
	Long:  `Runs a single topic. A topic that already completed is resumed from the ledger without repeating any stage.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runTopic,
}

var (
	runQueries []string
	runFocus   string
	runDesign  string
)

func init() {
	runCmd.Flags().StringSliceVarP(&runQueries, "queries", "q", nil, "Research queries imported before generation (repeatable or comma separated)")
	runCmd.Flags().StringVar(&runFocus, "focus", "", "Focus prompt for slide generation")
	runCmd.Flags().StringVarP(&runDesign, "design", "d", "", "Slide design preset by ID, slug or name (see 'noterang designs')")
}

func runTopic(cmd *cobra.Command, args []string) error {
	topic := models.Topic{
		Title:    args[0],
		Queries:  runQueries,
		Focus:    runFocus,
		Language: flagLanguage,
		Design:   runDesign,
	}
	return runBatch(cmd.Context(), []models.Topic{topic})
}

// runBatch wires the application, runs topics and reports.
// The returned error carries the batch exit code.
func runBatch(ctx context.Context, topics []models.Topic) error {
	application, err := startApp()
	if err != nil {
		return err
	}
	defer application.Close()

	code, err := executeBatch(ctx, application, topics, os.Stdout)
	if err != nil {
		return err
	}
	if code != workflow.ExitSuccess {
		return &exitError{code: code}
	}
	return nil
}

// executeBatch runs one batch, writes the JSON report and prints a summary
func executeBatch(ctx context.Context, application *app.App, topics []models.Topic, out io.Writer) (int, error) {
	started := time.Now()
	results, err := application.Coordinator.Run(ctx, topics)
	if err != nil {
		return workflow.ExitConfigError, err
	}

	report := workflow.BuildReport(started, results)
	path, err := workflow.WriteReport(application.Config.Workflow.DownloadDirectory, report)
	if err != nil {
		application.Logger.Warn().Err(err).Msg("Failed to write batch report")
	} else {
		application.Logger.Info().Str("path", path).Msg("Batch report written")
	}

	printSummary(out, report)
	return workflow.ExitCode(report), nil
}

func printSummary(out io.Writer, report *models.BatchReport) {
	fmt.Fprintf(out, "\n%d topics: %d succeeded, %d failed (%s)\n\n",
		report.Total, report.Succeeded, report.Failed, report.FinishedAt.Sub(report.StartedAt).Round(time.Second))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOPIC\tSTATE\tOUTCOME\tERROR\tFILES")
	for _, topic := range report.Topics {
		kind := string(topic.ErrorKind)
		if kind == "" {
			kind = "-"
		}
		files := strings.Join(topic.ArtifactPaths, ", ")
		if files == "" {
			files = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", topic.Key, topic.State, topic.Outcome, kind, files)
	}
	w.Flush()
}
