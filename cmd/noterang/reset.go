package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ternarybob/noterang/internal/interfaces"
	"github.com/ternarybob/noterang/internal/models"
)

var resetCmd = &cobra.Command{
	Use:   "reset <title>",
	Short: "Delete a topic's ledger entry so it is redone from scratch",
	Long:  `Deletes the ledger entry for the title in the language given by --language (or the configured output language). Remote notebooks and local files are left in place.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := startApp()
		if err != nil {
			return err
		}
		defer application.Close()

		topic := models.Topic{Title: args[0], Language: config.Workflow.OutputLanguage}
		key := topic.Key()

		err = application.RunLedger().Delete(cmd.Context(), key)
		switch {
		case errors.Is(err, interfaces.ErrNotFound):
			fmt.Printf("No ledger entry for %s\n", key)
			return nil
		case err != nil:
			return fmt.Errorf("failed to reset %s: %w", key, err)
		}

		logger.Info().Str("key", string(key)).Msg("Ledger entry deleted")
		fmt.Printf("Reset %s\n", key)
		return nil
	},
}
