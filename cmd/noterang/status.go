package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List run ledger entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := startApp()
		if err != nil {
			return err
		}
		defer application.Close()

		entries, err := application.RunLedger().List(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list ledger: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("Ledger is empty")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tSTATE\tOUTCOME\tERROR\tUPDATED\tARTIFACTS")
		for _, entry := range entries {
			kind := string(entry.ErrorKind)
			if kind == "" {
				kind = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
				entry.Key, entry.State, entry.Outcome, kind,
				entry.UpdatedAt.Format(time.RFC3339), len(entry.ArtifactPaths()))
		}
		return w.Flush()
	},
}
