package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/ternarybob/noterang/internal/models"
)

var designsCmd = &cobra.Command{
	Use:   "designs",
	Short: "List slide design presets",
	Run: func(cmd *cobra.Command, args []string) {
		printDesigns(cmd.OutOrStdout())
	},
}

func printDesigns(out io.Writer) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSLUG\tNAME\tCATEGORY\tDESCRIPTION")
	for _, preset := range models.DesignPresets {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", preset.ID, preset.Slug, preset.Name, preset.Category, preset.Description)
	}
	w.Flush()
}
