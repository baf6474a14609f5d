package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ternarybob/noterang/internal/common"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		common.LoadVersionFromFile()
		fmt.Printf("Noterang version %s\n", common.GetFullVersion())
	},
}
