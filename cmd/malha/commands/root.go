package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "malha",
	Short: "malha extracts the malha fiscal of taxpayer accounts from the SEFAZ/AL portal.",
	Long: `malha signs in to the SEFAZ/AL taxpayer portal for every company of a
batch file, reads the pending items table of each year and mesh type, and
keeps the tables, screenshots and PDFs under the storage root. Cells already
marked as done are skipped, so an interrupted run can simply be restarted.`,
	SilenceUsage: true,
}

// ExecuteContext runs the root command and exits non-zero on failure
func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
