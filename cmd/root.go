package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "class-photo-sorter",
	Short: "Organizes classroom photos by recognized student into per-student folders",
	Long: `class-photo-sorter is a batch tool that recognizes students in a
folder of classroom photos against a folder of reference photos, copies
each photo into the matching student's output directory, clusters
unmatched faces into labeled "unknown" groups, and writes a per-run
report.`,
}

// Execute runs the root command; main is the only caller of this,
// exit codes beyond the generic failure case are set by the organize
// subcommand directly.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	_ = godotenv.Load()
}
