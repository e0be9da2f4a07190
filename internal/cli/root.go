package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "gitvan",
	Short: "Drive the GitVan execution core",
	Long: `GitVan turns a Git repository into an event-driven automation engine.
Jobs and events are plain files checked into the repository; the daemon
polls each worktree for new commits, matches them against event
predicates, and runs the matched jobs under an atomic ref-based lock,
recording one receipt per invocation as a Git note.`,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gitvan %s\n", Version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
