package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gitvan/gitvan/internal/gitdriver"
	"github.com/gitvan/gitvan/internal/gvcontext"
	"github.com/gitvan/gitvan/internal/lockmgr"
)

var locksCleanup bool

func init() {
	locksCmd.Flags().BoolVar(&locksCleanup, "cleanup", false, "reclaim orphaned and expired locks")
	rootCmd.AddCommand(locksCmd)
}

var locksCmd = &cobra.Command{
	Use:   "locks <config-file>",
	Short: "Inspect and reclaim job locks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadAndValidateConfig(args[0])
		if err != nil {
			return err
		}
		repoDir, err := resolveRepo(args[0])
		if err != nil {
			return err
		}

		if !locksCleanup {
			return fmt.Errorf("locks: pass --cleanup to reclaim stale locks")
		}

		driver := gitdriver.New(repoDir)
		gv := gvcontext.New(repoDir, cfg)
		locks := lockmgr.New(driver, cfg.Locks.Ref, gv.Now)

		worktrees, err := driver.ListWorktrees()
		if err != nil {
			return fmt.Errorf("listing worktrees: %w", err)
		}
		live := make(map[string]bool, len(worktrees))
		for _, wt := range worktrees {
			live[wt.Path] = true
		}

		stale, err := locks.CleanupStale(live)
		if err != nil {
			return fmt.Errorf("cleaning up locks: %w", err)
		}

		if len(stale) == 0 {
			fmt.Println("No stale locks found.")
			return nil
		}
		for _, s := range stale {
			fmt.Printf("  reclaimed %s (%s)\n", s.Ref, s.Reason)
		}
		return nil
	},
}
