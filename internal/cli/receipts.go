package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gitvan/gitvan/internal/gitdriver"
	"github.com/gitvan/gitvan/internal/receiptstore"
)

var (
	receiptsJobID   string
	receiptsEventID string
	receiptsStatus  string
	receiptsLimit   int
)

func init() {
	receiptsCmd.Flags().StringVar(&receiptsJobID, "job", "", "filter by job id")
	receiptsCmd.Flags().StringVar(&receiptsEventID, "event", "", "filter by event id")
	receiptsCmd.Flags().StringVar(&receiptsStatus, "status", "", "filter by status (success, error, skipped)")
	receiptsCmd.Flags().IntVar(&receiptsLimit, "limit", 50, "maximum number of receipts to list")
	rootCmd.AddCommand(receiptsCmd)
}

var receiptsCmd = &cobra.Command{
	Use:   "receipts <config-file>",
	Short: "List execution receipts recorded for the current worktree",
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

		driver := gitdriver.New(repoDir)
		store := receiptstore.New(driver, cfg.Receipts.Ref)

		head, err := driver.Head()
		if err != nil {
			return fmt.Errorf("resolving HEAD: %w", err)
		}

		receipts, err := store.List(head, receiptstore.Filter{
			JobID:    receiptsJobID,
			EventID:  receiptsEventID,
			Status:   receiptsStatus,
			MaxCount: receiptsLimit,
		})
		if err != nil {
			return fmt.Errorf("listing receipts: %w", err)
		}

		if len(receipts) == 0 {
			fmt.Println("No receipts recorded.")
			return nil
		}

		for _, r := range receipts {
			symbol, color := statusDisplay(r.Status)
			label := r.JobIDOrEmpty()
			if label == "" {
				label = r.EventIDOrEmpty()
			}
			fmt.Fprintf(os.Stdout, "  %s%s%s  %-20s  %s  %s  %s\n",
				color, symbol, ansiReset, label, short(r.Commit), r.StartedAt, r.Status)
			if r.Status == "error" && r.Error != nil {
				fmt.Fprintf(os.Stdout, "        %s%s%s\n", ansiDim, *r.Error, ansiReset)
			}
		}
		return nil
	},
}
