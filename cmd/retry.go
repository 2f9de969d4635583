package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/chapterharvest/internal/coordinator"
)

// newRetryCmd creates the 'retry' subcommand.
func newRetryCmd() *cobra.Command {
	var fromJournal bool
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Retries the chapters that failed in earlier runs",
		Long: `Loads the pending failures from the failure journal and fetches them again
with a single session at a slower pace. Chapters that succeed are marked
recovered in the journal.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			settings := appInstance.Config().Harvest
			req := coordinator.RetryRequest{
				Dir:          settings.LocalDirectory,
				IncludeTitle: settings.IncludeTitle,
				FromJournal:  fromJournal,
			}

			coord := appInstance.Coordinator()
			stop := watchSignals(cmd.Context(), coord, appInstance.Logger())
			defer stop()

			status, err := coord.Retry(cmd.Context(), req)
			if errors.Is(err, coordinator.ErrNothingToRetry) {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to retry")
				return nil
			}
			printStatus(cmd, status)
			if err != nil {
				return fmt.Errorf("retry: %w", err)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.String("dir", "", "output directory")
	f.BoolVar(&fromJournal, "from-journal", true, "seed the retry list from the failure journal")
	f.Bool("include-title", false, "prefix each file with the chapter title")
	f.Bool("headless", true, "run browser sessions without a window")
	return cmd
}
