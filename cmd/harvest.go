package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterharvest/internal/coordinator"
)

// newHarvestCmd creates the 'harvest' subcommand.
func newHarvestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Discovers a book's chapters and saves them as text files",
		Long: `Walks the listing pages of the book, starting at --start-page, then fetches
every discovered chapter with --workers sessions. Unset flags fall back to the
configuration, which remembers the last book link and directory.

SIGUSR1 pauses the run, SIGUSR2 resumes it and SIGINT cancels it.`,
		RunE: runHarvestCommand,
	}
	f := cmd.Flags()
	f.String("url", "", "book link (listing base URL)")
	f.String("dir", "", "output directory")
	f.Int("start-page", 1, "first listing page to scan")
	f.Int("workers", 2, "number of harvest workers")
	f.Bool("include-title", false, "prefix each file with the chapter title")
	f.Bool("headless", true, "run browser sessions without a window")
	return cmd
}

func runHarvestCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	settings := appInstance.Config().Harvest
	req := coordinator.Request{
		BaseURL:      settings.BookLink,
		Dir:          settings.LocalDirectory,
		StartPage:    settings.StartPage,
		Workers:      settings.Workers,
		IncludeTitle: settings.IncludeTitle,
	}

	coord := appInstance.Coordinator()
	stop := watchSignals(cmd.Context(), coord, appInstance.Logger())
	defer stop()

	status, err := coord.Start(cmd.Context(), req)
	printStatus(cmd, status)
	if err != nil {
		return fmt.Errorf("harvest: %w", err)
	}
	if status.Result == coordinator.ResultFailed {
		return errors.New("harvest failed: " + status.Error)
	}
	appInstance.Logger().Info("harvest command finished", zap.String("result", string(status.Result)))
	return nil
}

func printStatus(cmd *cobra.Command, st coordinator.Status) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s: %s (%s)\n", st.RunID, st.State, st.Result)
	fmt.Fprintf(out, "discovered %d, saved %d, failed %d, pending failures %d\n",
		st.Discovered, st.Saved, st.Failed, st.Pending)
}
