package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/state"
)

var (
	statusJSON  bool
	statusLimit int
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show journaled runs",
	Long: `Display runs recorded in the journal.

With a run id, shows that run in detail. Without one, lists runs that
were interrupted and can be resumed, followed by the most recent runs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the run as JSON")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "Number of recent runs to list")
}

func openJournal() (*state.Journal, error) {
	return state.OpenJournal(journalPath(cfg), state.WithLogger(logger.Named("journal")))
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	journal, err := openJournal()
	if err != nil {
		return err
	}
	defer journal.Shutdown()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		rs, err := journal.GetState(ctx, args[0])
		if err != nil {
			return err
		}
		if rs == nil {
			return fmt.Errorf("no run with id %q", args[0])
		}
		if statusJSON {
			return renderJSON(out, rs)
		}
		renderRun(out, rs)
		return nil
	}

	interrupted, err := journal.FindInterrupted(ctx)
	if err != nil {
		return err
	}
	if len(interrupted) > 0 {
		fmt.Fprintln(out, "Interrupted Runs (resume with 'relay resume <id>'):")
		printSummaries(out, interrupted, len(interrupted))
		fmt.Fprintln(out)
	}

	runs, err := journal.ListRuns(ctx, "")
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs yet. Run 'relay run <query>' to start.")
		return nil
	}
	fmt.Fprintln(out, "Recent Runs:")
	printSummaries(out, runs, statusLimit)
	return nil
}

func printSummaries(w io.Writer, runs []state.RunSummary, limit int) {
	for i, s := range runs {
		if i >= limit {
			fmt.Fprintf(w, "  ... and %d more\n", len(runs)-limit)
			return
		}
		fmt.Fprintf(w, "  %s: %s %s (%s ago) %q\n",
			s.RunID,
			statusColor(s.Status).Sprint(s.Status),
			color.New(color.Faint).Sprint(s.Phase),
			formatDuration(time.Since(s.UpdatedAt)),
			truncate(s.Query, 60))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

