package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var purgeOlderThan time.Duration

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete old runs from the journal",
	Long: `Delete runs, and their delta history, that were not updated within
the retention window. The default window is journal.retention.`,
	Args: cobra.NoArgs,
	RunE: runPurge,
}

func init() {
	purgeCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 0, "Retention window (default: journal.retention)")
}

func runPurge(cmd *cobra.Command, args []string) error {
	window := purgeOlderThan
	if window <= 0 {
		window = cfg.Journal.Retention
	}
	if window <= 0 {
		return fmt.Errorf("retention window must be positive")
	}

	journal, err := openJournal()
	if err != nil {
		return err
	}
	defer journal.Shutdown()

	n, err := journal.PurgeOldRuns(commandContext(cmd), window)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Purged %d run(s) older than %s\n", n, window)
	return nil
}
