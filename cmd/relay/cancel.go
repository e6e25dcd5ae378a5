package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/control"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Stop a run that is in progress",
	Long: `Ask the process running a query to cancel it.

Teams that already finished keep their results; the rest are skipped and
the run is completed with a partial response. The run must use the same
journal as this command.`,
	Args: cobra.ExactArgs(1),
	RunE: cancelRun,
}

func cancelRun(cmd *cobra.Command, args []string) error {
	runID := args[0]
	journal, err := openJournal()
	if err != nil {
		return err
	}
	defer journal.Shutdown()

	rs, err := journal.GetState(commandContext(cmd), runID)
	if err != nil {
		return err
	}
	if rs == nil {
		return fmt.Errorf("no run with id %q", runID)
	}
	out := cmd.OutOrStdout()
	if rs.Terminal() {
		fmt.Fprintf(out, "Run %s already finished (%s)\n", runID, rs.Status())
		return nil
	}

	if err := control.RequestCancel(controlRoot(journal), runID); err != nil {
		return err
	}
	fmt.Fprintf(out, "Cancel requested for run %s\n", runID)
	return nil
}
