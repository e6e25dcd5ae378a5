package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/orchestrator"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Continue an interrupted run",
	Long: `Resume a run from its last journaled state.

Steps that already finished are not run again. Steps that were in
progress when the run was interrupted are retried. A run that already
finished is printed as-is.

Use 'relay status' to list interrupted runs.`,
	Args: cobra.ExactArgs(1),
	RunE: resumeRun,
}

func init() {
	resumeCmd.Flags().BoolVar(&runTrace, "trace", false, "Print supervisor events while the run progresses")
	resumeCmd.Flags().BoolVar(&runDebug, "debug", false, "Log per-step details at info level")
	resumeCmd.Flags().BoolVar(&runJSON, "json", false, "Print the run as JSON")
	resumeCmd.Flags().BoolVar(&runOffline, "offline", false, "Do not call the model gateway")
}

func resumeRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger, appOptions{trace: runTrace, offline: runOffline})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, unwatch := a.watchCancel(ctx, args[0])
	defer unwatch()

	done := a.streamEvents(cmd.ErrOrStderr())
	rs, runErr := a.supervisor.Resume(ctx, args[0], runContextOptions())
	if a.events != nil {
		a.events.Close()
	}
	<-done

	if errors.Is(runErr, orchestrator.ErrRunNotFound) {
		return fmt.Errorf("no run with id %q in %s", args[0], a.journal.DB().Path())
	}
	if err := printRun(cmd.OutOrStdout(), a, rs); err != nil {
		return err
	}
	return runErr
}
