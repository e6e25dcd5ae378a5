package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/orchestrator"
	"github.com/ShayCichocki/relay/internal/state"
	"github.com/ShayCichocki/relay/pkg/models"
)

var (
	runSession  string
	runLanguage string
	runTimeout  time.Duration
	runTrace    bool
	runDebug    bool
	runJSON     bool
	runOffline  bool
)

var runCmd = &cobra.Command{
	Use:   "run <query>",
	Short: "Answer a query with the worker teams",
	Long: `Run a query through the supervisor.

The query is classified, turned into an execution plan over the
registered teams, executed and aggregated into one response. Team
failures do not fail the run: the response lists what was unavailable.

Use --session to give the run a stable id. Reusing an id starts the run
over. Interrupted runs can be continued with 'relay resume <id>', and a
live run can be stopped from another shell with 'relay cancel <id>'.

Use --offline to skip the model gateway entirely: queries are then
classified by keywords and only local teams run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	runCmd.Flags().StringVar(&runSession, "session", "", "Run id (default: generated)")
	runCmd.Flags().StringVar(&runLanguage, "language", "", "Response language (default: supervisor.language)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Per-team timeout (default: supervisor.step_timeout)")
	runCmd.Flags().BoolVar(&runTrace, "trace", false, "Print supervisor events while the run progresses")
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "Log per-step details at info level")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the run as JSON")
	runCmd.Flags().BoolVar(&runOffline, "offline", false, "Do not call the model gateway")
}

func runQuery(cmd *cobra.Command, args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return fmt.Errorf("query must not be empty")
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := runSession
	if runID == "" {
		runID = uuid.NewString()
	}

	a, err := newApp(cfg, logger, appOptions{trace: runTrace, offline: runOffline})
	if errors.Is(err, state.ErrJournalUnavailable) {
		rs := journalFailure(query, runID, err)
		if perr := printRun(cmd.OutOrStdout(), nil, rs); perr != nil {
			return perr
		}
		return err
	}
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, unwatch := a.watchCancel(ctx, runID)
	defer unwatch()

	opts := runContextOptions()
	done := a.streamEvents(cmd.ErrOrStderr())
	rs, runErr := a.supervisor.RunQuery(ctx, query, runID, opts)
	if a.events != nil {
		a.events.Close()
	}
	<-done

	if err := printRun(cmd.OutOrStdout(), a, rs); err != nil {
		return err
	}
	return runErr
}

// runContextOptions builds per-run options from the flags. Zero values
// fall back to the supervisor defaults taken from config.
func runContextOptions() orchestrator.ContextOptions {
	opts := orchestrator.ContextOptions{
		Language:     runLanguage,
		DebugMode:    runDebug || cfg.Supervisor.Debug,
		TraceEnabled: runTrace || cfg.Supervisor.Trace,
	}
	if runTimeout > 0 {
		opts.TimeoutSeconds = int((runTimeout + time.Second - 1) / time.Second)
	}
	return opts
}

// journalFailure is the run reported when the journal cannot be opened.
// Nothing ran and nothing was recorded.
func journalFailure(query, runID string, err error) *models.RunState {
	language := runLanguage
	if language == "" && cfg != nil {
		language = cfg.Supervisor.Language
	}
	now := time.Now()
	rs := models.NewRunState(models.NewSharedState(query, runID, language, now))
	rs.AppendError(models.ErrorEntry{Time: now, Message: err.Error()})
	rs.Fail(models.ReasonJournalUnavailable, err.Error(), now)
	return rs
}

func printRun(w io.Writer, a *app, rs *models.RunState) error {
	if rs == nil {
		return nil
	}
	if runJSON {
		return renderJSON(w, rs)
	}
	renderRun(w, rs)
	if a == nil {
		return nil
	}
	if in, out, cost, ok := a.usage(); ok && in+out > 0 {
		fmt.Fprintf(w, "\nTokens: %d in / %d out (~$%.4f)\n", in, out, cost)
	}
	return nil
}
