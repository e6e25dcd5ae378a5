package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/state"
)

var historyCmd = &cobra.Command{
	Use:   "history <run-id>",
	Short: "Show the journal deltas of a run",
	Long: `Print every state delta recorded for a run, in write order.

Each line shows what changed: phase and status moves, step statuses,
team results and appended errors.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	journal, err := openJournal()
	if err != nil {
		return err
	}
	defer journal.Shutdown()

	records, err := journal.History(commandContext(cmd), args[0])
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no history for run %q", args[0])
	}
	out := cmd.OutOrStdout()
	for _, rec := range records {
		printRecord(out, rec)
	}
	return nil
}

func printRecord(w io.Writer, rec state.DeltaRecord) {
	d := rec.Delta
	var parts []string
	if d.Reset {
		parts = append(parts, "reset")
	}
	if d.Phase != nil {
		parts = append(parts, "phase="+string(*d.Phase))
	}
	if d.Status != nil {
		parts = append(parts, "status="+string(*d.Status))
	}
	if d.Intent != nil {
		parts = append(parts, fmt.Sprintf("intent=%s", d.Intent.Type))
	}
	if d.Plan != nil {
		parts = append(parts, fmt.Sprintf("plan=%d steps", len(d.Plan.Steps)))
	}
	for _, id := range sortedKeys(d.StepStatuses) {
		parts = append(parts, fmt.Sprintf("%s=%s", id, d.StepStatuses[id]))
	}
	for _, team := range sortedKeys(d.TeamResults) {
		parts = append(parts, fmt.Sprintf("result[%s]=%s", team, d.TeamResults[team].Status))
	}
	for _, e := range d.AppendErrors {
		parts = append(parts, "error: "+e.String())
	}
	if d.FinalResponse != nil {
		parts = append(parts, "response="+string(d.FinalResponse.Kind))
	}
	if d.ErrorMessage != nil && *d.ErrorMessage != "" {
		parts = append(parts, "error_message="+*d.ErrorMessage)
	}
	fmt.Fprintf(w, "%3d %s [%s] %s\n", rec.Seq, rec.CreatedAt.Format("15:04:05.000"), rec.Phase, strings.Join(parts, ", "))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
