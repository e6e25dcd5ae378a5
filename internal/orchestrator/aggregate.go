package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ShayCichocki/relay/internal/api"
	"github.com/ShayCichocki/relay/pkg/models"
)

// Messages of the responses that carry no team output.
const (
	noTeamMessage    = "No team is able to handle this request."
	allFailedMessage = "No team produced a result for this request."
)

// aggregate merges team results and builds the final response.
func (r *run) aggregate(ctx context.Context) {
	var agg map[string]any
	var succeeded []string
	failed := make(map[string]string)

	var steps []models.ExecutionStep
	if r.rs.Plan != nil {
		steps = r.rs.Plan.Steps
	}
	for _, step := range steps {
		env, ok := r.rs.TeamResults[step.Team]
		switch {
		case ok && env.OK():
			if agg == nil {
				agg = make(map[string]any)
			}
			agg[step.Team] = env.Data
			succeeded = append(succeeded, step.Team)
		case ok:
			failed[step.Team] = env.Error
		case step.Status == models.StepSkipped:
			failed[step.Team] = "skipped: " + r.skipReason(step.ID)
		}
	}
	r.rs.AggregatedResults = agg

	resp := &models.FinalResponse{
		Teams: succeeded,
		Data:  agg,
	}
	if len(failed) > 0 {
		resp.FailedTeams = failed
	}

	switch {
	case len(steps) == 0:
		resp.Kind = models.ResponseNoTeam
		resp.Message = noTeamMessage
		resp.Data = nil
	case len(succeeded) == 0:
		resp.Kind = models.ResponseError
		resp.Message = allFailedMessage
		resp.Data = nil
	default:
		resp.Kind = models.ResponseAnswer
		if len(failed) > 0 {
			resp.Kind = models.ResponsePartial
		}
		resp.Message, resp.Synthesized = r.answer(ctx, succeeded, agg, failed)
	}
	r.rs.FinalResponse = resp
}

// skipReason returns the logged reason a step was skipped.
func (r *run) skipReason(stepID string) string {
	for i := len(r.rs.ErrorLog) - 1; i >= 0; i-- {
		if e := r.rs.ErrorLog[i]; e.StepID == stepID {
			return e.Message
		}
	}
	return "not run"
}

// answer writes the user-facing message. It asks the gateway when a
// synthesizer is configured and falls back to a deterministic summary.
func (r *run) answer(ctx context.Context, teams []string, agg map[string]any, failed map[string]string) (string, bool) {
	summary := summarize(teams, agg, failed)
	if r.sup.synthesizer == nil {
		return summary, false
	}

	results, err := json.MarshalIndent(agg, "", "  ")
	if err != nil {
		results = []byte(summary)
	}
	vars := map[string]any{
		"query":    r.rs.Shared.Query,
		"results":  string(results),
		"language": r.rs.Shared.Language,
	}
	if len(failed) > 0 {
		vars["failed"] = strings.Join(sortedKeys(failed), ", ")
	}

	text, err := r.sup.synthesizer.Complete(ctx, api.PromptFinalAnswer, vars)
	if err != nil || strings.TrimSpace(text) == "" {
		r.logger.Warn("answer synthesis failed, using summary", zap.Error(err))
		return summary, false
	}
	return strings.TrimSpace(text), true
}

// summarize renders team output as plain text, one paragraph per team in
// plan order.
func summarize(teams []string, agg map[string]any, failed map[string]string) string {
	var sb strings.Builder
	for i, team := range teams {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "%s: %s", team, describe(agg[team]))
	}
	if len(failed) > 0 {
		sb.WriteString("\n\nUnavailable: ")
		sb.WriteString(strings.Join(sortedKeys(failed), ", "))
		sb.WriteString(".")
	}
	return sb.String()
}

// describe picks the most readable field of a team's data.
func describe(v any) string {
	data, ok := v.(map[string]any)
	if !ok || len(data) == 0 {
		return "no data"
	}
	for _, key := range []string{"summary", "document", "answer", "analysis"} {
		if s, ok := data[key].(string); ok && s != "" {
			return s
		}
	}
	for _, key := range []string{"items", "results"} {
		switch items := data[key].(type) {
		case []any:
			return fmt.Sprintf("%d results", len(items))
		case []map[string]any:
			return fmt.Sprintf("%d results", len(items))
		}
	}
	return strings.Join(sortedKeys(data), ", ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
