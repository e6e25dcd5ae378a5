package teams

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ShayCichocki/relay/internal/api"
	"github.com/ShayCichocki/relay/pkg/models"
)

// noFindings is sent to the model when no upstream team succeeded.
const noFindings = "No findings are available. Answer from general knowledge and say so."

type analysisResponse struct {
	Analysis   string   `json:"analysis"`
	KeyPoints  []string `json:"key_points"`
	Confidence float64  `json:"confidence"`
}

// AnalysisTeam reasons over the output of its upstream teams.
type AnalysisTeam struct {
	base
	gateway JSONCompleter
}

// NewAnalysisTeam creates an analysis team backed by the gateway.
func NewAnalysisTeam(gw JSONCompleter, opts ...Option) *AnalysisTeam {
	return &AnalysisTeam{base: newBase(AnalysisName, opts), gateway: gw}
}

// Execute analyses the upstream findings. Failed upstream teams are noted
// in the prompt rather than treated as an error.
func (t *AnalysisTeam) Execute(ctx context.Context, st models.TeamState) (models.ResultEnvelope, error) {
	params, ok := st.Params.(models.AnalysisParams)
	if !ok || params.Focus == "" {
		params.Focus = string(models.IntentAnalysis)
	}

	findings, used := renderFindings(st.Upstream)
	vars := map[string]any{
		"query":    st.Query,
		"focus":    params.Focus,
		"findings": findings,
	}

	var resp analysisResponse
	if err := t.gateway.CompleteJSON(ctx, api.PromptAnalysisTeam, vars, &resp); err != nil {
		return st.Fail(err, t.now()), fmt.Errorf("analysis: %w", err)
	}
	if strings.TrimSpace(resp.Analysis) == "" {
		err := fmt.Errorf("analysis: %w: empty analysis", api.ErrMalformedResponse)
		return st.Fail(err, t.now()), err
	}

	points := make([]any, 0, len(resp.KeyPoints))
	for _, p := range resp.KeyPoints {
		points = append(points, p)
	}
	basedOn := make([]any, 0, len(used))
	for _, name := range used {
		basedOn = append(basedOn, name)
	}
	t.logger.Debug("analysis finished",
		zap.String("focus", params.Focus),
		zap.Strings("upstream", used))
	return st.Succeed(map[string]any{
		"analysis":   resp.Analysis,
		"key_points": points,
		"confidence": clampUnit(resp.Confidence),
		"focus":      params.Focus,
		"based_on":   basedOn,
	}, t.now()), nil
}

// renderFindings formats the successful upstream envelopes for a prompt,
// in team name order. It returns the names of the teams it used.
func renderFindings(upstream map[string]models.ResultEnvelope) (string, []string) {
	names := make([]string, 0, len(upstream))
	for name := range upstream {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	var used, failed []string
	for _, name := range names {
		env := upstream[name]
		if !env.OK() {
			failed = append(failed, name)
			continue
		}
		used = append(used, name)
		fmt.Fprintf(&sb, "## %s\n", name)
		writeData(&sb, env.Data)
		sb.WriteString("\n")
	}
	if len(used) == 0 {
		sb.WriteString(noFindings)
	}
	if len(failed) > 0 {
		fmt.Fprintf(&sb, "\nThese teams failed and contributed nothing: %s\n", strings.Join(failed, ", "))
	}
	return strings.TrimSpace(sb.String()), used
}

// writeData writes the items of a search envelope as a list, or the
// summary of any other envelope.
func writeData(sb *strings.Builder, data map[string]any) {
	if items, ok := data["items"].([]any); ok && len(items) > 0 {
		for _, raw := range items {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			fmt.Fprintf(sb, "- %v: %v (%v)\n", item["title"], item["summary"], item["source"])
		}
		return
	}
	for _, key := range []string{"analysis", "summary", "document"} {
		if s, ok := data[key].(string); ok && s != "" {
			sb.WriteString(s)
			sb.WriteString("\n")
			return
		}
	}
	sb.WriteString("(no readable output)\n")
}

func clampUnit(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
