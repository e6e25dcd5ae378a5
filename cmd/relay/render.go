package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/ShayCichocki/relay/internal/orchestrator"
	"github.com/ShayCichocki/relay/pkg/models"
)

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
	titleStyle = lipgloss.NewStyle().Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(12)
)

// statusColor returns the color used for a run status.
func statusColor(s models.RunStatus) *color.Color {
	switch s {
	case models.RunStatusCompleted:
		return color.New(color.FgGreen)
	case models.RunStatusError:
		return color.New(color.FgRed)
	case models.RunStatusProcessing:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgWhite)
	}
}

// stepSymbol returns the marker printed before a step.
func stepSymbol(s models.StepStatus) string {
	switch s {
	case models.StepCompleted:
		return color.GreenString("✓")
	case models.StepFailed:
		return color.RedString("✗")
	case models.StepSkipped:
		return color.YellowString("-")
	case models.StepInProgress:
		return color.CyanString("…")
	default:
		return " "
	}
}

// renderRun writes a human-readable summary of a run.
func renderRun(w io.Writer, rs *models.RunState) {
	pub := rs.Public()

	var header strings.Builder
	header.WriteString(titleStyle.Render("Run "+rs.RunID) + "\n")
	header.WriteString(labelStyle.Render("Query") + rs.Shared.Query + "\n")
	header.WriteString(labelStyle.Render("Status") + statusColor(pub.Status).Sprint(pub.Status))
	switch {
	case rs.ErrorReason != "":
		header.WriteString(fmt.Sprintf(" (%s)", rs.ErrorReason))
	case rs.Phase != models.PhaseCompleted:
		header.WriteString(fmt.Sprintf(" (%s)", rs.Phase))
	}
	header.WriteString("\n")
	if rs.Intent != nil {
		header.WriteString(labelStyle.Render("Intent") + fmt.Sprintf("%s (%.2f)\n", rs.Intent.Type, rs.Intent.Confidence))
	}
	header.WriteString(labelStyle.Render("Duration") + formatDuration(time.Duration(pub.DurationMS)*time.Millisecond) + "\n")
	header.WriteString(labelStyle.Render("Invocations") + fmt.Sprint(rs.Invocations))
	fmt.Fprintln(w, boxStyle.Render(header.String()))

	if rs.Plan != nil && len(rs.Plan.Steps) > 0 {
		fmt.Fprintf(w, "\nSteps (%s):\n", rs.Plan.Strategy)
		for _, step := range rs.Plan.Steps {
			line := fmt.Sprintf("  %s %s %s", stepSymbol(step.Status), step.ID, step.Team)
			if env, ok := rs.TeamResults[step.Team]; ok && env.StepID == step.ID {
				if d := env.Duration(); d > 0 {
					line += fmt.Sprintf(" (%s)", formatDuration(d))
				}
				if !env.OK() && env.Error != "" {
					line += ": " + env.Error
				}
			}
			fmt.Fprintln(w, line)
		}
	}

	if resp := pub.FinalResponse; resp != nil {
		fmt.Fprintf(w, "\n%s\n", titleStyle.Render("Response ("+string(resp.Kind)+")"))
		fmt.Fprintln(w, resp.Message)
		if len(resp.FailedTeams) > 0 {
			names := make([]string, 0, len(resp.FailedTeams))
			for name := range resp.FailedTeams {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Fprintln(w)
			for _, name := range names {
				fmt.Fprintf(w, "  %s %s: %s\n", color.YellowString("!"), name, resp.FailedTeams[name])
			}
		}
	}

	if pub.ErrorMessage != "" {
		fmt.Fprintf(w, "\n%s %s\n", color.RedString("Error:"), pub.ErrorMessage)
	}
}

// renderJSON writes the public view of a run.
func renderJSON(w io.Writer, rs *models.RunState) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rs.Public())
}

// printEvent writes one trace event line.
func printEvent(w io.Writer, ev orchestrator.SupervisorEvent) {
	ts := ev.Timestamp.Format("15:04:05.000")
	switch ev.Type {
	case orchestrator.EventPhaseChanged:
		fmt.Fprintf(w, "%s %s %s\n", ts, color.CyanString("phase"), ev.Phase)
	case orchestrator.EventTeamStarted:
		fmt.Fprintf(w, "%s %s %s [%s]\n", ts, color.BlueString("start"), ev.Team, ev.StepID)
	case orchestrator.EventTeamCompleted:
		fmt.Fprintf(w, "%s %s %s [%s] %s\n", ts, color.GreenString("done "), ev.Team, ev.StepID, formatDuration(ev.Duration))
	case orchestrator.EventTeamFailed:
		fmt.Fprintf(w, "%s %s %s [%s] %s: %s\n", ts, color.RedString("fail "), ev.Team, ev.StepID, ev.Reason, ev.Message)
	case orchestrator.EventTeamSkipped:
		fmt.Fprintf(w, "%s %s %s [%s] %s\n", ts, color.YellowString("skip "), ev.Team, ev.StepID, ev.Reason)
	case orchestrator.EventRunDone:
		fmt.Fprintf(w, "%s %s %s\n", ts, color.CyanString("end  "), ev.Message)
	default:
		fmt.Fprintf(w, "%s %s\n", ts, ev.Type)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}
