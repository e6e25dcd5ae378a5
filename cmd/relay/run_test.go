package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/ShayCichocki/relay/internal/config"
	"github.com/ShayCichocki/relay/internal/orchestrator"
	"github.com/ShayCichocki/relay/internal/state"
	"github.com/ShayCichocki/relay/pkg/models"
)

func init() {
	color.NoColor = true
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{1500 * time.Millisecond, "1.5s"},
		{90 * time.Second, "1m30s"},
		{2 * time.Hour, "2h"},
		{2*time.Hour + 5*time.Minute, "2h5m"},
		{72 * time.Hour, "3d"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConfigValues(t *testing.T) {
	c := config.Default()

	tests := []struct {
		key, value string
	}{
		{"supervisor.max_parallel", "8"},
		{"supervisor.step_timeout", "45s"},
		{"supervisor.synthesize_answer", "false"},
		{"gateway.temperature", "0.5"},
		{"gateway.max_tokens", "2048"},
		{"Logging.Level", "debug"},
		{"planner.disabled_teams", "search_team, document_team"},
	}
	for _, tt := range tests {
		if err := setConfigValue(c, tt.key, tt.value); err != nil {
			t.Fatalf("setConfigValue(%s) error: %v", tt.key, err)
		}
	}

	if c.Supervisor.MaxParallel != 8 || c.Supervisor.StepTimeout != 45*time.Second || c.Supervisor.SynthesizeAnswer {
		t.Errorf("supervisor = %+v", c.Supervisor)
	}
	if got, _ := getConfigValue(c, "planner.disabled_teams"); got != "search_team,document_team" {
		t.Errorf("disabled_teams = %q", got)
	}
	if got, _ := getConfigValue(c, "gateway.temperature"); got != "0.5" {
		t.Errorf("temperature = %q", got)
	}
	if c.Logging.Level != "debug" {
		t.Errorf("logging.level = %q", c.Logging.Level)
	}

	bad := []struct{ key, value string }{
		{"supervisor.max_parallel", "many"},
		{"supervisor.step_timeout", "soon"},
		{"supervisor.debug", "maybe"},
		{"anthropic.api_key", "sk-ant-literal"},
		{"nope.key", "1"},
	}
	for _, tt := range bad {
		if err := setConfigValue(c, tt.key, tt.value); err == nil {
			t.Errorf("setConfigValue(%s, %s) should fail", tt.key, tt.value)
		}
	}
}

func TestDisplayAllConfig_MasksKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-REDACTED")
	var buf bytes.Buffer
	displayAllConfig(&buf, config.Default())

	out := buf.String()
	if strings.Contains(out, "secretsecret") {
		t.Error("API key printed in clear")
	}
	if !strings.Contains(out, "anthropic.api_key: sk-ant-...cret (environment)") {
		t.Errorf("unexpected key line:\n%s", out)
	}
	if !strings.Contains(out, "supervisor.recursion_limit: 25") {
		t.Errorf("missing recursion_limit:\n%s", out)
	}
}

func sampleRun() *models.RunState {
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	rs := models.NewRunState(models.NewSharedState("compare solar and wind", "run-7", "en", start))
	rs.Intent = &models.Intent{Type: models.IntentComparison, Confidence: 0.8}
	rs.Plan = &models.ExecutionPlan{
		Strategy: models.StrategySequential,
		Steps: []models.ExecutionStep{
			{ID: "step-1", Team: "search_team", Kind: models.TeamKindSearch, Status: models.StepCompleted},
			{ID: "step-2", Team: "analysis_team", Kind: models.TeamKindAnalysis, Status: models.StepFailed, DependsOn: []string{"step-1"}},
		},
	}
	rs.TeamResults = map[string]models.ResultEnvelope{
		"search_team": {Team: "search_team", StepID: "step-1", Status: models.EnvelopeSuccess,
			StartedAt: start, FinishedAt: start.Add(1500 * time.Millisecond)},
		"analysis_team": {Team: "analysis_team", StepID: "step-2", Status: models.EnvelopeFailure,
			Error: "gateway failure", StartedAt: start, FinishedAt: start.Add(time.Second)},
	}
	rs.FinalResponse = &models.FinalResponse{
		Kind:        models.ResponsePartial,
		Message:     "search_team: 3 results",
		Teams:       []string{"search_team"},
		FailedTeams: map[string]string{"analysis_team": "gateway failure"},
	}
	rs.Invocations = 2
	rs.SetStatus(models.RunStatusCompleted, "", start.Add(2*time.Second))
	rs.SetPhase(models.PhaseCompleted, start.Add(2*time.Second))
	return rs
}

func TestRenderRun(t *testing.T) {
	var buf bytes.Buffer
	renderRun(&buf, sampleRun())
	out := buf.String()

	for _, want := range []string{
		"Run run-7",
		"compare solar and wind",
		"completed",
		"comparison (0.80)",
		"Steps (sequential):",
		"✓ step-1 search_team (1.5s)",
		"✗ step-2 analysis_team (1.0s): gateway failure",
		"Response (partial)",
		"search_team: 3 results",
		"! analysis_team: gateway failure",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := renderJSON(&buf, sampleRun()); err != nil {
		t.Fatalf("renderJSON() error: %v", err)
	}
	var pub models.PublicRun
	if err := json.Unmarshal(buf.Bytes(), &pub); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if pub.RunID != "run-7" || pub.Status != models.RunStatusCompleted || pub.FinalResponse.Kind != models.ResponsePartial {
		t.Errorf("public run = %+v", pub)
	}
}

func TestPrintEvent(t *testing.T) {
	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		ev   orchestrator.SupervisorEvent
		want string
	}{
		{orchestrator.SupervisorEvent{Type: orchestrator.EventPhaseChanged, Phase: models.PhaseExecuting, Timestamp: ts}, "phase executing"},
		{orchestrator.SupervisorEvent{Type: orchestrator.EventTeamStarted, Team: "search_team", StepID: "step-1", Timestamp: ts}, "start search_team [step-1]"},
		{orchestrator.SupervisorEvent{Type: orchestrator.EventTeamSkipped, Team: "document_team", StepID: "step-3", Reason: models.FailureDependency, Timestamp: ts}, "skip  document_team [step-3] dependency"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		printEvent(&buf, tt.ev)
		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("printEvent() = %q, want %q", buf.String(), tt.want)
		}
	}
}

func TestPrintRecord(t *testing.T) {
	phase := models.PhaseExecuting
	rec := state.DeltaRecord{
		Seq:   3,
		Phase: phase,
		Delta: models.RunStateDelta{
			Phase:        &phase,
			StepStatuses: map[string]models.StepStatus{"step-2": models.StepFailed, "step-1": models.StepCompleted},
			AppendErrors: []models.ErrorEntry{{Team: "analysis_team", Message: "boom"}},
		},
		CreatedAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	var buf bytes.Buffer
	printRecord(&buf, rec)
	out := buf.String()
	if !strings.Contains(out, "phase=executing, step-1=completed, step-2=failed, error: ") {
		t.Errorf("printRecord() = %q", out)
	}
}

func TestJournalPath(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_DATA_HOME", "/data")

	c := config.Default()
	if got := journalPath(c); got != "/data/relay/journal.db" {
		t.Errorf("default journal path = %q", got)
	}
	c.Journal.Path = "/custom/journal.db"
	if got := journalPath(c); got != "/custom/journal.db" {
		t.Errorf("configured journal path = %q", got)
	}

	journalFlag = "/flag/journal.db"
	t.Cleanup(func() { journalFlag = "" })
	if got := journalPath(c); got != "/flag/journal.db" {
		t.Errorf("flag journal path = %q", got)
	}
}

func TestNewApp_Offline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	a, err := newApp(config.Default(), zap.NewNop(), appOptions{offline: true, trace: true, journalPath: path})
	if err != nil {
		t.Fatalf("newApp() error: %v", err)
	}
	defer a.Close()

	if a.gateway != nil {
		t.Error("offline app must not have a gateway")
	}
	if names := a.registry.Names(); len(names) != 1 || names[0] != "document_team" {
		t.Errorf("registered teams = %v", names)
	}
	if _, _, _, ok := a.usage(); ok {
		t.Error("usage should be unavailable without a gateway")
	}

	var events bytes.Buffer
	done := a.streamEvents(&events)
	rs, err := a.supervisor.RunQuery(context.Background(), "write a report on solar power", "offline-1",
		orchestrator.ContextOptions{TraceEnabled: true})
	a.events.Close()
	<-done
	if err != nil {
		t.Fatalf("RunQuery() error: %v", err)
	}

	// Without a gateway no search team exists, so nothing can be planned.
	if rs.Status() != models.RunStatusCompleted || rs.FinalResponse.Kind != models.ResponseNoTeam {
		t.Errorf("status = %s, response = %+v", rs.Status(), rs.FinalResponse)
	}
	if !strings.Contains(events.String(), "end") {
		t.Errorf("no run_done event printed:\n%s", events.String())
	}

	stored, err := a.journal.GetState(context.Background(), "offline-1")
	if err != nil || stored == nil {
		t.Fatalf("GetState() = %v, %v", stored, err)
	}
	if stored.Status() != models.RunStatusCompleted {
		t.Errorf("stored status = %s", stored.Status())
	}
}

func TestCommands(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "journal.db")

	execute := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetErr(&out)
		rootCmd.SetArgs(args)
		if err := rootCmd.Execute(); err != nil {
			t.Fatalf("relay %v: %v\n%s", args, err, out.String())
		}
		return out.String()
	}
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		journalFlag = ""
		runSession, runOffline, runJSON = "", false, false
	})

	out := execute("run", "--journal", path, "--offline", "--json", "--session", "cli-1", "report", "on", "tidal", "energy")
	var pub models.PublicRun
	if err := json.Unmarshal([]byte(out), &pub); err != nil {
		t.Fatalf("run --json output is not JSON: %v\n%s", err, out)
	}
	if pub.RunID != "cli-1" || pub.Status != models.RunStatusCompleted {
		t.Errorf("run = %+v", pub)
	}

	out = execute("status", "--journal", path)
	if !strings.Contains(out, "cli-1: completed") {
		t.Errorf("status output:\n%s", out)
	}

	out = execute("history", "--journal", path, "cli-1")
	if !strings.Contains(out, "response=no_team") {
		t.Errorf("history output:\n%s", out)
	}

	out = execute("cancel", "--journal", path, "cli-1")
	if !strings.Contains(out, "already finished (completed)") {
		t.Errorf("cancel output:\n%s", out)
	}

	out = execute("purge", "--journal", path, "--older-than", "1h")
	if !strings.Contains(out, "Purged 0 run(s)") {
		t.Errorf("purge output:\n%s", out)
	}

	out = execute("version")
	if !strings.HasPrefix(out, "relay ") {
		t.Errorf("version output: %q", out)
	}
}

func TestRunCommand_JournalUnavailable(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Chdir(t.TempDir())

	// A regular file where the journal directory should be.
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		journalFlag = ""
		runSession, runOffline = "", false
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"run", "--journal", filepath.Join(blocker, "journal.db"), "--offline", "--session", "cli-d", "find", "tidal", "energy"})
	err := rootCmd.Execute()
	if !errors.Is(err, state.ErrJournalUnavailable) {
		t.Fatalf("error = %v, want ErrJournalUnavailable", err)
	}
	for _, want := range []string{"cli-d", "error (journal_unavailable)", "Error:"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestJournalFailure(t *testing.T) {
	rs := journalFailure("q", "run-x", errors.New("journal unavailable: disk full"))
	if rs.Status() != models.RunStatusError || rs.ErrorReason != models.ReasonJournalUnavailable {
		t.Errorf("status = %s, reason = %s", rs.Status(), rs.ErrorReason)
	}
	if rs.Invocations != 0 || len(rs.ErrorLog) != 1 {
		t.Errorf("invocations = %d, error log = %+v", rs.Invocations, rs.ErrorLog)
	}
}
